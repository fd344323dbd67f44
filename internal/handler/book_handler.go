package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"daringbooks/internal/repository"
)

type BookHandler struct {
	books *repository.BookRepository
}

func NewBookHandler(books *repository.BookRepository) *BookHandler {
	return &BookHandler{books: books}
}

// List returns the public catalog. Inactive books never appear here.
func (h *BookHandler) List(c *gin.Context) {
	books, err := h.books.ListActive(c.Query("category"), c.Query("featured") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load books"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books, "count": len(books)})
}

// Get returns one active book.
func (h *BookHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	book, err := h.books.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "book not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load book"})
		return
	}
	if !book.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "book not found"})
		return
	}
	c.JSON(http.StatusOK, book)
}
