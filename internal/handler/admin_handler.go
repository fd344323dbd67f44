package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"daringbooks/config"
	"daringbooks/internal/domain"
	"daringbooks/internal/models"
	"daringbooks/internal/repository"
	"daringbooks/internal/service"
	"daringbooks/pkg/cloudinary"
)

type AdminHandler struct {
	cfg        *config.Config
	books      *repository.BookRepository
	purchases  *repository.PurchaseRepository
	admins     *repository.AdminRepository
	payments   *service.PaymentService
	cloudinary cloudinary.Client
}

func NewAdminHandler(
	cfg *config.Config,
	books *repository.BookRepository,
	purchases *repository.PurchaseRepository,
	admins *repository.AdminRepository,
	payments *service.PaymentService,
	cloud cloudinary.Client,
) *AdminHandler {
	return &AdminHandler{
		cfg:        cfg,
		books:      books,
		purchases:  purchases,
		admins:     admins,
		payments:   payments,
		cloudinary: cloud,
	}
}

type bookRequest struct {
	Title       string  `json:"title" binding:"required,max=200"`
	Author      string  `json:"author" binding:"omitempty,max=100"`
	Description string  `json:"description" binding:"required"`
	Price       float64 `json:"price" binding:"required,gt=0"`
	Category    string  `json:"category" binding:"required,max=50"`
	CoverImage  string  `json:"cover_image"`
	FileURL     string  `json:"file_url"`
	FileSize    int64   `json:"file_size"`
	Format      string  `json:"format" binding:"omitempty,oneof=PDF EPUB"`
	ISBN        *string `json:"isbn"`
	Pages       int     `json:"pages"`
	Language    string  `json:"language"`
	Featured    bool    `json:"featured"`
	Tags        string  `json:"tags"`
}

func (r bookRequest) apply(b *models.Book) {
	b.Title = r.Title
	if r.Author != "" {
		b.Author = r.Author
	}
	b.Description = r.Description
	b.Price = r.Price
	b.Category = r.Category
	if r.CoverImage != "" {
		b.CoverImage = r.CoverImage
	}
	if r.FileURL != "" {
		b.FileURL = r.FileURL
	}
	if r.FileSize > 0 {
		b.FileSize = r.FileSize
	}
	if r.Format != "" {
		b.Format = r.Format
	}
	b.ISBN = r.ISBN
	b.Pages = r.Pages
	if r.Language != "" {
		b.Language = r.Language
	}
	b.Featured = r.Featured
	b.Tags = r.Tags
}

// CreateBook adds a catalog entry.
func (h *AdminHandler) CreateBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	book := &models.Book{Active: true, Format: domain.BookFormatPDF}
	req.apply(book)
	if err := h.books.Create(book); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create book"})
		return
	}
	c.JSON(http.StatusCreated, book)
}

// ListBooks returns the full catalog, inactive entries included.
func (h *AdminHandler) ListBooks(c *gin.Context) {
	books, err := h.books.ListAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load books"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books, "count": len(books)})
}

// UpdateBook edits a catalog entry. Purchase records keep their snapshot.
func (h *AdminHandler) UpdateBook(c *gin.Context) {
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
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.apply(book)
	if err := h.books.Update(book); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update book"})
		return
	}
	c.JSON(http.StatusOK, book)
}

// DeactivateBook soft-removes a book from the storefront.
func (h *AdminHandler) DeactivateBook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	if err := h.books.Deactivate(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate book"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UploadCover pushes a cover image to Cloudinary and returns the delivery URL.
func (h *AdminHandler) UploadCover(c *gin.Context) {
	if h.cloudinary == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image uploads not configured"})
		return
	}
	fileHeader, err := c.FormFile("cover")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cover file required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	publicID := "cover-" + uuid.New().String()
	url, err := h.cloudinary.UploadCover(c.Request.Context(), file, publicID)
	if err != nil {
		log.WithError(err).Error("cover upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// UploadBookFile stores the e-book file under the local upload directory and
// returns its relative path for the book record.
func (h *AdminHandler) UploadBookFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "book file required"})
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext != ".pdf" && ext != ".epub" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF and EPUB files are accepted"})
		return
	}

	dir := filepath.Join(h.cfg.Store.UploadDir, "books")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	dest := filepath.Join(dir, uuid.New().String()+ext)
	if err := c.SaveUploadedFile(fileHeader, dest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file_url":  dest,
		"file_size": fileHeader.Size,
	})
}

// ListPurchases returns purchase records filtered for the review screen.
func (h *AdminHandler) ListPurchases(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	records, total, err := h.purchases.List(repository.PurchaseFilter{
		PaymentStatus:  domain.PaymentStatus(c.Query("payment_status")),
		DeliveryStatus: domain.DeliveryStatus(c.Query("delivery_status")),
		Phone:          c.Query("phone"),
		Offset:         (page - 1) * limit,
		Limit:          limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load purchases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"purchases": records,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// DashboardStats returns the store overview counters.
func (h *AdminHandler) DashboardStats(c *gin.Context) {
	stats, err := h.admins.GetDashboardStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ResendDelivery re-runs WhatsApp delivery with the admin retry ceiling.
func (h *AdminHandler) ResendDelivery(c *gin.Context) {
	result, err := h.payments.RetryDelivery(c.Request.Context(), c.Param("transactionId"), true)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		case errors.Is(err, service.ErrDeliveryNotRetryable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrMaxAttemptsExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "admin retry limit reached"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resend failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": result.Delivered, "attempts": result.Attempts})
}

// CancelPurchase closes out a stuck pending record so a late gateway
// callback cannot resurrect it.
func (h *AdminHandler) CancelPurchase(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"required,max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason required"})
		return
	}
	if err := h.payments.CancelPurchase(c.Request.Context(), uint(id), req.Reason); err != nil {
		switch {
		case errors.Is(err, service.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase not found"})
		case errors.Is(err, service.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UpdateNotes stores a free-text annotation on a purchase record.
func (h *AdminHandler) UpdateNotes(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}
	var req struct {
		Notes string `json:"notes" binding:"max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.purchases.UpdateNotes(uint(id), req.Notes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
