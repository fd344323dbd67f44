package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"daringbooks/internal/auth"
	"daringbooks/internal/service"
)

type DownloadHandler struct {
	downloads *service.DownloadService
}

func NewDownloadHandler(downloads *service.DownloadService) *DownloadHandler {
	return &DownloadHandler{downloads: downloads}
}

func downloadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "download link expired"})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid download link"})
	case errors.Is(err, service.ErrRecordNotFound), errors.Is(err, service.ErrBookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
	case errors.Is(err, service.ErrDownloadLimitExceeded):
		c.JSON(http.StatusForbidden, gin.H{"error": "download limit reached, please contact support"})
	case errors.Is(err, service.ErrFileMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "book file unavailable, please contact support"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "download failed"})
	}
}

// Redeem spends one download and streams the book file.
func (h *DownloadHandler) Redeem(c *gin.Context) {
	handle, err := h.downloads.Redeem(c.Request.Context(), c.Param("token"))
	if err != nil {
		downloadError(c, err)
		return
	}
	if handle.RemoteURL != "" {
		c.Redirect(http.StatusFound, handle.RemoteURL)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, handle.Filename))
	c.Header("Content-Type", handle.ContentType)
	c.File(handle.Path)
}

// Info reports the entitlement without spending a download.
func (h *DownloadHandler) Info(c *gin.Context) {
	info, err := h.downloads.Describe(c.Request.Context(), c.Param("token"))
	if err != nil {
		downloadError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
