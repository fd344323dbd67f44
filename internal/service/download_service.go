package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"daringbooks/config"
	"daringbooks/internal/auth"
	"daringbooks/internal/domain"
	"daringbooks/internal/models"
	"daringbooks/internal/repository"
)

// DownloadService gates e-book file access behind the signed download token
// minted at payment time. Redemption is metered per purchase record.
type DownloadService struct {
	cfg          *config.Config
	bookRepo     *repository.BookRepository
	purchaseRepo *repository.PurchaseRepository
}

func NewDownloadService(cfg *config.Config, bookRepo *repository.BookRepository, purchaseRepo *repository.PurchaseRepository) *DownloadService {
	return &DownloadService{cfg: cfg, bookRepo: bookRepo, purchaseRepo: purchaseRepo}
}

// FileHandle describes the file to stream for one redeemed download. When
// RemoteURL is set the file lives on external storage and the caller should
// redirect instead of streaming.
type FileHandle struct {
	Path        string
	RemoteURL   string
	Filename    string
	ContentType string
	Size        int64
}

// DownloadInfo is the pre-flight view of an entitlement, shown before the
// customer spends a download.
type DownloadInfo struct {
	BookTitle          string    `json:"book_title"`
	Author             string    `json:"author"`
	Format             string    `json:"format"`
	FileSize           int64     `json:"file_size"`
	DownloadsRemaining int       `json:"downloads_remaining"`
	MaxDownloads       int       `json:"max_downloads"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// resolve validates the token and loads the purchase record and book it is
// bound to. Shared by Redeem and Describe.
func (s *DownloadService) resolve(tokenString string) (*models.PurchaseRecord, *models.Book, error) {
	claims, err := auth.ParseDownloadToken(s.cfg.Download.TokenSecret, tokenString)
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.purchaseRepo.GetByID(claims.PurchaseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRecordNotFound
		}
		return nil, nil, err
	}
	// The token must be the one currently bound to the record; a rotated or
	// superseded token is useless even if its signature still verifies.
	if rec.DownloadToken == nil || *rec.DownloadToken != tokenString || rec.BookID != claims.BookID {
		return nil, nil, ErrRecordNotFound
	}
	if rec.PaymentStatus != domain.PaymentSuccess {
		return nil, nil, ErrRecordNotFound
	}
	if rec.TokenExpiresAt != nil && time.Now().After(*rec.TokenExpiresAt) {
		return nil, nil, auth.ErrTokenExpired
	}

	book, err := s.bookRepo.GetByID(rec.BookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrBookNotFound
		}
		return nil, nil, err
	}
	if !book.Active {
		return nil, nil, ErrBookNotFound
	}
	return rec, book, nil
}

// Redeem spends one download against the purchase record and returns the
// file to stream. The counter increment is a guarded UPDATE so two racing
// redemptions of the last download cannot both succeed.
func (s *DownloadService) Redeem(ctx context.Context, tokenString string) (*FileHandle, error) {
	rec, book, err := s.resolve(tokenString)
	if err != nil {
		return nil, err
	}
	if rec.DownloadCount >= rec.MaxDownloads {
		return nil, ErrDownloadLimitExceeded
	}

	handle := &FileHandle{
		Filename:    downloadFilename(book),
		ContentType: contentTypeFor(book.Format),
	}
	if strings.HasPrefix(book.FileURL, "http") {
		handle.RemoteURL = book.FileURL
	} else {
		path := filepath.Clean(book.FileURL)
		info, err := os.Stat(path)
		if err != nil {
			log.WithFields(log.Fields{
				"book_id": book.ID,
				"path":    path,
			}).WithError(err).Error("book file missing on disk")
			return nil, ErrFileMissing
		}
		handle.Path = path
		handle.Size = info.Size()
	}

	ok, err := s.purchaseRepo.IncrementDownloadCount(rec.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDownloadLimitExceeded
	}

	log.WithFields(log.Fields{
		"transaction_id": rec.TransactionID,
		"book_id":        book.ID,
		"download":       rec.DownloadCount + 1,
		"max_downloads":  rec.MaxDownloads,
	}).Info("download redeemed")
	return handle, nil
}

// Describe reports the entitlement without spending a download.
func (s *DownloadService) Describe(ctx context.Context, tokenString string) (*DownloadInfo, error) {
	rec, book, err := s.resolve(tokenString)
	if err != nil {
		return nil, err
	}
	remaining := rec.MaxDownloads - rec.DownloadCount
	if remaining < 0 {
		remaining = 0
	}
	info := &DownloadInfo{
		BookTitle:          book.Title,
		Author:             book.Author,
		Format:             book.Format,
		FileSize:           book.FileSize,
		DownloadsRemaining: remaining,
		MaxDownloads:       rec.MaxDownloads,
	}
	if rec.TokenExpiresAt != nil {
		info.ExpiresAt = *rec.TokenExpiresAt
	}
	return info, nil
}

func downloadFilename(book *models.Book) string {
	return fmt.Sprintf("%s - %s.%s", book.Title, book.Author, strings.ToLower(book.Format))
}

func contentTypeFor(format string) string {
	switch strings.ToUpper(format) {
	case domain.BookFormatEPUB:
		return "application/epub+zip"
	default:
		return "application/pdf"
	}
}
