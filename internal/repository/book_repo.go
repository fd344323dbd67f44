package repository

import (
	"daringbooks/internal/models"

	"gorm.io/gorm"
)

type BookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) *BookRepository {
	return &BookRepository{db: db}
}

func (r *BookRepository) Create(b *models.Book) error {
	return r.db.Create(b).Error
}

func (r *BookRepository) GetByID(id uint) (*models.Book, error) {
	var b models.Book
	err := r.db.First(&b, id).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListActive returns the public catalog, optionally filtered by category
// and/or featured flag.
func (r *BookRepository) ListActive(category string, featuredOnly bool) ([]models.Book, error) {
	q := r.db.Where("active = ?", true)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if featuredOnly {
		q = q.Where("featured = ?", true)
	}
	var books []models.Book
	err := q.Order("created_at DESC").Find(&books).Error
	return books, err
}

// ListAll returns every book including inactive ones, for the admin catalog.
func (r *BookRepository) ListAll() ([]models.Book, error) {
	var books []models.Book
	err := r.db.Order("created_at DESC").Find(&books).Error
	return books, err
}

func (r *BookRepository) Update(b *models.Book) error {
	return r.db.Save(b).Error
}

// Deactivate soft-removes a book from the storefront. Purchase records keep
// their snapshot so history is unaffected.
func (r *BookRepository) Deactivate(id uint) error {
	return r.db.Model(&models.Book{}).Where("id = ?", id).Update("active", false).Error
}

// IncrementSalesCount bumps the sales counter atomically.
func (r *BookRepository) IncrementSalesCount(id uint) error {
	return r.db.Model(&models.Book{}).Where("id = ?", id).
		UpdateColumn("sales_count", gorm.Expr("sales_count + 1")).Error
}
