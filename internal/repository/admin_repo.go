package repository

import (
	"daringbooks/internal/domain"
	"daringbooks/internal/models"

	"gorm.io/gorm"
)

type DashboardStats struct {
	TotalBooks         int64 `json:"total_books"`
	ActiveBooks        int64 `json:"active_books"`
	TotalPurchases     int64 `json:"total_purchases"`
	SuccessfulPayments int64 `json:"successful_payments"`
	FailedPayments     int64 `json:"failed_payments"`
	PendingPayments    int64 `json:"pending_payments"`
	FailedDeliveries   int64 `json:"failed_deliveries"`
	TotalRevenue       int64 `json:"total_revenue"`
	TotalDownloads     int64 `json:"total_downloads"`
}

type AdminRepository struct {
	db *gorm.DB
}

func NewAdminRepository(db *gorm.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) GetByEmail(email string) (*models.AdminUser, error) {
	var a models.AdminUser
	err := r.db.Where("email = ?", email).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AdminRepository) Create(a *models.AdminUser) error {
	return r.db.Create(a).Error
}

func (r *AdminRepository) Update(a *models.AdminUser) error {
	return r.db.Save(a).Error
}

func (r *AdminRepository) GetDashboardStats() (*DashboardStats, error) {
	var s DashboardStats
	r.db.Model(&models.Book{}).Count(&s.TotalBooks)
	r.db.Model(&models.Book{}).Where("active = ?", true).Count(&s.ActiveBooks)
	r.db.Model(&models.PurchaseRecord{}).Count(&s.TotalPurchases)
	r.db.Model(&models.PurchaseRecord{}).Where("payment_status = ?", domain.PaymentSuccess).Count(&s.SuccessfulPayments)
	r.db.Model(&models.PurchaseRecord{}).Where("payment_status = ?", domain.PaymentFailed).Count(&s.FailedPayments)
	r.db.Model(&models.PurchaseRecord{}).Where("payment_status = ?", domain.PaymentPending).Count(&s.PendingPayments)
	r.db.Model(&models.PurchaseRecord{}).
		Where("payment_status = ? AND delivery_status = ?", domain.PaymentSuccess, domain.DeliveryFailed).
		Count(&s.FailedDeliveries)

	var revenue struct{ Total int64 }
	r.db.Model(&models.PurchaseRecord{}).
		Select("COALESCE(SUM(amount), 0) as total").
		Where("payment_status = ?", domain.PaymentSuccess).
		Scan(&revenue)
	s.TotalRevenue = revenue.Total

	var downloads struct{ Total int64 }
	r.db.Model(&models.PurchaseRecord{}).
		Select("COALESCE(SUM(download_count), 0) as total").
		Scan(&downloads)
	s.TotalDownloads = downloads.Total

	return &s, nil
}
