package repository

import (
	"time"

	"gorm.io/gorm"

	"daringbooks/internal/domain"
	"daringbooks/internal/models"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(p *models.PurchaseRecord) error {
	return r.db.Create(p).Error
}

func (r *PurchaseRepository) GetByID(id uint) (*models.PurchaseRecord, error) {
	var p models.PurchaseRecord
	err := r.db.First(&p, id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepository) GetByTransactionID(transactionID string) (*models.PurchaseRecord, error) {
	var p models.PurchaseRecord
	err := r.db.Where("transaction_id = ?", transactionID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepository) GetByCheckoutRequestID(checkoutRequestID string) (*models.PurchaseRecord, error) {
	var p models.PurchaseRecord
	err := r.db.Where("checkout_request_id = ?", checkoutRequestID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetSTKResponse persists the gateway correlation ids returned by initiation.
func (r *PurchaseRepository) SetSTKResponse(id uint, merchantRequestID, checkoutRequestID, customerMessage string) error {
	return r.db.Model(&models.PurchaseRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"merchant_request_id": merchantRequestID,
		"checkout_request_id": checkoutRequestID,
		"customer_message":    customerMessage,
	}).Error
}

// TransitionPayment applies a compare-and-set state transition: the update
// only lands if the record is still in the expected `from` state. Returns
// false when a concurrent operation won the race, so duplicate callbacks
// collapse into a no-op instead of double-crediting.
func (r *PurchaseRepository) TransitionPayment(id uint, from, to domain.PaymentStatus, updates map[string]interface{}) (bool, error) {
	if !domain.CanTransitionPayment(from, to) {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["payment_status"] = to
	res := r.db.Model(&models.PurchaseRecord{}).
		Where("id = ? AND payment_status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecordDeliveryAttempt bumps the attempt counter and stamps the outcome in
// a single UPDATE.
func (r *PurchaseRepository) RecordDeliveryAttempt(id uint, status domain.DeliveryStatus, messageID string) error {
	updates := map[string]interface{}{
		"delivery_status":       status,
		"delivery_attempts":     gorm.Expr("delivery_attempts + 1"),
		"last_delivery_attempt": time.Now(),
	}
	if messageID != "" {
		updates["whats_app_message_id"] = messageID
	}
	return r.db.Model(&models.PurchaseRecord{}).Where("id = ?", id).Updates(updates).Error
}

// ReserveDeliveryAttempt claims one delivery attempt under a ceiling. The
// guarded UPDATE bumps the counter only while it is below the ceiling, so two
// racing retries cannot push it past the cap.
func (r *PurchaseRepository) ReserveDeliveryAttempt(id uint, ceiling int) (bool, error) {
	res := r.db.Model(&models.PurchaseRecord{}).
		Where("id = ? AND delivery_attempts < ?", id, ceiling).
		Updates(map[string]interface{}{
			"delivery_attempts":     gorm.Expr("delivery_attempts + 1"),
			"last_delivery_attempt": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetDeliveryOutcome stamps the result of an attempt whose slot was already
// reserved; it does not touch the counter.
func (r *PurchaseRepository) SetDeliveryOutcome(id uint, status domain.DeliveryStatus, messageID string) error {
	updates := map[string]interface{}{
		"delivery_status": status,
	}
	if messageID != "" {
		updates["whats_app_message_id"] = messageID
	}
	return r.db.Model(&models.PurchaseRecord{}).Where("id = ?", id).Updates(updates).Error
}

// IncrementDownloadCount is the download-limit gate: the guarded UPDATE only
// succeeds while the counter is below the record's ceiling, so two racing
// redemptions cannot over-dispense.
func (r *PurchaseRepository) IncrementDownloadCount(id uint) (bool, error) {
	res := r.db.Model(&models.PurchaseRecord{}).
		Where("id = ? AND download_count < max_downloads", id).
		UpdateColumn("download_count", gorm.Expr("download_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListByPhone returns successful purchases for one customer, newest first.
func (r *PurchaseRepository) ListByPhone(phone string, offset, limit int) ([]models.PurchaseRecord, int64, error) {
	q := r.db.Model(&models.PurchaseRecord{}).
		Where("phone_number = ? AND payment_status = ?", phone, domain.PaymentSuccess)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []models.PurchaseRecord
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&records).Error
	return records, total, err
}

type PurchaseFilter struct {
	PaymentStatus  domain.PaymentStatus
	DeliveryStatus domain.DeliveryStatus
	Phone          string
	Offset         int
	Limit          int
}

// List returns purchases for the admin review screen.
func (r *PurchaseRepository) List(f PurchaseFilter) ([]models.PurchaseRecord, int64, error) {
	q := r.db.Model(&models.PurchaseRecord{})
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.DeliveryStatus != "" {
		q = q.Where("delivery_status = ?", f.DeliveryStatus)
	}
	if f.Phone != "" {
		q = q.Where("phone_number = ?", f.Phone)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	var records []models.PurchaseRecord
	err := q.Order("created_at DESC").Offset(f.Offset).Limit(f.Limit).Find(&records).Error
	return records, total, err
}

// UpdateNotes stores the admin's free-text annotation on a record.
func (r *PurchaseRepository) UpdateNotes(id uint, notes string) error {
	return r.db.Model(&models.PurchaseRecord{}).Where("id = ?", id).Update("notes", notes).Error
}
