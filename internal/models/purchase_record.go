package models

import (
	"time"

	"daringbooks/internal/domain"
)

// PurchaseRecord is the durable audit trail of one purchase attempt: payment
// state, delivery state, and the download entitlement. Records are never
// deleted by normal operation.
type PurchaseRecord struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	TransactionID string `gorm:"size:64;uniqueIndex;not null" json:"transaction_id"`
	PhoneNumber   string `gorm:"size:15;index;not null" json:"phone_number"`

	// Book snapshot: title and amount are captured at purchase time so later
	// catalog edits do not rewrite history.
	BookID    uint   `gorm:"not null;index" json:"book_id"`
	BookTitle string `gorm:"size:200;not null" json:"book_title"`
	Amount    int    `gorm:"not null" json:"amount"`

	PaymentStatus      domain.PaymentStatus `gorm:"size:20;not null;default:'pending';index" json:"payment_status"`
	PaymentMethod      string               `gorm:"size:20;not null;default:'M-Pesa'" json:"payment_method"`
	MpesaReceiptNumber *string              `gorm:"size:50;uniqueIndex" json:"mpesa_receipt_number,omitempty"`
	ResultCode         *int                 `json:"result_code,omitempty"`
	ResultDescription  string               `gorm:"size:255" json:"result_description,omitempty"`

	// Gateway correlation ids from the STK push response. CheckoutRequestID is
	// the lookup key for inbound callbacks.
	MerchantRequestID string `gorm:"size:64" json:"-"`
	CheckoutRequestID string `gorm:"size:64;index" json:"-"`
	CustomerMessage   string `gorm:"size:255" json:"-"`

	DownloadToken  *string    `gorm:"size:512;uniqueIndex" json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	DownloadCount  int        `gorm:"not null;default:0" json:"download_count"`
	MaxDownloads   int        `gorm:"not null;default:5" json:"max_downloads"`

	DeliveryStatus      domain.DeliveryStatus `gorm:"size:20;not null;default:'pending'" json:"delivery_status"`
	WhatsAppMessageID   string                `gorm:"size:64" json:"-"`
	DeliveryAttempts    int                   `gorm:"not null;default:0" json:"delivery_attempts"`
	LastDeliveryAttempt *time.Time            `json:"last_delivery_attempt,omitempty"`

	CustomerEmail string `gorm:"size:255" json:"customer_email,omitempty"`
	CustomerName  string `gorm:"size:100" json:"customer_name,omitempty"`
	IPAddress     string `gorm:"size:45" json:"-"`
	UserAgent     string `gorm:"size:255" json:"-"`

	RefundStatus domain.RefundStatus `gorm:"size:20;not null;default:'none'" json:"refund_status"`
	RefundReason string              `gorm:"size:255" json:"refund_reason,omitempty"`
	Notes        string              `gorm:"type:text" json:"notes,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Book Book `gorm:"foreignKey:BookID" json:"-"`
}

func (PurchaseRecord) TableName() string {
	return "purchase_records"
}
