package domain

// PaymentStatus is the life cycle of one purchase attempt. A record starts
// pending and moves to exactly one terminal state via callback reconciliation.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether no further payment transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccess || s == PaymentFailed || s == PaymentCancelled
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentSuccess, PaymentFailed, PaymentCancelled},
	// no transitions out of terminal states
	PaymentSuccess:   {},
	PaymentFailed:    {},
	PaymentCancelled: {},
}

// CanTransitionPayment checks whether from -> to is a legal payment transition.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DeliveryStatus tracks WhatsApp delivery independently of payment: delivery
// may fail and be retried repeatedly after a successful payment.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Retryable reports whether another delivery attempt makes sense.
func (s DeliveryStatus) Retryable() bool {
	return s == DeliveryPending || s == DeliveryFailed
}

type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundRequested RefundStatus = "requested"
	RefundApproved  RefundStatus = "approved"
	RefundProcessed RefundStatus = "processed"
)

const RoleAdmin = "ADMIN"

// TokenTypeDownload is the claim type embedded in signed download tokens.
const TokenTypeDownload = "download"

const (
	BookFormatPDF  = "PDF"
	BookFormatEPUB = "EPUB"
)

var BookCategories = []string{"Self-Help", "Motivation", "Business", "Leadership", "Personal Development"}
