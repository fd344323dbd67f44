package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"daringbooks/config"
	"daringbooks/internal/auth"
	"daringbooks/internal/domain"
	"daringbooks/internal/models"
	"daringbooks/internal/repository"
	"daringbooks/pkg/mpesa"
	"daringbooks/pkg/whatsapp"
)

// PaymentGateway is the push-payment surface the orchestrator depends on.
type PaymentGateway interface {
	InitiateSTKPush(ctx context.Context, phone string, amount int, transactionID, reference string) (*mpesa.STKPushResponse, error)
	QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error)
}

// EbookMessenger delivers the purchased file over the messaging channel.
type EbookMessenger interface {
	SendEbook(ctx context.Context, d whatsapp.EbookDelivery) whatsapp.Result
}

// ReceiptMailer sends best-effort purchase emails. Failures are logged by
// the orchestrator, never propagated.
type ReceiptMailer interface {
	SendPurchaseReceipt(ctx context.Context, rec *models.PurchaseRecord) error
	SendAdminNotification(ctx context.Context, rec *models.PurchaseRecord) error
}

// PaymentService drives the payment-to-delivery pipeline: it creates
// purchase records, initiates the STK push, reconciles gateway callbacks,
// and triggers WhatsApp delivery of the purchased e-book.
type PaymentService struct {
	cfg          *config.Config
	bookRepo     *repository.BookRepository
	purchaseRepo *repository.PurchaseRepository
	gateway      PaymentGateway
	messenger    EbookMessenger
	mailer       ReceiptMailer
}

func NewPaymentService(
	cfg *config.Config,
	bookRepo *repository.BookRepository,
	purchaseRepo *repository.PurchaseRepository,
	gateway PaymentGateway,
	messenger EbookMessenger,
	mailer ReceiptMailer,
) *PaymentService {
	return &PaymentService{
		cfg:          cfg,
		bookRepo:     bookRepo,
		purchaseRepo: purchaseRepo,
		gateway:      gateway,
		messenger:    messenger,
		mailer:       mailer,
	}
}

type InitiateRequest struct {
	PhoneNumber   string
	BookID        uint
	CustomerEmail string
	CustomerName  string
	IPAddress     string
	UserAgent     string
}

type InitiateResult struct {
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message"`
}

// newTransactionID mints the opaque external reference for one purchase
// attempt. The DA prefix keeps ids recognizable in M-Pesa statements.
func newTransactionID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:12]
	return fmt.Sprintf("DA%d%s", time.Now().UnixMilli(), suffix)
}

// InitiatePurchase validates the request, persists a pending purchase
// record, and submits the STK push. On gateway failure the record stays
// pending with no correlation handle; no false success state is created.
func (s *PaymentService) InitiatePurchase(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	book, err := s.bookRepo.GetByID(req.BookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	if !book.Active {
		return nil, ErrBookUnavailable
	}

	phone, err := mpesa.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	amount, err := mpesa.ValidateAmount(book.Price)
	if err != nil {
		return nil, err
	}

	rec := &models.PurchaseRecord{
		TransactionID: newTransactionID(),
		PhoneNumber:   phone,
		BookID:        book.ID,
		BookTitle:     book.Title,
		Amount:        amount,
		PaymentStatus: domain.PaymentPending,
		MaxDownloads:  s.cfg.Download.MaxDownloads,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		RefundStatus:  domain.RefundNone,
	}
	if err := s.purchaseRepo.Create(rec); err != nil {
		return nil, fmt.Errorf("create purchase record: %w", err)
	}

	resp, err := s.gateway.InitiateSTKPush(ctx, phone, amount, rec.TransactionID, book.Title)
	if err != nil {
		log.WithFields(log.Fields{
			"transaction_id": rec.TransactionID,
			"book_id":        book.ID,
		}).WithError(err).Error("STK push initiation failed")
		return nil, err
	}
	if err := s.purchaseRepo.SetSTKResponse(rec.ID, resp.MerchantRequestID, resp.CheckoutRequestID, resp.CustomerMessage); err != nil {
		return nil, fmt.Errorf("persist stk response: %w", err)
	}

	log.WithFields(log.Fields{
		"transaction_id":      rec.TransactionID,
		"phone":               phone,
		"book_title":          book.Title,
		"amount":              amount,
		"checkout_request_id": resp.CheckoutRequestID,
	}).Info("payment initiated")

	return &InitiateResult{
		TransactionID:     rec.TransactionID,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// HandleCallback reconciles one gateway callback against its purchase
// record. It is idempotent: replays against a terminal record, callbacks
// for unknown checkout ids, and lost CAS races all resolve to a no-op so
// the webhook can always be acknowledged. Only a malformed payload returns
// an error.
func (s *PaymentService) HandleCallback(ctx context.Context, raw []byte) error {
	result, err := mpesa.ParseCallback(raw)
	if err != nil {
		return err
	}

	rec, err := s.purchaseRepo.GetByCheckoutRequestID(result.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Possibly a foreign or duplicate webhook; drop it rather than
			// bouncing an error that would make the gateway retry forever.
			log.WithField("checkout_request_id", result.CheckoutRequestID).
				Warn("callback for unknown checkout request, dropping")
			return nil
		}
		return fmt.Errorf("lookup purchase record: %w", err)
	}

	if rec.PaymentStatus.Terminal() {
		log.WithFields(log.Fields{
			"transaction_id": rec.TransactionID,
			"payment_status": rec.PaymentStatus,
		}).Info("callback replay for terminal record, ignoring")
		return nil
	}

	if !result.Success() {
		transitioned, err := s.purchaseRepo.TransitionPayment(rec.ID, domain.PaymentPending, domain.PaymentFailed, map[string]interface{}{
			"result_code":        result.ResultCode,
			"result_description": result.ResultDesc,
		})
		if err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		if transitioned {
			log.WithFields(log.Fields{
				"transaction_id": rec.TransactionID,
				"result_code":    result.ResultCode,
				"result_desc":    result.ResultDesc,
			}).Warn("payment failed")
		}
		return nil
	}

	token, expiresAt, err := auth.GenerateDownloadToken(s.cfg.Download.TokenSecret, s.cfg.Download.TokenTTL, rec.ID, rec.BookID)
	if err != nil {
		return fmt.Errorf("mint download token: %w", err)
	}
	transitioned, err := s.purchaseRepo.TransitionPayment(rec.ID, domain.PaymentPending, domain.PaymentSuccess, map[string]interface{}{
		"mpesa_receipt_number": result.ReceiptNumber,
		"result_code":          result.ResultCode,
		"result_description":   result.ResultDesc,
		"download_token":       token,
		"token_expires_at":     expiresAt,
	})
	if err != nil {
		return fmt.Errorf("mark payment success: %w", err)
	}
	if !transitioned {
		// A concurrent callback already settled this record.
		log.WithField("transaction_id", rec.TransactionID).Info("lost callback race, record already settled")
		return nil
	}

	if err := s.bookRepo.IncrementSalesCount(rec.BookID); err != nil {
		log.WithField("book_id", rec.BookID).WithError(err).Error("increment sales count")
	}

	// Reload so delivery and emails see the settled record.
	rec, err = s.purchaseRepo.GetByID(rec.ID)
	if err != nil {
		return fmt.Errorf("reload purchase record: %w", err)
	}

	delivery := s.deliverEbook(ctx, rec)

	if rec.CustomerEmail != "" {
		if err := s.mailer.SendPurchaseReceipt(ctx, rec); err != nil {
			log.WithField("transaction_id", rec.TransactionID).WithError(err).Error("receipt email failed")
		}
	}
	if err := s.mailer.SendAdminNotification(ctx, rec); err != nil {
		log.WithField("transaction_id", rec.TransactionID).WithError(err).Error("admin notification failed")
	}

	log.WithFields(log.Fields{
		"transaction_id":       rec.TransactionID,
		"mpesa_receipt_number": result.ReceiptNumber,
		"whatsapp_delivered":   delivery.Delivered,
	}).Info("payment reconciled")
	return nil
}

// sendEbook loads the book and runs one messaging send. It does no attempt
// accounting; callers persist the outcome.
func (s *PaymentService) sendEbook(ctx context.Context, rec *models.PurchaseRecord) whatsapp.Result {
	book, err := s.bookRepo.GetByID(rec.BookID)
	if err != nil {
		log.WithField("transaction_id", rec.TransactionID).WithError(err).Error("delivery: load book")
		return whatsapp.Result{Err: err}
	}

	result := s.messenger.SendEbook(ctx, whatsapp.EbookDelivery{
		Phone:         rec.PhoneNumber,
		BookTitle:     rec.BookTitle,
		Author:        book.Author,
		TransactionID: rec.TransactionID,
		Amount:        rec.Amount,
		FileURL:       s.publicFileURL(book),
		Filename:      fmt.Sprintf("%s.%s", rec.BookTitle, strings.ToLower(book.Format)),
		DownloadURL:   s.downloadURL(rec),
	})
	if !result.Delivered {
		log.WithFields(log.Fields{
			"transaction_id": rec.TransactionID,
			"attempts":       result.Attempts,
		}).WithError(result.Err).Error("whatsapp delivery failed")
	}
	return result
}

func deliveryStatusOf(result whatsapp.Result) domain.DeliveryStatus {
	if result.Delivered {
		return domain.DeliverySent
	}
	return domain.DeliveryFailed
}

// deliverEbook runs the initial delivery attempt and records its outcome on
// the purchase record. Messaging failures are persisted, not swallowed: they
// stay visible and retryable.
func (s *PaymentService) deliverEbook(ctx context.Context, rec *models.PurchaseRecord) whatsapp.Result {
	result := s.sendEbook(ctx, rec)
	if err := s.purchaseRepo.RecordDeliveryAttempt(rec.ID, deliveryStatusOf(result), result.MessageID); err != nil {
		log.WithField("transaction_id", rec.TransactionID).WithError(err).Error("record delivery attempt")
	}
	return result
}

func (s *PaymentService) publicFileURL(book *models.Book) string {
	if strings.HasPrefix(book.FileURL, "http") {
		return book.FileURL
	}
	return strings.TrimRight(s.cfg.Store.BackendURL, "/") + "/" + strings.TrimLeft(book.FileURL, "/")
}

func (s *PaymentService) downloadURL(rec *models.PurchaseRecord) string {
	if rec.DownloadToken == nil {
		return s.cfg.Store.FrontendURL
	}
	return strings.TrimRight(s.cfg.Store.FrontendURL, "/") + "/download/" + *rec.DownloadToken
}

type RetryResult struct {
	Delivered bool `json:"delivered"`
	Attempts  int  `json:"attempts"`
}

// RetryDelivery re-runs e-book delivery for a paid purchase. Customer
// retries stop at the configured ceiling; admin resends get a higher one.
func (s *PaymentService) RetryDelivery(ctx context.Context, transactionID string, asAdmin bool) (*RetryResult, error) {
	rec, err := s.purchaseRepo.GetByTransactionID(transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if rec.PaymentStatus != domain.PaymentSuccess || !rec.DeliveryStatus.Retryable() {
		return nil, ErrDeliveryNotRetryable
	}
	ceiling := s.cfg.Delivery.MaxAttempts
	if asAdmin {
		ceiling = s.cfg.Delivery.AdminMaxAttempts
	}
	// Claim the attempt slot before sending: the guarded increment is the
	// ceiling check, so racing retries cannot overshoot it.
	ok, err := s.purchaseRepo.ReserveDeliveryAttempt(rec.ID, ceiling)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMaxAttemptsExceeded
	}

	result := s.sendEbook(ctx, rec)
	if err := s.purchaseRepo.SetDeliveryOutcome(rec.ID, deliveryStatusOf(result), result.MessageID); err != nil {
		log.WithField("transaction_id", rec.TransactionID).WithError(err).Error("record delivery outcome")
	}
	return &RetryResult{Delivered: result.Delivered, Attempts: rec.DeliveryAttempts + 1}, nil
}

// CancelPurchase closes out a record the gateway never called back for. The
// cancelled state is terminal, so a late callback against it is dropped as a
// replay instead of resurrecting the payment.
func (s *PaymentService) CancelPurchase(ctx context.Context, id uint, reason string) error {
	rec, err := s.purchaseRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	transitioned, err := s.purchaseRepo.TransitionPayment(rec.ID, domain.PaymentPending, domain.PaymentCancelled, map[string]interface{}{
		"result_description": reason,
	})
	if err != nil {
		return fmt.Errorf("cancel purchase: %w", err)
	}
	if !transitioned {
		return ErrNotCancellable
	}
	log.WithFields(log.Fields{
		"transaction_id": rec.TransactionID,
		"reason":         reason,
	}).Info("pending payment cancelled")
	return nil
}

// StatusView is the customer-facing purchase status. It deliberately omits
// the gateway correlation handle and the download token.
type StatusView struct {
	TransactionID    string                `json:"transaction_id"`
	BookTitle        string                `json:"book_title"`
	Amount           int                   `json:"amount"`
	PaymentStatus    domain.PaymentStatus  `json:"payment_status"`
	DeliveryStatus   domain.DeliveryStatus `json:"delivery_status"`
	DeliveryAttempts int                   `json:"delivery_attempts"`
	DownloadCount    int                   `json:"download_count"`
	MaxDownloads     int                   `json:"max_downloads"`
	RefundStatus     domain.RefundStatus   `json:"refund_status"`
	CreatedAt        time.Time             `json:"created_at"`
}

func (s *PaymentService) GetStatus(ctx context.Context, transactionID string) (*StatusView, error) {
	rec, err := s.purchaseRepo.GetByTransactionID(transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return statusView(rec), nil
}

func statusView(rec *models.PurchaseRecord) *StatusView {
	return &StatusView{
		TransactionID:    rec.TransactionID,
		BookTitle:        rec.BookTitle,
		Amount:           rec.Amount,
		PaymentStatus:    rec.PaymentStatus,
		DeliveryStatus:   rec.DeliveryStatus,
		DeliveryAttempts: rec.DeliveryAttempts,
		DownloadCount:    rec.DownloadCount,
		MaxDownloads:     rec.MaxDownloads,
		RefundStatus:     rec.RefundStatus,
		CreatedAt:        rec.CreatedAt,
	}
}

// QueryExternalStatus is a read-only pass-through for manual reconciliation
// tooling; it never mutates the record.
func (s *PaymentService) QueryExternalStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	return s.gateway.QuerySTKStatus(ctx, checkoutRequestID)
}

type HistoryPage struct {
	Items []StatusView `json:"items"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int64        `json:"total"`
}

// TransactionHistory lists a customer's successful purchases by phone.
func (s *PaymentService) TransactionHistory(ctx context.Context, rawPhone string, page, limit int) (*HistoryPage, error) {
	phone, err := mpesa.NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	records, total, err := s.purchaseRepo.ListByPhone(phone, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	items := make([]StatusView, 0, len(records))
	for i := range records {
		items = append(items, *statusView(&records[i]))
	}
	return &HistoryPage{Items: items, Page: page, Limit: limit, Total: total}, nil
}
