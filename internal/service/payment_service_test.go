package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"daringbooks/config"
	"daringbooks/internal/domain"
	"daringbooks/internal/models"
	"daringbooks/internal/repository"
	"daringbooks/pkg/mpesa"
	"daringbooks/pkg/whatsapp"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:paymentsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	db.Exec("PRAGMA foreign_keys=ON;")
	require.NoError(t, db.AutoMigrate(&models.Book{}, &models.PurchaseRecord{}, &models.AdminUser{}))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Delivery: config.DeliveryConfig{MaxAttempts: 5, AdminMaxAttempts: 10},
		Download: config.DownloadConfig{
			TokenSecret:  "test-download-secret",
			TokenTTL:     24 * time.Hour,
			MaxDownloads: 5,
		},
		Store: config.StoreConfig{
			Name:        "Daring Achievers Network",
			FrontendURL: "https://shop.example.com",
			BackendURL:  "https://api.example.com",
		},
	}
}

type fakeGateway struct {
	pushErr   error
	pushCalls int
	lastPhone string
	lastAmt   int
}

func (f *fakeGateway) InitiateSTKPush(ctx context.Context, phone string, amount int, transactionID, reference string) (*mpesa.STKPushResponse, error) {
	f.pushCalls++
	f.lastPhone = phone
	f.lastAmt = amount
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	return &mpesa.STKPushResponse{
		MerchantRequestID: "merchant-" + transactionID,
		CheckoutRequestID: "checkout-" + transactionID,
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (f *fakeGateway) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	return &mpesa.STKQueryResponse{CheckoutRequestID: checkoutRequestID, ResultCode: "0"}, nil
}

type fakeMessenger struct {
	failNext int // number of upcoming sends that should fail
	calls    int
	lastSent whatsapp.EbookDelivery
}

func (f *fakeMessenger) SendEbook(ctx context.Context, d whatsapp.EbookDelivery) whatsapp.Result {
	f.calls++
	f.lastSent = d
	if f.failNext > 0 {
		f.failNext--
		return whatsapp.Result{Attempts: 3, Err: errors.New("ultramsg unreachable")}
	}
	return whatsapp.Result{Delivered: true, MessageID: fmt.Sprintf("wamid-%d", f.calls), Attempts: 1}
}

type fakeMailer struct {
	receipts int
	admin    int
}

func (f *fakeMailer) SendPurchaseReceipt(ctx context.Context, rec *models.PurchaseRecord) error {
	f.receipts++
	return nil
}

func (f *fakeMailer) SendAdminNotification(ctx context.Context, rec *models.PurchaseRecord) error {
	f.admin++
	return nil
}

type paymentFixture struct {
	svc       *PaymentService
	books     *repository.BookRepository
	purchases *repository.PurchaseRepository
	gateway   *fakeGateway
	messenger *fakeMessenger
	mailer    *fakeMailer
	book      *models.Book
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db := newTestDB(t)
	books := repository.NewBookRepository(db)
	purchases := repository.NewPurchaseRepository(db)

	book := &models.Book{
		Title:       "Dare to Achieve",
		Author:      "Mwatha Njoroge",
		Description: "A practical guide",
		Price:       500,
		Category:    "Motivation",
		CoverImage:  "https://cdn.example.com/cover.jpg",
		FileURL:     "uploads/books/dare.pdf",
		FileSize:    1024,
		Format:      domain.BookFormatPDF,
		Active:      true,
	}
	require.NoError(t, books.Create(book))

	gw := &fakeGateway{}
	msg := &fakeMessenger{}
	mail := &fakeMailer{}
	svc := NewPaymentService(testConfig(), books, purchases, gw, msg, mail)
	return &paymentFixture{svc: svc, books: books, purchases: purchases, gateway: gw, messenger: msg, mailer: mail, book: book}
}

func successCallback(checkoutRequestID, receipt string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"merchant-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":500},
			{"Name":"MpesaReceiptNumber","Value":%q},
			{"Name":"TransactionDate","Value":20260901121530},
			{"Name":"PhoneNumber","Value":254712345678}
		]}}}}`, checkoutRequestID, receipt))
}

func failureCallback(checkoutRequestID string, code int, desc string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"merchant-1",
		"CheckoutRequestID":%q,
		"ResultCode":%d,
		"ResultDesc":%q}}}`, checkoutRequestID, code, desc))
}

func TestInitiatePurchase_NormalizesPhoneAndCreatesPending(t *testing.T) {
	fx := newPaymentFixture(t)

	result, err := fx.svc.InitiatePurchase(context.Background(), InitiateRequest{
		PhoneNumber: "0712345678",
		BookID:      fx.book.ID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionID)
	assert.NotEmpty(t, result.CheckoutRequestID)
	assert.Equal(t, "254712345678", fx.gateway.lastPhone)
	assert.Equal(t, 500, fx.gateway.lastAmt)

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, rec.PaymentStatus)
	assert.Equal(t, result.CheckoutRequestID, rec.CheckoutRequestID)
	assert.Equal(t, "Dare to Achieve", rec.BookTitle)
	assert.Equal(t, 5, rec.MaxDownloads)
}

func TestInitiatePurchase_Validation(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	_, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "12345", BookID: fx.book.ID})
	assert.ErrorIs(t, err, mpesa.ErrInvalidPhoneFormat)

	_, err = fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: 999})
	assert.ErrorIs(t, err, ErrBookNotFound)

	require.NoError(t, fx.books.Deactivate(fx.book.ID))
	_, err = fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	assert.ErrorIs(t, err, ErrBookUnavailable)

	assert.Zero(t, fx.gateway.pushCalls, "no STK push should be attempted for invalid requests")
}

func TestInitiatePurchase_GatewayDownLeavesPending(t *testing.T) {
	fx := newPaymentFixture(t)
	fx.gateway.pushErr = mpesa.ErrGatewayUnavailable

	_, err := fx.svc.InitiatePurchase(context.Background(), InitiateRequest{
		PhoneNumber: "0712345678",
		BookID:      fx.book.ID,
	})
	assert.ErrorIs(t, err, mpesa.ErrGatewayUnavailable)

	recs, _, lerr := fx.purchases.List(repository.PurchaseFilter{PaymentStatus: domain.PaymentPending})
	require.NoError(t, lerr)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].CheckoutRequestID, "no correlation handle without a gateway response")
}

func TestHandleCallback_SuccessDeliversBook(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{
		PhoneNumber:   "0712345678",
		BookID:        fx.book.ID,
		CustomerEmail: "reader@example.com",
	})
	require.NoError(t, err)

	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "ABC123XYZ")))

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, rec.PaymentStatus)
	require.NotNil(t, rec.MpesaReceiptNumber)
	assert.Equal(t, "ABC123XYZ", *rec.MpesaReceiptNumber)
	require.NotNil(t, rec.DownloadToken)
	require.NotNil(t, rec.TokenExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *rec.TokenExpiresAt, time.Minute)

	assert.Equal(t, domain.DeliverySent, rec.DeliveryStatus)
	assert.Equal(t, 1, rec.DeliveryAttempts)
	assert.Equal(t, 1, fx.messenger.calls)
	assert.Contains(t, fx.messenger.lastSent.DownloadURL, "https://shop.example.com/download/")
	assert.Equal(t, "https://api.example.com/uploads/books/dare.pdf", fx.messenger.lastSent.FileURL)

	book, err := fx.books.GetByID(fx.book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.SalesCount)

	assert.Equal(t, 1, fx.mailer.receipts)
	assert.Equal(t, 1, fx.mailer.admin)
}

func TestHandleCallback_CancelledMarksFailed(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)

	require.NoError(t, fx.svc.HandleCallback(ctx, failureCallback(result.CheckoutRequestID, 1032, "Request cancelled by user")))

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, rec.PaymentStatus)
	require.NotNil(t, rec.ResultCode)
	assert.Equal(t, 1032, *rec.ResultCode)
	assert.Nil(t, rec.DownloadToken)
	assert.Equal(t, domain.DeliveryPending, rec.DeliveryStatus)
	assert.Zero(t, fx.messenger.calls)

	book, err := fx.books.GetByID(fx.book.ID)
	require.NoError(t, err)
	assert.Zero(t, book.SalesCount)
}

func TestHandleCallback_ReplayIsIdempotent(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)

	payload := successCallback(result.CheckoutRequestID, "ABC123XYZ")
	require.NoError(t, fx.svc.HandleCallback(ctx, payload))
	require.NoError(t, fx.svc.HandleCallback(ctx, payload))
	// even a contradictory replay is dropped once the record is terminal
	require.NoError(t, fx.svc.HandleCallback(ctx, failureCallback(result.CheckoutRequestID, 1, "late failure")))

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, rec.PaymentStatus)
	assert.Equal(t, 1, rec.DeliveryAttempts, "delivery must run once")
	assert.Equal(t, 1, fx.messenger.calls)

	book, err := fx.books.GetByID(fx.book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.SalesCount, "sales counter must not double-credit")
}

func TestHandleCallback_UnknownCheckoutIsAcked(t *testing.T) {
	fx := newPaymentFixture(t)
	err := fx.svc.HandleCallback(context.Background(), successCallback("ws_CO_unknown", "ZZZ999"))
	assert.NoError(t, err)
}

func TestHandleCallback_MalformedPropagates(t *testing.T) {
	fx := newPaymentFixture(t)
	err := fx.svc.HandleCallback(context.Background(), []byte(`{"Body":{}}`))
	assert.ErrorIs(t, err, mpesa.ErrMalformedCallback)
}

func TestRetryDelivery_RecoversAfterFailure(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()
	fx.messenger.failNext = 1

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)
	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "ABC123XYZ")))

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, rec.PaymentStatus, "payment state is independent of delivery")
	assert.Equal(t, domain.DeliveryFailed, rec.DeliveryStatus)
	assert.Equal(t, 1, rec.DeliveryAttempts)

	retry, err := fx.svc.RetryDelivery(ctx, result.TransactionID, false)
	require.NoError(t, err)
	assert.True(t, retry.Delivered)
	assert.Equal(t, 2, retry.Attempts)

	rec, err = fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliverySent, rec.DeliveryStatus)
}

func TestRetryDelivery_Guards(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	_, err := fx.svc.RetryDelivery(ctx, "DA-missing", false)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// unpaid record is not retryable
	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)
	_, err = fx.svc.RetryDelivery(ctx, result.TransactionID, false)
	assert.ErrorIs(t, err, ErrDeliveryNotRetryable)

	// delivered record is not retryable either
	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "ABC123XYZ")))
	_, err = fx.svc.RetryDelivery(ctx, result.TransactionID, false)
	assert.ErrorIs(t, err, ErrDeliveryNotRetryable)
}

func TestRetryDelivery_CustomerAndAdminCeilings(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()
	fx.messenger.failNext = 100

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)
	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "ABC123XYZ")))

	// attempt 1 happened at callback time; customer retries run it up to 5
	for i := 0; i < 4; i++ {
		_, err := fx.svc.RetryDelivery(ctx, result.TransactionID, false)
		require.NoError(t, err)
	}
	_, err = fx.svc.RetryDelivery(ctx, result.TransactionID, false)
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)

	// admin ceiling still has headroom
	for i := 0; i < 5; i++ {
		_, err := fx.svc.RetryDelivery(ctx, result.TransactionID, true)
		require.NoError(t, err)
	}
	_, err = fx.svc.RetryDelivery(ctx, result.TransactionID, true)
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.DeliveryAttempts)
}

func TestCancelPurchase_ClosesStuckPending(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	require.NoError(t, fx.svc.CancelPurchase(ctx, rec.ID, "gateway never called back"))

	rec, err = fx.purchases.GetByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, rec.PaymentStatus)
	assert.Equal(t, "gateway never called back", rec.ResultDescription)

	// a late success callback is a replay against a terminal record
	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "LATE999")))
	rec, err = fx.purchases.GetByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, rec.PaymentStatus)
	assert.Nil(t, rec.DownloadToken)
	assert.Zero(t, fx.messenger.calls)
}

func TestCancelPurchase_OnlyPending(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	err := fx.svc.CancelPurchase(ctx, 999, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)
	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "ABC123XYZ")))

	rec, err := fx.purchases.GetByTransactionID(result.TransactionID)
	require.NoError(t, err)
	err = fx.svc.CancelPurchase(ctx, rec.ID, "too late")
	assert.ErrorIs(t, err, ErrNotCancellable)
	rec, err = fx.purchases.GetByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, rec.PaymentStatus)
}

func TestGetStatus_OmitsSensitiveFields(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)
	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "ABC123XYZ")))

	view, err := fx.svc.GetStatus(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, view.PaymentStatus)
	assert.Equal(t, 500, view.Amount)
	assert.Equal(t, 5, view.MaxDownloads)

	_, err = fx.svc.GetStatus(ctx, "DA-missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestTransactionHistory(t *testing.T) {
	fx := newPaymentFixture(t)
	ctx := context.Background()

	result, err := fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)
	require.NoError(t, fx.svc.HandleCallback(ctx, successCallback(result.CheckoutRequestID, "ABC123XYZ")))

	// second purchase stays pending, must not appear
	_, err = fx.svc.InitiatePurchase(ctx, InitiateRequest{PhoneNumber: "0712345678", BookID: fx.book.ID})
	require.NoError(t, err)

	page, err := fx.svc.TransactionHistory(ctx, "0712345678", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, result.TransactionID, page.Items[0].TransactionID)

	_, err = fx.svc.TransactionHistory(ctx, "not-a-phone", 1, 10)
	assert.ErrorIs(t, err, mpesa.ErrInvalidPhoneFormat)
}
