package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"daringbooks/config"
	"daringbooks/internal/models"
	"daringbooks/internal/repository"
	"daringbooks/internal/service"
	"daringbooks/pkg/mpesa"
	"daringbooks/pkg/whatsapp"
)

type stubGateway struct{}

func (stubGateway) InitiateSTKPush(ctx context.Context, phone string, amount int, transactionID, reference string) (*mpesa.STKPushResponse, error) {
	return &mpesa.STKPushResponse{ResponseCode: "0"}, nil
}

func (stubGateway) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	return &mpesa.STKQueryResponse{}, nil
}

type stubMessenger struct{}

func (stubMessenger) SendEbook(ctx context.Context, d whatsapp.EbookDelivery) whatsapp.Result {
	return whatsapp.Result{Delivered: true, MessageID: "wamid-1", Attempts: 1}
}

type stubMailer struct{}

func (stubMailer) SendPurchaseReceipt(ctx context.Context, rec *models.PurchaseRecord) error {
	return nil
}

func (stubMailer) SendAdminNotification(ctx context.Context, rec *models.PurchaseRecord) error {
	return nil
}

func newWebhookRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:webhook_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Book{}, &models.PurchaseRecord{}, &models.AdminUser{}))

	cfg := &config.Config{
		Delivery: config.DeliveryConfig{MaxAttempts: 5, AdminMaxAttempts: 10},
		Download: config.DownloadConfig{TokenSecret: "secret", TokenTTL: 24 * time.Hour, MaxDownloads: 5},
		Store:    config.StoreConfig{FrontendURL: "http://localhost:5173", BackendURL: "http://localhost:5000"},
	}
	svc := service.NewPaymentService(cfg,
		repository.NewBookRepository(db),
		repository.NewPurchaseRepository(db),
		stubGateway{}, stubMessenger{}, stubMailer{})

	r := gin.New()
	r.POST("/api/v1/webhooks/mpesa", NewMpesaWebhookHandler(svc).Handle)
	return r
}

func postWebhook(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_MalformedBodyRejected(t *testing.T) {
	r := newWebhookRouter(t)

	w := postWebhook(r, `{"Body":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(r, `not json at all`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_UnknownCheckoutStillAcked(t *testing.T) {
	r := newWebhookRouter(t)

	w := postWebhook(r, `{"Body":{"stkCallback":{
		"MerchantRequestID":"m-1",
		"CheckoutRequestID":"ws_CO_unknown",
		"ResultCode":0,
		"ResultDesc":"ok"}}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received": true}`, w.Body.String())
}
