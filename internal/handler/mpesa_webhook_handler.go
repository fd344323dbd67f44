package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"daringbooks/internal/service"
	"daringbooks/pkg/mpesa"
)

type MpesaWebhookHandler struct {
	payments *service.PaymentService
}

func NewMpesaWebhookHandler(payments *service.PaymentService) *MpesaWebhookHandler {
	return &MpesaWebhookHandler{payments: payments}
}

// Handle ingests the Daraja STK callback. Any payload we managed to parse is
// acknowledged with 200 so Safaricom stops retrying; only an unreadable or
// structurally invalid body gets a 400.
func (h *MpesaWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := h.payments.HandleCallback(c.Request.Context(), body); err != nil {
		if errors.Is(err, mpesa.ErrMalformedCallback) {
			log.WithError(err).Warn("malformed mpesa callback")
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed callback"})
			return
		}
		// Internal failure: ack anyway and rely on logs plus the manual
		// reconciliation endpoint, rather than triggering gateway retries
		// against a struggling database.
		log.WithError(err).Error("mpesa callback processing failed")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
