package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"daringbooks/internal/service"
	"daringbooks/pkg/mpesa"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Initiate starts an STK push purchase for one book.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req struct {
		PhoneNumber   string `json:"phone_number" binding:"required"`
		BookID        uint   `json:"book_id" binding:"required"`
		CustomerEmail string `json:"customer_email" binding:"omitempty,email"`
		CustomerName  string `json:"customer_name" binding:"omitempty,max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.payments.InitiatePurchase(c.Request.Context(), service.InitiateRequest{
		PhoneNumber:   req.PhoneNumber,
		BookID:        req.BookID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		IPAddress:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, mpesa.ErrInvalidPhoneFormat), errors.Is(err, mpesa.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrBookNotFound), errors.Is(err, service.ErrBookUnavailable):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, mpesa.ErrGatewayUnavailable), errors.Is(err, mpesa.ErrGatewayRejected):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway error, please try again"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payment initiation failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"message":             "Check your phone to complete the M-Pesa payment.",
		"transaction_id":      result.TransactionID,
		"checkout_request_id": result.CheckoutRequestID,
		"customer_message":    result.CustomerMessage,
	})
}

// Status returns the customer-facing view of one purchase.
func (h *PaymentHandler) Status(c *gin.Context) {
	view, err := h.payments.GetStatus(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// RetryDelivery lets a customer re-request WhatsApp delivery of a paid book.
func (h *PaymentHandler) RetryDelivery(c *gin.Context) {
	result, err := h.payments.RetryDelivery(c.Request.Context(), c.Param("transactionId"), false)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		case errors.Is(err, service.ErrDeliveryNotRetryable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrMaxAttemptsExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "delivery retry limit reached, please contact support"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"delivered": result.Delivered,
		"attempts":  result.Attempts,
	})
}

// History lists a customer's successful purchases by phone number.
func (h *PaymentHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	result, err := h.payments.TransactionHistory(c.Request.Context(), c.Param("phone"), page, limit)
	if err != nil {
		if errors.Is(err, mpesa.ErrInvalidPhoneFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// StkStatus queries the gateway directly for a checkout request. Admin-only
// reconciliation tool; it never mutates local state.
func (h *PaymentHandler) StkStatus(c *gin.Context) {
	resp, err := h.payments.QueryExternalStatus(c.Request.Context(), c.Param("checkoutRequestId"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway query failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
