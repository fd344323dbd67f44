// Package mpesa implements the Safaricom Daraja STK push flow: payment
// initiation, out-of-band status query, and callback parsing.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidPhoneFormat = errors.New("invalid phone number format")
	ErrInvalidAmount      = errors.New("invalid amount: must be between KES 1 and KES 70,000")
	ErrGatewayUnavailable = errors.New("mpesa gateway unavailable")
	ErrGatewayRejected    = errors.New("mpesa gateway rejected request")
	ErrMalformedCallback  = errors.New("malformed mpesa callback")
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	// MinAmount and MaxAmount bound a single STK push charge in whole KES.
	MinAmount = 1
	MaxAmount = 70000
)

type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Environment    string // "sandbox" or "production"
	BaseURL        string // overrides Environment when set
}

type Client struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		if cfg.Environment == "production" {
			cfg.BaseURL = productionBaseURL
		} else {
			cfg.BaseURL = sandboxBaseURL
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// NormalizePhone converts a raw phone number to canonical 254XXXXXXXXX form.
// Accepted inputs: already-prefixed 254 numbers, a leading 0, or a bare
// subscriber number starting with 7 or 1.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	switch {
	case strings.HasPrefix(cleaned, "254") && len(cleaned) == 12:
		return cleaned, nil
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		return "254" + cleaned[1:], nil
	case (strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1")) && len(cleaned) == 9:
		return "254" + cleaned, nil
	}
	return "", ErrInvalidPhoneFormat
}

// ValidateAmount checks the chargeable range and rounds to whole KES.
func ValidateAmount(value float64) (int, error) {
	if math.IsNaN(value) || value < MinAmount || value > MaxAmount {
		return 0, ErrInvalidAmount
	}
	return int(math.Round(value)), nil
}

// Timestamp returns the Daraja request timestamp (YYYYMMDDHHMMSS, local time).
func Timestamp(now time.Time) string {
	return now.Format("20060102150405")
}

// Password derives the STK push password: base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// getAccessToken returns a cached OAuth token, refreshing it shortly before expiry.
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrGatewayUnavailable, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGatewayUnavailable)
	}

	ttl := 3599 * time.Second
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.accessToken = out.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - 30*time.Second)
	return c.accessToken, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int    `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiateSTKPush submits a push-payment prompt to the payer's phone. The
// gateway reports the final outcome asynchronously to the configured
// callback URL, correlated by CheckoutRequestID.
func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amount int, transactionID, reference string) (*STKPushResponse, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	ts := Timestamp(time.Now())
	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   fmt.Sprintf("Payment for %s", reference),
	}
	var out STKPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, body, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: response code %s (%s)", ErrGatewayRejected, out.ResponseCode, out.ResponseDescription)
	}
	log.WithFields(log.Fields{
		"transaction_id":      transactionID,
		"phone":               phone,
		"amount":              amount,
		"checkout_request_id": out.CheckoutRequestID,
	}).Info("STK push initiated")
	return &out, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// QuerySTKStatus polls the gateway for the out-of-band status of a push.
// This backs manual reconciliation; the callback is the primary success path.
func (c *Client) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	ts := Timestamp(time.Now())
	body := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}
	var out STKQueryResponse
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithFields(log.Fields{"path": path, "status": resp.StatusCode, "body": string(respBody)}).
			Warn("mpesa request rejected")
		return fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGatewayRejected, err)
	}
	return nil
}
