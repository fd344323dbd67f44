// Package whatsapp sends purchased e-books to customers over the UltraMsg
// WhatsApp API, with bounded retry and a text-message fallback.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"daringbooks/pkg/backoff"
	"daringbooks/pkg/mpesa"
)

type Config struct {
	APIURL     string
	InstanceID string
	Token      string

	// Branding for the customer-facing message.
	StoreName    string
	WebsiteURL   string
	SupportEmail string

	// Retry overrides the default send policy (3 attempts, 2s base, doubling).
	Retry backoff.Policy
}

// Result is the outcome of a send. Exhausted retries come back as a failed
// Result, never a panic: the caller decides whether that is fatal.
type Result struct {
	Delivered bool
	MessageID string
	Attempts  int
	Err       error
}

type Client struct {
	cfg    Config
	client *http.Client
	retry  backoff.Policy
}

func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.ultramsg.com"
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = backoff.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2}
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  retry,
	}
}

// FormatRecipient applies the canonical phone normalization and appends the
// WhatsApp routing suffix.
func FormatRecipient(phone string) (string, error) {
	normalized, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return "", err
	}
	return normalized + "@c.us", nil
}

// endpoint builds the API URL, tolerating an APIURL that already embeds the
// instance id or carries a trailing slash.
func (c *Client) endpoint(path string) string {
	url := strings.TrimRight(c.cfg.APIURL, "/")
	if c.cfg.InstanceID != "" && !strings.Contains(url, c.cfg.InstanceID) {
		url += "/" + c.cfg.InstanceID
	}
	return url + path + "?token=" + c.cfg.Token
}

// SendText sends a plain text message with retry and exponential backoff.
func (c *Client) SendText(ctx context.Context, phone, message string) Result {
	to, err := FormatRecipient(phone)
	if err != nil {
		return Result{Err: err}
	}
	return c.send(ctx, "/messages/chat", map[string]string{
		"to":   to,
		"body": message,
	})
}

// SendDocument sends a document by public URL with retry and exponential backoff.
func (c *Client) SendDocument(ctx context.Context, phone, documentURL, filename, caption string) Result {
	to, err := FormatRecipient(phone)
	if err != nil {
		return Result{Err: err}
	}
	return c.send(ctx, "/messages/document", map[string]string{
		"to":       to,
		"document": documentURL,
		"filename": filename,
		"caption":  caption,
	})
}

// EbookDelivery carries everything needed to compose and deliver one purchase.
type EbookDelivery struct {
	Phone         string
	BookTitle     string
	Author        string
	TransactionID string
	Amount        int
	FileURL       string // publicly reachable document URL
	Filename      string
	DownloadURL   string // tokenized download page link
}

// SendEbook attempts document delivery of the purchased file and falls back
// to a text message carrying the download link. The returned Result is the
// outcome of whichever path was tried last.
func (c *Client) SendEbook(ctx context.Context, d EbookDelivery) Result {
	message := c.composeEbookMessage(d)

	docResult := c.SendDocument(ctx, d.Phone, d.FileURL, d.Filename, message)
	if docResult.Delivered {
		return docResult
	}
	log.WithFields(log.Fields{
		"transaction_id": d.TransactionID,
		"attempts":       docResult.Attempts,
	}).WithError(docResult.Err).Warn("document delivery failed, falling back to text")

	return c.SendText(ctx, d.Phone, message)
}

func (c *Client) composeEbookMessage(d EbookDelivery) string {
	return fmt.Sprintf(`🎉 Thank you for your purchase from %s!

📚 *Book:* %s
✨ *Author:* %s
💰 *Amount:* KES %d
🧾 *Transaction ID:* %s

⬇️ Download your copy here:
%s

📞 *Support:* %s
🌐 *Website:* %s`,
		c.cfg.StoreName, d.BookTitle, d.Author, d.Amount, d.TransactionID,
		d.DownloadURL, c.cfg.SupportEmail, c.cfg.WebsiteURL)
}

// apiResponse tolerates UltraMsg reporting "sent" as either a bool or the
// string "true".
type apiResponse struct {
	Sent    interface{} `json:"sent"`
	ID      json.Number `json:"id"`
	Message string      `json:"message"`
}

func (r apiResponse) delivered() bool {
	switch v := r.Sent.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func (c *Client) send(ctx context.Context, path string, payload map[string]string) Result {
	var (
		attempts  int
		messageID string
	)
	err := backoff.Retry(ctx, c.retry, func() error {
		attempts++
		id, err := c.post(ctx, path, payload)
		if err != nil {
			log.WithFields(log.Fields{"path": path, "attempt": attempts}).
				WithError(err).Warn("whatsapp send attempt failed")
			return err
		}
		messageID = id
		return nil
	})
	return Result{
		Delivered: err == nil,
		MessageID: messageID,
		Attempts:  attempts,
		Err:       err,
	}
}

func (c *Client) post(ctx context.Context, path string, payload map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, string(respBody))
	}
	var out apiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode whatsapp response: %w", err)
	}
	if !out.delivered() {
		return "", errors.New("message not sent: " + out.Message)
	}
	return out.ID.String(), nil
}
