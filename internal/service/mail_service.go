package service

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	log "github.com/sirupsen/logrus"

	"daringbooks/config"
	"daringbooks/internal/models"
)

// MailService sends purchase receipts to customers and sale notifications to
// the store contact address. It is best-effort infrastructure: callers log
// failures and move on, and an empty SMTP host disables sending entirely.
type MailService struct {
	cfg *config.Config
}

func NewMailService(cfg *config.Config) *MailService {
	return &MailService{cfg: cfg}
}

func (m *MailService) enabled() bool {
	return m.cfg.SMTP.Host != ""
}

func (m *MailService) send(e *email.Email) error {
	addr := m.cfg.SMTP.Host + ":" + m.cfg.SMTP.Port
	auth := smtp.PlainAuth("", m.cfg.SMTP.User, m.cfg.SMTP.Pass, m.cfg.SMTP.Host)
	return e.Send(addr, auth)
}

func (m *MailService) from() string {
	return fmt.Sprintf("%s <%s>", m.cfg.SMTP.FromName, m.cfg.SMTP.FromAddr)
}

// SendPurchaseReceipt mails the customer their payment confirmation. The ctx
// parameter keeps the signature uniform with the other outbound adapters.
func (m *MailService) SendPurchaseReceipt(ctx context.Context, rec *models.PurchaseRecord) error {
	if !m.enabled() || rec.CustomerEmail == "" {
		return nil
	}
	name := rec.CustomerName
	if name == "" {
		name = "Customer"
	}
	receipt := ""
	if rec.MpesaReceiptNumber != nil {
		receipt = *rec.MpesaReceiptNumber
	}

	e := email.NewEmail()
	e.From = m.from()
	e.To = []string{rec.CustomerEmail}
	e.Subject = fmt.Sprintf("Your receipt for %s", rec.BookTitle)
	e.HTML = []byte(fmt.Sprintf(`<div style="font-family:Arial,sans-serif;max-width:600px;margin:0 auto">
  <h2 style="color:#2c3e50">Thank you for your purchase, %s!</h2>
  <p>Your payment has been received and your e-book is on its way to your WhatsApp.</p>
  <table style="width:100%%;border-collapse:collapse">
    <tr><td style="padding:8px;border-bottom:1px solid #eee"><strong>Book</strong></td><td style="padding:8px;border-bottom:1px solid #eee">%s</td></tr>
    <tr><td style="padding:8px;border-bottom:1px solid #eee"><strong>Amount</strong></td><td style="padding:8px;border-bottom:1px solid #eee">KES %d</td></tr>
    <tr><td style="padding:8px;border-bottom:1px solid #eee"><strong>Transaction ID</strong></td><td style="padding:8px;border-bottom:1px solid #eee">%s</td></tr>
    <tr><td style="padding:8px;border-bottom:1px solid #eee"><strong>M-Pesa Receipt</strong></td><td style="padding:8px;border-bottom:1px solid #eee">%s</td></tr>
    <tr><td style="padding:8px"><strong>Date</strong></td><td style="padding:8px">%s</td></tr>
  </table>
  <p>You can download your copy up to %d times before the link expires.</p>
  <p style="color:#7f8c8d;font-size:12px">%s &middot; %s</p>
</div>`,
		name, rec.BookTitle, rec.Amount, rec.TransactionID, receipt,
		time.Now().Format("2 Jan 2006 15:04"),
		rec.MaxDownloads, m.cfg.Store.Name, m.cfg.Store.ContactEmail))
	return m.send(e)
}

// SendAdminNotification mails the store contact about a completed sale.
func (m *MailService) SendAdminNotification(ctx context.Context, rec *models.PurchaseRecord) error {
	if !m.enabled() || m.cfg.Store.ContactEmail == "" {
		return nil
	}
	receipt := ""
	if rec.MpesaReceiptNumber != nil {
		receipt = *rec.MpesaReceiptNumber
	}

	e := email.NewEmail()
	e.From = m.from()
	e.To = []string{m.cfg.Store.ContactEmail}
	e.Subject = fmt.Sprintf("New sale: %s (KES %d)", rec.BookTitle, rec.Amount)
	e.HTML = []byte(fmt.Sprintf(`<div style="font-family:Arial,sans-serif">
  <h3>New e-book sale</h3>
  <ul>
    <li><strong>Book:</strong> %s</li>
    <li><strong>Amount:</strong> KES %d</li>
    <li><strong>Phone:</strong> %s</li>
    <li><strong>Transaction ID:</strong> %s</li>
    <li><strong>M-Pesa Receipt:</strong> %s</li>
    <li><strong>Delivery:</strong> %s</li>
  </ul>
</div>`,
		rec.BookTitle, rec.Amount, rec.PhoneNumber, rec.TransactionID, receipt, rec.DeliveryStatus))
	if err := m.send(e); err != nil {
		return err
	}
	log.WithField("transaction_id", rec.TransactionID).Debug("admin sale notification sent")
	return nil
}
