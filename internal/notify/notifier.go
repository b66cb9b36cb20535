// Package notify sends the customer-facing order confirmation. Delivery is
// best effort; callers dispatch it after the settlement transaction commits.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
)

type Notifier interface {
	OrderConfirmed(ctx context.Context, o *order.Order) error
}

// LogNotifier only records that a confirmation would have been sent.
type LogNotifier struct{}

func (LogNotifier) OrderConfirmed(_ context.Context, o *order.Order) error {
	log.Info().
		Stringer("order_id", o.ID).
		Str("external_reference", o.ExternalReference).
		Str("email", o.ContactEmail).
		Msg("notify: order confirmation (log only)")
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type SMTPNotifier struct {
	cfg SMTPConfig
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) OrderConfirmed(ctx context.Context, o *order.Order) error {
	if o.ContactEmail == "" {
		return fmt.Errorf("notify: order %s has no contact email", o.ExternalReference)
	}

	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprint(n.cfg.Port))
	dialer := net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(n.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	}
	if n.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("notify: smtp auth: %w", err)
		}
	}
	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	if err := c.Rcpt(o.ContactEmail); err != nil {
		return fmt.Errorf("notify: rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := w.Write(ConfirmationMessage(n.cfg.From, o)); err != nil {
		w.Close()
		return fmt.Errorf("notify: write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: finish message: %w", err)
	}
	return c.Quit()
}

// ConfirmationMessage renders the RFC 5322 message sent for a paid order.
func ConfirmationMessage(from string, o *order.Order) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", o.ContactEmail)
	fmt.Fprintf(&b, "Subject: Order %s confirmed\r\n", o.ExternalReference)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Thank you, your payment for order %s was received.\r\n\r\n", o.ExternalReference)
	for _, li := range o.LineItems {
		fmt.Fprintf(&b, "%d x %s @ %s\r\n", li.Quantity, lineTitle(li), li.UnitPriceSnapshot.StringFixed(2))
	}
	fmt.Fprintf(&b, "\r\nTotal: %s\r\n", o.Total.StringFixed(2))
	return []byte(b.String())
}

func lineTitle(li order.LineItem) string {
	if li.Title != "" {
		return li.Title
	}
	return li.ProductRef
}
