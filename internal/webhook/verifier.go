// Package webhook authenticates inbound payment notifications. Nothing may
// act on a notification until Verify has accepted it.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	SignatureHeader = "X-Signature"
	RequestIDHeader = "X-Request-Id"

	TypePayment = "payment"
)

var (
	ErrUnauthorized     = errors.New("webhook signature verification failed")
	ErrMalformedPayload = errors.New("webhook payload is malformed")
	ErrNoSecret         = errors.New("webhook secret is not configured and verification was not explicitly disabled")
	ErrSkipWithSecret   = errors.New("webhook verification cannot be disabled while a secret is configured")
)

type Config struct {
	Secret string
	// InsecureSkipVerify accepts unsigned notifications. Local development only.
	InsecureSkipVerify bool
	// MaxSkew rejects signatures whose timestamp is further than this from
	// now. Zero disables the check.
	MaxSkew time.Duration
}

// Notification is a verified provider event. PaymentID is the provider's
// payment identifier from data.id.
type Notification struct {
	ID        string
	Type      string
	Action    string
	PaymentID string
	RequestID string
}

// DeliveryKey identifies one provider event across redeliveries. It is empty
// when the notification carries neither an event id nor a request id.
func (n *Notification) DeliveryKey() string {
	if n.ID != "" {
		return n.Type + ":" + n.ID
	}
	if n.RequestID == "" {
		return ""
	}
	return n.Type + ":" + n.PaymentID + ":" + n.RequestID
}

type Verifier struct {
	secret []byte
	skip   bool
	skew   time.Duration
	now    func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" && !cfg.InsecureSkipVerify {
		return nil, ErrNoSecret
	}
	if cfg.Secret != "" && cfg.InsecureSkipVerify {
		return nil, ErrSkipWithSecret
	}
	if cfg.InsecureSkipVerify {
		log.Warn().Msg("webhook: SIGNATURE VERIFICATION DISABLED, unauthenticated notifications will be accepted")
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		skip:   cfg.InsecureSkipVerify,
		skew:   cfg.MaxSkew,
		now:    time.Now,
	}, nil
}

// flexibleID accepts both JSON strings and numbers; providers are not
// consistent about which they send.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

type payload struct {
	ID     flexibleID `json:"id"`
	Type   string     `json:"type"`
	Action string     `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// Verify checks the signature header against body and returns the parsed
// notification. It fails closed: any missing or malformed piece is
// ErrUnauthorized unless verification was explicitly disabled.
func (v *Verifier) Verify(header http.Header, body []byte) (*Notification, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		if v.skip {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return nil, fmt.Errorf("%w: unreadable body", ErrUnauthorized)
	}

	n := &Notification{
		ID:        string(p.ID),
		Type:      p.Type,
		Action:    p.Action,
		PaymentID: string(p.Data.ID),
		RequestID: header.Get(RequestIDHeader),
	}

	if v.skip {
		return n, nil
	}

	ts, sig, err := parseSignature(header.Get(SignatureHeader))
	if err != nil {
		return nil, err
	}

	if v.skew > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp", ErrUnauthorized)
		}
		if d := v.now().Sub(unixTimestamp(sec)); d > v.skew || d < -v.skew {
			return nil, fmt.Errorf("%w: timestamp outside allowed skew", ErrUnauthorized)
		}
	}

	want := mac(v.secret, Manifest(n.PaymentID, n.RequestID, ts))
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}

	return n, nil
}

// Manifest is the canonical string the provider signs. Absent parts are
// left out entirely.
func Manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

// Sign returns the signature header value a provider holding secret would
// send for the given notification.
func Sign(secret, dataID, requestID, ts string) string {
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac([]byte(secret), Manifest(dataID, requestID, ts)))
}

func mac(secret []byte, manifest string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(manifest))
	return h.Sum(nil)
}

func parseSignature(value string) (ts, sig string, err error) {
	if value == "" {
		return "", "", fmt.Errorf("%w: missing %s header", ErrUnauthorized, SignatureHeader)
	}
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(v)
		case "v1":
			sig = strings.TrimSpace(v)
		}
	}
	if ts == "" || sig == "" {
		return "", "", fmt.Errorf("%w: malformed %s header", ErrUnauthorized, SignatureHeader)
	}
	return ts, sig, nil
}

// unixTimestamp accepts both seconds and milliseconds.
func unixTimestamp(v int64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
