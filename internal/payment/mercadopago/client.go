// Package mercadopago adapts the MercadoPago checkout API to payment.Provider.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/payment"
)

const DefaultBaseURL = "https://api.mercadopago.com"

type Config struct {
	BaseURL     string
	AccessToken string
	// Sandbox makes CreateSession return the sandbox checkout URL.
	Sandbox bool
	Timeout time.Duration
}

type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	sandbox     bool
}

var _ payment.Provider = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: cfg.AccessToken,
		sandbox:     cfg.Sandbox,
	}
}

type preferenceItem struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id,omitempty"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	Payer             struct {
		Email string `json:"email,omitempty"`
	} `json:"payer"`
	BackURLs struct {
		Success string `json:"success,omitempty"`
		Failure string `json:"failure,omitempty"`
		Pending string `json:"pending,omitempty"`
	} `json:"back_urls"`
	AutoReturn      string `json:"auto_return,omitempty"`
	NotificationURL string `json:"notification_url,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	body := preferenceRequest{
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, preferenceItem{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  json.Number(it.UnitPrice.String()),
			CurrencyID: it.Currency,
		})
	}
	body.Payer.Email = req.PayerEmail
	body.BackURLs.Success = req.BackURLs.Success
	body.BackURLs.Failure = req.BackURLs.Failure
	body.BackURLs.Pending = req.BackURLs.Pending
	if req.BackURLs.Success != "" {
		body.AutoReturn = "approved"
	}

	var res preferenceResponse
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, &res); err != nil {
		return nil, &payment.ProviderError{Op: "create preference", Err: err}
	}

	redirect := res.InitPoint
	if c.sandbox && res.SandboxInitPoint != "" {
		redirect = res.SandboxInitPoint
	}
	return &payment.Session{ID: res.ID, RedirectURL: redirect}, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	if id == "" {
		return nil, &payment.ProviderError{Op: "get payment", Err: fmt.Errorf("empty payment id")}
	}

	var res paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, &payment.ProviderError{Op: "get payment", Err: err}
	}

	return &payment.Payment{
		ID:                res.ID.String(),
		Status:            res.Status,
		ExternalReference: res.ExternalReference,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
