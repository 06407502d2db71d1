package khalti

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
)

// ErrGatewayUnavailable marks transient gateway failures. Callers may retry;
// no payment state has been committed on the gateway side that we know of.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Config holds Khalti ePayment API configuration
type Config struct {
	BaseURL    string
	SecretKey  string
	ReturnURL  string
	WebsiteURL string
	Timeout    time.Duration
	MaxRetries int
}

// Client represents Khalti payment gateway client
type Client struct {
	httpClient *http.Client
	config     Config
}

// CreatePaymentRequest represents payment initiation parameters
type CreatePaymentRequest struct {
	Amount      int64  `json:"amount"` // minor units (paisa)
	Currency    string `json:"currency"`
	OrderID     string `json:"purchase_order_id"`
	Description string `json:"purchase_order_name"`
}

// CreatePaymentResponse represents a successfully initiated payment
type CreatePaymentResponse struct {
	ExternalRef string // gateway's payment reference (pidx)
	RedirectURL string // URL to redirect the user for payment
}

// VerifyPaymentResponse represents the gateway's verdict on a payment
type VerifyPaymentResponse struct {
	Success bool
	Amount  int64
	Message string
}

// NewClient creates new Khalti API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
	}
}

type initiateRequest struct {
	ReturnURL       string `json:"return_url"`
	WebsiteURL      string `json:"website_url"`
	Amount          int64  `json:"amount"`
	PurchaseOrderID string `json:"purchase_order_id"`
	PurchaseName    string `json:"purchase_order_name"`
}

type initiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
}

type lookupRequest struct {
	Pidx string `json:"pidx"`
}

type lookupResponse struct {
	Pidx        string `json:"pidx"`
	TotalAmount int64  `json:"total_amount"`
	Status      string `json:"status"`
	Refunded    bool   `json:"refunded"`
}

// CreatePayment initiates a payment and returns the gateway reference and redirect URL
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("validation error: amount must be > 0")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, fmt.Errorf("validation error: purchase_order_id must be non-empty")
	}
	if strings.TrimSpace(c.config.BaseURL) == "" {
		return nil, fmt.Errorf("khalti config error: base_url is empty")
	}
	if strings.TrimSpace(c.config.SecretKey) == "" {
		return nil, fmt.Errorf("khalti config error: secret_key is empty")
	}

	payload := initiateRequest{
		ReturnURL:       c.config.ReturnURL,
		WebsiteURL:      c.config.WebsiteURL,
		Amount:          req.Amount,
		PurchaseOrderID: req.OrderID,
		PurchaseName:    req.Description,
	}

	var out initiateResponse
	if err := c.post(ctx, "/epayment/initiate/", payload, &out); err != nil {
		return nil, err
	}
	if out.Pidx == "" || out.PaymentURL == "" {
		return nil, fmt.Errorf("khalti initiate returned incomplete response")
	}

	return &CreatePaymentResponse{
		ExternalRef: out.Pidx,
		RedirectURL: out.PaymentURL,
	}, nil
}

// VerifyPayment looks up a payment on the gateway and reports whether it completed.
// A "Completed" status is the only success; anything else is a terminal verdict
// carried in Message. Transport failures return ErrGatewayUnavailable.
func (c *Client) VerifyPayment(ctx context.Context, externalRef string) (*VerifyPaymentResponse, error) {
	if strings.TrimSpace(externalRef) == "" {
		return nil, fmt.Errorf("validation error: external_ref must be non-empty")
	}

	var out lookupResponse
	if err := c.post(ctx, "/epayment/lookup/", lookupRequest{Pidx: externalRef}, &out); err != nil {
		return nil, err
	}

	if out.Status == "Completed" && !out.Refunded {
		return &VerifyPaymentResponse{Success: true, Amount: out.TotalAmount, Message: "payment completed"}, nil
	}

	return &VerifyPaymentResponse{
		Success: false,
		Amount:  out.TotalAmount,
		Message: fmt.Sprintf("payment not completed: %s", out.Status),
	}, nil
}

// post sends a JSON request with bounded retry. Network errors and 5xx
// responses are retried and surface as ErrGatewayUnavailable when exhausted;
// 4xx responses are terminal.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode khalti request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt-1) * 500 * time.Millisecond):
			}
		}

		body, status, err := c.doOnce(ctx, url, jsonData)
		if err != nil {
			lastErr = err
			continue
		}

		if status >= 500 {
			lastErr = fmt.Errorf("khalti api returned status %d, body: %s", status, string(body))
			continue
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("khalti api rejected request: status %d, body: %s", status, string(body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse khalti response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
}

func (c *Client) doOnce(ctx context.Context, url string, jsonData []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("khalti api call failed: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+c.config.SecretKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("khalti api call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("khalti api call failed: %w", err)
	}

	return body, resp.StatusCode, nil
}
