package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice payment statuses reported by the gateway.
const (
	StatusPending   = "PENDING"
	StatusPaid      = "PAID"
	StatusCancelled = "CANCELLED"
)

// ErrUnavailable wraps upstream timeouts and auth failures. Callers map it
// to 502/503 so their own retry loop kicks in.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Invoice is the gateway-side record identifying one expected payment.
type Invoice struct {
	InvoiceID string `json:"invoice_id"`
	QRImage   string `json:"qr_image"`
	QRText    string `json:"qr_text"`
}

// Client is the payment-gateway boundary. The reconciliation core consumes
// only this interface.
type Client interface {
	CreateInvoice(ctx context.Context, amount decimal.Decimal, description string) (*Invoice, error)
	CheckStatus(ctx context.Context, invoiceID string) (string, error)
}

// HTTPClient talks to the QR-invoice gateway API: basic-auth token exchange,
// then bearer-authorized invoice calls.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	username    string
	password    string
	invoiceCode string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewHTTPClient creates a gateway client
func NewHTTPClient(baseURL, username, password, invoiceCode string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     baseURL,
		username:    username,
		password:    password,
		invoiceCode: invoiceCode,
	}
}

func (c *HTTPClient) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/auth/token", nil)
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway token exchange: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway token exchange status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.accessToken = res.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// CreateInvoice registers an expected payment and returns its QR descriptor.
func (c *HTTPClient) CreateInvoice(ctx context.Context, amount decimal.Decimal, description string) (*Invoice, error) {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"invoice_code":        c.invoiceCode,
		"amount":              amount,
		"invoice_description": description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/invoice", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway create invoice: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway create invoice status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var invoice Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}
	return &invoice, nil
}

// CheckStatus queries the payment status of an invoice.
func (c *HTTPClient) CheckStatus(ctx context.Context, invoiceID string) (string, error) {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/invoice/"+invoiceID, nil)
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway check status: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway check status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var res struct {
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return res.PaymentStatus, nil
}
