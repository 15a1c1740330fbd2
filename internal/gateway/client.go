// Package gateway isolates all interaction with the external payment
// processor: creating hosted checkout sessions and verifying inbound webhook
// deliveries. Nothing outside this package sees the processor's wire format.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"labcart/internal/orders"
)

// ErrGatewayUnavailable marks a transient processor failure; callers may
// retry with backoff.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrSignatureInvalid marks a webhook delivery that failed cryptographic
// verification. Never retried, logged at high severity.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// EventPaymentCompleted is the one event type the reconciliation core acts on.
const EventPaymentCompleted = "payment.completed"

// Event is the normalized subset of a processor webhook surfaced to the rest
// of the system.
type Event struct {
	EventID    string
	Type       string
	OrderID    string
	ChargeRef  string
	AmountPaid int64 // cents
	OccurredAt time.Time
}

// Client talks to the processor's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewClient constructs a Client with a bounded per-call timeout so a slow
// processor surfaces ErrGatewayUnavailable instead of hanging checkout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type checkoutSessionRequest struct {
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
}

type checkoutSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession asks the processor for a hosted checkout session for
// the order. Transport failures and processor 5xx map to
// ErrGatewayUnavailable; anything else non-2xx is a permanent error.
func (c *Client) CreateCheckoutSession(ctx context.Context, o orders.Order) (orders.CheckoutSession, error) {
	payload, err := json.Marshal(checkoutSessionRequest{
		OrderID:       o.ID,
		Amount:        o.AmountDue,
		Currency:      "usd",
		CustomerEmail: o.CustomerEmail,
	})
	if err != nil {
		return orders.CheckoutSession{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return orders.CheckoutSession{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return orders.CheckoutSession{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return orders.CheckoutSession{}, fmt.Errorf("%w: processor returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return orders.CheckoutSession{}, fmt.Errorf("create checkout session: processor returned %d", resp.StatusCode)
	}

	var body checkoutSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return orders.CheckoutSession{}, fmt.Errorf("decode checkout session: %w", err)
	}
	if body.ID == "" || body.URL == "" {
		return orders.CheckoutSession{}, errors.New("checkout session response missing id or url")
	}

	return orders.CheckoutSession{SessionID: body.ID, RedirectURL: body.URL}, nil
}
