// Package notify holds the outbound collaborator contracts the side-effect
// dispatcher drives: transactional email and patient account provisioning.
package notify

import (
	"context"
	"log"
	"sync"
)

// EmailClient sends transactional mail. Rendering is the provider's concern;
// only the send contract lives here.
type EmailClient interface {
	SendPaymentConfirmation(ctx context.Context, recipient, orderID string, amountCents int64) error
	SendDispatchNotice(ctx context.Context, recipient, orderID string) error
}

// AccountClient provisions patient portal accounts.
type AccountClient interface {
	EnsureAccount(ctx context.Context, email, orderID string) error
}

// NewInMemoryEmailClient constructs an in-memory email client.
func NewInMemoryEmailClient() *InMemoryEmailClient {
	return &InMemoryEmailClient{}
}

// InMemoryEmailClient records sent mail in memory.
type InMemoryEmailClient struct {
	mu            sync.Mutex
	confirmations []string
	dispatches    []string
}

func (c *InMemoryEmailClient) SendPaymentConfirmation(ctx context.Context, recipient, orderID string, amountCents int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmations = append(c.confirmations, orderID)
	return nil
}

func (c *InMemoryEmailClient) SendDispatchNotice(ctx context.Context, recipient, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatches = append(c.dispatches, orderID)
	return nil
}

// Confirmations returns order ids with a recorded confirmation mail (for inspection).
func (c *InMemoryEmailClient) Confirmations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.confirmations...)
}

// Dispatches returns order ids with a recorded dispatch notice (for inspection).
func (c *InMemoryEmailClient) Dispatches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dispatches...)
}

// NewInMemoryAccountClient constructs an in-memory account client.
func NewInMemoryAccountClient() *InMemoryAccountClient {
	return &InMemoryAccountClient{accounts: make(map[string]bool)}
}

// InMemoryAccountClient tracks provisioned accounts in memory.
type InMemoryAccountClient struct {
	mu       sync.Mutex
	accounts map[string]bool
	calls    int
}

func (c *InMemoryAccountClient) EnsureAccount(ctx context.Context, email, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.accounts[email] = true
	return nil
}

// Has reports whether an account exists for the email (for inspection).
func (c *InMemoryAccountClient) Has(email string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accounts[email]
}

// Calls reports how many provisioning calls were made (for inspection).
func (c *InMemoryAccountClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// LogEmailClient prints mail instead of sending it; the dev fallback when no
// provider is configured.
type LogEmailClient struct{}

func (LogEmailClient) SendPaymentConfirmation(ctx context.Context, recipient, orderID string, amountCents int64) error {
	log.Printf("email to %s: payment of %d cents confirmed for order %s", recipient, amountCents, orderID)
	return nil
}

func (LogEmailClient) SendDispatchNotice(ctx context.Context, recipient, orderID string) error {
	log.Printf("email to %s: order %s dispatched", recipient, orderID)
	return nil
}

// LogAccountClient prints provisioning requests instead of performing them.
type LogAccountClient struct{}

func (LogAccountClient) EnsureAccount(ctx context.Context, email, orderID string) error {
	log.Printf("provision patient account for %s (order %s)", email, orderID)
	return nil
}
