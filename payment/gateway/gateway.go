// Package gateway talks to the PIX providers the store accepts.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type Name string

const (
	PushinPay Name = "pushinpay"
	SyncPay   Name = "syncpay"
)

var (
	ErrUnknownGateway = errors.New("unknown payment gateway")
	ErrNotConfigured  = errors.New("payment gateway not configured")
	ErrBadWebhook     = errors.New("malformed webhook payload")
)

func ParseName(s string) (Name, error) {
	switch n := Name(strings.ToLower(strings.TrimSpace(s))); n {
	case PushinPay, SyncPay:
		return n, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGateway, s)
}

// Status is the provider state mapped onto what the store cares about.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

type Customer struct {
	Name     string
	Email    string
	Document string // CPF
	Phone    string
}

type ChargeRequest struct {
	AmountCents int64
	Description string
	WebhookURL  string
	Customer    Customer
}

type Charge struct {
	TransactionID string
	PixCode       string
	QRCodeBase64  string // data URI when the provider renders one
	Status        Status
}

// Notification is the parsed body of a provider webhook.
type Notification struct {
	TransactionID string
	Status        Status
	RawStatus     string
	AmountCents   int64
}

type Gateway interface {
	Name() Name
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, txnID string) (*Charge, error)
	ParseWebhook(body []byte, contentType string) (*Notification, error)
}

// UpstreamError is a non-2xx reply or transport failure from a provider.
type UpstreamError struct {
	Gateway    Name
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Gateway, e.Message)
	}
	return fmt.Sprintf("%s: upstream %d: %s", e.Gateway, e.StatusCode, e.Message)
}

// Set holds the primary account per gateway and the optional overflow account.
type Set struct {
	mu       sync.RWMutex
	primary  map[Name]Gateway
	overflow map[Name]Gateway
}

func NewSet() *Set {
	return &Set{
		primary:  make(map[Name]Gateway),
		overflow: make(map[Name]Gateway),
	}
}

func (s *Set) Register(g Gateway) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary[g.Name()] = g
}

func (s *Set) RegisterOverflow(g Gateway) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overflow[g.Name()] = g
}

func (s *Set) Primary(n Name) (Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.primary[n]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, n)
	}
	return g, nil
}

// Overflow returns the overflow account for n, or false when none is set.
func (s *Set) Overflow(n Name) (Gateway, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.overflow[n]
	return g, ok
}

// Names lists the gateways with a primary account.
func (s *Set) Names() []Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]Name, 0, len(s.primary))
	for _, n := range []Name{PushinPay, SyncPay} {
		if _, ok := s.primary[n]; ok {
			names = append(names, n)
		}
	}
	return names
}
