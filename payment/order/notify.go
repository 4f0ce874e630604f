package order

import (
	"context"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventOverflow  EventKind = "overflow"
)

// Event describes an order state change worth telling someone about.
type Event struct {
	Kind          EventKind
	OrderID       string
	Stateless     bool
	Gateway       string
	ProductName   string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	DownloadLink  string
	TelegramLink  string
}

// Notifier must not block the caller for long; slow transports should hand
// off to a goroutine.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
