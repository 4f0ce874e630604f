package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-storefront/log"
	"go-storefront/payment/gateway"
	"go-storefront/payment/token"
	"go-storefront/web/db"
)

// View is the buyer-facing state of an order. Delivery fields are only set
// once the order is completed.
type View struct {
	ID           string          `json:"id"`
	Status       db.OrderStatus  `json:"status"`
	Gateway      string          `json:"gateway"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	ProductName  string          `json:"productName"`
	DownloadLink string          `json:"downloadLink,omitempty"`
	TelegramLink string          `json:"telegramLink,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (s *Service) Status(ctx context.Context, id string) (*View, error) {
	if token.IsToken(id) {
		return s.statelessView(ctx, id)
	}

	var order db.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	v := &View{
		ID:          order.ID,
		Status:      order.Status,
		Gateway:     order.Gateway,
		Amount:      order.Amount,
		Currency:    order.Currency,
		ProductName: order.ProductName,
		CreatedAt:   order.CreatedAt,
	}
	if order.Status == db.OrderCompleted {
		v.DownloadLink = order.DownloadLink
		if price := s.priceOf(ctx, order.PriceID); price != nil {
			v.TelegramLink = s.telegramLinkOf(ctx, price.ProductID)
		}
	}
	return v, nil
}

// statelessView answers from the token and the ledger, asking the overflow
// account directly while the ledger still says pending.
func (s *Service) statelessView(ctx context.Context, id string) (*View, error) {
	p, err := s.codec.Decode(id)
	if err != nil {
		return nil, ErrOrderNotFound
	}
	if s.tokenExpired(p) {
		return nil, ErrOrderExpired
	}

	status := s.statelessStatus(p.Ref)
	if status == db.OrderPending && p.TransactionID != "" {
		status = s.pollOverflow(ctx, p)
	}

	v := &View{
		ID:          id,
		Status:      status,
		Gateway:     p.Gateway,
		Amount:      p.Amount,
		Currency:    p.Currency,
		ProductName: p.ProductName,
		CreatedAt:   p.Issued(),
	}
	if status == db.OrderCompleted {
		v.DownloadLink = p.DeliveryLink
		if price := s.priceOf(ctx, &p.PriceID); price != nil {
			v.TelegramLink = s.telegramLinkOf(ctx, price.ProductID)
		}
	}
	return v, nil
}

func (s *Service) pollOverflow(ctx context.Context, p token.Payload) db.OrderStatus {
	name, err := gateway.ParseName(p.Gateway)
	if err != nil {
		return db.OrderPending
	}
	g, ok := s.gateways.Overflow(name)
	if !ok {
		return db.OrderPending
	}
	charge, err := g.GetCharge(ctx, p.TransactionID)
	if err != nil {
		log.Warn("poll overflow charge", zap.String("ref", p.Ref), zap.Error(err))
		return db.OrderPending
	}

	status := orderStatus(charge.Status)
	if status == db.OrderPending {
		return status
	}
	return s.settleStateless(ctx, p, status).Status
}
