package order

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-storefront/log"
	"go-storefront/payment/gateway"
	"go-storefront/payment/token"
	"go-storefront/web/db"
)

// Reconciliation is the outcome of one webhook delivery.
type Reconciliation struct {
	OrderID string         `json:"orderId"`
	Status  db.OrderStatus `json:"status"`
	Applied bool           `json:"applied"` // false on replays and pending notices
}

func orderStatus(s gateway.Status) db.OrderStatus {
	switch s {
	case gateway.StatusPaid:
		return db.OrderCompleted
	case gateway.StatusFailed:
		return db.OrderFailed
	}
	return db.OrderPending
}

// Reconcile applies a gateway notification. ref is the value the webhook URL
// carried: an order id, a stateless reference token, or empty when the
// provider called without it.
func (s *Service) Reconcile(ctx context.Context, gatewayName string, body []byte, contentType, ref string) (*Reconciliation, error) {
	name, err := gateway.ParseName(gatewayName)
	if err != nil {
		return nil, err
	}
	if token.IsToken(ref) {
		return s.reconcileStateless(ctx, name, body, contentType, ref)
	}

	g, err := s.gateways.Primary(name)
	if err != nil {
		return nil, err
	}
	n, err := g.ParseWebhook(body, contentType)
	if err != nil {
		return nil, err
	}

	var order db.Order
	q := s.db.WithContext(ctx)
	if ref != "" {
		err = q.First(&order, "id = ?", ref).Error
	} else {
		err = q.First(&order, "provider_txn_id = ? AND gateway = ?", n.TransactionID, string(name)).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if order.Gateway != string(name) ||
		(order.ProviderTxnID != "" && !strings.EqualFold(order.ProviderTxnID, n.TransactionID)) {
		log.Warn("webhook does not match order",
			zap.String("order", order.ID),
			zap.String("gateway", string(name)),
			zap.String("txn", n.TransactionID))
		return nil, ErrTransactionMismatch
	}

	status := orderStatus(n.Status)
	if status == db.OrderPending {
		return &Reconciliation{OrderID: order.ID, Status: order.Status}, nil
	}
	if status == db.OrderCompleted && n.AmountCents > 0 && n.AmountCents < order.Amount.Shift(2).IntPart() {
		log.Warn("webhook amount below order amount",
			zap.String("order", order.ID),
			zap.Int64("paid", n.AmountCents),
			zap.String("expected", order.Amount.String()))
		return nil, ErrAmountMismatch
	}

	extra := map[string]interface{}{}
	if order.ProviderTxnID == "" {
		extra["provider_txn_id"] = n.TransactionID
	}
	var price *db.Price
	if status == db.OrderCompleted {
		price = s.priceOf(ctx, order.PriceID)
		if price != nil {
			extra["download_link"] = price.DeliveryLink
		}
		extra["completed_at"] = s.now()
	}

	applied, err := s.transition(ctx, order.ID, status, extra)
	if err != nil {
		return nil, err
	}
	if !applied {
		// replay: another delivery got there first
		var current db.Order
		if err := s.db.WithContext(ctx).Select("status").First(&current, "id = ?", order.ID).Error; err != nil {
			return nil, err
		}
		log.Info("webhook replay ignored",
			zap.String("order", order.ID),
			zap.String("status", string(current.Status)))
		return &Reconciliation{OrderID: order.ID, Status: current.Status}, nil
	}

	log.Info("order settled",
		zap.String("order", order.ID),
		zap.String("gateway", string(name)),
		zap.String("status", string(status)))

	ev := Event{
		Kind:        eventKind(status),
		OrderID:     order.ID,
		Gateway:     order.Gateway,
		ProductName: order.ProductName,
		Amount:      order.Amount,
		Currency:    order.Currency,
	}
	var user db.User
	if s.db.WithContext(ctx).Select("email").First(&user, "id = ?", order.UserID).Error == nil {
		ev.CustomerEmail = user.Email
	}
	if price != nil {
		ev.DownloadLink = price.DeliveryLink
		ev.TelegramLink = s.telegramLinkOf(ctx, price.ProductID)
	}
	s.notifier.Notify(ctx, ev)

	return &Reconciliation{OrderID: order.ID, Status: status, Applied: true}, nil
}

func (s *Service) reconcileStateless(ctx context.Context, name gateway.Name, body []byte, contentType, ref string) (*Reconciliation, error) {
	p, err := s.codec.Decode(ref)
	if err != nil {
		return nil, err
	}
	if s.tokenExpired(p) {
		log.Warn("stateless webhook for expired token", zap.String("ref", p.Ref), zap.Time("issued", p.Issued()))
		return nil, ErrOrderExpired
	}
	if p.Gateway != string(name) {
		return nil, ErrTransactionMismatch
	}

	g, ok := s.gateways.Overflow(name)
	if !ok {
		return nil, gateway.ErrNotConfigured
	}
	n, err := g.ParseWebhook(body, contentType)
	if err != nil {
		return nil, err
	}

	known := p.TransactionID
	if e, ok := s.ledger.Get(p.Ref); ok && e.TransactionID != "" {
		known = e.TransactionID
	}
	if known != "" && !strings.EqualFold(known, n.TransactionID) {
		log.Warn("stateless webhook does not match", zap.String("ref", p.Ref), zap.String("txn", n.TransactionID))
		return nil, ErrTransactionMismatch
	}

	status := orderStatus(n.Status)
	if status == db.OrderPending {
		return &Reconciliation{OrderID: p.Ref, Status: s.statelessStatus(p.Ref)}, nil
	}
	if status == db.OrderCompleted && n.AmountCents > 0 && n.AmountCents < p.Amount.Shift(2).IntPart() {
		log.Warn("stateless webhook amount below order amount",
			zap.String("ref", p.Ref),
			zap.Int64("paid", n.AmountCents),
			zap.String("expected", p.Amount.String()))
		return nil, ErrAmountMismatch
	}
	p.TransactionID = n.TransactionID
	return s.settleStateless(ctx, p, status), nil
}

func (s *Service) settleStateless(ctx context.Context, p token.Payload, status db.OrderStatus) *Reconciliation {
	applied := s.ledger.Settle(LedgerEntry{
		Ref:           p.Ref,
		TransactionID: p.TransactionID,
		Gateway:       p.Gateway,
		PriceID:       p.PriceID,
		Amount:        p.Amount,
		CreatedAt:     p.Issued(),
	}, status, s.now())
	if !applied {
		log.Info("stateless webhook replay ignored", zap.String("ref", p.Ref))
		return &Reconciliation{OrderID: p.Ref, Status: s.statelessStatus(p.Ref)}
	}

	log.Info("stateless order settled",
		zap.String("ref", p.Ref),
		zap.String("gateway", p.Gateway),
		zap.String("status", string(status)))

	ev := Event{
		Kind:          eventKind(status),
		OrderID:       p.Ref,
		Stateless:     true,
		Gateway:       p.Gateway,
		ProductName:   p.ProductName,
		Amount:        p.Amount,
		Currency:      p.Currency,
		CustomerEmail: p.Email,
	}
	if status == db.OrderCompleted {
		ev.DownloadLink = p.DeliveryLink
		if price := s.priceOf(ctx, &p.PriceID); price != nil {
			ev.TelegramLink = s.telegramLinkOf(ctx, price.ProductID)
		}
	}
	s.notifier.Notify(ctx, ev)
	return &Reconciliation{OrderID: p.Ref, Status: status, Applied: true}
}

// tokenExpired reports whether p is past StatelessTTL. The ledger keeps
// settled entries exactly that long, so an older token cannot be told apart
// from a new one.
func (s *Service) tokenExpired(p token.Payload) bool {
	return !s.now().Before(p.Issued().Add(s.cfg.StatelessTTL))
}

func (s *Service) statelessStatus(ref string) db.OrderStatus {
	if e, ok := s.ledger.Get(ref); ok {
		return e.Status
	}
	return db.OrderPending
}

func eventKind(status db.OrderStatus) EventKind {
	if status == db.OrderCompleted {
		return EventCompleted
	}
	return EventFailed
}

func (s *Service) priceOf(ctx context.Context, id *string) *db.Price {
	if id == nil || *id == "" {
		return nil
	}
	var price db.Price
	if err := s.db.WithContext(ctx).First(&price, "id = ?", *id).Error; err != nil {
		return nil
	}
	return &price
}

func (s *Service) telegramLinkOf(ctx context.Context, productID string) string {
	var product db.Product
	if err := s.db.WithContext(ctx).Select("telegram_link").First(&product, "id = ?", productID).Error; err != nil {
		return ""
	}
	return product.TelegramLink
}
