// Package order creates PIX charges for catalog prices and reconciles the
// gateway notifications that settle them.
//
// Most orders are rows in the orders table. When an overflow account is
// configured, a share of orders (OverflowRate) is charged on that account
// instead and carried only by an encrypted token; see token.Payload.
package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-storefront/log"
	"go-storefront/payment/gateway"
	"go-storefront/payment/qrcode"
	"go-storefront/payment/token"
	"go-storefront/utils"
	"go-storefront/web/db"
)

var (
	ErrPriceNotFound       = errors.New("price not found")
	ErrProductInactive     = errors.New("product is not available")
	ErrOrderNotFound       = errors.New("order not found")
	ErrTransactionMismatch = errors.New("notification does not match order")
	ErrAmountMismatch      = errors.New("paid amount is lower than the order amount")
	ErrOrderExpired        = errors.New("order has expired")
)

type Config struct {
	BaseURL       string // public URL the gateways call back
	WebhookSecret string
	OverflowRate  float64
	OrderTTL      time.Duration
	StatelessTTL  time.Duration
}

type Service struct {
	db        *gorm.DB
	gateways  *gateway.Set
	codec     *token.Codec
	ledger    *Ledger
	converter *Converter
	notifier  Notifier
	cfg       Config
	roll      func() float64
	now       func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option   { return func(s *Service) { s.notifier = n } }
func WithConverter(c *Converter) Option { return func(s *Service) { s.converter = c } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRoll replaces the random source that decides overflow routing.
func WithRoll(roll func() float64) Option { return func(s *Service) { s.roll = roll } }

func NewService(database *gorm.DB, gateways *gateway.Set, codec *token.Codec, cfg Config, opts ...Option) *Service {
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 2 * time.Hour
	}
	if cfg.StatelessTTL <= 0 {
		cfg.StatelessTTL = 24 * time.Hour
	}
	s := &Service{
		db:       database,
		gateways: gateways,
		codec:    codec,
		cfg:      cfg,
		notifier: NopNotifier{},
		roll:     rand.Float64,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.converter == nil {
		s.converter = NewConverter(nil)
	}
	s.ledger = NewLedger(cfg.StatelessTTL)
	return s
}

func (s *Service) Ledger() *Ledger { return s.ledger }

type InitiateRequest struct {
	PriceID  string
	Gateway  string
	UserID   string
	Customer gateway.Customer
}

// Checkout is what the buyer needs to pay.
type Checkout struct {
	OrderID     string          `json:"orderId"`
	Status      db.OrderStatus  `json:"status"`
	Gateway     gateway.Name    `json:"gateway"`
	PixCode     string          `json:"pixCode"`
	QRCode      string          `json:"qrCode"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ProductName string          `json:"productName"`
}

func (s *Service) loadPrice(ctx context.Context, priceID string) (*db.Price, *db.Product, error) {
	var price db.Price
	err := s.db.WithContext(ctx).First(&price, "id = ?", priceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrPriceNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var product db.Product
	err = s.db.WithContext(ctx).First(&product, "id = ?", price.ProductID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrPriceNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &price, &product, nil
}

// Initiate creates a PIX charge for a price on the chosen gateway.
func (s *Service) Initiate(ctx context.Context, r InitiateRequest) (*Checkout, error) {
	name, err := gateway.ParseName(r.Gateway)
	if err != nil {
		return nil, err
	}

	price, product, err := s.loadPrice(ctx, r.PriceID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, ErrProductInactive
	}

	cents, err := s.converter.ToCents(ctx, price.Amount, price.Currency)
	if err != nil {
		return nil, err
	}

	if overflow, ok := s.gateways.Overflow(name); ok && s.cfg.OverflowRate > 0 && s.roll() < s.cfg.OverflowRate {
		return s.initiateStateless(ctx, overflow, price, product, cents, r.Customer)
	}

	g, err := s.gateways.Primary(name)
	if err != nil {
		return nil, err
	}

	order := db.Order{
		UserID:      r.UserID,
		PriceID:     &price.ID,
		Status:      db.OrderPending,
		Gateway:     string(name),
		Amount:      decimal.New(cents, -2),
		Currency:    chargeCurrency,
		ProductName: product.Name,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}

	charge, err := g.CreateCharge(ctx, gateway.ChargeRequest{
		AmountCents: cents,
		Description: product.Name,
		WebhookURL:  s.webhookURL(name, order.ID),
		Customer:    r.Customer,
	})
	if err != nil {
		log.Error("create charge failed",
			zap.String("order", order.ID),
			zap.String("gateway", string(name)),
			zap.Error(err))
		if _, ferr := s.transition(ctx, order.ID, db.OrderFailed, nil); ferr != nil {
			log.Error("mark order failed", zap.String("order", order.ID), zap.Error(ferr))
		}
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ?", order.ID).
		Update("provider_txn_id", charge.TransactionID).Error
	if err != nil {
		return nil, err
	}

	log.Info("order created",
		zap.String("order", order.ID),
		zap.String("gateway", string(name)),
		zap.String("txn", charge.TransactionID),
		zap.Int64("cents", cents))

	return &Checkout{
		OrderID:     order.ID,
		Status:      db.OrderPending,
		Gateway:     name,
		PixCode:     charge.PixCode,
		QRCode:      qrFor(charge),
		Amount:      order.Amount,
		Currency:    chargeCurrency,
		ProductName: product.Name,
	}, nil
}

func (s *Service) initiateStateless(ctx context.Context, g gateway.Gateway, price *db.Price, product *db.Product, cents int64, customer gateway.Customer) (*Checkout, error) {
	amount := decimal.New(cents, -2)
	payload := token.Payload{
		Ref:          utils.GenerateUUID(),
		Gateway:      string(g.Name()),
		DeliveryLink: price.DeliveryLink,
		PriceID:      price.ID,
		ProductName:  product.Name,
		Amount:       amount,
		Currency:     chargeCurrency,
		Category:     price.Category,
		Email:        customer.Email,
		IssuedAt:     s.now().Unix(),
	}

	ref, err := s.codec.Encode(payload)
	if err != nil {
		return nil, err
	}

	charge, err := g.CreateCharge(ctx, gateway.ChargeRequest{
		AmountCents: cents,
		Description: product.Name,
		WebhookURL:  s.webhookURL(g.Name(), ref),
		Customer:    customer,
	})
	if err != nil {
		log.Error("create overflow charge failed", zap.String("gateway", string(g.Name())), zap.Error(err))
		return nil, err
	}

	payload.TransactionID = charge.TransactionID
	orderID, err := s.codec.Encode(payload)
	if err != nil {
		return nil, err
	}

	s.ledger.Open(LedgerEntry{
		Ref:           payload.Ref,
		TransactionID: charge.TransactionID,
		Gateway:       payload.Gateway,
		PriceID:       price.ID,
		Amount:        amount,
		CreatedAt:     payload.Issued(),
	}, s.now())

	log.Info("order routed to overflow account",
		zap.String("ref", payload.Ref),
		zap.String("gateway", payload.Gateway),
		zap.String("txn", charge.TransactionID),
		zap.Int64("cents", cents))
	s.notifier.Notify(ctx, Event{
		Kind:        EventOverflow,
		OrderID:     payload.Ref,
		Stateless:   true,
		Gateway:     payload.Gateway,
		ProductName: product.Name,
		Amount:      amount,
		Currency:    chargeCurrency,
	})

	return &Checkout{
		OrderID:     orderID,
		Status:      db.OrderPending,
		Gateway:     g.Name(),
		PixCode:     charge.PixCode,
		QRCode:      qrFor(charge),
		Amount:      amount,
		Currency:    chargeCurrency,
		ProductName: product.Name,
	}, nil
}

func qrFor(c *gateway.Charge) string {
	if c.QRCodeBase64 != "" {
		if strings.HasPrefix(c.QRCodeBase64, "data:") {
			return c.QRCodeBase64
		}
		return "data:image/png;base64," + c.QRCodeBase64
	}
	uri, err := qrcode.DataURI(c.PixCode)
	if err != nil {
		log.Warn("render qr code", zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) webhookURL(name gateway.Name, ref string) string {
	q := url.Values{}
	q.Set("ref", ref)
	if s.cfg.WebhookSecret != "" {
		q.Set("secret", s.cfg.WebhookSecret)
	}
	return fmt.Sprintf("%s/api/payments/webhook/%s?%s", strings.TrimRight(s.cfg.BaseURL, "/"), name, q.Encode())
}

// transition moves a PENDING order to status with a single conditional update.
// It reports whether this call applied the change.
func (s *Service) transition(ctx context.Context, id string, status db.OrderStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": status}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND status = ?", id, db.OrderPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
