package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"go-storefront/payment/gateway"
	"go-storefront/payment/token"
	"go-storefront/web/db"
)

type fakeGateway struct {
	name gateway.Name

	mu       sync.Mutex
	n        int
	requests []gateway.ChargeRequest
	failWith error
	status   gateway.Status
}

func (f *fakeGateway) Name() gateway.Name { return f.name }

func (f *fakeGateway) CreateCharge(_ context.Context, r gateway.ChargeRequest) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.n++
	f.requests = append(f.requests, r)
	return &gateway.Charge{
		TransactionID: fmt.Sprintf("%s-txn-%d", f.name, f.n),
		PixCode:       "00020126pix" + fmt.Sprint(f.n),
		Status:        gateway.StatusPending,
	}, nil
}

func (f *fakeGateway) GetCharge(_ context.Context, id string) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	if st == "" {
		st = gateway.StatusPending
	}
	return &gateway.Charge{TransactionID: id, Status: st}, nil
}

func (f *fakeGateway) ParseWebhook(body []byte, _ string) (*gateway.Notification, error) {
	var msg struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Value  int64  `json:"value"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, gateway.ErrBadWebhook
	}
	status := gateway.StatusPending
	switch msg.Status {
	case "paid":
		status = gateway.StatusPaid
	case "failed", "expired":
		status = gateway.StatusFailed
	}
	return &gateway.Notification{TransactionID: msg.ID, Status: status, RawStatus: msg.Status, AmountCents: msg.Value}, nil
}

func (f *fakeGateway) lastRequest() gateway.ChargeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []EventKind{}
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	store    *gorm.DB
	svc      *Service
	primary  *fakeGateway
	overflow *fakeGateway
	notifier *recordingNotifier
	codec    *token.Codec
	user     *db.User
	product  *db.Product
	price    *db.Price
}

func newFixture(t *testing.T, overflowRate float64, opts ...Option) *fixture {
	t.Helper()
	store, err := db.OpenMemory(t.Name())
	require.NoError(t, err)

	codec, err := token.NewCodec("test-secret")
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		primary:  &fakeGateway{name: gateway.PushinPay},
		overflow: &fakeGateway{name: gateway.PushinPay},
		notifier: &recordingNotifier{},
		codec:    codec,
	}

	set := gateway.NewSet()
	set.Register(f.primary)
	set.RegisterOverflow(f.overflow)

	f.svc = NewService(store, set, codec, Config{
		BaseURL:      "https://shop.example",
		OverflowRate: overflowRate,
		OrderTTL:     2 * time.Hour,
		StatelessTTL: time.Hour,
	},
		append([]Option{
			WithNotifier(f.notifier),
			WithConverter(NewConverter(staticRates(map[string]float64{"USD": 1, "BRL": 0.2}))),
			WithRoll(func() float64 { return 0 }),
		}, opts...)...,
	)

	f.user, err = db.FindOrCreateGuest(context.Background(), store, "buyer@example.com")
	require.NoError(t, err)

	f.product = &db.Product{Name: "Pack", IsActive: true, TelegramLink: "https://t.me/pack"}
	require.NoError(t, store.Create(f.product).Error)
	f.price = &db.Price{ProductID: f.product.ID, Amount: decimal.RequireFromString("19.90"), Currency: "BRL", DeliveryLink: "https://files.example/pack.zip"}
	require.NoError(t, store.Create(f.price).Error)
	return f
}

func (f *fixture) initiate(t *testing.T) *Checkout {
	t.Helper()
	co, err := f.svc.Initiate(context.Background(), InitiateRequest{
		PriceID:  f.price.ID,
		Gateway:  "pushinpay",
		UserID:   f.user.ID,
		Customer: gateway.Customer{Email: f.user.Email},
	})
	require.NoError(t, err)
	return co
}

func webhook(id, status string, value int64) []byte {
	b, _ := json.Marshal(map[string]interface{}{"id": id, "status": status, "value": value})
	return b
}

func refOf(t *testing.T, webhookURL string) string {
	t.Helper()
	u, err := url.Parse(webhookURL)
	require.NoError(t, err)
	return u.Query().Get("ref")
}

func TestInitiatePersistsPendingOrder(t *testing.T) {
	f := newFixture(t, 0)
	co := f.initiate(t)

	assert.Equal(t, db.OrderPending, co.Status)
	assert.Equal(t, gateway.PushinPay, co.Gateway)
	assert.Equal(t, "00020126pix1", co.PixCode)
	assert.True(t, strings.HasPrefix(co.QRCode, "data:image/png;base64,"))
	assert.True(t, decimal.RequireFromString("19.90").Equal(co.Amount))

	var order db.Order
	require.NoError(t, f.store.First(&order, "id = ?", co.OrderID).Error)
	assert.Equal(t, db.OrderPending, order.Status)
	assert.Equal(t, "pushinpay-txn-1", order.ProviderTxnID)
	assert.Equal(t, f.user.ID, order.UserID)

	req := f.primary.lastRequest()
	assert.Equal(t, int64(1990), req.AmountCents)
	assert.Equal(t, "https://shop.example/api/payments/webhook/pushinpay?ref="+co.OrderID, req.WebhookURL)
}

func TestInitiateConvertsCurrency(t *testing.T) {
	f := newFixture(t, 0)
	usd := &db.Price{ProductID: f.product.ID, Amount: decimal.NewFromInt(2), Currency: "USD"}
	require.NoError(t, f.store.Create(usd).Error)

	co, err := f.svc.Initiate(context.Background(), InitiateRequest{PriceID: usd.ID, Gateway: "pushinpay", UserID: f.user.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), f.primary.lastRequest().AmountCents)
	assert.Equal(t, "BRL", co.Currency)
}

func TestInitiateRejects(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, InitiateRequest{PriceID: f.price.ID, Gateway: "bitcoin"})
	assert.ErrorIs(t, err, gateway.ErrUnknownGateway)

	_, err = f.svc.Initiate(ctx, InitiateRequest{PriceID: "missing", Gateway: "pushinpay"})
	assert.ErrorIs(t, err, ErrPriceNotFound)

	_, err = f.svc.Initiate(ctx, InitiateRequest{PriceID: f.price.ID, Gateway: "syncpay"})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)

	require.NoError(t, f.store.Model(f.product).Update("is_active", false).Error)
	_, err = f.svc.Initiate(ctx, InitiateRequest{PriceID: f.price.ID, Gateway: "pushinpay"})
	assert.ErrorIs(t, err, ErrProductInactive)

	var count int64
	f.store.Model(&db.Order{}).Count(&count)
	assert.Zero(t, count)
}

func TestGatewayFailureMarksOrderFailed(t *testing.T) {
	f := newFixture(t, 0)
	f.primary.failWith = &gateway.UpstreamError{Gateway: gateway.PushinPay, StatusCode: 422, Message: "value too low"}

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{PriceID: f.price.ID, Gateway: "pushinpay", UserID: f.user.ID})
	var up *gateway.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, "value too low", up.Message)

	var order db.Order
	require.NoError(t, f.store.First(&order).Error)
	assert.Equal(t, db.OrderFailed, order.Status)
}

func TestWebhookAppliesOnce(t *testing.T) {
	f := newFixture(t, 0)
	co := f.initiate(t)
	ctx := context.Background()
	body := webhook("PUSHINPAY-TXN-1", "paid", 1990)

	first, err := f.svc.Reconcile(ctx, "pushinpay", body, "application/json", co.OrderID)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, db.OrderCompleted, first.Status)

	second, err := f.svc.Reconcile(ctx, "pushinpay", body, "application/json", co.OrderID)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, db.OrderCompleted, second.Status)

	// a late failure notice cannot undo completion
	late, err := f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "failed", 0), "application/json", co.OrderID)
	require.NoError(t, err)
	assert.False(t, late.Applied)

	var order db.Order
	require.NoError(t, f.store.First(&order, "id = ?", co.OrderID).Error)
	assert.Equal(t, db.OrderCompleted, order.Status)
	assert.Equal(t, f.price.DeliveryLink, order.DownloadLink)
	assert.NotNil(t, order.CompletedAt)

	assert.Equal(t, []EventKind{EventCompleted}, f.notifier.kinds())
	ev := f.notifier.events[0]
	assert.Equal(t, "buyer@example.com", ev.CustomerEmail)
	assert.Equal(t, f.price.DeliveryLink, ev.DownloadLink)
	assert.Equal(t, "https://t.me/pack", ev.TelegramLink)
}

func TestWebhookConcurrentDeliveries(t *testing.T) {
	f := newFixture(t, 0)
	co := f.initiate(t)
	body := webhook("pushinpay-txn-1", "paid", 1990)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.Reconcile(context.Background(), "pushinpay", body, "application/json", co.OrderID)
			if assert.NoError(t, err) && r.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestWebhookWithoutRefFindsOrderByTransaction(t *testing.T) {
	f := newFixture(t, 0)
	co := f.initiate(t)

	r, err := f.svc.Reconcile(context.Background(), "pushinpay", webhook("pushinpay-txn-1", "expired", 0), "application/json", "")
	require.NoError(t, err)
	assert.True(t, r.Applied)
	assert.Equal(t, co.OrderID, r.OrderID)
	assert.Equal(t, db.OrderFailed, r.Status)
	assert.Equal(t, []EventKind{EventFailed}, f.notifier.kinds())
}

func TestWebhookRejects(t *testing.T) {
	f := newFixture(t, 0)
	co := f.initiate(t)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, "pushinpay", webhook("other-txn", "paid", 1990), "application/json", co.OrderID)
	assert.ErrorIs(t, err, ErrTransactionMismatch)

	_, err = f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "paid", 100), "application/json", co.OrderID)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	_, err = f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "paid", 1990), "application/json", "no-such-order")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.svc.Reconcile(ctx, "pushinpay", []byte("garbage"), "application/json", co.OrderID)
	assert.ErrorIs(t, err, gateway.ErrBadWebhook)

	pending, err := f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "pending", 0), "application/json", co.OrderID)
	require.NoError(t, err)
	assert.False(t, pending.Applied)
	assert.Equal(t, db.OrderPending, pending.Status)

	assert.Empty(t, f.notifier.kinds())
}

func TestStatusHidesDeliveryUntilCompleted(t *testing.T) {
	f := newFixture(t, 0)
	co := f.initiate(t)
	ctx := context.Background()

	v, err := f.svc.Status(ctx, co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, v.Status)
	assert.Empty(t, v.DownloadLink)
	assert.Empty(t, v.TelegramLink)

	_, err = f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "paid", 1990), "application/json", co.OrderID)
	require.NoError(t, err)

	v, err = f.svc.Status(ctx, co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderCompleted, v.Status)
	assert.Equal(t, f.price.DeliveryLink, v.DownloadLink)
	assert.Equal(t, "https://t.me/pack", v.TelegramLink)
	assert.Equal(t, "Pack", v.ProductName)

	_, err = f.svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = f.svc.Status(ctx, "txn_garbage")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOverflowRoute(t *testing.T) {
	f := newFixture(t, 1.0/30)
	ctx := context.Background()

	co := f.initiate(t)
	require.True(t, token.IsToken(co.OrderID))
	assert.Equal(t, "00020126pix1", co.PixCode)

	var count int64
	f.store.Model(&db.Order{}).Count(&count)
	assert.Zero(t, count, "overflow orders are not persisted")
	assert.Empty(t, f.primary.requests)

	payload, err := f.codec.Decode(co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pushinpay-txn-1", payload.TransactionID)
	assert.Equal(t, f.price.DeliveryLink, payload.DeliveryLink)
	assert.Equal(t, f.price.ID, payload.PriceID)
	assert.True(t, decimal.RequireFromString("19.90").Equal(payload.Amount))

	ref := refOf(t, f.overflow.lastRequest().WebhookURL)
	require.True(t, token.IsToken(ref))

	v, err := f.svc.Status(ctx, co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, v.Status)
	assert.Empty(t, v.DownloadLink)

	body := webhook("pushinpay-txn-1", "paid", 1990)
	r, err := f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref)
	require.NoError(t, err)
	assert.True(t, r.Applied)

	r, err = f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref)
	require.NoError(t, err)
	assert.False(t, r.Applied)
	assert.Equal(t, db.OrderCompleted, r.Status)

	v, err = f.svc.Status(ctx, co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderCompleted, v.Status)
	assert.Equal(t, f.price.DeliveryLink, v.DownloadLink)

	assert.Equal(t, []EventKind{EventOverflow, EventCompleted}, f.notifier.kinds())
	st := f.svc.Ledger().Stats()
	assert.Equal(t, int64(1), st.Routed)
	assert.Equal(t, int64(1), st.Completed)

	_, err = f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-99", "paid", 1990), "application/json", ref)
	assert.ErrorIs(t, err, ErrTransactionMismatch)

	_, err = f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref+"x")
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestOverflowRejectsUnderpayment(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	co := f.initiate(t)
	ref := refOf(t, f.overflow.lastRequest().WebhookURL)

	_, err := f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "paid", 1), "application/json", ref)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	v, err := f.svc.Status(ctx, co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, v.Status)
	assert.Empty(t, v.DownloadLink)
	assert.Equal(t, []EventKind{EventOverflow}, f.notifier.kinds())

	r, err := f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "paid", 1990), "application/json", ref)
	require.NoError(t, err)
	assert.True(t, r.Applied)
	assert.Equal(t, db.OrderCompleted, r.Status)
}

func TestOverflowReplayAfterSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, 1, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	co := f.initiate(t)
	ref := refOf(t, f.overflow.lastRequest().WebhookURL)
	body := webhook("pushinpay-txn-1", "paid", 1990)

	r, err := f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref)
	require.NoError(t, err)
	require.True(t, r.Applied)

	// settled entries outlive sweeps while the token is still accepted
	now = now.Add(59 * time.Minute)
	assert.Zero(t, f.svc.SweepLedger())
	r, err = f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref)
	require.NoError(t, err)
	assert.False(t, r.Applied)
	assert.Equal(t, db.OrderCompleted, r.Status)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, f.svc.SweepLedger())

	_, err = f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref)
	assert.ErrorIs(t, err, ErrOrderExpired)

	f.overflow.status = gateway.StatusPaid
	_, err = f.svc.Status(ctx, co.OrderID)
	assert.ErrorIs(t, err, ErrOrderExpired)

	assert.Equal(t, []EventKind{EventOverflow, EventCompleted}, f.notifier.kinds())
	assert.Equal(t, int64(1), f.svc.Ledger().Stats().Completed)
}

func TestOverflowReplayAfterSweepAheadOfClock(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	co := f.initiate(t)
	ref := refOf(t, f.overflow.lastRequest().WebhookURL)
	body := webhook("pushinpay-txn-1", "paid", 1990)

	r, err := f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref)
	require.NoError(t, err)
	require.True(t, r.Applied)

	assert.Equal(t, 1, f.svc.Ledger().Sweep(time.Now().Add(2*time.Hour)))

	r, err = f.svc.Reconcile(ctx, "pushinpay", body, "application/json", ref)
	require.NoError(t, err)
	assert.False(t, r.Applied)

	f.overflow.status = gateway.StatusPaid
	_, err = f.svc.Status(ctx, co.OrderID)
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventOverflow, EventCompleted}, f.notifier.kinds())
}

func TestOverflowNeedsRateAndAccount(t *testing.T) {
	f := newFixture(t, 0)
	co := f.initiate(t)
	assert.False(t, token.IsToken(co.OrderID))
	assert.Empty(t, f.overflow.requests)
}

func TestOverflowStatusPollsGateway(t *testing.T) {
	f := newFixture(t, 1)
	co := f.initiate(t)

	f.overflow.status = gateway.StatusPaid
	v, err := f.svc.Status(context.Background(), co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderCompleted, v.Status)
	assert.Equal(t, f.price.DeliveryLink, v.DownloadLink)

	// the ledger now answers without the gateway
	f.overflow.status = gateway.StatusFailed
	v, err = f.svc.Status(context.Background(), co.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderCompleted, v.Status)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	old := f.initiate(t)
	fresh := f.initiate(t)
	require.NoError(t, f.store.Model(&db.Order{}).Where("id = ?", old.OrderID).
		Update("created_at", time.Now().Add(-3*time.Hour)).Error)

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var o db.Order
	require.NoError(t, f.store.First(&o, "id = ?", old.OrderID).Error)
	assert.Equal(t, db.OrderFailed, o.Status)
	require.NoError(t, f.store.First(&o, "id = ?", fresh.OrderID).Error)
	assert.Equal(t, db.OrderPending, o.Status)

	// an expired order cannot be completed by a late webhook
	r, err := f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "paid", 1990), "application/json", old.OrderID)
	require.NoError(t, err)
	assert.False(t, r.Applied)
	assert.Equal(t, db.OrderFailed, r.Status)
}

func TestStatsAndList(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a := f.initiate(t)
	f.initiate(t)
	_, err := f.svc.Reconcile(ctx, "pushinpay", webhook("pushinpay-txn-1", "paid", 1990), "application/json", a.OrderID)
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Orders[db.OrderCompleted])
	assert.Equal(t, int64(1), st.Orders[db.OrderPending])
	assert.True(t, decimal.RequireFromString("19.90").Equal(st.Revenue))
	require.Len(t, st.Gateways, 1)
	assert.Equal(t, int64(2), st.Gateways[0].Orders)
	assert.Equal(t, int64(1), st.Gateways[0].Completed)
	assert.Equal(t, int64(1), st.Products)
	assert.Equal(t, int64(1), st.Customers)

	orders, total, err := f.svc.List(ctx, ListFilter{Status: db.OrderCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, orders, 1)
	assert.Equal(t, a.OrderID, orders[0].ID)

	orders, total, err = f.svc.List(ctx, ListFilter{PageSize: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, orders, 1)
}
