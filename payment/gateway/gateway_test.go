package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	n, err := ParseName(" PushinPay ")
	require.NoError(t, err)
	assert.Equal(t, PushinPay, n)

	n, err = ParseName("syncpay")
	require.NoError(t, err)
	assert.Equal(t, SyncPay, n)

	_, err = ParseName("paypal")
	assert.ErrorIs(t, err, ErrUnknownGateway)
}

func TestSet(t *testing.T) {
	s := NewSet()
	_, err := s.Primary(PushinPay)
	assert.ErrorIs(t, err, ErrNotConfigured)

	p, err := NewPushinPay(PushinPayConfig{BaseURL: "http://localhost", Token: "t"})
	require.NoError(t, err)
	s.Register(p)

	g, err := s.Primary(PushinPay)
	require.NoError(t, err)
	assert.Equal(t, PushinPay, g.Name())

	_, ok := s.Overflow(PushinPay)
	assert.False(t, ok)
	s.RegisterOverflow(p)
	_, ok = s.Overflow(PushinPay)
	assert.True(t, ok)

	assert.Equal(t, []Name{PushinPay}, s.Names())
}

func TestPushinPayCreateCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pix/cashIn", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1990), body["value"])
		assert.Equal(t, "https://shop.example/api/payments/webhook/pushinpay?ref=o1", body["webhook_url"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"9E1A-ABC","qr_code":"00020101021226","status":"created","value":1990,"qr_code_base64":"data:image/png;base64,AAA"}`))
	}))
	defer srv.Close()

	p, err := NewPushinPay(PushinPayConfig{BaseURL: srv.URL, Token: "secret-token"})
	require.NoError(t, err)

	charge, err := p.CreateCharge(context.Background(), ChargeRequest{
		AmountCents: 1990,
		WebhookURL:  "https://shop.example/api/payments/webhook/pushinpay?ref=o1",
	})
	require.NoError(t, err)
	assert.Equal(t, "9e1a-abc", charge.TransactionID)
	assert.Equal(t, "00020101021226", charge.PixCode)
	assert.Equal(t, StatusPending, charge.Status)
	assert.Equal(t, "data:image/png;base64,AAA", charge.QRCodeBase64)
}

func TestPushinPayUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"O campo value deve ser no mínimo 50."}`))
	}))
	defer srv.Close()

	p, err := NewPushinPay(PushinPayConfig{BaseURL: srv.URL, Token: "t"})
	require.NoError(t, err)

	_, err = p.CreateCharge(context.Background(), ChargeRequest{AmountCents: 100})
	var up *UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, http.StatusUnprocessableEntity, up.StatusCode)
	assert.Equal(t, "O campo value deve ser no mínimo 50.", up.Message)
}

func TestPushinPayGetCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions/abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ABC","status":"paid","value":"1990"}`))
	}))
	defer srv.Close()

	p, err := NewPushinPay(PushinPayConfig{BaseURL: srv.URL, Token: "t"})
	require.NoError(t, err)

	charge, err := p.GetCharge(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", charge.TransactionID)
	assert.Equal(t, StatusPaid, charge.Status)
}

func TestPushinPayParseWebhook(t *testing.T) {
	p, err := NewPushinPay(PushinPayConfig{BaseURL: "http://localhost", Token: "t"})
	require.NoError(t, err)

	n, err := p.ParseWebhook([]byte(`{"id":"ABC-1","status":"paid","value":1990}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "abc-1", n.TransactionID)
	assert.Equal(t, StatusPaid, n.Status)
	assert.Equal(t, int64(1990), n.AmountCents)

	n, err = p.ParseWebhook([]byte("id=ABC-2&status=expired&value=500"), "application/x-www-form-urlencoded")
	require.NoError(t, err)
	assert.Equal(t, "abc-2", n.TransactionID)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, int64(500), n.AmountCents)

	_, err = p.ParseWebhook([]byte(`{"status":"paid"}`), "application/json")
	assert.ErrorIs(t, err, ErrBadWebhook)
}

func TestSyncPayTokenCaching(t *testing.T) {
	var authCalls, cashInCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/partner/v1/auth-token":
			atomic.AddInt32(&authCalls, 1)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "id", body["client_id"])
			assert.Equal(t, "secret", body["client_secret"])
			w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
		case "/api/partner/v1/cash-in":
			atomic.AddInt32(&cashInCalls, 1)
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 19.9, body["amount"])
			client := body["client"].(map[string]interface{})
			assert.Equal(t, "00000000191", client["cpf"])
			assert.Equal(t, "buyer", client["name"])
			w.Write([]byte(`{"message":"ok","pix_code":"000201pix","identifier":"sp-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s, err := NewSyncPay(SyncPayConfig{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", DefaultCPF: "00000000191"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		charge, err := s.CreateCharge(context.Background(), ChargeRequest{
			AmountCents: 1990,
			Customer:    Customer{Email: "buyer@example.com"},
		})
		require.NoError(t, err)
		assert.Equal(t, "sp-1", charge.TransactionID)
		assert.Equal(t, "000201pix", charge.PixCode)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&cashInCalls))

	// past expiry the token is fetched again
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.CreateCharge(context.Background(), ChargeRequest{AmountCents: 1990, Customer: Customer{Email: "buyer@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls))
}

func TestSyncPayAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid credentials"}`))
	}))
	defer srv.Close()

	s, err := NewSyncPay(SyncPayConfig{BaseURL: srv.URL, ClientID: "id", ClientSecret: "bad"})
	require.NoError(t, err)

	_, err = s.CreateCharge(context.Background(), ChargeRequest{AmountCents: 1990})
	var up *UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, SyncPay, up.Gateway)
	assert.Equal(t, http.StatusUnauthorized, up.StatusCode)
	assert.Equal(t, "invalid credentials", up.Message)
}

func TestSyncPayParseWebhook(t *testing.T) {
	s, err := NewSyncPay(SyncPayConfig{BaseURL: "http://localhost", ClientID: "id", ClientSecret: "s"})
	require.NoError(t, err)

	n, err := s.ParseWebhook([]byte(`{"data":{"id":"sp-9","status":"completed","amount":19.9}}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "sp-9", n.TransactionID)
	assert.Equal(t, StatusPaid, n.Status)
	assert.Equal(t, int64(1990), n.AmountCents)

	n, err = s.ParseWebhook([]byte(`{"identifier":"sp-10","status":"refunded"}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "sp-10", n.TransactionID)
	assert.Equal(t, StatusFailed, n.Status)

	_, err = s.ParseWebhook([]byte(`not json`), "text/plain")
	assert.ErrorIs(t, err, ErrBadWebhook)
}
