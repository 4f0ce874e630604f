package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/shopspring/decimal"
)

type SyncPayConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	DefaultCPF   string // used when the buyer did not give a document
	Timeout      time.Duration
}

type SyncPayClient struct {
	http *req.Client
	cfg  SyncPayConfig
	now  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// tokens are refreshed this long before they expire
const tokenSkew = time.Minute

func NewSyncPay(cfg SyncPayConfig) (*SyncPayClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: syncpay credentials missing", ErrNotConfigured)
	}
	return &SyncPayClient{
		http: newClient(cfg.BaseURL, cfg.Timeout),
		cfg:  cfg,
		now:  time.Now,
	}, nil
}

func (s *SyncPayClient) Name() Name { return SyncPay }

type syncPayAuth struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *SyncPayClient) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}

	var out syncPayAuth
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"client_id":     s.cfg.ClientID,
			"client_secret": s.cfg.ClientSecret,
		}).
		SetSuccessResult(&out).
		Post("/api/partner/v1/auth-token")
	if err := upstream(SyncPay, resp, err); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &UpstreamError{Gateway: SyncPay, StatusCode: resp.StatusCode, Message: "auth response missing access_token"}
	}

	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= tokenSkew {
		ttl = 2 * tokenSkew
	}
	s.token = out.AccessToken
	s.expiresAt = s.now().Add(ttl - tokenSkew)
	return s.token, nil
}

func (s *SyncPayClient) invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *SyncPayClient) authed(ctx context.Context) (*req.Request, error) {
	tok, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.http.R().SetContext(ctx).SetBearerAuthToken(tok), nil
}

type syncPayCashIn struct {
	Message    string `json:"message"`
	PixCode    string `json:"pix_code"`
	Identifier string `json:"identifier"`
}

func (s *SyncPayClient) CreateCharge(ctx context.Context, r ChargeRequest) (*Charge, error) {
	call, err := s.authed(ctx)
	if err != nil {
		return nil, err
	}

	doc := onlyDigits(r.Customer.Document)
	if doc == "" {
		doc = s.cfg.DefaultCPF
	}
	name := r.Customer.Name
	if name == "" {
		name = strings.SplitN(r.Customer.Email, "@", 2)[0]
	}

	body := map[string]interface{}{
		"amount":      decimal.New(r.AmountCents, -2).InexactFloat64(),
		"description": r.Description,
		"webhook_url": r.WebhookURL,
		"client": map[string]string{
			"name":  name,
			"cpf":   doc,
			"email": r.Customer.Email,
			"phone": onlyDigits(r.Customer.Phone),
		},
	}

	var out syncPayCashIn
	resp, err := call.SetBody(body).SetSuccessResult(&out).Post("/api/partner/v1/cash-in")
	if resp != nil && resp.StatusCode == 401 {
		s.invalidate()
	}
	if err := upstream(SyncPay, resp, err); err != nil {
		return nil, err
	}
	if out.Identifier == "" || out.PixCode == "" {
		msg := out.Message
		if msg == "" {
			msg = "response missing identifier or pix code"
		}
		return nil, &UpstreamError{Gateway: SyncPay, StatusCode: resp.StatusCode, Message: msg}
	}
	return &Charge{
		TransactionID: out.Identifier,
		PixCode:       out.PixCode,
		Status:        StatusPending,
	}, nil
}

type syncPayTxn struct {
	ID          string          `json:"id"`
	ReferenceID string          `json:"reference_id"`
	Identifier  string          `json:"identifier"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	PixCode     string          `json:"pix_code"`
}

func (t syncPayTxn) id() string {
	for _, v := range []string{t.ID, t.Identifier, t.ReferenceID} {
		if v != "" {
			return v
		}
	}
	return ""
}

func syncPayStatus(s string) Status {
	switch strings.ToLower(s) {
	case "completed", "paid", "approved":
		return StatusPaid
	case "failed", "expired", "refunded", "canceled", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}

func (s *SyncPayClient) GetCharge(ctx context.Context, txnID string) (*Charge, error) {
	r, err := s.authed(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data syncPayTxn `json:"data"`
	}
	resp, err := r.SetPathParam("id", txnID).SetSuccessResult(&out).Get("/api/partner/v1/transaction/{id}")
	if resp != nil && resp.StatusCode == 401 {
		s.invalidate()
	}
	if err := upstream(SyncPay, resp, err); err != nil {
		return nil, err
	}
	return &Charge{
		TransactionID: txnID,
		PixCode:       out.Data.PixCode,
		Status:        syncPayStatus(out.Data.Status),
	}, nil
}

func (s *SyncPayClient) ParseWebhook(body []byte, _ string) (*Notification, error) {
	var env struct {
		Data *syncPayTxn `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
	}
	txn := env.Data
	if txn == nil {
		// some deliveries are not wrapped in "data"
		txn = &syncPayTxn{}
		if err := json.Unmarshal(body, txn); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
		}
	}
	id := txn.id()
	if id == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrBadWebhook)
	}
	return &Notification{
		TransactionID: id,
		Status:        syncPayStatus(txn.Status),
		RawStatus:     txn.Status,
		AmountCents:   txn.Amount.Shift(2).Round(0).IntPart(),
	}, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
