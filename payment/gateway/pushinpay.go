package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

type PushinPayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type PushinPayClient struct {
	http *req.Client
}

func NewPushinPay(cfg PushinPayConfig) (*PushinPayClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: pushinpay token missing", ErrNotConfigured)
	}
	c := newClient(cfg.BaseURL, cfg.Timeout).SetCommonBearerAuthToken(cfg.Token)
	return &PushinPayClient{http: c}, nil
}

func (p *PushinPayClient) Name() Name { return PushinPay }

type pushinPayTxn struct {
	ID           string          `json:"id"`
	QRCode       string          `json:"qr_code"`
	QRCodeBase64 string          `json:"qr_code_base64"`
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value"`
}

func (t pushinPayTxn) charge() *Charge {
	return &Charge{
		TransactionID: strings.ToLower(t.ID),
		PixCode:       t.QRCode,
		QRCodeBase64:  t.QRCodeBase64,
		Status:        pushinPayStatus(t.Status),
	}
}

func pushinPayStatus(s string) Status {
	switch strings.ToLower(s) {
	case "paid", "approved":
		return StatusPaid
	case "expired", "canceled", "cancelled", "refunded":
		return StatusFailed
	default:
		return StatusPending
	}
}

func (p *PushinPayClient) CreateCharge(ctx context.Context, r ChargeRequest) (*Charge, error) {
	if r.AmountCents < 50 {
		return nil, &UpstreamError{Gateway: PushinPay, Message: "minimum charge is 50 cents"}
	}
	body := map[string]interface{}{
		"value":       r.AmountCents,
		"webhook_url": r.WebhookURL,
	}

	var out pushinPayTxn
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(body).
		SetSuccessResult(&out).
		Post("/api/pix/cashIn")
	if err := upstream(PushinPay, resp, err); err != nil {
		return nil, err
	}
	if out.ID == "" || out.QRCode == "" {
		return nil, &UpstreamError{Gateway: PushinPay, StatusCode: resp.StatusCode, Message: "response missing transaction id or pix code"}
	}
	return out.charge(), nil
}

func (p *PushinPayClient) GetCharge(ctx context.Context, txnID string) (*Charge, error) {
	var out pushinPayTxn
	resp, err := p.http.R().
		SetContext(ctx).
		SetPathParam("id", txnID).
		SetSuccessResult(&out).
		Get("/api/transactions/{id}")
	if err := upstream(PushinPay, resp, err); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = txnID
	}
	return out.charge(), nil
}

// ParseWebhook accepts the JSON and the form-encoded notification formats.
func (p *PushinPayClient) ParseWebhook(body []byte, contentType string) (*Notification, error) {
	var id, status, value string
	if isJSON(contentType, body) {
		var t pushinPayTxn
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
		}
		id, status, value = t.ID, t.Status, strings.Trim(string(t.Value), `"`)
	} else {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
		}
		id, status, value = form.Get("id"), form.Get("status"), form.Get("value")
	}
	if id == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrBadWebhook)
	}

	n := &Notification{
		TransactionID: strings.ToLower(id),
		Status:        pushinPayStatus(status),
		RawStatus:     status,
	}
	if value != "" {
		n.AmountCents, _ = strconv.ParseInt(value, 10, 64)
	}
	return n, nil
}
