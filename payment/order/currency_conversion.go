package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"go-storefront/log"
)

const chargeCurrency = "BRL"

// value of one unit in USD, used until the first successful fetch
var defaultRates = map[string]float64{
	"USD": 1.0,
	"BRL": 0.18,
	"EUR": 1.08,
	"GBP": 1.27,
}

const (
	ratesURL      = "https://open.er-api.com/v6/latest/USD"
	cacheDuration = 5 * time.Minute
)

type erResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// RateSource returns USD value per unit for each currency code.
type RateSource func(ctx context.Context) (map[string]float64, error)

// Converter turns catalog prices into BRL cents with cached FX rates.
type Converter struct {
	source RateSource
	now    func() time.Time

	mu        sync.Mutex
	rates     map[string]float64
	fetchedAt time.Time
}

func NewConverter(source RateSource) *Converter {
	if source == nil {
		source = FetchFiatRates
	}
	return &Converter{source: source, now: time.Now, rates: defaultRates}
}

// FetchFiatRates reads USD-based rates from Open ER API.
func FetchFiatRates(ctx context.Context) (map[string]float64, error) {
	var data erResponse
	resp, err := req.C().SetTimeout(10 * time.Second).R().
		SetContext(ctx).
		SetSuccessResult(&data).
		Get(ratesURL)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccessState() {
		return nil, fmt.Errorf("rates api returned %s", resp.Status)
	}

	rates := make(map[string]float64, len(data.Rates))
	for k, v := range data.Rates {
		// 1 USD = v target → 1 target = 1/v USD
		if v > 0 {
			rates[k] = 1.0 / v
		}
	}
	rates["USD"] = 1.0
	return rates, nil
}

func (c *Converter) current(ctx context.Context) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.now().Sub(c.fetchedAt) > cacheDuration {
		fetched, err := c.source(ctx)
		if err != nil {
			log.Warn("fx rates fetch failed, using cached rates", zap.Error(err))
			// back off for a full period
			c.fetchedAt = c.now()
			return c.rates
		}
		for k, v := range defaultRates {
			if _, ok := fetched[k]; !ok {
				fetched[k] = v
			}
		}
		c.rates = fetched
		c.fetchedAt = c.now()
	}
	return c.rates
}

// Convert amount from one currency to another.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	rates := c.current(ctx)
	rA, ok1 := rates[from]
	rB, ok2 := rates[to]
	if !ok1 || !ok2 || rB == 0 {
		return decimal.Zero, fmt.Errorf("unsupported currency %s or %s", from, to)
	}
	return amount.Mul(decimal.NewFromFloat(rA)).Div(decimal.NewFromFloat(rB)), nil
}

// ToCents converts amount to BRL and returns it in centavos, rounded half up.
func (c *Converter) ToCents(ctx context.Context, amount decimal.Decimal, currency string) (int64, error) {
	if currency == "" {
		currency = chargeCurrency
	}
	brl, err := c.Convert(ctx, amount, currency, chargeCurrency)
	if err != nil {
		return 0, err
	}
	return brl.Shift(2).Round(0).IntPart(), nil
}
