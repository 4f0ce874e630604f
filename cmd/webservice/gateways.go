package main

import (
	"errors"

	"go.uber.org/zap"

	"go-storefront/log"
	"go-storefront/payment/gateway"
	"go-storefront/utils"
)

// buildGateways registers every gateway account that has credentials. A
// missing account only disables that gateway; having none at all is fatal.
func buildGateways(cfg utils.Config) (*gateway.Set, error) {
	set := gateway.NewSet()

	pushin := func(tok string) (gateway.Gateway, error) {
		return gateway.NewPushinPay(gateway.PushinPayConfig{
			BaseURL: cfg.PushinPayBaseURL,
			Token:   tok,
			Timeout: cfg.GatewayTimeout,
		})
	}
	syncpay := func(id, secret string) (gateway.Gateway, error) {
		return gateway.NewSyncPay(gateway.SyncPayConfig{
			BaseURL:      cfg.SyncPayBaseURL,
			ClientID:     id,
			ClientSecret: secret,
			DefaultCPF:   cfg.SyncPayDefaultCPF,
			Timeout:      cfg.GatewayTimeout,
		})
	}

	add := func(g gateway.Gateway, err error, overflow bool) {
		if err != nil {
			log.Debug("gateway account skipped", zap.Bool("overflow", overflow), zap.Error(err))
			return
		}
		if overflow {
			set.RegisterOverflow(g)
		} else {
			set.Register(g)
		}
	}

	g, err := pushin(cfg.PushinPayToken)
	add(g, err, false)
	g, err = pushin(cfg.PushinPayOverflowToken)
	add(g, err, true)
	g, err = syncpay(cfg.SyncPayClientID, cfg.SyncPayClientSecret)
	add(g, err, false)
	g, err = syncpay(cfg.SyncPayOverflowClientID, cfg.SyncPayOverflowClientSecret)
	add(g, err, true)

	if len(set.Names()) == 0 {
		return nil, errors.New("no payment gateway configured")
	}
	return set, nil
}

func gatewayNames(set *gateway.Set) []string {
	var out []string
	for _, n := range set.Names() {
		out = append(out, string(n))
	}
	return out
}
