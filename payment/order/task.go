// scheduled maintenance: stale order expiry and ledger sweeps

package order

import (
	"context"

	"go.uber.org/zap"

	"go-storefront/log"
	"go-storefront/web/db"
)

// ExpireStale fails every PENDING order older than the order TTL.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.OrderTTL)
	res := s.db.WithContext(ctx).Model(&db.Order{}).
		Where("status = ? AND created_at < ?", db.OrderPending, cutoff).
		Update("status", db.OrderFailed)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Info("expired stale orders", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// SweepLedger drops stateless entries past their deadline.
func (s *Service) SweepLedger() int {
	n := s.ledger.Sweep(s.now())
	if n > 0 {
		log.Debug("swept stateless ledger", zap.Int("count", n))
	}
	return n
}
