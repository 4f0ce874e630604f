package order

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go-storefront/web/db"
)

type ListFilter struct {
	Status   db.OrderStatus
	Gateway  string
	Page     int
	PageSize int
}

const maxPageSize = 100

// List pages through persisted orders, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]db.Order, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > maxPageSize {
		f.PageSize = 20
	}

	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&db.Order{})
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.Gateway != "" {
			q = q.Where("gateway = ?", f.Gateway)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []db.Order
	err := filtered().Order("created_at desc").
		Limit(f.PageSize).
		Offset((f.Page - 1) * f.PageSize).
		Find(&orders).Error
	return orders, total, err
}

type GatewayStats struct {
	Gateway   string          `json:"gateway"`
	Orders    int64           `json:"orders"`
	Completed int64           `json:"completed"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type Stats struct {
	Orders    map[db.OrderStatus]int64 `json:"orders"`
	Revenue   decimal.Decimal          `json:"revenue"`
	Products  int64                    `json:"products"`
	Customers int64                    `json:"customers"`
	Gateways  []GatewayStats           `json:"gateways"`
	Overflow  LedgerStats              `json:"overflow"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Orders: map[db.OrderStatus]int64{
		db.OrderPending:   0,
		db.OrderCompleted: 0,
		db.OrderFailed:    0,
	}}
	q := s.db.WithContext(ctx)

	var byStatus []struct {
		Status db.OrderStatus
		N      int64
	}
	if err := q.Model(&db.Order{}).Select("status, count(*) as n").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		st.Orders[row.Status] = row.N
	}

	var byGateway []struct {
		Gateway   string
		Orders    int64
		Completed int64
	}
	err := q.Model(&db.Order{}).
		Select("gateway, count(*) as orders, sum(case when status = ? then 1 else 0 end) as completed", db.OrderCompleted).
		Group("gateway").
		Order("gateway").
		Scan(&byGateway).Error
	if err != nil {
		return nil, err
	}

	// sums are done here so numeric types behave the same on every driver
	var completed []db.Order
	if err := q.Select("gateway, amount").Where("status = ?", db.OrderCompleted).Find(&completed).Error; err != nil {
		return nil, err
	}
	revenue := map[string]decimal.Decimal{}
	for _, o := range completed {
		revenue[o.Gateway] = revenue[o.Gateway].Add(o.Amount)
		st.Revenue = st.Revenue.Add(o.Amount)
	}
	for _, row := range byGateway {
		st.Gateways = append(st.Gateways, GatewayStats{
			Gateway:   row.Gateway,
			Orders:    row.Orders,
			Completed: row.Completed,
			Revenue:   revenue[row.Gateway],
		})
	}

	if err := q.Model(&db.Product{}).Count(&st.Products).Error; err != nil {
		return nil, err
	}
	if err := q.Model(&db.User{}).Where("role <> ?", db.RoleAdmin).Count(&st.Customers).Error; err != nil {
		return nil, err
	}

	st.Overflow = s.ledger.Stats()
	return st, nil
}
