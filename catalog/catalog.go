// Package catalog owns products, prices and the region rules that decide which
// products a viewer may see.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go-storefront/web/db"
)

var (
	ErrNotFound      = errors.New("product not found")
	ErrPriceNotFound = errors.New("price not found")
	ErrInvalidRegion = errors.New("invalid region code")
	ErrInvalidPrice  = errors.New("price amount must be greater than zero")
)

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "BRL"
	}
	return code
}

type Catalog struct {
	db *gorm.DB
}

func New(database *gorm.DB) *Catalog {
	return &Catalog{db: database}
}

func (c *Catalog) withAssociations(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx).
		Preload("Prices", func(tx *gorm.DB) *gorm.DB { return tx.Order("amount asc") }).
		Preload("Regions")
}

// ListVisible returns the active products a viewer from country may see.
func (c *Catalog) ListVisible(ctx context.Context, country string) ([]db.Product, error) {
	var products []db.Product
	err := c.withAssociations(ctx).
		Where("is_active = ?", true).
		Order("created_at asc").
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	visible := make([]db.Product, 0, len(products))
	for _, p := range products {
		if Visible(p.Regions, country) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

func (c *Catalog) GetVisible(ctx context.Context, id, country string) (*db.Product, error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive || !Visible(p.Regions, country) {
		return nil, ErrNotFound
	}
	return p, nil
}

// ListAll is the admin view: every product regardless of state or region.
func (c *Catalog) ListAll(ctx context.Context) ([]db.Product, error) {
	var products []db.Product
	err := c.withAssociations(ctx).Order("created_at desc").Find(&products).Error
	return products, err
}

func (c *Catalog) Get(ctx context.Context, id string) (*db.Product, error) {
	var p db.Product
	err := c.withAssociations(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct inserts p together with any prices and regions it carries.
func (c *Catalog) CreateProduct(ctx context.Context, p *db.Product) error {
	for i := range p.Prices {
		if !p.Prices[i].Amount.GreaterThan(decimal.Zero) {
			return ErrInvalidPrice
		}
		p.Prices[i].Currency = normalizeCurrency(p.Prices[i].Currency)
	}

	seen := make(map[string]bool, len(p.Regions))
	regions := make([]db.ProductRegion, 0, len(p.Regions))
	for _, r := range p.Regions {
		if !ValidRegionCode(r.CountryCode) {
			return fmt.Errorf("%w: %q", ErrInvalidRegion, r.CountryCode)
		}
		code := NormalizeCountry(r.CountryCode)
		if !seen[code] {
			seen[code] = true
			regions = append(regions, db.ProductRegion{CountryCode: code})
		}
	}
	p.Regions = regions

	return c.db.WithContext(ctx).Create(p).Error
}

// ProductUpdate carries the optional fields of a partial product update.
type ProductUpdate struct {
	Name         *string
	Description  *string
	ImageURL     *string
	IsActive     *bool
	TelegramLink *string
}

func (c *Catalog) UpdateProduct(ctx context.Context, id string, u ProductUpdate) (*db.Product, error) {
	updates := map[string]interface{}{}
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.ImageURL != nil {
		updates["image_url"] = *u.ImageURL
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	if u.TelegramLink != nil {
		updates["telegram_link"] = *u.TelegramLink
	}

	if len(updates) > 0 {
		res := c.db.WithContext(ctx).Model(&db.Product{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
	}
	return c.Get(ctx, id)
}

// DeleteProduct removes the product with its prices and regions. Orders keep
// their history but lose the price reference.
func (c *Catalog) DeleteProduct(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var priceIDs []string
		if err := tx.Model(&db.Price{}).Where("product_id = ?", id).Pluck("id", &priceIDs).Error; err != nil {
			return err
		}
		if len(priceIDs) > 0 {
			if err := tx.Model(&db.Order{}).Where("price_id IN ?", priceIDs).Update("price_id", nil).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("product_id = ?", id).Delete(&db.Price{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", id).Delete(&db.ProductRegion{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&db.Product{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (c *Catalog) AddPrice(ctx context.Context, productID string, p *db.Price) error {
	if !p.Amount.GreaterThan(decimal.Zero) {
		return ErrInvalidPrice
	}
	if _, err := c.Get(ctx, productID); err != nil {
		return err
	}
	p.ProductID = productID
	p.Currency = normalizeCurrency(p.Currency)
	return c.db.WithContext(ctx).Create(p).Error
}

type PriceUpdate struct {
	Amount       *decimal.Decimal
	Currency     *string
	Category     *string
	DeliveryLink *string
}

func (c *Catalog) UpdatePrice(ctx context.Context, id string, u PriceUpdate) (*db.Price, error) {
	updates := map[string]interface{}{}
	if u.Amount != nil {
		if !u.Amount.GreaterThan(decimal.Zero) {
			return nil, ErrInvalidPrice
		}
		updates["amount"] = *u.Amount
	}
	if u.Currency != nil {
		updates["currency"] = normalizeCurrency(*u.Currency)
	}
	if u.Category != nil {
		updates["category"] = *u.Category
	}
	if u.DeliveryLink != nil {
		updates["delivery_link"] = *u.DeliveryLink
	}

	if len(updates) > 0 {
		if err := c.db.WithContext(ctx).Model(&db.Price{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	var price db.Price
	err := c.db.WithContext(ctx).First(&price, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPriceNotFound
	}
	return &price, err
}

func (c *Catalog) DeletePrice(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Order{}).Where("price_id = ?", id).Update("price_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&db.Price{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPriceNotFound
		}
		return nil
	})
}

// SetRegions replaces the product's region set.
func (c *Catalog) SetRegions(ctx context.Context, productID string, codes []string) ([]db.ProductRegion, error) {
	seen := make(map[string]bool, len(codes))
	regions := make([]db.ProductRegion, 0, len(codes))
	for _, code := range codes {
		if !ValidRegionCode(code) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRegion, code)
		}
		code = NormalizeCountry(code)
		if seen[code] {
			continue
		}
		seen[code] = true
		regions = append(regions, db.ProductRegion{ProductID: productID, CountryCode: code})
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Where("product_id = ?", productID).Delete(&db.ProductRegion{}).Error; err != nil {
			return err
		}
		if len(regions) == 0 {
			return nil
		}
		return tx.Create(&regions).Error
	})
	if err != nil {
		return nil, err
	}
	return regions, nil
}
