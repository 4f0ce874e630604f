package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"go-storefront/utils"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
	RoleGuest    Role = "GUEST"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
)

// RegionNonBR is the region sentinel meaning every country except Brazil.
const RegionNonBR = "NON_BR"

type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:191;not null" json:"email"`
	PasswordHash *string   `gorm:"size:100" json:"-"` // nil for guests
	Role         Role      `gorm:"size:16;not null;default:CUSTOMER" json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = utils.GenerateUUID()
	}
	return nil
}

type Product struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	Name         string          `gorm:"size:191;not null" json:"name"`
	Description  string          `gorm:"type:text" json:"description"`
	ImageURL     string          `gorm:"size:512" json:"imageUrl"`
	IsActive     bool            `gorm:"not null;index" json:"isActive"`
	TelegramLink string          `gorm:"size:512" json:"telegramLink"`
	Prices       []Price         `gorm:"foreignKey:ProductID" json:"prices,omitempty"`
	Regions      []ProductRegion `gorm:"foreignKey:ProductID" json:"regions,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = utils.GenerateUUID()
	}
	return nil
}

type Price struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	ProductID    string          `gorm:"size:36;not null;index" json:"productId"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency     string          `gorm:"size:3;not null;default:BRL" json:"currency"`
	Category     string          `gorm:"size:64" json:"category"`
	DeliveryLink string          `gorm:"size:1024" json:"deliveryLink"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (p *Price) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = utils.GenerateUUID()
	}
	return nil
}

type ProductRegion struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	ProductID   string `gorm:"size:36;not null;uniqueIndex:ux_product_region,priority:1" json:"productId"`
	CountryCode string `gorm:"size:8;not null;uniqueIndex:ux_product_region,priority:2" json:"countryCode"`
}

func (r *ProductRegion) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = utils.GenerateUUID()
	}
	return nil
}

type Order struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	UserID        string          `gorm:"size:36;not null;index" json:"userId"`
	PriceID       *string         `gorm:"size:36;index" json:"priceId"`
	Status        OrderStatus     `gorm:"size:16;not null;default:PENDING;index" json:"status"`
	Gateway       string          `gorm:"size:32;not null" json:"gateway"`
	ProviderTxnID string          `gorm:"size:128;index" json:"providerTxnId"`
	DownloadLink  string          `gorm:"size:1024" json:"downloadLink,omitempty"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"` // charged, BRL
	Currency      string          `gorm:"size:3;not null;default:BRL" json:"currency"`
	ProductName   string          `gorm:"size:191" json:"productName"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CreatedAt     time.Time       `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == "" {
		o.ID = utils.GenerateUUID()
	}
	return nil
}

// Setting is an admin-configurable key/value flag.
type Setting struct {
	Key       string         `gorm:"primaryKey;size:100" json:"key"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// PopupConfig is the single storefront popup; it always has ID 1.
type PopupConfig struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Enabled    bool      `gorm:"not null" json:"enabled"`
	Title      string    `gorm:"size:191" json:"title"`
	Message    string    `gorm:"type:text" json:"message"`
	ImageURL   string    `gorm:"size:512" json:"imageUrl"`
	ButtonText string    `gorm:"size:64" json:"buttonText"`
	ButtonLink string    `gorm:"size:512" json:"buttonLink"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
