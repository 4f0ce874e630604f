package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"go-storefront/web/db"
	"go-storefront/web/middleware"
)

// publicPrice leaves out the delivery link, which is only released on payment.
type publicPrice struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Category string          `json:"category"`
}

type publicProduct struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	ImageURL    string        `json:"imageUrl"`
	Prices      []publicPrice `json:"prices"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func toPublic(p db.Product) publicProduct {
	out := publicProduct{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Prices:      make([]publicPrice, 0, len(p.Prices)),
		CreatedAt:   p.CreatedAt,
	}
	for _, pr := range p.Prices {
		out.Prices = append(out.Prices, publicPrice{
			ID:       pr.ID,
			Amount:   pr.Amount,
			Currency: pr.Currency,
			Category: pr.Category,
		})
	}
	return out
}

func (h *Handler) ListProducts(c *gin.Context) {
	country := middleware.Country(c)
	products, err := h.Catalog.ListVisible(c.Request.Context(), country)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]publicProduct, 0, len(products))
	for _, p := range products {
		out = append(out, toPublic(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": out, "country": country})
}

func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.Catalog.GetVisible(c.Request.Context(), c.Param("id"), middleware.Country(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": toPublic(*p)})
}
