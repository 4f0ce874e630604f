package controllers

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-storefront/log"
	"go-storefront/payment/gateway"
	"go-storefront/payment/order"
	"go-storefront/web/db"
	"go-storefront/web/middleware"
)

const maxWebhookBody = 1 << 20

type paymentRequest struct {
	PriceID  string `json:"priceId" binding:"required"`
	Gateway  string `json:"gateway" binding:"required,gateway"`
	Email    string `json:"email" binding:"omitempty,email"`
	Name     string `json:"name" binding:"max=120"`
	Document string `json:"document" binding:"max=20"`
	Phone    string `json:"phone" binding:"max=20"`
}

// CreatePayment starts a PIX checkout. Signed-in users pay as themselves;
// anonymous buyers must give an email and are attached to a guest account.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	user := middleware.CurrentUser(c)
	if user == nil {
		if req.Email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required to buy without an account"})
			return
		}
		guest, err := db.FindOrCreateGuest(ctx, h.DB, req.Email)
		if err != nil {
			respondError(c, err)
			return
		}
		user = guest
	}

	checkout, err := h.Orders.Initiate(ctx, order.InitiateRequest{
		PriceID: req.PriceID,
		Gateway: req.Gateway,
		UserID:  user.ID,
		Customer: gateway.Customer{
			Name:     req.Name,
			Email:    user.Email,
			Document: req.Document,
			Phone:    req.Phone,
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

func (h *Handler) PaymentStatus(c *gin.Context) {
	view, err := h.Orders.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) webhookAuthorized(c *gin.Context) bool {
	if h.WebhookSecret == "" {
		return true
	}
	got := c.Query("secret")
	if got == "" {
		got = c.GetHeader("X-Webhook-Secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) == 1
}

// Webhook receives gateway notifications. Replays answer 200 so the provider
// stops retrying.
func (h *Handler) Webhook(c *gin.Context) {
	name := c.Param("gateway")
	if !h.webhookAuthorized(c) {
		log.Warn("webhook rejected: bad secret", zap.String("gateway", name), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	result, err := h.Orders.Reconcile(c.Request.Context(), name, body, c.ContentType(), c.Query("ref"))
	if err != nil {
		log.Warn("webhook not applied", zap.String("gateway", name), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "status": result.Status, "applied": result.Applied})
}
