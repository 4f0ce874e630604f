package controllers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-storefront/catalog"
	"go-storefront/log"
	"go-storefront/payment/gateway"
	"go-storefront/payment/order"
	"go-storefront/payment/token"
	"go-storefront/web/db"
	"go-storefront/web/middleware"
)

// Handler carries the dependencies shared by every route.
type Handler struct {
	DB            *gorm.DB
	Catalog       *catalog.Catalog
	Orders        *order.Service
	Auth          *middleware.Auth
	WebhookSecret string
}

var registerOnce sync.Once

// RegisterValidators adds the "region" and "gateway" binding rules.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterValidation("region", func(fl validator.FieldLevel) bool {
			return catalog.ValidRegionCode(fl.Field().String())
		})
		v.RegisterValidation("gateway", func(fl validator.FieldLevel) bool {
			_, err := gateway.ParseName(fl.Field().String())
			return err == nil
		})
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrPriceNotFound),
		errors.Is(err, order.ErrPriceNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrEmailTaken),
		errors.Is(err, db.ErrAccountExists),
		errors.Is(err, order.ErrTransactionMismatch):
		return http.StatusConflict
	case errors.Is(err, db.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, catalog.ErrInvalidRegion),
		errors.Is(err, catalog.ErrInvalidPrice),
		errors.Is(err, gateway.ErrUnknownGateway),
		errors.Is(err, gateway.ErrBadWebhook),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, order.ErrProductInactive),
		errors.Is(err, order.ErrAmountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderExpired):
		return http.StatusGone
	case errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg} with the status mapped from err.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}

func errOrUnknown(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
