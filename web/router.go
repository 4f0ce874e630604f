// Package web assembles the storefront HTTP API.
package web

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"go-storefront/log"
	"go-storefront/web/controllers"
	"go-storefront/web/middleware"
)

type RouterConfig struct {
	Handler        *controllers.Handler
	Limiter        *middleware.RateLimiter
	CORSOrigins    []string
	DefaultCountry string
	// OnPanic receives a description of every recovered panic. May be nil.
	OnPanic func(msg string)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Requested-With", "X-Webhook-Secret"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// credentials cannot be combined with a wildcard origin
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func NewRouter(rc RouterConfig) *gin.Engine {
	controllers.RegisterValidators()

	h := rc.Handler
	auth := h.Auth

	r := gin.New()
	r.Use(log.GinRecovery(rc.OnPanic), log.GinLogger())
	r.Use(cors.New(corsConfig(rc.CORSOrigins)))

	r.GET("/health", controllers.Health)

	api := r.Group("/api")

	// Gateways retry webhooks in bursts, so they skip the per-IP limiter.
	api.POST("/payments/webhook/:gateway", h.Webhook)

	public := api.Group("")
	if rc.Limiter != nil {
		public.Use(rc.Limiter.Middleware())
	}

	public.POST("/auth/register", h.Signup)
	public.POST("/auth/login", h.Login)
	public.POST("/auth/guest", h.Guest)
	public.GET("/auth/me", auth.RequireAuth, h.Me)

	geo := middleware.Geo(rc.DefaultCountry)
	public.GET("/products", geo, h.ListProducts)
	public.GET("/products/:id", geo, h.GetProduct)

	public.POST("/payments/create", auth.OptionalAuth, h.CreatePayment)
	public.GET("/payments/status/:id", h.PaymentStatus)

	public.GET("/settings", h.Settings)
	public.GET("/popup", h.Popup)

	admin := public.Group("/admin", auth.RequireAuth, auth.AdminAuth)
	admin.GET("/products", h.AdminListProducts)
	admin.POST("/products", h.AdminCreateProduct)
	admin.GET("/products/:id", h.AdminGetProduct)
	admin.PUT("/products/:id", h.AdminUpdateProduct)
	admin.DELETE("/products/:id", h.AdminDeleteProduct)
	admin.PUT("/products/:id/regions", h.AdminSetRegions)
	admin.POST("/products/:id/prices", h.AdminAddPrice)
	admin.PUT("/prices/:id", h.AdminUpdatePrice)
	admin.DELETE("/prices/:id", h.AdminDeletePrice)
	admin.GET("/orders", h.AdminListOrders)
	admin.GET("/stats", h.AdminStats)
	admin.GET("/system", h.AdminSystem)
	admin.GET("/settings", h.Settings)
	admin.PUT("/settings/:key", h.UpdateSetting)
	admin.PUT("/popup", h.UpdatePopup)

	return r
}
