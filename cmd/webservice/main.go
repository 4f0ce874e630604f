package main

import (
	"context"
	"errors"
	"fmt"
	stlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"go-storefront/catalog"
	"go-storefront/log"
	"go-storefront/payment/order"
	"go-storefront/payment/token"
	"go-storefront/utils"
	"go-storefront/web"
	"go-storefront/web/controllers"
	"go-storefront/web/db"
	"go-storefront/web/email"
	"go-storefront/web/middleware"
	"go-storefront/web/notify"
)

const shutdownTimeout = 15 * time.Second

func main() {
	utils.LoadEnv()
	cfg := utils.LoadConfig()

	if err := log.Init(cfg.LogLevel, !cfg.Production()); err != nil {
		stlog.Fatalln("init logger:", err)
	}
	defer log.Sync()

	if err := run(cfg); err != nil {
		log.Error("webservice stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg utils.Config) error {
	if cfg.JWTSecret == "" || cfg.TokenSecret == "" {
		return errors.New("JWT_SECRET and TOKEN_SECRET must be set")
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := db.Connect(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := db.Sync(store); err != nil {
		return err
	}

	ctx := context.Background()
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if _, err := db.EnsureAdmin(ctx, store, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}

	codec, err := token.NewCodec(cfg.TokenSecret)
	if err != nil {
		return err
	}

	gateways, err := buildGateways(cfg)
	if err != nil {
		return err
	}

	baseURL, err := utils.PublicBaseURL(cfg.PublicBaseURL, cfg.Port)
	if err != nil {
		return err
	}

	dispatcher := buildDispatcher(cfg)
	defer dispatcher.Wait()

	orders := order.NewService(store, gateways, codec, order.Config{
		BaseURL:       baseURL,
		WebhookSecret: cfg.WebhookSecret,
		OverflowRate:  cfg.OverflowRate,
		OrderTTL:      cfg.OrderTTL,
		StatelessTTL:  cfg.StatelessTTL,
	},
		order.WithNotifier(dispatcher),
		order.WithConverter(order.NewConverter(order.FetchFiatRates)),
	)

	auth := middleware.NewAuth(cfg.JWTSecret, cfg.JWTTTL, store)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	stop := make(chan struct{})
	defer close(stop)
	limiter.StartCleanup(10*time.Minute, stop)

	c := cron.New()
	if _, err := c.AddFunc("@every 5m", func() {
		if _, err := orders.ExpireStale(context.Background()); err != nil {
			log.Error("expire stale orders", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule order expiry: %w", err)
	}
	if _, err := c.AddFunc("@every 10m", func() { orders.SweepLedger() }); err != nil {
		return fmt.Errorf("schedule ledger sweep: %w", err)
	}
	c.Start()
	defer c.Stop()

	router := web.NewRouter(web.RouterConfig{
		Handler: &controllers.Handler{
			DB:            store,
			Catalog:       catalog.New(store),
			Orders:        orders,
			Auth:          auth,
			WebhookSecret: cfg.WebhookSecret,
		},
		Limiter:        limiter,
		CORSOrigins:    cfg.CORSOrigins,
		DefaultCountry: cfg.DefaultCountry,
		OnPanic:        dispatcher.Alert,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("webservice listening",
			zap.String("addr", server.Addr),
			zap.String("public_url", baseURL),
			zap.Strings("gateways", gatewayNames(gateways)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildDispatcher(cfg utils.Config) *notify.Dispatcher {
	var bot notify.Sender
	if cfg.TelegramBotToken != "" && cfg.TelegramAdminChatID != 0 {
		b, err := notify.NewTelegramBot(cfg.TelegramBotToken)
		if err != nil {
			log.Warn("telegram alerts disabled", zap.Error(err))
		} else {
			bot = b
		}
	}

	var mailer notify.Mailer
	m := email.NewMailer(email.Config{
		Server:   cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Pass:     cfg.SMTPPass,
		FromAddr: cfg.FromAddr,
		FromName: cfg.FromName,
	})
	if m.Enabled() {
		mailer = m
	}
	return notify.NewDispatcher(bot, cfg.TelegramAdminChatID, mailer)
}
