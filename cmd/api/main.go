package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chautari/chautari-api/internal/config"
	"github.com/chautari/chautari-api/internal/domain/paysession"
	"github.com/chautari/chautari-api/internal/domain/purchase"
	"github.com/chautari/chautari-api/internal/domain/subscription"
	"github.com/chautari/chautari-api/internal/domain/tier"
	"github.com/chautari/chautari-api/internal/domain/wallet"
	"github.com/chautari/chautari-api/internal/middleware"
	"github.com/chautari/chautari-api/internal/pkg/database"
	"github.com/chautari/chautari-api/internal/pkg/jwt"
	"github.com/chautari/chautari-api/internal/pkg/khalti"
	"github.com/chautari/chautari-api/internal/pkg/logger"
	"github.com/chautari/chautari-api/internal/pkg/response"
)

// tierCompleterFunc lets main close the session -> purchase dependency
// loop with a late-bound function.
type tierCompleterFunc func(ctx context.Context, userID, invoiceID uuid.UUID, level int, cycle tier.BillingCycle, amountPaid int64) error

func (f tierCompleterFunc) CompleteTierPurchase(ctx context.Context, userID, invoiceID uuid.UUID, level int, cycle tier.BillingCycle, amountPaid int64) error {
	return f(ctx, userID, invoiceID, level, cycle, amountPaid)
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Chautari API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	gateway := khalti.NewClient(khalti.Config{
		BaseURL:    cfg.KhaltiBaseURL,
		SecretKey:  cfg.KhaltiSecretKey,
		ReturnURL:  cfg.FrontendURL + "/payments/return",
		WebsiteURL: cfg.FrontendURL,
	})

	catalog := tier.DefaultCatalog()

	// ---------- Repositories ----------
	walletRepo := wallet.NewRepository(db)
	subscriptionRepo := subscription.NewRepository(db)
	sessionRepo := paysession.NewRepository(db)
	purchaseRepo := purchase.NewRepository(db)

	// ---------- Services ----------
	walletSvc := wallet.NewService(walletRepo)
	subscriptionSvc := subscription.NewService(subscriptionRepo, catalog)

	hints := paysession.NewHints(redisClient, cfg.PendingHintTTL)

	// Tier checkouts complete through the purchase service, which in turn
	// opens its sessions through the session service. Build the session
	// service first and close the loop afterwards.
	var purchaseSvc *purchase.Service
	sessionSvc := paysession.NewService(sessionRepo, gateway, walletSvc, tierCompleterFunc(func(ctx context.Context, userID, invoiceID uuid.UUID, level int, cycle tier.BillingCycle, amountPaid int64) error {
		return purchaseSvc.CompleteTierPurchase(ctx, userID, invoiceID, level, cycle, amountPaid)
	}), hints, cfg.SessionTTL)
	purchaseSvc = purchase.NewService(purchaseRepo, walletSvc, subscriptionSvc, sessionSvc, catalog)

	// ---------- Background workers ----------
	sessionWorker := paysession.NewWorker(sessionSvc, cfg.SessionSweepEvery)
	sessionWorker.Start()
	defer sessionWorker.Stop()

	subscriptionWorker := subscription.NewWorker(subscriptionSvc, cfg.SubscriptionSweep)
	subscriptionWorker.Start()
	defer subscriptionWorker.Stop()

	// ---------- Handlers ----------
	walletHandler := wallet.NewHandler(walletSvc, sessionSvc)
	subscriptionHandler := subscription.NewHandler(subscriptionSvc)
	sessionHandler := paysession.NewHandler(sessionSvc, cfg.KhaltiWebhookKey)
	purchaseHandler := purchase.NewHandler(purchaseSvc)

	authMiddleware := middleware.Auth(jwtService)
	adminMiddleware := middleware.RequireAdmin()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/wallet", walletHandler.Routes(authMiddleware))
		r.Mount("/subscription", subscriptionHandler.Routes(authMiddleware))
		r.Mount("/subscription-tiers", purchaseHandler.TierRoutes(authMiddleware))
		r.Mount("/purchase", purchaseHandler.Routes(authMiddleware))
		r.Mount("/payments", sessionHandler.Routes(authMiddleware))

		r.Mount("/admin/wallets", walletHandler.AdminRoutes(authMiddleware, adminMiddleware))
	})

	r.Mount("/webhooks", sessionHandler.WebhookRoutes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
