package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/usdtdesk/internal/admin"
	"github.com/punchamoorthee/usdtdesk/internal/api"
	"github.com/punchamoorthee/usdtdesk/internal/bot"
	"github.com/punchamoorthee/usdtdesk/internal/config"
	"github.com/punchamoorthee/usdtdesk/internal/conversation"
	"github.com/punchamoorthee/usdtdesk/internal/payments"
	"github.com/punchamoorthee/usdtdesk/internal/rates"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/session"
	"github.com/punchamoorthee/usdtdesk/internal/store"
	"github.com/punchamoorthee/usdtdesk/internal/telegram"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	repo, closeRepo := openLedger(ctx, cfg, logger)
	defer closeRepo()
	sessions, consoleSessions, closeSessions := openSessions(ctx, cfg, logger)
	defer closeSessions()

	ledger := service.NewLedger(repo, service.Policy{
		ReferralBonus:           cfg.ReferralBonus,
		MinReferralWithdrawal:   cfg.MinReferralWithdrawal,
		MinAddressLength:        cfg.MinAddressLength,
		RestoreRejectedReferral: cfg.RestoreRejectedReferral,
	}, logger)
	rateProvider := rates.NewProvider(rates.SimulatedSource())

	if cfg.CoinPaymentsPublicKey == "" || cfg.CoinPaymentsPrivateKey == "" {
		logger.Warn("coinpayments keys not set, deposit requests will fail")
	}
	gateway := payments.NewCoinPayments(cfg.CoinPaymentsPublicKey, cfg.CoinPaymentsPrivateKey, cfg.CoinPaymentsURL, logger)

	tg, err := telegram.New(cfg.BotToken, cfg.UserRateLimit, cfg.UserRateBurst, logger)
	if err != nil {
		logger.Fatal("telegram init failed", zap.Error(err))
	}
	username := cfg.BotUsername
	if tg.Username() != "" {
		username = tg.Username()
	}

	engine := conversation.NewEngine(conversation.Config{
		AdminChatID:  cfg.AdminChatID,
		BotUsername:  username,
		BuyerContact: cfg.BuyerRefundEmail,
		MinSell:      cfg.MinSellAmount,
		MaxSell:      cfg.MaxSellAmount,
	}, ledger, rateProvider, gateway, sessions, tg, logger)
	console := admin.NewConsole(cfg.AdminChatID, ledger, rateProvider, consoleSessions, tg, logger)
	dispatcher := bot.NewDispatcher(engine, console, cfg.AdminChatID, consoleSessions, tg, logger)

	// Side server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewHandler(ledger, logger), cfg.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	if err := tg.Run(ctx, dispatcher.Dispatch); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("telegram loop stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Repository, func()) {
	if cfg.DBSource == "" {
		logger.Warn("DB_SOURCE not set, using in-memory ledger")
		return store.NewMemoryStore(), func() {}
	}
	pg, err := store.NewPostgresStore(ctx, cfg.DBSource, logger)
	if err != nil {
		logger.Fatal("Unable to connect to database", zap.Error(err))
	}
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	return pg, pg.Close
}

// openSessions returns the user conversation store and a separate one for admin
// console modes, so the admin can use both at once.
func openSessions(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Store, session.Store, func()) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryStore(cfg.SessionTTL), session.NewMemoryStore(cfg.SessionTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("Unable to connect to redis", zap.Error(err))
	}
	users := session.NewRedisStore(client, cfg.SessionTTL)
	return users, users.Namespace("console"), func() { _ = client.Close() }
}
