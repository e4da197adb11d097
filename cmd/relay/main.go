package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LeventeLantos/whatsapp-relay/internal/api"
	"github.com/LeventeLantos/whatsapp-relay/internal/cache"
	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/config"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
	"github.com/LeventeLantos/whatsapp-relay/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-relay/internal/service"
	"github.com/LeventeLantos/whatsapp-relay/internal/verify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	pool, err := repo.NewPool(startCtx, cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repo.EnsureSchema(startCtx, pool); err != nil {
		return err
	}
	store := repo.NewPostgresMessageRepo(pool).WithMaxLimit(cfg.Server.ListMaxLimit)

	var (
		replyCache  cache.ReplyCache = cache.Noop{}
		replyLookup api.ReplyLookup
	)
	if cfg.Redis.Enabled {
		rdb, err := cache.NewClient(startCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		rc := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		replyCache, replyLookup = rc, rc
	}

	if cfg.Provider.Token == "" || cfg.Provider.PhoneNumberID == "" {
		logger.Warn("WHATSAPP_TOKEN or PHONE_NUMBER_ID missing, replies will be marked failed")
	}
	if cfg.Webhook.VerifyToken == "" {
		logger.Warn("VERIFY_TOKEN missing, webhook handshakes will be rejected")
	}

	dispatcher := client.NewWhatsAppClient(client.Options{
		BaseURL:       cfg.Provider.APIURL,
		Token:         cfg.Provider.Token,
		PhoneNumberID: cfg.Provider.PhoneNumberID,
		Timeout:       cfg.Provider.Timeout,
	})

	reply, err := service.ReplyPolicy(cfg.Reply.Mode, cfg.Reply.Text)
	if err != nil {
		return err
	}

	pipeline := service.NewPipeline(store, dispatcher, reply).
		WithCache(replyCache).
		WithMessageTimeout(cfg.Provider.Timeout + 15*time.Second).
		WithLogger(logger.With("component", "pipeline"))

	handler := api.NewHandler(verify.NewGate(cfg.Webhook.VerifyToken), pipeline, store).
		WithSigner(verify.NewSigner(cfg.Webhook.AppSecret)).
		WithLogger(logger.With("component", "api")).
		WithReplyLookup(replyLookup).
		WithListMax(cfg.Server.ListMaxLimit)

	monitor := service.NewStaleMonitor(store, cfg.Monitor.StaleAfter, logger.With("component", "monitor"))
	sched, err := scheduler.New("stale-messages", cfg.Monitor.Interval, monitor.Check, logger)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           loggingMiddleware(logger.With("component", "http"), api.Router(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening",
			"addr", srv.Addr,
			"reply_mode", cfg.Reply.Mode,
			"redis", cfg.Redis.Enabled,
			"signature_check", cfg.Webhook.AppSecret != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	handler.Wait()
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
