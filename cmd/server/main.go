/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and optional YAML config
  2. Initialize SQLite store
  3. Wire domain services (ledger, rewards, transfers, payments)
  4. Configure HTTP router
  5. Run server and hold sweeper under one errgroup

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, overridden by config file)
  -db      SQLite database path (default: points.db)
           Use ":memory:" for an in-memory database
  -config  YAML config path (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the hold sweeper
  4. Close database connection

EXAMPLES:
  ./server -db="./data/points.db" -config=./config.yaml
  ./server -db=":memory:" -port=3000
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/stagepass/points-engine/api"
	"github.com/stagepass/points-engine/identity"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/payments"
	"github.com/stagepass/points-engine/rewards"
	"github.com/stagepass/points-engine/store/sqlite"
	"github.com/stagepass/points-engine/transfer"
)

// Config is the optional YAML configuration. Flags override nothing here;
// the file, when given, wins for any field it sets.
type Config struct {
	Port          int               `yaml:"port"`
	DBPath        string            `yaml:"db_path"`
	LogLevel      string            `yaml:"log_level"`
	WebhookSecret string            `yaml:"webhook_secret"`
	CheckoutURL   string            `yaml:"checkout_base_url"`
	SweepInterval time.Duration     `yaml:"sweep_interval"`
	Tokens        map[string]string `yaml:"tokens"`     // bearer token -> auth ref
	AdminRefs     []string          `yaml:"admin_refs"` // auth refs with admin rights
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "points.db", "SQLite database path")
	configPath := flag.String("config", "", "YAML config path")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	if cfg.Port != 0 {
		*port = cfg.Port
	}
	if cfg.DBPath != "" {
		*dbPath = cfg.DBPath
	}
	if cfg.LogLevel != "" {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Fatal().Err(err).Msg("bad log_level")
		}
		log = log.Level(level)
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = "dev-webhook-secret"
		log.Warn().Msg("no webhook_secret configured, using development default")
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	lg := ledger.New(store)
	rewardsSvc := rewards.NewService(store, lg)
	transferSvc := transfer.NewService(store)

	processor := &payments.StaticProcessor{BaseURL: cfg.CheckoutURL}
	checkout := payments.NewCheckoutService(store, lg, processor, log)
	webhooks := payments.NewWebhookProcessor(store, payments.NewHMACVerifier(cfg.WebhookSecret), log)
	chain := payments.NewChainPurchaseService(store, payments.StaticChainVerifier{}, log)
	settlement := payments.NewSettlementService(store)

	resolver := identity.NewTokenResolver(store, cfg.Tokens, cfg.AdminRefs)

	handler := api.NewHandler(store, lg, rewardsSvc, transferSvc,
		checkout, webhooks, chain, settlement, resolver, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweeper := api.NewHoldSweeper(rewardsSvc, log)
	if cfg.SweepInterval > 0 {
		sweeper = sweeper.WithInterval(cfg.SweepInterval)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := sweeper.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}
