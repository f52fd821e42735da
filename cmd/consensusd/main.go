package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/consensus"
	"compute_consensus/pkg/data"
	"compute_consensus/pkg/database"
	"compute_consensus/pkg/scheduler"
	"compute_consensus/pkg/security"
	"compute_consensus/pkg/utils"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	dataDir    = flag.String("data-dir", "./data", "Data directory path")
	debug      = flag.Bool("debug", false, "Enable debug mode")
	ephemeral  = flag.Bool("ephemeral", false, "Run with an in-memory event store instead of postgres")
)

// App wires the consensus engine to its supporting services
type App struct {
	cfg    *config.Config
	db     *database.Service
	repo   data.Repository
	crypto *security.CryptoManager
	engine *consensus.Engine
	sched  *scheduler.Scheduler
	logger *zap.Logger
	cancel context.CancelFunc
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg, cancel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	setupGracefulShutdown(ctx, app, logger)

	logger.Info("Consensus node running",
		zap.String("public_key", app.crypto.ExportPublicKey()),
		zap.Bool("ephemeral", *ephemeral))

	<-ctx.Done()
}

func initializeApp(ctx context.Context, cfg *config.Config, cancel context.CancelFunc, logger *zap.Logger) (*App, error) {
	initCtx, initCancel := context.WithTimeout(ctx, 60*time.Second)
	defer initCancel()

	crypto, err := initCrypto(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing crypto: %w", err)
	}

	app := &App{
		cfg:    cfg,
		crypto: crypto,
		logger: logger,
		cancel: cancel,
	}

	if *ephemeral {
		app.repo = data.NewMockRepository()
	} else {
		app.db = database.NewService(&cfg.Database, "./sql/schema", logger)
		if err := app.db.Start(initCtx); err != nil {
			return nil, fmt.Errorf("starting database: %w", err)
		}
		app.repo = app.db.Repository()
	}

	app.engine = consensus.NewEngine(cfg, crypto, logger)

	app.sched = scheduler.NewScheduler(&cfg.Scheduler, logger)
	if err := scheduler.RegisterConsensusTasks(app.sched, app.engine); err != nil {
		app.stop(context.Background())
		return nil, fmt.Errorf("registering housekeeping tasks: %w", err)
	}
	app.sched.Start()

	// Relay consensus events into the durable event store
	utils.SafeGo(logger, func() { app.relayEvents(ctx) })

	logger.Info("All services started")
	return app, nil
}

// relayEvents drains the engine's event channel into the repository,
// persisting each event and upserting the entities it touched. Event ids make
// persistence idempotent, so a retried save never duplicates.
func (a *App) relayEvents(ctx context.Context) {
	archiver := consensus.NewArchiver(a.engine, a.repo, a.logger)
	for evt := range a.engine.Events() {
		evt := evt
		err := utils.RetryWithBackoff(ctx, func() error {
			saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return archiver.Apply(saveCtx, &evt)
		}, utils.DefaultRetryConfig())
		if err != nil {
			a.logger.Error("Failed to persist event",
				zap.String("event", evt.ID),
				zap.String("type", string(evt.Type)),
				zap.Error(err))
		}
	}
}

func (a *App) stop(ctx context.Context) {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.db != nil {
		if err := a.db.Stop(ctx); err != nil {
			a.logger.Error("Stopping database", zap.Error(err))
		}
	}
	a.logger.Info("All services stopped")
}

func setupGracefulShutdown(ctx context.Context, app *App, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		app.stop(shutdownCtx)
		app.cancel()
	}()
}

func initCrypto(cfg *config.Config, logger *zap.Logger) (*security.CryptoManager, error) {
	secret := os.Getenv("POC_NODE_SECRET")
	if secret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("POC_NODE_SECRET must be set outside development")
		}
		secret = "development-only-secret"
	}

	keyPair, err := security.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	crypto, err := security.NewCryptoManager(keyPair, []byte(secret), cfg.Security.TokenExpiry)
	if err != nil {
		return nil, err
	}

	keyFile := cfg.Security.KeyFile
	if keyFile == "" {
		keyFile = filepath.Join(*dataDir, "node.key")
	}
	if _, err := os.Stat(keyFile); err == nil {
		if err := crypto.LoadKeyFile(keyFile); err != nil {
			return nil, fmt.Errorf("loading key file: %w", err)
		}
		logger.Info("Loaded node key", zap.String("path", keyFile))
	} else {
		if err := crypto.SaveKeyFile(keyFile); err != nil {
			return nil, fmt.Errorf("saving key file: %w", err)
		}
		logger.Info("Generated node key", zap.String("path", keyFile))
	}

	return crypto, nil
}

func initLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	logCfg := utils.DefaultLogConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Debug = debug || cfg.IsDevelopment()
	return utils.NewLogger(logCfg)
}
