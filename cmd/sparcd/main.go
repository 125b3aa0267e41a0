package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nih-sparc/sparc-client-go/internal/api"
	"github.com/nih-sparc/sparc-client-go/internal/client"
	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/database"
	"github.com/nih-sparc/sparc-client-go/internal/logging"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

const lastProfileSetting = "last_profile"

func main() {
	configPath := flag.String("config", config.DefaultDaemonConfig, "path to daemon config file")
	showVersion := flag.Bool("version", false, "show version and exit")
	generateConfig := flag.Bool("generate-config", false, "generate default config and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sparcd %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if *generateConfig {
		if err := config.WriteDefaultDaemon(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config written to: %s\n", config.ExpandPath(*configPath))
		os.Exit(0)
	}

	cfg, err := config.LoadDaemon(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, closer, err := logging.New(logging.FromConfig(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(log)

	if err := run(cfg, log.With("component", "main")); err != nil {
		log.Error("sparcd failed", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.DaemonConfig, logger *slog.Logger) error {
	logger.Info("starting sparcd", "version", Version, "bind", cfg.Server.Bind)

	db, err := database.Open(config.ExpandPath(cfg.Database.Path))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(ctx, config.ExpandPath(cfg.Client.ConfigFile),
		client.WithConnect(cfg.Client.Connect),
		client.WithConnectConcurrency(cfg.Client.ConnectConcurrency),
		client.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	defer func() {
		for _, r := range c.Registrations() {
			if err := r.Service.Close(); err != nil {
				logger.Warn("error closing service", "service", r.Name, "error", err)
			}
		}
	}()

	if last, err := database.GetSetting(db, lastProfileSetting); err == nil && last != "" && last != c.Profile() {
		logger.Info("profile changed since last start", "previous", last, "current", c.Profile())
	}
	if err := database.SetSetting(db, lastProfileSetting, c.Profile()); err != nil {
		logger.Warn("failed to persist profile", "error", err)
	}

	if cfg.Server.AuthToken == "" {
		logger.Warn("no auth token configured, API is unauthenticated")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		api.RequestID(),
		api.CORS(cfg.Server.CORSOrigins),
		api.NewTokenValidator(cfg.Server.AuthToken).Middleware(),
	)
	gw := api.NewGateway(c, database.NewJobs(db), slog.Default()).
		UseLimiter(api.NewLimiter(cfg.Server.MaxConcurrentRequests, cfg.Server.QueueTimeout.Duration))
	api.SetupRoutes(r, gw)

	server := &http.Server{
		Addr:         cfg.Server.Bind,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // downloads and job submission can be slow
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Bind, "profile", c.Profile())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("sparcd stopped")
	return nil
}
