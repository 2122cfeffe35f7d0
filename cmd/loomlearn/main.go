package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordanhubbard/loomlearn/internal/api"
	"github.com/jordanhubbard/loomlearn/internal/cache"
	"github.com/jordanhubbard/loomlearn/internal/executor"
	"github.com/jordanhubbard/loomlearn/internal/learning"
	"github.com/jordanhubbard/loomlearn/internal/messagebus"
	"github.com/jordanhubbard/loomlearn/internal/storage"
	"github.com/jordanhubbard/loomlearn/internal/telemetry"
	"github.com/jordanhubbard/loomlearn/pkg/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	api.Version = version

	rootCmd := &cobra.Command{
		Use:   "loomlearn",
		Short: "Continuous learning loop for agent telemetry",
		Long: `loomlearn ingests per-agent performance telemetry, detects recurring patterns,
adapts per-agent behavior under cooldowns and caps, and scores decisions.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newProgressCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newTickCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the learning loop and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config.yaml]",
		Short: "Check a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadConfigFromFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}

// loadConfig reads path, falling back to the defaults when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Config file %s not found, using defaults", path)
		return config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, nil
}

func serve(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry
	if cfg.Telemetry.Enabled {
		endpoint := cfg.Telemetry.Endpoint
		if env := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); env != "" {
			endpoint = env
		}
		shutdownTelemetry, err := telemetry.InitTelemetry(runCtx, cfg.Telemetry.ServiceName, endpoint)
		if err != nil {
			log.Printf("Warning: Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	store, err := storage.Open(runCtx, cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Database.Type, err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	opts := []learning.Option{
		learning.WithStorage(store),
		learning.WithCacheConfig(&cache.Config{
			Enabled:       cfg.Cache.Enabled,
			DefaultTTL:    cfg.Cache.DefaultTTL,
			MaxSize:       cfg.Cache.MaxSize,
			CleanupPeriod: cfg.Cache.CleanupPeriod,
		}),
	}

	var bus *messagebus.NatsMessageBus
	if cfg.NATS.Enabled {
		bus, err = messagebus.NewNatsMessageBus(messagebus.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
			Timeout:    cfg.NATS.Timeout,
		})
		if err != nil {
			if cfg.Learning.Executor == "nats" {
				return fmt.Errorf("nats executor configured but bus unavailable: %w", err)
			}
			log.Printf("Warning: NATS unavailable, events will not be published: %v", err)
		} else {
			defer bus.Close()
			opts = append(opts, learning.WithPublisher(bus))
			if cfg.Learning.Executor == "nats" {
				opts = append(opts, learning.WithExecutor(executor.NewNatsExecutor(bus, cfg.Learning.ExecutorTimeout)))
			}
		}
	}

	coord, err := learning.New(cfg.Learning, opts...)
	if err != nil {
		return fmt.Errorf("failed to create learning coordinator: %w", err)
	}
	if err := coord.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start learning coordinator: %w", err)
	}

	if cfg.HotReload.Enabled {
		go func() {
			err := config.Watch(runCtx, configPath, cfg.HotReload.Debounce, func(next *config.Config) {
				if err := coord.ConfigureLearning(runCtx, next.Learning.Params); err != nil {
					log.Printf("[Config] Reload rejected: %v", err)
					return
				}
				log.Printf("[Config] Reloaded learning params from %s", configPath)
			})
			if err != nil {
				log.Printf("[Config] Hot reload stopped: %v", err)
			}
		}()
	}

	apiServer := api.NewServer(coord, cfg)
	if bus != nil {
		apiServer.SetEventBus(bus)
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      apiServer.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("loomlearn API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-serveErr:
		log.Printf("http server error: %v", err)
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Learning.ShutdownTimeout+5*time.Second)
	defer stop()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	return coord.Stop(shutdownCtx)
}
