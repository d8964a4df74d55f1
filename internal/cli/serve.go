// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keyshard/internal/config"
	"github.com/jeremyhahn/go-keyshard/internal/rest"
	"github.com/jeremyhahn/go-keyshard/pkg/custody"
	"github.com/jeremyhahn/go-keyshard/pkg/health"
	"github.com/jeremyhahn/go-keyshard/pkg/logging"
	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
	"github.com/jeremyhahn/go-keyshard/pkg/ratelimit"
	"github.com/jeremyhahn/go-keyshard/pkg/storage"
	"github.com/jeremyhahn/go-keyshard/pkg/storage/file"
	"github.com/jeremyhahn/go-keyshard/pkg/storage/memory"
)

const resourceInterval = 15 * time.Second

func newServeCommand(settings *Settings, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP custody service",
		Long: `Run the HTTP API for splitting, combining and sealing files.

Configuration comes from --config, then KEYSHARD_* environment variables,
then the flags below.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.LoadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cmd, v, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, nil)
		},
	}

	f := cmd.Flags()
	f.String("host", "", "listen host (overrides server.host)")
	f.Int("port", 0, "listen port (overrides server.port)")
	f.String("storage", "", "storage backend: memory or file (overrides storage.backend)")
	f.String("data-dir", "", "data directory for the file backend (overrides storage.path)")
	_ = v.BindPFlag("serve.host", f.Lookup("host"))
	_ = v.BindPFlag("serve.port", f.Lookup("port"))
	_ = v.BindPFlag("serve.storage", f.Lookup("storage"))
	_ = v.BindPFlag("serve.data-dir", f.Lookup("data-dir"))
	return cmd
}

// applyServeFlags overlays explicitly set serve flags on the loaded config.
func applyServeFlags(cmd *cobra.Command, v *viper.Viper, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host = v.GetString("serve.host")
	}
	if f.Changed("port") {
		cfg.Server.Port = v.GetInt("serve.port")
	}
	if f.Changed("storage") {
		cfg.Storage.Backend = v.GetString("serve.storage")
	}
	if f.Changed("data-dir") {
		cfg.Storage.Path = v.GetString("serve.data-dir")
	}
}

// newStore opens the configured storage backend.
func newStore(cfg config.StorageConfig) (storage.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return memory.New(), nil
	case "file":
		return file.New(cfg.Path)
	default:
		return nil, fmt.Errorf("invalid storage backend: %s", cfg.Backend)
	}
}

// serve runs the service until ctx is done. A non-nil listener is used
// instead of binding the configured address.
func serve(ctx context.Context, cfg *config.Config, l net.Listener) error {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metrics.Enable()
		metricsPath = cfg.Metrics.Path
	} else {
		metrics.Disable()
	}

	store, err := newStore(cfg.Storage)
	if err != nil {
		return err
	}

	openLimiter := ratelimit.New(limiterConfig(ratelimit.Sensitive, cfg.RateLimit.Enabled, cfg.RateLimit.OpensPerMin, 0))
	defer openLimiter.Stop()

	vault, err := custody.New(store,
		custody.WithLogger(logger),
		custody.WithLimiter(openLimiter),
		custody.WithDefaults(cfg.Sharing.Shares, cfg.Sharing.Threshold, cfg.DefaultTTL()))
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() { logger.MaybeError("failed to close vault", vault.Close()) }()

	apiLimiter := ratelimit.New(limiterConfig(ratelimit.API, cfg.RateLimit.Enabled, cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst))
	defer apiLimiter.Stop()

	uploadLimiter := ratelimit.New(limiterConfig(ratelimit.Upload, cfg.RateLimit.Enabled, cfg.RateLimit.UploadsPerMin, 0))
	defer uploadLimiter.Stop()

	checker := health.NewChecker()
	checker.Register("storage", health.LatencyCheck(health.StorageCheck(store), time.Second))

	srv, err := rest.NewServer(&rest.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Vault:         vault,
		Health:        checker,
		Limiter:       apiLimiter,
		UploadLimiter: uploadLimiter,
		Logger:        logger,
		Version:       Version,
		MetricsPath:   metricsPath,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Enabled {
		collector := metrics.StartResourceCollector(runCtx, resourceInterval)
		defer collector.Stop()
	}
	if cfg.Custody.PurgeInterval > 0 {
		go vault.RunPurger(runCtx, cfg.Custody.PurgeInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if l != nil {
			errCh <- srv.Serve(l)
			return
		}
		errCh <- srv.Start()
	}()

	checker.MarkStarted()
	logger.Info("keyshard started",
		"version", Version,
		"storage", cfg.Storage.Backend,
		"shares", cfg.Sharing.Shares,
		"threshold", cfg.Sharing.Threshold)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return errors.New("server stopped unexpectedly")
	}

	checker.MarkNotStarted()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// limiterConfig copies preset, overriding the rate and burst when they are
// configured. Zero keeps the preset value.
func limiterConfig(preset ratelimit.Config, enabled bool, perMin, burst int) *ratelimit.Config {
	c := preset
	c.Enabled = enabled
	if perMin > 0 {
		c.RequestsPerMinute = perMin
	}
	if burst > 0 {
		c.Burst = burst
	}
	return &c
}
