package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/larkflow/internal/config"
	"github.com/user/larkflow/internal/dedup"
	"github.com/user/larkflow/internal/gateway"
	"github.com/user/larkflow/internal/image"
	"github.com/user/larkflow/internal/lark"
	"github.com/user/larkflow/internal/relay"
	"github.com/user/larkflow/internal/webhook"
	"github.com/user/larkflow/pkg/flowise"
)

const (
	pidFileName     = "larkflow.pid"
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func openDedup(cfg *config.Config) (dedup.Store, error) {
	ttl := time.Duration(cfg.Dedup.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	if cfg.Dedup.Backend == "sqlite" {
		store, err := dedup.NewSQLite(cfg.DedupPath(), ttl)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return dedup.NewMemory(ttl), nil
}

func newRelay(cfg *config.Config) (*relay.Relay, error) {
	messenger := lark.New(lark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
	})
	backend := flowise.New(&flowise.Config{
		URL:     cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: seconds(cfg.Backend.TimeoutSeconds),
	})

	uploader, err := image.New(image.Config{
		Mode:         cfg.Image.Mode,
		RetrievalURL: cfg.Image.RetrievalURL,
		UploadURL:    cfg.Image.UploadURL,
		Token:        cfg.Image.UploadToken,
		Timeout:      seconds(cfg.Image.TimeoutSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("create image uploader: %w", err)
	}

	opts := []relay.Option{relay.WithImages(uploader, cfg.Image.SourceURL)}
	if cfg.Backend.MaxQuestionTokens > 0 {
		budget, err := relay.NewBudget(cfg.Backend.Encoding, cfg.Backend.MaxQuestionTokens)
		if err != nil {
			slog.Warn("question budget disabled", "encoding", cfg.Backend.Encoding, "error", err)
		} else {
			opts = append(opts, relay.WithBudget(budget))
		}
	}
	return relay.New(messenger, backend, opts...), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if check := config.ValidateApp(cfg.Lark.AppID, cfg.Lark.AppSecret); check.Code != 0 {
		slog.Warn("lark app not configured", "reason", check.Message)
	}
	if cfg.Backend.URL == "" {
		slog.Warn("backend url not configured, questions will fail")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	seen, err := openDedup(cfg)
	if err != nil {
		return fmt.Errorf("open dedup store: %w", err)
	}
	defer seen.Close()

	rl, err := newRelay(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handler webhook.Handler = rl
	var gw *gateway.Gateway
	if cfg.Dispatch.Async {
		gw = gateway.New(rl, int64(cfg.Dispatch.MaxConcurrent))
		gw.Start(ctx)
		handler = gw
	}

	srv := webhook.NewServer(webhook.Credentials{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
	}, seen, handler)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTP.Port)),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("larkflow started",
		"port", cfg.HTTP.Port,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"image_mode", cfg.Image.Mode,
		"dedup", cfg.Dedup.Backend,
		"async", cfg.Dispatch.Async,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-serveErr:
			return fmt.Errorf("http server: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				shutdown(httpServer, gw)
				seen.Close()
				os.Remove(pidPath)
				execPath, err := os.Executable()
				if err == nil {
					err = syscall.Exec(execPath, os.Args, os.Environ())
				}
				// Exec only returns on failure; the listener is gone, so exit.
				return fmt.Errorf("re-exec: %w", err)
			}
			slog.Info("shutting down", "signal", sig)
			shutdown(httpServer, gw)
			return nil
		}
	}
}

// shutdown stops accepting requests, then lets queued jobs finish.
func shutdown(httpServer *http.Server, gw *gateway.Gateway) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if gw == nil {
		return
	}
	if !gw.Queue.WaitIdle(drainTimeout) {
		slog.Warn("queue still busy at shutdown")
	}
	gw.Stop()
}
