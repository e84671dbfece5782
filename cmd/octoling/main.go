// Command octoling runs the webhook dispatcher and runner lifecycle
// controller as one process listening on 127.0.0.1:8000.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/octoling/octoling/internal/config"
	"github.com/octoling/octoling/internal/controller"
	"github.com/octoling/octoling/internal/logging"
	"github.com/octoling/octoling/internal/metrics"
	"github.com/octoling/octoling/internal/provider"
	"github.com/octoling/octoling/internal/provider/droplet"
	"github.com/octoling/octoling/internal/provider/lxcshell"
	"github.com/octoling/octoling/internal/webhook"
)

func main() {
	logger := logging.New(envOrDefault("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	reg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	providers, order, err := buildProviders(reg)
	if err != nil {
		logger.Error("failed to build provider backends", "error", err)
		os.Exit(1)
	}

	ctrl := controller.New(reg, providers, order, logger)
	handler := webhook.New(reg, ctrl, logger)

	mux := http.NewServeMux()
	mux.Handle("/_github/hook", handler)
	mux.Handle("/api/version", handler)
	mux.Handle("/metrics", metrics.Handler())

	listenAddr := envOrDefault("LISTEN_ADDR", "127.0.0.1:8000")
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("octoling listening", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exited")
}

// buildProviders constructs one backend per enabled provider recipe,
// keyed by recipe id, plus the deterministic-per-process order the
// teardown scan walks them in (configuration order).
func buildProviders(reg *config.Registry) (map[string]provider.Provider, []string, error) {
	providers := make(map[string]provider.Provider)
	var order []string

	for _, rec := range reg.Providers() {
		if !rec.Enabled {
			continue
		}
		switch rec.BackendKind {
		case "lxc":
			providers[rec.ID] = lxcshell.New()
		case "droplet", "digitalocean":
			backend, err := buildDropletBackend()
			if err != nil {
				return nil, nil, err
			}
			providers[rec.ID] = backend
		default:
			continue
		}
		order = append(order, rec.ID)
	}
	return providers, order, nil
}

func buildDropletBackend() (*droplet.Backend, error) {
	token := mustEnv("DIGITALOCEAN_TOKEN")

	var signer ssh.Signer
	if keyPath := os.Getenv("DO_SSH_PRIVATE_KEY_FILE"); keyPath != "" {
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, err
		}
		s, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, err
		}
		signer = s
	}

	var fingerprints []string
	if fp := os.Getenv("DO_SSH_FINGERPRINTS"); fp != "" {
		fingerprints = strings.Split(fp, ",")
	}

	return droplet.New(droplet.Config{
		Token:           token,
		Region:          envOrDefault("DO_REGION", "nyc3"),
		Size:            envOrDefault("DO_SIZE", "s-1vcpu-2gb"),
		SSHFingerprints: fingerprints,
		SSHSigner:       signer,
		SSHUser:         envOrDefault("DO_SSH_USER", "root"),
	}), nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Default().Error("required environment variable not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
