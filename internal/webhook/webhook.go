// Package webhook authenticates and dispatches inbound forge events,
// handing qualifying ones to the controller as background tasks
// without holding the HTTP connection open across provisioning.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/octoling/octoling/internal/config"
	"github.com/octoling/octoling/internal/forge"
	"github.com/octoling/octoling/internal/metrics"
	"github.com/octoling/octoling/pkg/octoling"
)

// maxBodySize bounds the webhook body before any HMAC work begins.
const maxBodySize = 1 * 1024 * 1024 // 1 MB

// Controller is the subset of controller.Controller the dispatcher
// needs, kept narrow so tests can supply a fake.
type Controller interface {
	Provision(ctx context.Context, event octoling.WorkflowJobEvent) error
	Teardown(ctx context.Context, event octoling.WorkflowJobEvent) error
}

// Handler serves GET /api/version and POST /_github/hook.
type Handler struct {
	Config     *config.Registry
	Controller Controller
	Logger     *slog.Logger
}

// New constructs a Handler.
func New(cfg *config.Registry, ctrl Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Config: cfg, Controller: ctrl, Logger: logger}
}

// ServeHTTP routes /api/version and /_github/hook.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/version":
		h.handleVersion(w, r)
	case "/_github/hook":
		h.handleHook(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(octoling.CurrentVersion)
}

func (h *Handler) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("X-Hub-Signature-256")
	digest, ok := forge.ParseSignatureHeader(sigHeader)
	if !ok {
		metrics.ObserveWebhookAuth("bad_signature_format")
		http.Error(w, "bad signature format", http.StatusBadRequest)
		return
	}

	_, authenticated := h.authenticate(body, digest)
	if !authenticated {
		h.Logger.Warn("SECURITY: signature mismatch against every configured account", "remote_addr", r.RemoteAddr)
		metrics.ObserveWebhookAuth("no_match")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !utf8.Valid(body) {
		metrics.ObserveWebhookAuth("non_utf8")
		http.Error(w, "body is not valid UTF-8", http.StatusInternalServerError)
		return
	}
	metrics.ObserveWebhookAuth("accepted")

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType != "workflow_job" {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
		return
	}

	var event octoling.WorkflowJobEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	switch event.WorkflowJob.Status {
	case octoling.StatusQueued:
		go h.runTask(event, h.Controller.Provision)
	case octoling.StatusCompleted:
		go h.runTask(event, h.Controller.Teardown)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (h *Handler) runTask(event octoling.WorkflowJobEvent, task func(context.Context, octoling.WorkflowJobEvent) error) {
	if err := task(context.Background(), event); err != nil {
		h.Logger.Error("background task failed", "job_id", event.WorkflowJob.ID, "error", err)
	}
}

// authenticate trial-verifies digest against every enabled account's
// webhook secret in configuration order, returning the first match.
// Disabled accounts are skipped.
func (h *Handler) authenticate(body, digest []byte) (config.ForgeAccount, bool) {
	for _, account := range h.Config.Accounts() {
		if !account.Enabled {
			continue
		}
		if forge.VerifyDigest([]byte(account.WebhookSecret), body, digest) {
			return account, true
		}
	}
	return config.ForgeAccount{}, false
}
