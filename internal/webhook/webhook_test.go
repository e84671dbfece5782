package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/octoling/octoling/internal/config"
	"github.com/octoling/octoling/pkg/octoling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleTOML = `
[[github]]
owner = "acme"
repository = "widgets"
api_token = "T"
webhook_secret = "shh"
enabled = true
`

func testRegistry(t *testing.T) *config.Registry {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/octoling.toml"
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	reg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return reg
}

// fakeController records calls made by the dispatcher.
type fakeController struct {
	mu         sync.Mutex
	provisions []octoling.WorkflowJobEvent
	teardowns  []octoling.WorkflowJobEvent
	done       chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{done: make(chan struct{}, 10)}
}

func (f *fakeController) Provision(ctx context.Context, event octoling.WorkflowJobEvent) error {
	f.mu.Lock()
	f.provisions = append(f.provisions, event)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeController) Teardown(ctx context.Context, event octoling.WorkflowJobEvent) error {
	f.mu.Lock()
	f.teardowns = append(f.teardowns, event)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func waitForTask(t *testing.T, f *fakeController) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for background task")
	}
}

func TestServeHTTP_HappyPath(t *testing.T) {
	reg := testRegistry(t)
	ctrl := newFakeController()
	h := New(reg, ctrl, discardLogger())

	body := `{"action":"queued","workflow_job":{"id":42,"status":"queued","labels":["fast"]},"repository":{"name":"widgets","owner":{"login":"acme"}}}`
	req := httptest.NewRequest(http.MethodPost, "/_github/hook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "workflow_job")
	req.Header.Set("X-Hub-Signature-256", sign("shh", body))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	waitForTask(t, ctrl)
	if len(ctrl.provisions) != 1 {
		t.Fatalf("expected exactly one provision call, got %d", len(ctrl.provisions))
	}
}

func TestServeHTTP_BadSignature(t *testing.T) {
	reg := testRegistry(t)
	ctrl := newFakeController()
	h := New(reg, ctrl, discardLogger())

	body := `{"action":"queued","workflow_job":{"id":42,"status":"queued","labels":["fast"]},"repository":{"name":"widgets","owner":{"login":"acme"}}}`
	req := httptest.NewRequest(http.MethodPost, "/_github/hook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "workflow_job")
	req.Header.Set("X-Hub-Signature-256", "sha256="+strings.Repeat("0", 64))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(ctrl.provisions) != 0 {
		t.Fatalf("expected no side effects on bad signature")
	}
}

func TestServeHTTP_SignatureHeaderWrongLength(t *testing.T) {
	reg := testRegistry(t)
	ctrl := newFakeController()
	h := New(reg, ctrl, discardLogger())

	body := `{}`
	req := httptest.NewRequest(http.MethodPost, "/_github/hook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "workflow_job")
	req.Header.Set("X-Hub-Signature-256", "sha256=tooshort")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed signature length, got %d", w.Code)
	}
}

func TestServeHTTP_MissingPrefix(t *testing.T) {
	reg := testRegistry(t)
	ctrl := newFakeController()
	h := New(reg, ctrl, discardLogger())

	body := `{}`
	req := httptest.NewRequest(http.MethodPost, "/_github/hook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "workflow_job")
	req.Header.Set("X-Hub-Signature-256", strings.Repeat("a", 64))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing sha256= prefix, got %d", w.Code)
	}
}

func TestServeHTTP_ValidSignatureBadJSON(t *testing.T) {
	reg := testRegistry(t)
	ctrl := newFakeController()
	h := New(reg, ctrl, discardLogger())

	body := `not json`
	req := httptest.NewRequest(http.MethodPost, "/_github/hook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "workflow_job")
	req.Header.Set("X-Hub-Signature-256", sign("shh", body))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unparseable JSON, got %d", w.Code)
	}
}

func TestServeHTTP_NonWorkflowJobEventIgnored(t *testing.T) {
	reg := testRegistry(t)
	ctrl := newFakeController()
	h := New(reg, ctrl, discardLogger())

	body := `{"zen":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/_github/hook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "ping")
	req.Header.Set("X-Hub-Signature-256", sign("shh", body))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignored event type, got %d", w.Code)
	}
	if len(ctrl.provisions) != 0 || len(ctrl.teardowns) != 0 {
		t.Fatalf("expected no dispatch for a non-workflow_job event")
	}
}

func TestHandleVersion(t *testing.T) {
	reg := testRegistry(t)
	ctrl := newFakeController()
	h := New(reg, ctrl, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got octoling.VersionResponse
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ServerVersion != "1.0.0" || len(got.APIVersions) != 1 || got.APIVersions[0] != "v0" {
		t.Fatalf("unexpected version response: %+v", got)
	}
}
