// Package metrics exposes Prometheus collectors for webhook
// authentication outcomes and runner lifecycle operations.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	webhookAuth      *prometheus.CounterVec
	bootstrapStep    *prometheus.HistogramVec
	provisionOutcome *prometheus.CounterVec
	teardownOutcome  *prometheus.CounterVec
)

// Bootstrap step names, matching the sequence numbering in the runner
// lifecycle controller.
const (
	StepAptUpdate      = "apt_update"
	StepAptInstall     = "apt_install"
	StepDockerDownload = "docker_download"
	StepDockerInstall  = "docker_install"
	StepRunnerDownload = "runner_download"
	StepUseradd        = "useradd"
	StepSudoers        = "sudoers"
	StepUsermod        = "usermod"
	StepMkdir          = "mkdir"
	StepChown          = "chown"
	StepUntar          = "untar"
	StepConfigure      = "configure"
	StepSvcInstall     = "svc_install"
	StepSvcStart       = "svc_start"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors. Used by tests
// to start from clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus
// exposition format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveWebhookAuth records the result of one authentication attempt:
// "accepted", "bad_signature_format", "no_match", or "non_utf8".
func ObserveWebhookAuth(result string) {
	label := sanitizeLabel(result, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if webhookAuth != nil {
		webhookAuth.WithLabelValues(label).Inc()
	}
}

// ObserveBootstrapStep records the duration of one bootstrap step.
func ObserveBootstrapStep(step string, d time.Duration) {
	label := sanitizeLabel(step, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if bootstrapStep != nil {
		bootstrapStep.WithLabelValues(label).Observe(durationSeconds(d))
	}
}

// ObserveProvision records the terminal outcome of one provision task:
// "success", "unhandleable", "token_request_failed",
// "provider_not_found", "provider_error", or "installation_failed".
func ObserveProvision(outcome string) {
	label := sanitizeLabel(outcome, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if provisionOutcome != nil {
		provisionOutcome.WithLabelValues(label).Inc()
	}
}

// ObserveTeardown records the terminal outcome of one teardown task:
// "success", "unhandleable", "not_found", or "provider_error".
func ObserveTeardown(outcome string) {
	label := sanitizeLabel(outcome, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if teardownOutcome != nil {
		teardownOutcome.WithLabelValues(label).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	auth := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "octoling",
		Subsystem: "webhook",
		Name:      "auth_total",
		Help:      "Total webhook authentication attempts by result.",
	}, []string{"result"})

	step := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "octoling",
		Subsystem: "controller",
		Name:      "bootstrap_step_duration_seconds",
		Help:      "Duration of individual bootstrap steps.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"step"})

	provision := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "octoling",
		Subsystem: "controller",
		Name:      "provision_total",
		Help:      "Total provision tasks by terminal outcome.",
	}, []string{"outcome"})

	teardown := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "octoling",
		Subsystem: "controller",
		Name:      "teardown_total",
		Help:      "Total teardown tasks by terminal outcome.",
	}, []string{"outcome"})

	registry.MustRegister(auth, step, provision, teardown)

	reg = registry
	webhookAuth = auth
	bootstrapStep = step
	provisionOutcome = provision
	teardownOutcome = teardown
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
