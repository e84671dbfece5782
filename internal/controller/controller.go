// Package controller bootstraps a freshly created container into a
// registered forge runner and tears it down on completion, searching
// across providers when the completing event doesn't say which one
// hosted the runner.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/octoling/octoling/internal/config"
	"github.com/octoling/octoling/internal/forge"
	"github.com/octoling/octoling/internal/metrics"
	"github.com/octoling/octoling/internal/provider"
	"github.com/octoling/octoling/pkg/octoling"
)

// TokenRequester mints a one-shot runner-registration token for a
// repository. Satisfied by forge.RequestRegistrationToken; overridable
// in tests.
type TokenRequester func(owner, repo, apiToken string) (string, error)

// Controller holds the config registry and the live provider set,
// threaded explicitly to handlers rather than modeled as process-wide
// singletons.
type Controller struct {
	Config        *config.Registry
	Providers     map[string]provider.Provider
	ProviderOrder []string

	// RequestToken mints registration tokens; defaults to
	// forge.RequestRegistrationToken.
	RequestToken TokenRequester

	// NetworkSettleDelay is the pause after Start before the bootstrap
	// sequence begins, letting in-container networking come up. Spec
	// names this as a known coarse wait (see design notes); defaults
	// to 5 seconds.
	NetworkSettleDelay time.Duration

	// BootstrapTimeout bounds one provision task end to end. Defaults
	// to 5 minutes.
	BootstrapTimeout time.Duration

	Logger *slog.Logger
}

// New constructs a Controller with the given config and provider set.
// providerOrder fixes the deterministic-per-process order the teardown
// scan walks providers in.
func New(cfg *config.Registry, providers map[string]provider.Provider, providerOrder []string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Config:             cfg,
		Providers:          providers,
		ProviderOrder:      providerOrder,
		RequestToken:       forge.RequestRegistrationToken,
		NetworkSettleDelay: 5 * time.Second,
		BootstrapTimeout:   5 * time.Minute,
		Logger:             logger,
	}
}

// RunnerID returns the deterministic runner_id for one job.
func RunnerID(owner, repo string, jobID int64) string {
	return fmt.Sprintf("octoling-%s-%s-%d", owner, repo, jobID)
}

func (c *Controller) logPrefix(jobID int64, owner, repo string) string {
	return fmt.Sprintf("octoling: Job #%d (%s/%s):", jobID, owner, repo)
}

// Provision drives a queued event through account/image lookup, token
// request, container creation, start, and the bootstrap sequence.
// Returns nil both on success and on conditions logged as
// "unhandleable" (unknown repo, no matching label) — those are not
// errors, just no-ops. A non-nil error is always one of the four
// controller.ErrorKind values.
func (c *Controller) Provision(ctx context.Context, event octoling.WorkflowJobEvent) error {
	owner := event.Repository.Owner.Login
	repo := event.Repository.Name
	jobID := event.WorkflowJob.ID
	prefix := c.logPrefix(jobID, owner, repo)

	account, ok := c.Config.FindAccount(owner, repo)
	if !ok {
		c.Logger.Info(prefix+" cannot be handled", "reason", "unknown repository")
		metrics.ObserveProvision("unhandleable")
		return nil
	}

	var recipe config.ImageRecipe
	var matched bool
	for _, label := range event.WorkflowJob.Labels {
		if r, found := c.Config.FindImageByLabel(label); found {
			recipe, matched = r, true
			break
		}
	}
	if !matched {
		c.Logger.Info(prefix+" cannot be handled", "reason", "no label matches a configured recipe")
		metrics.ObserveProvision("unhandleable")
		return nil
	}

	runnerID := RunnerID(owner, repo, jobID)
	ctx, cancel := context.WithTimeout(ctx, c.BootstrapTimeout)
	defer cancel()

	token, err := c.RequestToken(account.Owner, account.Repository, account.APIToken)
	if err != nil {
		c.Logger.Error(prefix+" token request failed", "error", err)
		metrics.ObserveProvision("token_request_failed")
		return TokenRequestFailed(err)
	}

	backend, ok := c.Providers[recipe.ProviderID]
	if !ok {
		c.Logger.Error(prefix+" provider not configured", "provider_id", recipe.ProviderID)
		metrics.ObserveProvision("provider_not_found")
		return ProviderNotFound(recipe.ProviderID)
	}

	image := provider.ImageSpec{ID: recipe.ID, ImageSpecString: recipe.Name}
	handle, err := backend.Create(ctx, image, runnerID)
	if err != nil {
		c.Logger.Error(prefix+" create failed", "error", err)
		metrics.ObserveProvision("provider_error")
		return ProviderErr(err)
	}

	if err := handle.Start(ctx); err != nil {
		c.Logger.Error(prefix+" start failed", "error", err)
		if destroyErr := backend.Destroy(ctx, runnerID); destroyErr != nil {
			c.Logger.Warn(prefix+" best-effort destroy after start failure also failed", "error", destroyErr)
		}
		metrics.ObserveProvision("provider_error")
		return ProviderErr(err)
	}

	select {
	case <-time.After(c.NetworkSettleDelay):
	case <-ctx.Done():
		return ProviderErr(provider.Unknown(ctx.Err()))
	}

	repoURL := account.RepoURL()
	steps := bootstrapSteps(repoURL, token, runnerID, recipe.PrimaryLabel())
	for _, step := range steps {
		start := time.Now()
		code, runErr := handle.Run(ctx, step.argv, step.opts)
		metrics.ObserveBootstrapStep(step.name, time.Since(start))
		if runErr != nil || code != 0 {
			c.Logger.Error(prefix+" bootstrap step failed", "step", step.name, "exit_code", code, "error", runErr)
			if stopErr := handle.Stop(ctx); stopErr != nil {
				c.Logger.Warn(prefix+" best-effort stop after bootstrap failure also failed", "error", stopErr)
			}
			if destroyErr := backend.Destroy(ctx, runnerID); destroyErr != nil {
				c.Logger.Warn(prefix+" best-effort destroy after bootstrap failure also failed", "error", destroyErr)
			}
			metrics.ObserveProvision("installation_failed")
			cause := runErr
			if cause == nil {
				cause = fmt.Errorf("step %s exited %d", step.name, code)
			}
			return InstallationFailed(cause)
		}
	}

	c.Logger.Info(prefix+" provisioned", "runner_id", runnerID, "labels", recipe.Labels)
	metrics.ObserveProvision("success")
	return nil
}

// Teardown drives a completed event through the cross-provider destroy
// search: the first provider to report anything other than
// RunnerNotFound ends the search.
func (c *Controller) Teardown(ctx context.Context, event octoling.WorkflowJobEvent) error {
	owner := event.Repository.Owner.Login
	repo := event.Repository.Name
	jobID := event.WorkflowJob.ID
	prefix := c.logPrefix(jobID, owner, repo)

	runnerName := event.WorkflowJob.RunnerName
	if runnerName == "" {
		c.Logger.Info(prefix+" cannot be handled", "reason", "no runner was assigned")
		metrics.ObserveTeardown("unhandleable")
		return nil
	}

	for _, id := range c.ProviderOrder {
		backend := c.Providers[id]
		err := backend.Destroy(ctx, runnerName)
		if err == nil {
			c.Logger.Info(prefix+" torn down", "runner_id", runnerName, "provider_id", id)
			metrics.ObserveTeardown("success")
			return nil
		}
		if provider.IsNotFound(err) {
			continue
		}
		c.Logger.Error(prefix+" teardown failed", "provider_id", id, "error", err)
		metrics.ObserveTeardown("provider_error")
		return ProviderErr(err)
	}

	c.Logger.Error(prefix+" teardown failed", "reason", "runner not found on any provider")
	metrics.ObserveTeardown("not_found")
	return ProviderErr(provider.RunnerNotFound())
}
