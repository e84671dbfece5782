// Command octoling-reaper is a one-shot sweep for runner containers
// left behind by a crashed or interrupted provision/teardown: a
// shutdown signal during bootstrap has no cancellation path (background
// provision tasks run on their own context), so containers can outlive
// their job.
// Meant to be invoked from cron.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/octoling/octoling/internal/config"
	"github.com/octoling/octoling/internal/provider"
	"github.com/octoling/octoling/internal/provider/droplet"
)

func main() {
	reg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	maxAge := 60 * time.Minute
	if v := os.Getenv("REAPER_MAX_AGE_MINUTES"); v != "" {
		if minutes, err := time.ParseDuration(v + "m"); err == nil {
			maxAge = minutes
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	total := 0
	for _, rec := range reg.Providers() {
		if !rec.Enabled {
			continue
		}
		backend, lister, err := buildListable(rec)
		if err != nil {
			log.Printf("provider %s: %v", rec.ID, err)
			continue
		}
		if lister == nil {
			continue
		}
		n, err := sweep(ctx, backend, lister, maxAge)
		if err != nil {
			log.Printf("provider %s: sweep failed: %v", rec.ID, err)
			continue
		}
		total += n
	}

	log.Printf("reaper complete: destroyed %d stale runner containers", total)
}

// buildListable constructs the backend for rec and returns it alongside
// its Lister capability, or a nil Lister if the backend kind does not
// support enumeration (lxcshell does not: there is no cheap way to ask
// the lxc-* tools for container creation timestamps in bulk).
func buildListable(rec config.ProviderRecipe) (provider.Provider, provider.Lister, error) {
	switch rec.BackendKind {
	case "droplet", "digitalocean":
		token := os.Getenv("DIGITALOCEAN_TOKEN")
		if token == "" {
			return nil, nil, nil
		}
		backend := droplet.New(droplet.Config{Token: token})
		return backend, backend, nil
	default:
		return nil, nil, nil
	}
}

func sweep(ctx context.Context, backend provider.Provider, lister provider.Lister, maxAge time.Duration) (int, error) {
	runners, err := lister.ListRunnerIDs(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	destroyed := 0
	for runnerID, createdAt := range runners {
		if time.Unix(createdAt.Unix(), 0).After(cutoff) {
			continue
		}
		if err := backend.Destroy(ctx, runnerID); err != nil {
			log.Printf("destroy %s: %v", runnerID, err)
			continue
		}
		destroyed++
	}
	return destroyed, nil
}
