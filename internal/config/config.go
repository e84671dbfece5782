// Package config loads the process-wide registry of forge accounts,
// provider recipes, and image recipes from a TOML descriptor file. The
// registry is read once at startup and never mutated afterward.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ForgeAccount is one configured repository binding: the credentials
// and webhook secret for a single (owner, repo) pair.
type ForgeAccount struct {
	Owner         string `toml:"owner"`
	Repository    string `toml:"repository"`
	APIToken      string `toml:"api_token"`
	WebhookSecret string `toml:"webhook_secret"`
	Enabled       bool   `toml:"enabled"`
}

// RepoURL returns the forge-hosted URL for this account's repository.
func (a ForgeAccount) RepoURL() string {
	return fmt.Sprintf("https://github.com/%s/%s/", a.Owner, a.Repository)
}

// ProviderRecipe is one configured backend instance.
type ProviderRecipe struct {
	Name        string `toml:"name"`
	ID          string `toml:"id"`
	BackendKind string `toml:"type"`
	Enabled     bool   `toml:"enabled"`
}

// ImageRecipe is a provisioning template: a container spec paired with
// the job labels it satisfies.
type ImageRecipe struct {
	Name       string   `toml:"name"`
	ID         string   `toml:"id"`
	ProviderID string   `toml:"provider_id"`
	Enabled    bool     `toml:"enabled"`
	Labels     []string `toml:"labels"`
}

// PrimaryLabel is the first entry of Labels, appended to the runner's
// forge-side label set during bootstrap. Callers must not call this on
// a recipe with empty Labels; Validate rejects those at load time.
func (r ImageRecipe) PrimaryLabel() string {
	return r.Labels[0]
}

// file is the on-disk shape of the three array tables.
type file struct {
	GitHub   []ForgeAccount   `toml:"github"`
	Provider []ProviderRecipe `toml:"provider"`
	Image    []ImageRecipe    `toml:"image"`
}

// Registry is the immutable, process-wide set of configured accounts,
// providers, and images. All lookups are pure and safe for concurrent
// use without locking.
type Registry struct {
	accounts  []ForgeAccount
	providers []ProviderRecipe
	images    []ImageRecipe
}

// Load reads the descriptor named by $CONFIG_FILE, defaulting to
// "octoling.toml" in the current directory, and returns a validated
// Registry. Any load or validation failure is returned as an error so
// callers can abort startup; decode failures are wrapped with the path.
func Load() (*Registry, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "octoling.toml"
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the descriptor at path.
func LoadFrom(path string) (*Registry, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	reg := &Registry{
		accounts:  f.GitHub,
		providers: f.Provider,
		images:    f.Image,
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Validate checks the cross-references the loader doesn't enforce by
// construction: every enabled image recipe must name a non-empty
// labels list and resolve to a configured provider recipe.
func (r *Registry) Validate() error {
	providerByID := make(map[string]ProviderRecipe, len(r.providers))
	for _, p := range r.providers {
		providerByID[p.ID] = p
	}
	for _, img := range r.images {
		if !img.Enabled {
			continue
		}
		if len(img.Labels) == 0 {
			return fmt.Errorf("config: image %q has no labels", img.ID)
		}
		p, ok := providerByID[img.ProviderID]
		if !ok {
			return fmt.Errorf("config: image %q references unknown provider %q", img.ID, img.ProviderID)
		}
		if !p.Enabled {
			return fmt.Errorf("config: image %q references disabled provider %q", img.ID, img.ProviderID)
		}
	}
	return nil
}

// FindAccount returns the enabled account configured for (owner, repo),
// or ok=false if none matches. Linear scan in configuration order.
func (r *Registry) FindAccount(owner, repo string) (ForgeAccount, bool) {
	for _, a := range r.accounts {
		if a.Enabled && a.Owner == owner && a.Repository == repo {
			return a, true
		}
	}
	return ForgeAccount{}, false
}

// FindImageByLabel returns the first enabled image recipe whose Labels
// contains label, in configuration order, or ok=false if none matches.
func (r *Registry) FindImageByLabel(label string) (ImageRecipe, bool) {
	for _, img := range r.images {
		if !img.Enabled {
			continue
		}
		for _, l := range img.Labels {
			if l == label {
				return img, true
			}
		}
	}
	return ImageRecipe{}, false
}

// FindProvider returns the enabled provider recipe with the given id.
func (r *Registry) FindProvider(id string) (ProviderRecipe, bool) {
	for _, p := range r.providers {
		if p.Enabled && p.ID == id {
			return p, true
		}
	}
	return ProviderRecipe{}, false
}

// Accounts returns every configured account, enabled or not, in
// configuration order. Used by the webhook dispatcher to trial-verify
// HMAC signatures against the secrets of the enabled accounts.
func (r *Registry) Accounts() []ForgeAccount {
	return r.accounts
}

// Providers returns every configured provider recipe, in configuration
// order.
func (r *Registry) Providers() []ProviderRecipe {
	return r.providers
}
