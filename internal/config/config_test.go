package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTOML = `
[[github]]
owner = "acme"
repository = "widgets"
api_token = "T"
webhook_secret = "shh"
enabled = true

[[provider]]
name = "lxc primary"
id = "lxc1"
type = "lxc"
enabled = true

[[image]]
name = "download:debian:bullseye:amd64"
id = "img1"
provider_id = "lxc1"
enabled = true
labels = ["linux-x64", "fast"]
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "octoling.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFrom_HappyPath(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	reg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	acc, ok := reg.FindAccount("acme", "widgets")
	if !ok {
		t.Fatalf("expected account to be found")
	}
	if acc.APIToken != "T" || acc.WebhookSecret != "shh" {
		t.Fatalf("unexpected account fields: %+v", acc)
	}
	if got := acc.RepoURL(); got != "https://github.com/acme/widgets/" {
		t.Fatalf("RepoURL = %q", got)
	}

	img, ok := reg.FindImageByLabel("fast")
	if !ok {
		t.Fatalf("expected image to be found by label fast")
	}
	if img.PrimaryLabel() != "linux-x64" {
		t.Fatalf("PrimaryLabel = %q, want linux-x64", img.PrimaryLabel())
	}
}

func TestFindAccount_UnknownRepo(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	reg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if _, ok := reg.FindAccount("other", "widgets"); ok {
		t.Fatalf("expected no account for unknown owner")
	}
}

func TestFindImageByLabel_OrderDefinesPriority(t *testing.T) {
	const toml = `
[[provider]]
id = "lxc1"
type = "lxc"
enabled = true

[[image]]
id = "first"
provider_id = "lxc1"
enabled = true
labels = ["B"]

[[image]]
id = "second"
provider_id = "lxc1"
enabled = true
labels = ["B", "C"]
`
	path := writeTemp(t, toml)
	reg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	img, ok := reg.FindImageByLabel("B")
	if !ok {
		t.Fatalf("expected a match for label B")
	}
	if img.ID != "first" {
		t.Fatalf("expected first-configured recipe to win, got %q", img.ID)
	}
}

func TestValidate_RejectsDanglingProviderID(t *testing.T) {
	const toml = `
[[image]]
id = "orphan"
provider_id = "missing"
enabled = true
labels = ["x"]
`
	path := writeTemp(t, toml)
	if _, err := LoadFrom(path); err == nil {
		t.Fatalf("expected Validate to reject an image with no matching provider")
	}
}

func TestValidate_RejectsEmptyLabels(t *testing.T) {
	const toml = `
[[provider]]
id = "lxc1"
type = "lxc"
enabled = true

[[image]]
id = "nolabels"
provider_id = "lxc1"
enabled = true
labels = []
`
	path := writeTemp(t, toml)
	if _, err := LoadFrom(path); err == nil {
		t.Fatalf("expected Validate to reject an image with empty labels")
	}
}

func TestLoad_MissingSectionsAreEmpty(t *testing.T) {
	path := writeTemp(t, "")
	reg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if len(reg.Accounts()) != 0 || len(reg.Providers()) != 0 {
		t.Fatalf("expected empty registry, got %+v", reg)
	}
}
