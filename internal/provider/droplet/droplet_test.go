package droplet

import (
	"context"
	"errors"
	"testing"

	"github.com/octoling/octoling/internal/provider"
)

func TestCreate_RejectsEmptyImageSpec(t *testing.T) {
	b := New(Config{Token: "test-token"})
	_, err := b.Create(context.Background(), provider.ImageSpec{}, "octoling-acme-widgets-1")
	if !errors.Is(err, provider.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for an empty image_spec, got %v", err)
	}
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	got := shellQuote("runner's token")
	want := `'runner'\''s token'`
	if got != want {
		t.Fatalf("shellQuote(%q) = %q, want %q", "runner's token", got, want)
	}
}

func TestLockFor_ReturnsSameMutexForSameRunner(t *testing.T) {
	b := New(Config{Token: "test-token"})
	a := b.lockFor("octoling-acme-widgets-1")
	b2 := b.lockFor("octoling-acme-widgets-1")
	if a != b2 {
		t.Fatalf("expected lockFor to return the same mutex for the same runner id")
	}
	other := b.lockFor("octoling-acme-widgets-2")
	if a == other {
		t.Fatalf("expected lockFor to return distinct mutexes for distinct runner ids")
	}
}
