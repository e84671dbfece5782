package lxcshell

import (
	"context"
	"errors"
	"testing"

	"github.com/octoling/octoling/internal/provider"
)

func TestCreate_RejectsShortImageSpec(t *testing.T) {
	b := New()
	_, err := b.Create(context.Background(), provider.ImageSpec{ImageSpecString: "download:debian:bullseye"}, "octoling-acme-widgets-1")
	if !errors.Is(err, provider.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for a 3-field image_spec, got %v", err)
	}
}

func TestRun_RejectsEmptyArgv(t *testing.T) {
	h := &handle{backend: New(), runnerID: "octoling-acme-widgets-1"}
	_, err := h.Run(context.Background(), nil, provider.DefaultRunOptions())
	if !errors.Is(err, provider.ErrRunnerRunFailed) {
		t.Fatalf("expected ErrRunnerRunFailed for empty argv, got %v", err)
	}
}
