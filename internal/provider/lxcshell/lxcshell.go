// Package lxcshell implements the system-container reference backend
// by shelling out to the lxc-* command line tools rather than binding
// to liblxc directly.
package lxcshell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/octoling/octoling/internal/provider"
)

// Backend drives containers through the lxc-* CLI. A single Backend
// instance corresponds to one configured provider recipe; all
// operations for a given runner_id are serialised by mu, matching the
// "the provider backend must serialise create/start/run/stop/destroy"
// requirement (concurrent operations on different runner_ids still
// queue behind the same lock, since the lxc-* tools have no per-
// container exclusivity of their own to rely on).
type Backend struct {
	mu      sync.Mutex
	LXCPath string // directory passed to -P; empty means the lxc-* default
}

// New constructs a Backend using the system's default LXC container
// path.
func New() *Backend {
	return &Backend{}
}

type handle struct {
	backend  *Backend
	runnerID string
}

func (b *Backend) args(extra ...string) []string {
	if b.LXCPath == "" {
		return extra
	}
	out := make([]string, 0, len(extra)+2)
	out = append(out, "-P", b.LXCPath)
	out = append(out, extra...)
	return out
}

func (b *Backend) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func (b *Backend) defined(ctx context.Context, runnerID string) (bool, error) {
	out, err := b.run(ctx, "lxc-info", b.args("-n", runnerID)...)
	if err != nil {
		if strings.Contains(out, "does not exist") || strings.Contains(out, "No such") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Create defines a new container from a colon-delimited image_spec
// "template:dist:release:arch[:...]" (at least 4 tokens).
func (b *Backend) Create(ctx context.Context, image provider.ImageSpec, runnerID string) (provider.RunnerHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parts := strings.Split(image.ImageSpecString, ":")
	if len(parts) < 4 {
		return nil, provider.InvalidImage(fmt.Sprintf("image_spec %q has fewer than 4 colon-delimited fields", image.ImageSpecString))
	}
	template, dist, release, arch := parts[0], parts[1], parts[2], parts[3]

	if ok, err := b.defined(ctx, runnerID); err != nil {
		return nil, provider.Unknown(err)
	} else if ok {
		return nil, provider.RunnerCreationFailed(fmt.Errorf("container %s already defined", runnerID))
	}

	args := b.args("-n", runnerID, "-t", template, "--",
		"--dist", dist, "--release", release, "--arch", arch)
	if out, err := b.run(ctx, "lxc-create", args...); err != nil {
		return nil, provider.RunnerCreationFailed(fmt.Errorf("lxc-create: %w: %s", err, out))
	}

	return &handle{backend: b, runnerID: runnerID}, nil
}

// Get returns a handle to an existing container.
func (b *Backend) Get(ctx context.Context, runnerID string) (provider.RunnerHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ok, err := b.defined(ctx, runnerID)
	if err != nil {
		return nil, provider.Unknown(err)
	}
	if !ok {
		return nil, provider.RunnerNotFound()
	}
	return &handle{backend: b, runnerID: runnerID}, nil
}

// Destroy stops the container if running, then removes its definition.
func (b *Backend) Destroy(ctx context.Context, runnerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ok, err := b.defined(ctx, runnerID)
	if err != nil {
		return provider.Unknown(err)
	}
	if !ok {
		return provider.RunnerNotFound()
	}

	if out, err := b.run(ctx, "lxc-stop", b.args("-n", runnerID)...); err != nil && !strings.Contains(out, "not running") {
		return provider.RunnerStopFailed(fmt.Errorf("lxc-stop: %w: %s", err, out))
	}
	if out, err := b.run(ctx, "lxc-destroy", b.args("-n", runnerID)...); err != nil {
		return provider.RunnerDestructionFailed(fmt.Errorf("lxc-destroy: %w: %s", err, out))
	}
	return nil
}

func (h *handle) ID() string { return h.runnerID }

// Start boots the container with systemd-style init as PID 1 so the
// runner's svc.sh unit management works. Idempotent: a running
// container is a no-op success.
func (h *handle) Start(ctx context.Context) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()

	out, err := h.backend.run(ctx, "lxc-info", h.backend.args("-n", h.runnerID, "-s")...)
	if err == nil && strings.Contains(out, "RUNNING") {
		return nil
	}

	args := h.backend.args("-n", h.runnerID, "-d", "--", "/sbin/init")
	if out, err := h.backend.run(ctx, "lxc-start", args...); err != nil {
		return provider.RunnerStartFailed(fmt.Errorf("lxc-start: %w: %s", err, out))
	}
	return nil
}

// Stop brings the container down. Idempotent: a stopped container is a
// no-op success.
func (h *handle) Stop(ctx context.Context) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()

	out, err := h.backend.run(ctx, "lxc-stop", h.backend.args("-n", h.runnerID)...)
	if err != nil && !strings.Contains(out, "not running") {
		return provider.RunnerStopFailed(fmt.Errorf("lxc-stop: %w: %s", err, out))
	}
	return nil
}

// Run attaches argv inside the container with a cleared environment
// augmented by opts.Env and cwd opts.Cwd, returning its exit code.
func (h *handle) Run(ctx context.Context, argv []string, opts provider.RunOptions) (int, error) {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()

	if len(argv) == 0 {
		return -1, provider.RunnerRunFailed(fmt.Errorf("empty argv"))
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = "/"
	}
	env := opts.Env
	if env == nil {
		env = provider.DefaultEnv()
	}

	args := h.backend.args("-n", h.runnerID, "--clear-env", "--cwd", cwd)
	for k, v := range env {
		args = append(args, "--set-var", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, "--", argv[0])
	args = append(args, argv[1:]...)

	cmd := exec.CommandContext(ctx, "lxc-attach", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, provider.RunnerRunFailed(fmt.Errorf("lxc-attach: %w: %s", err, out.String()))
}
