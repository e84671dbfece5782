// Package provider defines the uniform contract the controller drives
// against heterogeneous container backends: create, fetch, destroy a
// container, and start/stop/run commands inside one once it exists.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies why a backend call failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidImage
	KindRunnerCreationFailed
	KindRunnerNotFound
	KindRunnerDestructionFailed
	KindRunnerStartFailed
	KindRunnerStopFailed
	KindRunnerRunFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidImage:
		return "InvalidImage"
	case KindRunnerCreationFailed:
		return "RunnerCreationFailed"
	case KindRunnerNotFound:
		return "RunnerNotFound"
	case KindRunnerDestructionFailed:
		return "RunnerDestructionFailed"
	case KindRunnerStartFailed:
		return "RunnerStartFailed"
	case KindRunnerStopFailed:
		return "RunnerStopFailed"
	case KindRunnerRunFailed:
		return "RunnerRunFailed"
	default:
		return "Unknown"
	}
}

// Error is the error type every Provider and RunnerHandle method returns.
// It carries a Kind so callers can branch with errors.Is against the
// sentinels below, plus an optional wrapped cause for logging.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider: %s: %v", e.Kind, e.Cause)
	}
	if e.Reason != "" {
		return fmt.Sprintf("provider: %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("provider: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrRunnerNotFound) etc. work against a bare
// sentinel Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Sentinels for errors.Is comparisons against a bare Kind.
var (
	ErrInvalidImage            = &Error{Kind: KindInvalidImage}
	ErrRunnerCreationFailed    = &Error{Kind: KindRunnerCreationFailed}
	ErrRunnerNotFound          = &Error{Kind: KindRunnerNotFound}
	ErrRunnerDestructionFailed = &Error{Kind: KindRunnerDestructionFailed}
	ErrRunnerStartFailed       = &Error{Kind: KindRunnerStartFailed}
	ErrRunnerStopFailed        = &Error{Kind: KindRunnerStopFailed}
	ErrRunnerRunFailed         = &Error{Kind: KindRunnerRunFailed}
)

// InvalidImage wraps a malformed image_spec string.
func InvalidImage(reason string) error { return newErr(KindInvalidImage, reason, nil) }

// RunnerCreationFailed wraps a backend rejection of container creation.
func RunnerCreationFailed(cause error) error { return newErr(KindRunnerCreationFailed, "", cause) }

// RunnerNotFound reports that no container is defined for a runner id.
func RunnerNotFound() error { return newErr(KindRunnerNotFound, "", nil) }

// RunnerDestructionFailed wraps a failure to remove a container definition.
func RunnerDestructionFailed(cause error) error {
	return newErr(KindRunnerDestructionFailed, "", cause)
}

// RunnerStartFailed wraps a failure to bring a container to running state.
func RunnerStartFailed(cause error) error { return newErr(KindRunnerStartFailed, "", cause) }

// RunnerStopFailed wraps a failure to bring a container down.
func RunnerStopFailed(cause error) error { return newErr(KindRunnerStopFailed, "", cause) }

// RunnerRunFailed wraps a backend-level failure to even launch a command.
func RunnerRunFailed(cause error) error { return newErr(KindRunnerRunFailed, "", cause) }

// Unknown wraps any other backend failure.
func Unknown(cause error) error { return newErr(KindUnknown, "", cause) }

// IsNotFound reports whether err is (or wraps) a RunnerNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunnerNotFound)
}

// DefaultEnv is the minimal environment the controller's bootstrap
// commands run under when RunOptions.Env is nil; a non-nil Env replaces
// it as a whole.
func DefaultEnv() map[string]string {
	return map[string]string{
		"PATH":            "/sbin:/bin:/usr/sbin:/usr/bin:/usr/local/bin:/usr/local/sbin",
		"HOME":            "/",
		"DEBIAN_FRONTEND": "noninteractive",
	}
}

// RunOptions controls a single RunnerHandle.Run invocation.
type RunOptions struct {
	// Cwd is the initial working directory inside the container.
	Cwd string
	// Env replaces the container's environment entirely; a nil map
	// means DefaultEnv().
	Env map[string]string
	// Wait blocks until the command exits when true. The controller
	// always sets this to true; backends may support fire-and-forget
	// for other callers.
	Wait bool
}

// DefaultRunOptions returns the options the bootstrap sequence uses for
// every step that doesn't override Cwd.
func DefaultRunOptions() RunOptions {
	return RunOptions{Cwd: "/", Env: DefaultEnv(), Wait: true}
}

// RunnerHandle is an opaque, provider-owned reference to a live
// container. Created stopped by Provider.Create; a given runner_id has
// at most one handle in existence at a time.
type RunnerHandle interface {
	// ID returns a stable identifier for the container (may be the
	// runner_id or a backend-internal path).
	ID() string

	// Start brings the container to a running state. Idempotent: a
	// no-op success if already running.
	Start(ctx context.Context) error

	// Stop brings the container down. Idempotent: a no-op success if
	// already stopped.
	Stop(ctx context.Context) error

	// Run executes argv inside the container and returns its exit
	// code. A non-zero exit code is a value, not an error; only a
	// backend-level failure to launch the command returns an error
	// (RunnerRunFailed).
	Run(ctx context.Context, argv []string, opts RunOptions) (int, error)
}

// ImageSpec is the minimal information Provider.Create needs about the
// recipe: its raw image_spec string and the recipe identifier used for
// logging. Concrete backends parse ImageSpecString themselves (format is
// backend-specific; the string comes from config.ImageRecipe.Name).
type ImageSpec struct {
	ID              string
	ImageSpecString string
}

// Provider is a mutable, process-lifetime driver for one container
// technology. Implementations must serialise Create/Get/Destroy (and
// the handles' Start/Stop/Run) for a given runner_id, typically by
// holding an exclusive lock for the duration of each operation.
type Provider interface {
	// Create defines a new container under runner_id, not yet started.
	// Fails InvalidImage, RunnerCreationFailed, or Unknown. Must fail
	// if a container with that id is already defined.
	Create(ctx context.Context, image ImageSpec, runnerID string) (RunnerHandle, error)

	// Get returns a handle to an existing (possibly stopped) container.
	// Fails RunnerNotFound if undefined.
	Get(ctx context.Context, runnerID string) (RunnerHandle, error)

	// Destroy stops the container if running, then removes its
	// definition. Fails RunnerNotFound, RunnerStopFailed, or
	// RunnerDestructionFailed.
	Destroy(ctx context.Context, runnerID string) error
}

// Lister is an optional capability a Provider may implement to support
// the stale-runner reaper (cmd/octoling-reaper): enumerate runner ids
// with their creation times without needing a directory of
// runner_id -> provider. Filtering by age is left to the caller.
type Lister interface {
	// ListRunnerIDs returns the runner ids currently defined on this
	// backend, alongside their creation time.
	ListRunnerIDs(ctx context.Context) (map[string]CreatedAt, error)
}

// CreatedAt is a minimal timestamp wrapper to avoid importing time in
// this file's public surface beyond what Lister needs.
type CreatedAt = interface{ Unix() int64 }
