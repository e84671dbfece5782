package controller

import (
	"errors"
	"fmt"

	"github.com/octoling/octoling/internal/provider"
)

// Error is the error type Provision and Teardown return. It carries a
// Kind distinguishing the four controller-level failure modes from
// spec, wrapping a provider.Error for the Provider case.
type Error struct {
	Kind  ErrorKind
	Cause error
}

// ErrorKind enumerates controller-level failures.
type ErrorKind int

const (
	KindProviderNotFound ErrorKind = iota
	KindProvider
	KindTokenRequestFailed
	KindInstallationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindProviderNotFound:
		return "ProviderNotFound"
	case KindProvider:
		return "Provider"
	case KindTokenRequestFailed:
		return "TokenRequestFailed"
	case KindInstallationFailed:
		return "InstallationFailed"
	default:
		return "Unknown"
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("controller: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("controller: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrProviderNotFound reports that an image recipe names a provider_id
// with no corresponding configured, enabled provider.
var ErrProviderNotFound = &Error{Kind: KindProviderNotFound}

// ProviderNotFound wraps ErrProviderNotFound with the offending id.
func ProviderNotFound(providerID string) error {
	return &Error{Kind: KindProviderNotFound, Cause: fmt.Errorf("provider %q not configured", providerID)}
}

// ProviderErr wraps a backend error surfaced unchanged from the provider.
func ProviderErr(cause error) error {
	return &Error{Kind: KindProvider, Cause: cause}
}

// TokenRequestFailed wraps a failed registration-token request.
func TokenRequestFailed(cause error) error {
	return &Error{Kind: KindTokenRequestFailed, Cause: cause}
}

// InstallationFailed reports that the bootstrap sequence failed: either
// a step exited non-zero or a RunnerHandle.Run call itself failed.
func InstallationFailed(cause error) error {
	return &Error{Kind: KindInstallationFailed, Cause: cause}
}

// Is lets errors.Is(err, controller.ErrProviderNotFound) match any
// Error of the same Kind regardless of Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsProviderNotFound reports whether err is an unresolvable provider_id.
func IsProviderNotFound(err error) bool {
	return errors.Is(err, ErrProviderNotFound)
}

// AsProviderError extracts the wrapped provider.Error, if any.
func AsProviderError(err error) (*provider.Error, bool) {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
