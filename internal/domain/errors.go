package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for address construction, resolution and binding.
var (
	// ErrNoGitRepository indicates no Git repository encloses the working directory.
	ErrNoGitRepository = errors.New("no git repository found")

	// ErrNoRemoteOrigin indicates no 'origin' remote is configured in the repository.
	ErrNoRemoteOrigin = errors.New("no 'origin' remote configured")

	// ErrInvalidRemoteURL indicates the remote URL could not be parsed to extract owner/repo.
	ErrInvalidRemoteURL = errors.New("could not parse repository name from remote URL")

	// ErrInvalidAddress indicates an address that cannot be materialized.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnresolvedRef indicates a Git address whose ref was never resolved to a commit.
	ErrUnresolvedRef = errors.New("address carries an unresolved ref")

	// ErrInvalidPath indicates a path that is absolute or escapes its root.
	ErrInvalidPath = errors.New("invalid relative path")

	// ErrRefNotFound indicates the upstream repository has no matching ref.
	ErrRefNotFound = errors.New("ref not found")

	// ErrNetwork indicates a failure talking to a remote repository.
	ErrNetwork = errors.New("network error")

	// ErrMaterialize indicates a commit could not be produced as a local directory.
	ErrMaterialize = errors.New("failed to materialize commit")

	// ErrConfigParse indicates a malformed configuration document.
	ErrConfigParse = errors.New("malformed configuration document")

	// ErrConfigNotFound indicates a redirect named a path without a configuration document.
	ErrConfigNotFound = errors.New("configuration document not found")

	// ErrCyclicRedirect indicates the redirect chain revisited an address.
	ErrCyclicRedirect = errors.New("cyclic redirect")

	// ErrRedirectLimit indicates the redirect chain exceeded the step bound.
	ErrRedirectLimit = errors.New("redirect limit exceeded")

	// ErrMissingExecutable indicates the converged state has no runnable executable.
	ErrMissingExecutable = errors.New("no executable resolved")

	// ErrSecretNotFound indicates a binding whose secret exists in no scope.
	ErrSecretNotFound = errors.New("secret not found")
)

// ConfigParseError reports a malformed configuration document.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConfigParse, e.Path, e.Err)
}

// Is matches ErrConfigParse.
func (e *ConfigParseError) Is(target error) bool {
	return target == ErrConfigParse
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// CyclicRedirectError carries the chain of addresses that closed a cycle.
// The last element is the revisited address.
type CyclicRedirectError struct {
	Chain []Address
}

func (e *CyclicRedirectError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, a := range e.Chain {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s: %s", ErrCyclicRedirect, strings.Join(parts, " -> "))
}

// Is matches ErrCyclicRedirect.
func (e *CyclicRedirectError) Is(target error) bool {
	return target == ErrCyclicRedirect
}

// SecretNotFoundError names the missing key and every scope that was tried.
type SecretNotFoundError struct {
	Key    string
	Scopes []Scope
}

func (e *SecretNotFoundError) Error() string {
	scopes := make([]string, len(e.Scopes))
	for i, s := range e.Scopes {
		scopes[i] = s.String()
	}
	return fmt.Sprintf("%s: key %q (tried %s)", ErrSecretNotFound, e.Key, strings.Join(scopes, ", "))
}

// Is matches ErrSecretNotFound.
func (e *SecretNotFoundError) Is(target error) bool {
	return target == ErrSecretNotFound
}

// LayerError attaches the redirect layer that was active when a collaborator failed.
type LayerError struct {
	Step    int
	Address Address
	Op      string
	Err     error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %d (%s): %s: %v", e.Step, e.Address, e.Op, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}
