package acessorias

import (
	"errors"
	"fmt"
)

// TerminalKind classifies failures that must not be retried.
type TerminalKind string

const (
	KindAuth     TerminalKind = "auth"
	KindNotFound TerminalKind = "not-found"
)

// TerminalError aborts the current resource's sync immediately. 401/403
// means the bearer token is invalid or lacks permission; 404 means the
// endpoint variant does not exist (callers may try an alternate path
// before giving up).
type TerminalError struct {
	Kind   TerminalKind
	Status int
	URL    string
}

func (e *TerminalError) Error() string {
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("token invalid or lacking permission (HTTP %d)", e.Status)
	case KindNotFound:
		return fmt.Sprintf("endpoint not found: %s", e.URL)
	}
	return fmt.Sprintf("terminal API failure (HTTP %d): %s", e.Status, e.URL)
}

// ExhaustedRetriesError is raised after the retry ceiling is hit. It
// carries the last observed status and a body excerpt for diagnostics.
type ExhaustedRetriesError struct {
	Attempts    int
	LastStatus  int
	BodyExcerpt string
	LastErr     error
}

func (e *ExhaustedRetriesError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("API unreachable after %d attempts: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("API unreachable after %d attempts | HTTP %d: %s", e.Attempts, e.LastStatus, e.BodyExcerpt)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.LastErr }

// IsTerminal reports whether err (or anything it wraps) is a
// TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
