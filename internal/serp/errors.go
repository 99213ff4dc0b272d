package serp

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the root of every *ConfigError.
	ErrConfiguration = errors.New("serp: invalid configuration")
	// ErrQueryBudgetExhausted is returned once MaxQueries fetch cycles have run.
	ErrQueryBudgetExhausted = errors.New("serp: query budget exhausted")
	// ErrResultsExhausted is returned when the last page offered no next cursor.
	ErrResultsExhausted = errors.New("serp: no more results")
)

// ConfigError reports an invalid session setting.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("serp: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// RequestError wraps a failure of the PageFetcher. It is never retried.
type RequestError struct {
	Target string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("serp: request %s failed: %v", e.Target, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ParseError reports malformed page content. Entry is the zero-based
// position of the offending result block, or -1 for page-level problems.
type ParseError struct {
	Entry  int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("serp: parse page: %s", e.Reason)
	}
	return fmt.Sprintf("serp: parse result %d: %s", e.Entry, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsExhausted reports whether err signals that no further pages can be
// fetched, either because of the query budget or because results ran out.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrQueryBudgetExhausted) || errors.Is(err, ErrResultsExhausted)
}
