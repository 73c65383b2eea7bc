// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrorClass categorizes failures for retry and reporting decisions.
type ErrorClass string

const (
	// ErrClassConfig marks invalid caller input (bad options, malformed resume
	// tokens, disallowed query identifiers). Never retried.
	ErrClassConfig ErrorClass = "config"
	// ErrClassRuntime marks operational failures surfaced at the pipeline
	// boundary. Never retried at that level.
	ErrClassRuntime ErrorClass = "runtime"
	// ErrClassTransientHTTP marks 5xx, 429 and network failures. Retried with
	// backoff until attempts are exhausted.
	ErrClassTransientHTTP ErrorClass = "transient-http"
	// ErrClassFatalHTTP marks 4xx responses other than 429. Never retried.
	ErrClassFatalHTTP ErrorClass = "fatal-http"
	// ErrClassPersistence marks database failures. The enclosing transaction
	// rolls back and the error propagates to the caller.
	ErrClassPersistence ErrorClass = "persistence"
	// ErrClassCancelled marks caller-initiated cancellation.
	ErrClassCancelled ErrorClass = "cancelled"
	// ErrClassSchema marks upstream responses that do not conform to the
	// declared portal JSON shape. Treated as fatal.
	ErrClassSchema ErrorClass = "schema"
)

type classifiedError struct {
	class ErrorClass
	inner error
}

func (e classifiedError) Error() string     { return e.inner.Error() }
func (e classifiedError) Unwrap() error     { return e.inner }
func (e classifiedError) Class() ErrorClass { return e.class }

// Classify wraps an error with an error class. A nil error stays nil.
func Classify(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return classifiedError{class, err}
}

// Classifyf is Classify with fmt.Errorf semantics, so causes can be chained
// with %w as usual.
func Classifyf(class ErrorClass, format string, args ...any) error {
	return classifiedError{class, fmt.Errorf(format, args...)}
}

type hasClass interface {
	Class() ErrorClass
}

// ClassOf reports the outermost explicit class in the error chain, or "" if
// the error was never classified. Context cancellation is recognized without
// explicit classification.
func ClassOf(err error) ErrorClass {
	var ce hasClass
	if errors.As(err, &ce) {
		return ce.Class()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrClassCancelled
	}
	return ""
}

// IsClass checks whether the error chain carries the given class.
func IsClass(err error, class ErrorClass) bool {
	return ClassOf(err) == class
}

// IsFatal reports whether an error must not be retried. Unclassified errors
// count as transient, matching how network-level failures usually surface
// without a usable type.
func IsFatal(err error) bool {
	switch ClassOf(err) {
	case ErrClassConfig, ErrClassFatalHTTP, ErrClassSchema, ErrClassCancelled:
		return true
	default:
		return false
	}
}

// HTTPError is returned for non-2xx responses. The URL is stored without
// userinfo so that credentials can never leak through error messages.
type HTTPError struct {
	Method string
	URL    string
	Status int
}

// NewHTTPError builds an HTTPError, stripping any userinfo from the URL.
func NewHTTPError(method, rawURL string, status int) HTTPError {
	return HTTPError{Method: method, URL: SanitizeURL(rawURL), Status: status}
}

// Error implements the builtin error interface.
func (e HTTPError) Error() string {
	return fmt.Sprintf("%s %s: expected 2xx response, got %d instead", e.Method, e.URL, e.Status)
}

// Class implements the classification interface for ClassOf.
func (e HTTPError) Class() ErrorClass {
	if e.Status == 429 || e.Status >= 500 {
		return ErrClassTransientHTTP
	}
	return ErrClassFatalHTTP
}

// RetryExhaustedError is returned when a request keeps failing transiently
// until no attempts remain.
type RetryExhaustedError struct {
	URL      string
	Attempts int
	LastErr  error
}

// Error implements the builtin error interface.
func (e RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up on %s after %d attempts: %s", SanitizeURL(e.URL), e.Attempts, e.LastErr.Error())
}

// Unwrap implements the conventional interface for errors.Is/As.
func (e RetryExhaustedError) Unwrap() error { return e.LastErr }

// Class implements the classification interface for ClassOf.
func (e RetryExhaustedError) Class() ErrorClass { return ErrClassTransientHTTP }

// SanitizeURL removes userinfo from a URL string for safe logging.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	u.User = nil
	return u.String()
}
