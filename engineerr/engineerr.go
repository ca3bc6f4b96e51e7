// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package engineerr defines the engine's closed error taxonomy. Errors carry
a Kind rather than a distinct Go type per failure mode, so callers branch
on Kind instead of using type assertions; wrapping uses
github.com/pkg/errors so stack traces survive across the registry client,
cache and resolver layers.
*/
package engineerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed taxonomy of engine failure modes.
type Kind string

const (
	// NotFound: registry returned 404 for a name or version.
	NotFound Kind = "NotFound"
	// NoCompatibleArtifact: selector found candidates but none matched
	// the target.
	NoCompatibleArtifact Kind = "NoCompatibleArtifact"
	// VersionUnsatisfiable: resolver exhausted backtracking/rounds
	// without a consistent mapping.
	VersionUnsatisfiable Kind = "VersionUnsatisfiable"
	// ChecksumMismatch: downloaded bytes did not match the declared
	// digest.
	ChecksumMismatch Kind = "ChecksumMismatch"
	// Transient: connection reset, 5xx, timeout; retried with backoff.
	Transient Kind = "Transient"
	// NetworkFailure: a Transient error survived the retry budget.
	NetworkFailure Kind = "NetworkFailure"
	// ProtocolError: unparseable metadata document.
	ProtocolError Kind = "ProtocolError"
	// Cancelled: cooperative cancellation.
	Cancelled Kind = "Cancelled"
	// ConfigError: impossible target descriptor.
	ConfigError Kind = "ConfigError"
)

// Error wraps an engine failure with the Kind, the offending package, the
// ecosystem and the target it occurred against.
type Error struct {
	Kind      Kind
	Ecosystem string
	Package   string
	Target    string
	Optional  bool
	cause     error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s %s", e.Kind, e.Ecosystem, e.Package)
	if e.Target != "" {
		s += " (target " + e.Target + ")"
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given Kind, wrapping cause with a stack
// trace via github.com/pkg/errors.
func New(kind Kind, ecosystem, pkg string, cause error) *Error {
	return &Error{Kind: kind, Ecosystem: ecosystem, Package: pkg, cause: errors.WithStack(cause)}
}

// Newf creates an Error of the given Kind with a formatted message in
// place of a wrapped cause.
func Newf(kind Kind, ecosystem, pkg, format string, args ...any) *Error {
	return New(kind, ecosystem, pkg, errors.Errorf(format, args...))
}

// WithTarget returns a copy of e annotated with the target descriptor
// string that was in effect.
func (e *Error) WithTarget(target string) *Error {
	e2 := *e
	e2.Target = target
	return &e2
}

// AsOptional returns a copy of e marked as downgraded to a warning for an
// optional dependency; Cancelled is never downgraded.
func (e *Error) AsOptional() *Error {
	if e.Kind == Cancelled {
		return e
	}
	e2 := *e
	e2.Optional = true
	return &e2
}

// KindOf returns the Kind carried by err if it (or something it wraps) is
// an *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
