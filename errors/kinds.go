// Package errors defines the typed error kinds used across the pulley
// script engine, following §7 of the design: syntax, invariant, translation,
// backend-load, runtime and protocol errors each propagate differently.
package errors

import (
	goerrors "gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrSyntax is a recoverable parser error; the current buffer is discarded.
	ErrSyntax = goerrors.NewKind("syntax error at line %d: %s")

	// ErrInvariant marks a non-fatal semantic-analysis warning. The
	// controller may still reach Ready after collecting these.
	ErrInvariant = goerrors.NewKind("invariant violation: %s")

	// ErrTranslation is fatal: it transitions the lifecycle controller to Broken.
	ErrTranslation = goerrors.NewKind("translation error: %s")

	// ErrBackendLoad is fatal for the affected driver-output only; other
	// driver-outputs may continue operating.
	ErrBackendLoad = goerrors.NewKind("backend %q failed to load: %s")

	// ErrRuntime covers backend-callback and database errors encountered
	// while routing change events; it is logged and the event is dropped.
	ErrRuntime = goerrors.NewKind("runtime error: %s")

	// ErrProtocol covers a missing dn or missing attribute from the
	// upstream collaborator; treated as an empty value, never fatal.
	ErrProtocol = goerrors.NewKind("protocol error: %s")
)
