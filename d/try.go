// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package d provides fail-fast assertion helpers for invariants that
// should never be false at runtime (corrupt encoder tables, desynced
// chunk/encoder state, and the like). No other package in this module
// imports it.
// Recoverable, expected error conditions are never routed through this
// package - they are returned as typed errors instead.
package d

import "fmt"

// PanicIfError panics with err if err is non-nil.
func PanicIfError(err error) {
	if err != nil {
		panic(err)
	}
}

// PanicIfTrue panics if b is true.
func PanicIfTrue(b bool) {
	if b {
		panic("expected false")
	}
}

// PanicIfFalse panics if b is false.
func PanicIfFalse(b bool) {
	if !b {
		panic("expected true")
	}
}

// PanicIfNotType panics unless cause matches the type of one of types.
// Returns cause so it can be used inline.
func PanicIfNotType(cause error, types ...error) error {
	if !causeInTypes(cause, types...) {
		panic(fmt.Sprintf("unexpected error type: %T: %v", cause, cause))
	}
	return cause
}

func causeInTypes(cause error, types ...error) bool {
	for _, t := range types {
		if fmt.Sprintf("%T", cause) == fmt.Sprintf("%T", t) {
			return true
		}
	}
	return false
}

type wrappedError struct {
	msg   string
	cause error
}

func (w wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", w.msg, w.cause.Error())
}

func (w wrappedError) Cause() error {
	return w.cause
}

func (w wrappedError) Unwrap() error {
	return w.cause
}

// Wrap wraps err with a generic message so its original cause can still be
// retrieved with Unwrap/Cause. Wrapping a nil error returns nil. Wrapping an
// already-wrapped error is a no-op.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if w, ok := err.(wrappedError); ok {
		return w
	}
	return wrappedError{"wrapped error", err}
}

// Unwrap returns the original cause of err if it was produced by Wrap,
// otherwise it returns err unchanged.
func Unwrap(err error) error {
	if w, ok := err.(wrappedError); ok {
		return w.cause
	}
	return err
}
