// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"errors"
	"fmt"
)

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

type ErrorCode int

const (
	// ErrIndexCommit means the atomic datastore commit for a lifecycle
	// transition failed. The index may no longer match the datastore
	// and must be rebuilt before further transitions are applied.
	ErrIndexCommit ErrorCode = iota

	// ErrInvalidTransition means a lifecycle transition was requested
	// that the state machine does not permit.
	ErrInvalidTransition

	// ErrPluginVersion means a registered plugin's version differs from
	// the version the datastore was indexed with.
	ErrPluginVersion
)

var (
	ErrDuplicateTx = errors.New("tx already in index")
	ErrTxNotFound  = errors.New("tx not found in index")

	// ErrIndexHalted is returned for every transition after a commit
	// failure. No partial repair is defined; the index must be rebuilt.
	ErrIndexHalted = errors.New("index halted after failed commit")
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrIndexCommit:       "ErrIndexCommit",
	ErrInvalidTransition: "ErrInvalidTransition",
	ErrPluginVersion:     "ErrPluginVersion",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// IndexError identifies a failure applying a lifecycle transition.
type IndexError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human-readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e IndexError) Error() string {
	return e.Description
}

// indexError creates an IndexError given a set of arguments.
func indexError(c ErrorCode, desc string) IndexError {
	return IndexError{ErrorCode: c, Description: desc}
}
