/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package errs defines the closed set of error kinds the engine surfaces to
// its callers, and the status/reason shape user-visible responses carry.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the seven semantic error kinds from the error handling design.
type Kind uint8

const (
	Unknown Kind = iota
	InvalidCommand
	SchemaError
	NotFound
	IoError
	CorruptionError
	Overloaded
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidCommand:
		return "InvalidCommand"
	case SchemaError:
		return "SchemaError"
	case NotFound:
		return "NotFound"
	case IoError:
		return "IoError"
	case CorruptionError:
		return "CorruptionError"
	case Overloaded:
		return "Overloaded"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// StatusCode maps a Kind onto a fixed response status code, never leaking
// internal paths or file names to the caller.
func (k Kind) StatusCode() int {
	switch k {
	case InvalidCommand:
		return 400
	case SchemaError:
		return 422
	case NotFound:
		return 404
	case IoError, CorruptionError:
		return 500
	case Overloaded:
		return 503
	case Cancelled:
		return 499
	default:
		return 500
	}
}

// Error wraps an underlying cause with a classification and a user-safe reason.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a fresh classified error.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap classifies an existing error, preserving it as the cause for errors.Is/As.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of a classified error, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
