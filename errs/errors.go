// Package errs defines the typed error taxonomy shared by every decoder in
// the core, plus the bounded warning list attached to partial results.
//
// Errors are sentinel values so callers can test with errors.Is; the numeric
// taxonomy (format.ErrorCode) is derivable from any wrapped error via Code
// for consumers that speak integer codes.
package errs

import (
	"errors"

	"github.com/uftkit/uft/format"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrOutOfMemory         = errors.New("out of memory")
	ErrIo                  = errors.New("io error")
	ErrFormatMismatch      = errors.New("format mismatch")
	ErrTruncated           = errors.New("truncated input")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrCrcMismatch         = errors.New("crc mismatch")
	ErrPllLostLock         = errors.New("pll lost lock")
	ErrNoSync              = errors.New("no sync marks found")
	ErrNoIndex             = errors.New("no index pulse")
	ErrBufferTooSmall      = errors.New("buffer too small")
	ErrNotImplemented      = errors.New("not implemented")
	ErrInvalidState        = errors.New("invalid state")
)

var codeTable = []struct {
	err  error
	code format.ErrorCode
}{
	{ErrInvalidArgument, format.CodeInvalidArgument},
	{ErrOutOfMemory, format.CodeOutOfMemory},
	{ErrIo, format.CodeIo},
	{ErrFormatMismatch, format.CodeFormatMismatch},
	{ErrTruncated, format.CodeTruncated},
	{ErrUnsupportedEncoding, format.CodeUnsupportedEncoding},
	{ErrCrcMismatch, format.CodeCrcMismatch},
	{ErrPllLostLock, format.CodePllLostLock},
	{ErrNoSync, format.CodeNoSync},
	{ErrNoIndex, format.CodeNoIndex},
	{ErrBufferTooSmall, format.CodeBufferTooSmall},
	{ErrNotImplemented, format.CodeNotImplemented},
	{ErrInvalidState, format.CodeInvalidState},
}

// Code maps an error (possibly wrapped) to its numeric taxonomy value.
// A nil error maps to CodeOK; an error outside the taxonomy maps to CodeIo.
func Code(err error) format.ErrorCode {
	if err == nil {
		return format.CodeOK
	}

	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}

	return format.CodeIo
}

// MaxWarnings bounds the diagnostics attached to any single result.
const MaxWarnings = 16

// Warnings is a bounded diagnostic list. Appends beyond MaxWarnings are
// counted but dropped, so a corrupt input cannot balloon a result.
type Warnings struct {
	entries []string
	dropped int
}

// Add appends a warning, dropping it (but counting) once full.
func (w *Warnings) Add(msg string) {
	if len(w.entries) >= MaxWarnings {
		w.dropped++
		return
	}
	w.entries = append(w.entries, msg)
}

// Entries returns the retained warnings in append order.
func (w *Warnings) Entries() []string {
	return w.entries
}

// Len returns the number of retained warnings.
func (w *Warnings) Len() int {
	return len(w.entries)
}

// Dropped returns how many warnings were discarded after the list filled.
func (w *Warnings) Dropped() int {
	return w.dropped
}
