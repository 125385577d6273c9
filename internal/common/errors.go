// Package common defines shared constants and sentinel errors used across
// the safebrowse client layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Storage-level errors.
	ErrorNotFound = errors.New("not found")

	// Protocol-level errors.
	ErrorServer        = errors.New("server error")
	ErrorInternal      = errors.New("internal error")
	ErrorMacValidation = errors.New("response MAC validation failed")
	ErrorMacKeys       = errors.New("MAC keys unavailable")

	// Wire-format errors.
	ErrorBadChunkHeader = errors.New("malformed chunk header")
	ErrorBadChunkBody   = errors.New("truncated chunk body")
	ErrorBadRange       = errors.New("malformed chunk range")
)
