package utils

import (
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Header size limits (in bytes)
const (
	MaxHeaderNameLength  = 256
	MaxHeaderValueLength = 8 * 1024
)

// MaxOriginPatterns caps the rule set submitted in a single header mutation.
const MaxOriginPatterns = 1024

// HeaderError reports a header name or value rejected by validation.
// Name is the offending header name as supplied by the caller.
type HeaderError struct {
	Name   string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("invalid header %q: %s", e.Name, e.Reason)
}

// ValidateHeaderText rejects header names or values carrying NUL, CR or LF.
// It is the minimal check applied to caller supplied request headers.
func ValidateHeaderText(name, value string) error {
	if name == "" {
		return &HeaderError{Name: name, Reason: "empty name"}
	}
	if strings.ContainsAny(name, "\x00\r\n") {
		return &HeaderError{Name: name, Reason: "name contains NUL, CR or LF"}
	}
	if strings.ContainsAny(value, "\x00\r\n") {
		return &HeaderError{Name: name, Reason: "value contains NUL, CR or LF"}
	}
	return nil
}

// ValidateHeaderField applies RFC 7230 field rules on top of
// ValidateHeaderText: the name must be a token and the value must be a
// valid field value.
func ValidateHeaderField(name, value string) error {
	if err := ValidateHeaderText(name, value); err != nil {
		return err
	}
	if len(name) > MaxHeaderNameLength {
		return &HeaderError{Name: name, Reason: fmt.Sprintf("name exceeds %d bytes", MaxHeaderNameLength)}
	}
	if len(value) > MaxHeaderValueLength {
		return &HeaderError{Name: name, Reason: fmt.Sprintf("value exceeds %d bytes", MaxHeaderValueLength)}
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return &HeaderError{Name: name, Reason: "name is not a valid token"}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &HeaderError{Name: name, Reason: "value contains invalid characters"}
	}
	return nil
}
