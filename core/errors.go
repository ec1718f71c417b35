package core

import "fmt"

// Code identifies a stable error category reported to LSP clients.
type Code int

const (
	// CodeUnknownDocument is returned when an operation targets a URI the
	// DocumentStore has never seen (or has since removed).
	CodeUnknownDocument Code = iota + 1
	// CodeUnsupportedDocumentType is returned when a read request targets
	// an entry that is not analyzable.
	CodeUnsupportedDocumentType
	// CodeMismatchedVersion is returned when a caller's expected_version
	// disagrees with the cookie's reported version.
	CodeMismatchedVersion
	// CodeBadSource marks a parse failure. Internal-only: handlers never
	// surface it, they fall back to empty/stale results.
	CodeBadSource
	// CodeCancelled marks a shutdown- or timeout-triggered abort.
	CodeCancelled
	// CodeInternal is any other unexpected failure.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeUnknownDocument:
		return "UnknownDocument"
	case CodeUnsupportedDocumentType:
		return "UnsupportedDocumentType"
	case CodeMismatchedVersion:
		return "MismatchedVersion"
	case CodeBadSource:
		return "BadSource"
	case CodeCancelled:
		return "Cancelled"
	case CodeInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the core's error type. Handlers at the lsp/ boundary map it
// to a jsonrpc2 error with a stable numeric code.
type Error struct {
	Code    Code
	Message string

	// Expected/Actual are populated for CodeMismatchedVersion.
	Expected int32
	Actual   int32
}

func (e *Error) Error() string {
	if e.Code == CodeMismatchedVersion {
		return fmt.Sprintf("%s: expected version %d, got %d", e.Code, e.Expected, e.Actual)
	}
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UnknownDocument builds a CodeUnknownDocument error for uri.
func UnknownDocument(uri string) *Error {
	return &Error{Code: CodeUnknownDocument, Message: "no document for " + uri}
}

// UnsupportedDocumentType builds a CodeUnsupportedDocumentType error.
func UnsupportedDocumentType(uri string) *Error {
	return &Error{Code: CodeUnsupportedDocumentType, Message: "not an analyzable document: " + uri}
}

// MismatchedVersion builds a CodeMismatchedVersion error.
func MismatchedVersion(expected, actual int32) *Error {
	return &Error{Code: CodeMismatchedVersion, Expected: expected, Actual: actual}
}
