package lsp

import (
	"go.lsp.dev/jsonrpc2"

	"github.com/juniper-lang/juniper-ls/core"
)

// Reserved-server-error codes for the core.Code taxonomy, per the
// error handling design: -32090..-32095.
const (
	codeUnknownDocument         jsonrpc2.Code = -32090
	codeUnsupportedDocumentType jsonrpc2.Code = -32091
	codeMismatchedVersion       jsonrpc2.Code = -32092
	codeBadSource               jsonrpc2.Code = -32093
	codeCancelled               jsonrpc2.Code = -32094
	codeInternal                jsonrpc2.Code = -32095
)

// surfacingError maps a core.Error to the jsonrpc2 error a client
// should see. UnknownDocument, UnsupportedDocumentType and
// MismatchedVersion are the caller's fault (bad URI, a document the
// analyzer has no module for, stale assumption about the parse version)
// and are worth reporting; BadSource, Cancelled and Internal stay swallowed
// into an empty/no-op result, as they were before this client-facing
// mapping existed. Returns nil when err isn't a *core.Error, or falls
// into the swallowed set.
func surfacingError(err error) error {
	ce, ok := err.(*core.Error)
	if !ok {
		return nil
	}
	switch ce.Code {
	case core.CodeUnknownDocument:
		return jsonrpc2.NewError(codeUnknownDocument, ce.Error())
	case core.CodeUnsupportedDocumentType:
		return jsonrpc2.NewError(codeUnsupportedDocumentType, ce.Error())
	case core.CodeMismatchedVersion:
		return jsonrpc2.NewError(codeMismatchedVersion, ce.Error())
	default:
		return nil
	}
}
