package lsp

import (
	"context"
	"encoding/json"

	"go.lsp.dev/jsonrpc2"
)

type expectedVersionKey struct{}

// versionExtension is the shape of the "_version" field a client may
// attach to a read-path request (completion, signatureHelp, references,
// hover) to assert the parse version it expects the server to answer
// against. It is not part of the standard request params go.lsp.dev/
// protocol unmarshals into, so it's read separately from the raw params.
type versionExtension struct {
	Version *int32 `json:"_version"`
}

// withVersionExtension wraps a jsonrpc2.Handler so an optional
// "_version" field on the request params is stashed on ctx for
// expectedVersionFromContext to retrieve downstream, alongside
// protocol.ServerHandler's own typed unmarshal of the same params.
func withVersionExtension(next jsonrpc2.Handler) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		var ext versionExtension
		if err := json.Unmarshal(req.Params(), &ext); err == nil && ext.Version != nil {
			ctx = context.WithValue(ctx, expectedVersionKey{}, *ext.Version)
		}
		return next(ctx, reply, req)
	}
}

// WithVersionExtension is the exported entry point cmd/juniper-ls wraps
// protocol.ServerHandler with, so the "_version" extension field
// reaches RequestResolver's MismatchedVersion gating.
func WithVersionExtension(next jsonrpc2.Handler) jsonrpc2.Handler {
	return withVersionExtension(next)
}

// expectedVersionFromContext returns the version withVersionExtension
// stashed on ctx, or nil if the request didn't carry one.
func expectedVersionFromContext(ctx context.Context) *int32 {
	v, ok := ctx.Value(expectedVersionKey{}).(int32)
	if !ok {
		return nil
	}
	return &v
}
