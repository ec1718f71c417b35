package core

import (
	"context"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// Publisher is the transport-facing sink a DiagnosticPublisher
// delivers to. lsp.Server implements this over protocol.Client.
type Publisher interface {
	PublishDiagnostics(ctx context.Context, uri protocol.DocumentURI, version int32, diags []protocol.Diagnostic) error
}

// DiagnosticPublisher is a pure sink: it has already been handed
// version-gated, deduplicated diagnostics by ParseAnalyzePipeline and
// simply forwards them. No retry, no coalescing.
type DiagnosticPublisher struct {
	sink   Publisher
	logger *zap.Logger
}

// NewDiagnosticPublisher wraps sink.
func NewDiagnosticPublisher(sink Publisher, logger *zap.Logger) *DiagnosticPublisher {
	return &DiagnosticPublisher{sink: sink, logger: logger}
}

// Publish delivers diags for (uri, part) at the given version.
// uri here is the part-specific URI (fragment included for part > 0).
func (p *DiagnosticPublisher) Publish(ctx context.Context, uri protocol.DocumentURI, version int32, diags []protocol.Diagnostic) {
	if err := p.sink.PublishDiagnostics(ctx, uri, version, diags); err != nil && p.logger != nil {
		p.logger.Error("publish diagnostics failed", zap.String("uri", string(uri)), zap.Error(err))
	}
}
