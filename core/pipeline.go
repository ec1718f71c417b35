package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// ErrBadSource marks a parser rejection. The pipeline swallows it:
// no diagnostics are published, no error reaches the client.
var ErrBadSource = errors.New("bad source")

// maxInFlightParses bounds the in-flight parse intents per document
// (invariant 2 of §8).
const maxInFlightParses = 3

// ParseAnalyzePipeline orchestrates parse -> analyze -> diagnostics
// for one document version at a time, per §4.5.
type ParseAnalyzePipeline struct {
	store         *DocumentStore
	parseQueue    *ParseQueue
	analysisQueue *AnalysisQueue
	analyzer      Analyzer
	publisher     *DiagnosticPublisher
	events        *Events
	logger        *zap.Logger
	m             *metrics
}

// NewParseAnalyzePipeline wires the pipeline's collaborators together.
func NewParseAnalyzePipeline(
	store *DocumentStore,
	parseQueue *ParseQueue,
	analysisQueue *AnalysisQueue,
	analyzer Analyzer,
	publisher *DiagnosticPublisher,
	events *Events,
	logger *zap.Logger,
	m *metrics,
) *ParseAnalyzePipeline {
	return &ParseAnalyzePipeline{
		store:         store,
		parseQueue:    parseQueue,
		analysisQueue: analysisQueue,
		analyzer:      analyzer,
		publisher:     publisher,
		events:        events,
		logger:        logger,
		m:             m,
	}
}

// Enqueue submits entry for (re)parse at priority, optionally
// following up with analysis. It never blocks the caller beyond
// queue-submission bookkeeping.
func (p *ParseAnalyzePipeline) Enqueue(ctx context.Context, entry *Entry, priority Priority, analyze bool) {
	counter := p.store.pendingParseCounter(entry.URI)
	if counter.Value() >= maxInFlightParses {
		p.m.parseDrop()
		return
	}
	release := counter.Increment()
	p.m.parseSubmit()

	go p.runParse(ctx, entry, priority, analyze, release)
}

func (p *ParseAnalyzePipeline) runParse(ctx context.Context, entry *Entry, priority Priority, analyze bool, release func()) {
	defer release()
	defer p.m.parseDone()

	buf := entry.Buffer()
	if buf == nil {
		return
	}

	fut := p.parseQueue.Submit(ctx, entry.URI, buf, fingerprint(buf))
	tree, cookie, err := fut.Wait(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			if p.logger != nil {
				p.logger.Warn("parse canceled", zap.String("uri", string(entry.URI)))
			}
		case errors.Is(err, ErrBadSource):
			// Invalid source: silently drop, per §4.5 error handling.
		default:
			if p.logger != nil {
				p.logger.Error("parse failed", zap.String("uri", string(entry.URI)), zap.Error(err))
			}
		}
		return
	}

	entry.SetCurrentParse(tree, cookie)

	parts := sortedParts(cookie)
	if len(parts) == 0 {
		p.events.emitParseComplete(entry.URI, 0)
	} else {
		for _, part := range parts {
			p.events.emitParseComplete(uriForPart(entry.URI, part), cookie.Version(part))
		}
	}

	if analyze && p.analyzer != nil {
		p.analysisQueue.Enqueue(AnalysisItem{Run: func(actx context.Context) error {
			return p.runAnalyze(actx, entry, tree, cookie)
		}}, priority)
	}

	p.gateAndPublish(ctx, entry, cookie)
}

func (p *ParseAnalyzePipeline) runAnalyze(ctx context.Context, entry *Entry, tree any, cookie ParseCookie) error {
	mod, ok := entry.Module()
	if !ok {
		var err error
		mod, err = p.analyzer.AddModule(ctx, moduleNameFor(entry.URI), pathFor(entry.URI), entry.URI, cookie, tree)
		if err != nil {
			return err
		}
		entry.SetModule(mod)
	}

	if err := p.analyzer.Analyze(ctx, mod, tree); err != nil {
		if errors.Is(err, ErrBadSource) {
			return nil
		}
		return err
	}

	entry.SetDiagnostics(p.analyzer.Diagnostics(mod))
	p.events.emitAnalysisComplete(entry.URI, cookie.Version(0))
	p.gateAndPublish(ctx, entry, cookie)
	return nil
}

// gateAndPublish implements §4.5's "Diagnostic gating": yield once,
// then under the per-document reported-diagnostics lock publish only
// parts whose version strictly exceeds what was last reported.
func (p *ParseAnalyzePipeline) gateAndPublish(ctx context.Context, entry *Entry, cookie ParseCookie) {
	runtime.Gosched()

	rs := p.store.reportedSetFor(entry.URI)
	diags := entry.CurrentParse().Diags

	parts := sortedParts(cookie)
	if len(parts) == 0 {
		parts = []int{0}
	}

	for _, part := range parts {
		version := cookie.Version(part)

		rs.mu.Lock()
		rec, seen := rs.parts[part]
		if seen && rec.version >= version {
			rs.mu.Unlock()
			p.m.diagPublish(true)
			continue
		}

		lspDiags := convertDiagnostics(diags, part)
		rs.parts[part] = reportedVersion{version: version, diags: lspDiags}
		rs.mu.Unlock()

		p.m.diagPublish(false)
		puri := uriForPart(entry.URI, part)
		p.publisher.Publish(ctx, puri, version, lspDiags)
		p.events.emitPublish(puri, version, lspDiags)
	}
}

func sortedParts(cookie ParseCookie) []int {
	parts := make([]int, 0, len(cookie.Versions))
	for part := range cookie.Versions {
		parts = append(parts, part)
	}
	sort.Ints(parts)
	return parts
}

func uriForPart(uri protocol.DocumentURI, part int) protocol.DocumentURI {
	if part == 0 {
		return uri
	}
	return protocol.DocumentURI(fmt.Sprintf("%s#%d", uri, part))
}

func moduleNameFor(uri protocol.DocumentURI) string {
	base := filepath.Base(filepath.FromSlash(string(CanonicalURI(uri))))
	return trimExt(base)
}

func pathFor(uri protocol.DocumentURI) string {
	return URIToPath(CanonicalURI(uri))
}

func trimExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return name
	}
	return name[:len(name)-len(ext)]
}

func fingerprint(doc Document) string {
	parts := doc.Parts()
	s := ""
	for _, part := range parts {
		s += fmt.Sprintf("%d:%d;", part, doc.Version(part))
	}
	return s
}

func convertDiagnostics(diags []Diagnostic, part int) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0)
	for _, d := range diags {
		if d.Part != part {
			continue
		}
		out = append(out, protocol.Diagnostic{
			Range:    d.Range,
			Severity: convertSeverity(d.Severity),
			Code:     d.Code,
			Source:   d.Source,
			Message:  d.Message,
		})
	}
	return out
}

func convertSeverity(sev DiagnosticSeverity) protocol.DiagnosticSeverity {
	switch sev {
	case SeverityError:
		return protocol.DiagnosticSeverityError
	case SeverityWarning:
		return protocol.DiagnosticSeverityWarning
	case SeverityInformation:
		return protocol.DiagnosticSeverityInformation
	case SeverityHint:
		return protocol.DiagnosticSeverityHint
	default:
		return protocol.DiagnosticSeverityError
	}
}
