// Package lsp implements a Language Server Protocol server for
// Juniper, wiring the orchestration core onto go.lsp.dev/protocol.
package lsp

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/juniper-lang/juniper-ls/analyzer"
	"github.com/juniper-lang/juniper-ls/core"
)

// Options configures a Server beyond what the initialize request carries.
type Options struct {
	// SourcePattern is the doublestar glob DirectoryLoader matches
	// against file base names (default "*.jun").
	SourcePattern string
	// LanguageVersion feeds core.DefaultInitFileRule.
	LanguageVersion string
	// SearchPaths seeds the analyzer's reported module search paths.
	SearchPaths []string
	// CompletionsTimeout is the deadline RequestResolver applies to its
	// parse wait; negative means no deadline. That wait is satisfied by
	// any recorded parse, so read requests do not block on it.
	CompletionsTimeout time.Duration
	// AnalysisWorkers sizes the AnalysisQueue worker pool.
	AnalysisWorkers int
	// MetricsRegisterer, if non-nil, is where Prometheus instruments
	// are registered. Nil disables metrics.
	MetricsRegisterer prometheus.Registerer
}

// Server implements go.lsp.dev/protocol's server method surface over
// the core orchestration package. protocol.ServerHandler dispatches
// each RPC to the matching method here, reporting "method not found"
// for anything the spec doesn't name.
type Server struct {
	client protocol.Client
	logger *zap.Logger

	store         *core.DocumentStore
	sema          *analyzer.Analyzer
	parseQueue    *core.ParseQueue
	analysisQueue *core.AnalysisQueue
	pipeline      *core.ParseAnalyzePipeline
	reconciler    *core.ChangeReconciler
	publisher     *core.DiagnosticPublisher
	resolver      *core.RequestResolver
	loader        *core.DirectoryLoader

	mu            sync.Mutex
	workspaceRoot string
	shutdown      bool
}

// NewServer builds a fully-wired Server.
func NewServer(client protocol.Client, logger *zap.Logger, opts Options) *Server {
	if opts.SourcePattern == "" {
		opts.SourcePattern = "*.jun"
	}
	if opts.AnalysisWorkers < 1 {
		opts.AnalysisWorkers = 4
	}
	if opts.CompletionsTimeout == 0 {
		opts.CompletionsTimeout = -1
	}

	s := &Server{client: client, logger: logger}

	s.store = core.NewDocumentStore()
	s.sema = analyzer.NewAnalyzer(opts.SearchPaths, logger)

	events := core.NewEvents()
	m := core.NewMetrics(opts.MetricsRegisterer)

	s.parseQueue = core.NewParseQueue(analyzer.NewParser(), logger, m)
	s.analysisQueue = core.NewAnalysisQueue(context.Background(), opts.AnalysisWorkers, logger, m)
	s.publisher = core.NewDiagnosticPublisher(s, logger)
	s.pipeline = core.NewParseAnalyzePipeline(s.store, s.parseQueue, s.analysisQueue, s.sema, s.publisher, events, logger, m)
	s.reconciler = core.NewChangeReconciler(s.store, s.pipeline, logger)
	s.resolver = core.NewRequestResolver(s.store, s.sema, opts.CompletionsTimeout)
	s.loader = core.NewDirectoryLoader(s.store, s.pipeline, s.sema, events, logger, opts.SourcePattern, opts.LanguageVersion, core.DefaultInitFileRule, func(text string) core.Document {
		return analyzer.NewDocument(text)
	})

	s.sema.OnUnhandledError(func(err error) {
		if s.logger != nil {
			s.logger.Warn("analyzer reported an unhandled error", zap.Error(err))
		}
	})

	return s
}

// PublishDiagnostics implements core.Publisher by forwarding to the
// LSP client.
func (s *Server) PublishDiagnostics(ctx context.Context, uri protocol.DocumentURI, version int32, diags []protocol.Diagnostic) error {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	if version < 0 {
		version = 0
	}
	return s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Version:     uint32(version),
		Diagnostics: diags,
	})
}

// Initialize handles the initialize request.
func (s *Server) Initialize(_ context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s.mu.Lock()
	if params.RootURI != "" {
		s.workspaceRoot = string(params.RootURI)
	} else if params.RootPath != "" {
		s.workspaceRoot = params.RootPath
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("initialize", zap.String("root", s.workspaceRoot))
	}

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindIncremental,
			},
			HoverProvider: true,
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{".", "("},
				ResolveProvider:   true,
			},
			SignatureHelpProvider: &protocol.SignatureHelpOptions{
				TriggerCharacters:   []string{"(", ","},
				RetriggerCharacters: []string{","},
			},
			ReferencesProvider:      true,
			WorkspaceSymbolProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    "juniper-ls",
			Version: "0.1.0",
		},
	}, nil
}

// Initialized handles the initialized notification: kicks off the
// workspace scan.
func (s *Server) Initialized(ctx context.Context, _ *protocol.InitializedParams) error {
	s.mu.Lock()
	root := s.workspaceRoot
	s.mu.Unlock()

	if root != "" {
		go s.loader.Load(ctx, protocol.DocumentURI(root))
	}
	return nil
}

// Shutdown handles the shutdown request: stops the analysis queue so
// in-flight and future analysis work observes cancellation, per the
// cancellation model.
func (s *Server) Shutdown(_ context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.analysisQueue.Close()
	return nil
}

// Exit handles the exit notification.
func (s *Server) Exit(_ context.Context) error {
	return nil
}

// DidOpen handles textDocument/didOpen.
func (s *Server) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	doc := analyzer.NewDocument(text)
	if params.TextDocument.Version != 0 {
		doc.Reset(params.TextDocument.Version, &text)
	}

	entry := core.NewEntry(uri)
	entry.SetBuffer(doc)
	entry = s.store.GetOrAdd(uri, entry)
	entry.SetBuffer(doc) // idempotent reopen: always reset to the client's content

	s.pipeline.Enqueue(ctx, entry, core.PriorityHigh, true)
	return nil
}

// DidChange handles textDocument/didChange, supporting incremental
// sync per protocol.TextDocumentContentChangeEvent's Range/Text shape.
func (s *Server) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	n := core.ChangeNotification{
		URI:        params.TextDocument.URI,
		HasVersion: true,
		VersionTo:  params.TextDocument.Version,
	}

	for _, change := range params.ContentChanges {
		edit := core.TextEdit{Text: change.Text}
		if change.Range != nil {
			r := *change.Range
			edit.Range = &r
		}
		n.Edits = append(n.Edits, edit)
	}

	if err := s.reconciler.Apply(ctx, n); err != nil {
		if s.logger != nil {
			s.logger.Warn("didChange failed", zap.String("uri", string(params.TextDocument.URI)), zap.Error(err))
		}
	}
	return nil
}

// DidClose handles textDocument/didClose.
func (s *Server) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	if entry, err := s.store.Get(uri, false); err == nil && entry != nil {
		entry.SetBuffer(nil)
	}

	return s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
}

// DidChangeWatchedFiles handles workspace/didChangeWatchedFiles: created
// files are loaded, deleted files cascade-unload per the module-removal
// rule, and changed-but-not-open files are re-enqueued at low priority.
func (s *Server) DidChangeWatchedFiles(ctx context.Context, params *protocol.DidChangeWatchedFilesParams) error {
	for _, change := range params.Changes {
		switch change.Type {
		case protocol.FileChangeTypeCreated:
			s.loader.LoadFile(ctx, change.URI)
		case protocol.FileChangeTypeDeleted:
			s.loader.DeleteFile(ctx, change.URI)
		case protocol.FileChangeTypeChanged:
			entry, err := s.store.Get(change.URI, false)
			if err != nil || entry == nil {
				continue
			}
			if entry.Buffer() == nil {
				s.pipeline.Enqueue(ctx, entry, core.PriorityLow, true)
			}
		}
	}
	return nil
}

// DidChangeConfiguration handles workspace/didChangeConfiguration by
// reloading the analyzer's derived symbol tables and re-enqueuing every
// known document for re-analysis.
func (s *Server) DidChangeConfiguration(ctx context.Context, _ *protocol.DidChangeConfigurationParams) error {
	if err := s.sema.ReloadModules(); err != nil && s.logger != nil {
		s.logger.Warn("reload modules failed", zap.Error(err))
	}
	for _, entry := range s.store.All() {
		s.pipeline.Enqueue(ctx, entry, core.PriorityNormal, true)
	}
	return nil
}

// Completion handles textDocument/completion.
func (s *Server) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	opts := core.DefaultCompletionOptions()
	opts.IncludeArgumentNames = true

	items, err := s.resolver.Completion(ctx, params.TextDocument.URI, params.Position, expectedVersionFromContext(ctx), nil, opts)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("completion failed", zap.Error(err))
		}
		if rpcErr := surfacingError(err); rpcErr != nil {
			return nil, rpcErr
		}
		return &protocol.CompletionList{}, nil //nolint:nilerr // empty result on error, per read-path error handling
	}

	list := &protocol.CompletionList{Items: make([]protocol.CompletionItem, 0, len(items))}
	for _, it := range items {
		list.Items = append(list.Items, protocol.CompletionItem{
			Label:         it.Label,
			InsertText:    it.InsertText,
			Documentation: it.Documentation,
			Kind:          convertCompletionKind(it.Kind),
		})
	}
	return list, nil
}

// CompletionResolve handles completionItem/resolve as a no-op
// passthrough: the resolver already populates everything up front.
func (s *Server) CompletionResolve(_ context.Context, item *protocol.CompletionItem) (*protocol.CompletionItem, error) {
	return item, nil
}

// SignatureHelp handles textDocument/signatureHelp.
func (s *Server) SignatureHelp(ctx context.Context, params *protocol.SignatureHelpParams) (*protocol.SignatureHelp, error) {
	info, err := s.resolver.SignatureHelp(ctx, params.TextDocument.URI, params.Position, expectedVersionFromContext(ctx))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("signatureHelp failed", zap.Error(err))
		}
		if rpcErr := surfacingError(err); rpcErr != nil {
			return nil, rpcErr
		}
		return nil, nil //nolint:nilerr
	}
	if info == nil {
		return nil, nil
	}

	sigs := make([]protocol.SignatureInformation, 0, len(info.Overloads))
	for _, ov := range info.Overloads {
		paramInfos := make([]protocol.ParameterInformation, 0, len(ov.ParameterNames))
		for _, p := range ov.ParameterNames {
			paramInfos = append(paramInfos, protocol.ParameterInformation{Label: p})
		}
		sigs = append(sigs, protocol.SignatureInformation{Label: ov.Label, Parameters: paramInfos})
	}

	return &protocol.SignatureHelp{
		Signatures:      sigs,
		ActiveSignature: uint32(info.ActiveSignature),
		ActiveParameter: uint32(info.ActiveParameter),
	}, nil
}

// References handles textDocument/references.
func (s *Server) References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	refs, err := s.resolver.References(ctx, params.TextDocument.URI, params.Position, expectedVersionFromContext(ctx), params.Context.IncludeDeclaration)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("references failed", zap.Error(err))
		}
		if rpcErr := surfacingError(err); rpcErr != nil {
			return nil, rpcErr
		}
		return []protocol.Location{}, nil //nolint:nilerr
	}

	out := make([]protocol.Location, 0, len(refs))
	for _, r := range refs {
		out = append(out, protocol.Location{URI: r.URI, Range: r.Range})
	}
	return out, nil
}

// Hover handles textDocument/hover.
func (s *Server) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	res, err := s.resolver.Hover(ctx, params.TextDocument.URI, params.Position, expectedVersionFromContext(ctx))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("hover failed", zap.Error(err))
		}
		if rpcErr := surfacingError(err); rpcErr != nil {
			return nil, rpcErr
		}
		return nil, nil //nolint:nilerr
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.PlainText, Value: res.Text},
	}, nil
}

// Symbol handles workspace/symbol.
func (s *Server) Symbol(_ context.Context, params *protocol.WorkspaceSymbolParams) ([]protocol.SymbolInformation, error) {
	results := s.resolver.WorkspaceSymbols(params.Query)
	out := make([]protocol.SymbolInformation, 0, len(results))
	for _, r := range results {
		out = append(out, protocol.SymbolInformation{
			Name:     r.Name,
			Kind:     convertLSPSymbolKind(r.Kind),
			Location: protocol.Location{URI: r.URI},
		})
	}
	return out, nil
}

func convertCompletionKind(k core.SymbolKind) protocol.CompletionItemKind {
	switch k {
	case core.KindFunction:
		return protocol.CompletionItemKindFunction
	case core.KindVariable:
		return protocol.CompletionItemKindVariable
	case core.KindClass:
		return protocol.CompletionItemKindClass
	case core.KindModule:
		return protocol.CompletionItemKindModule
	case core.KindParameter:
		return protocol.CompletionItemKindVariable
	case core.KindNamedArgument:
		return protocol.CompletionItemKindProperty
	default:
		return protocol.CompletionItemKindText
	}
}

func convertLSPSymbolKind(k core.SymbolKind) protocol.SymbolKind {
	switch k {
	case core.KindFunction:
		return protocol.SymbolKindFunction
	case core.KindVariable:
		return protocol.SymbolKindVariable
	case core.KindClass:
		return protocol.SymbolKindClass
	case core.KindModule:
		return protocol.SymbolKindModule
	default:
		return protocol.SymbolKindVariable
	}
}
