package core

import (
	"context"

	"go.lsp.dev/protocol"
)

// TextEdit is either a ranged replacement or, when Range is nil, a
// whole-buffer replacement.
type TextEdit struct {
	Range *protocol.Range
	Text  string
}

// Document is the narrow contract the core requires from the
// in-memory buffer representation of one URI. Implementations own the
// actual text storage; the core never reads raw bytes itself.
type Document interface {
	// Version returns the current version of the given part. Parts not
	// yet created return -1.
	Version(part int) int32
	// Reset replaces the whole document (used by didOpen and by
	// whole-buffer changes). A nil text leaves existing content in
	// place (used when only the version needs bumping).
	Reset(version int32, text *string)
	// Update applies edits to one part, moving it from version `from`
	// to version `to`.
	Update(part int, from, to int32, edits []TextEdit) error
	// Parts lists the part indices currently tracked by this document.
	Parts() []int
}

// ParseCookie is the opaque token a Parser returns, carrying the
// per-part version map of the generation it parsed.
type ParseCookie struct {
	Versions map[int]int32
}

// Version returns the version recorded for part, or 0 if the cookie
// carries no entry for it (the "no versioning available" sentinel).
func (c ParseCookie) Version(part int) int32 {
	if c.Versions == nil {
		return 0
	}
	return c.Versions[part]
}

// Parser is the out-of-scope syntax-parsing collaborator. Tree is
// opaque to the core; RequestResolver only ever hands it back to the
// Analyzer.
type Parser interface {
	Parse(ctx context.Context, uri protocol.DocumentURI, doc Document) (tree any, cookie ParseCookie, err error)
}

// DiagnosticSeverity mirrors the LSP severities without importing the
// whole protocol diagnostic shape into the analyzer boundary.
type DiagnosticSeverity int

const (
	SeverityError DiagnosticSeverity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// Diagnostic is the analyzer's report shape, converted to
// protocol.Diagnostic only at the publisher boundary.
type Diagnostic struct {
	Part     int
	Range    protocol.Range
	Severity DiagnosticSeverity
	Code     string
	Source   string
	Message  string
}

// ModuleEntry is the analyzer's handle for one registered module.
type ModuleEntry struct {
	Name string
	URI  protocol.DocumentURI
}

// CompletionCandidate is a semantic completion result, converted to an
// LSP completion item at the RequestResolver boundary.
type CompletionCandidate struct {
	Label         string
	InsertText    string
	Documentation string
	Kind          SymbolKind
}

// SymbolKind is a coarse semantic kind shared by completion,
// hover and workspace-symbol results.
type SymbolKind int

const (
	KindUnknown SymbolKind = iota
	KindVariable
	KindFunction
	KindClass
	KindModule
	KindParameter
	KindNamedArgument
)

// Overload describes one callable signature for signature help.
type Overload struct {
	Label          string
	ParameterNames []string
}

// Variable is an analyzed value reference returned for a references request.
type Variable struct {
	URI   protocol.DocumentURI
	Range protocol.Range
	Kind  VariableKind
}

// VariableKind classifies a Variable result.
type VariableKind int

const (
	VariableNone VariableKind = iota
	VariableDefinition
	VariableValue
	VariableReference
)

// AnalyzedValue is one semantic value backing a hover response.
type AnalyzedValue struct {
	ShortDescription string
	LongDescription  string
}

// CallContext describes the call expression enclosing a cursor
// position, used by completion's argument-name augmentation and by
// signature help.
type CallContext struct {
	FunctionExpr  string
	ArgumentIndex int
	ArgumentNames []string // names already present at other argument slots
}

// ExpressionFinder walks an opaque syntax tree to answer the narrow
// questions RequestResolver needs; it is the analyzer's concern, not
// the core's — the core never interprets tree nodes itself.
type ExpressionFinder interface {
	// MemberExpressionAt returns the member-access expression enclosing
	// (part, pos) (e.g. "foo.bar"), tuned to prefer member evaluation
	// over bare names.
	MemberExpressionAt(tree any, part int, pos protocol.Position) (expr string, ok bool)
	// EnclosingCallAt returns the call expression enclosing (part, pos),
	// if any.
	EnclosingCallAt(tree any, part int, pos protocol.Position) (*CallContext, bool)
	// ImportNameAt returns the module name of an import statement at
	// (part, pos), if the cursor sits on one.
	ImportNameAt(tree any, part int, pos protocol.Position) (moduleName string, ok bool)
}

// Analyzer is the out-of-scope semantic-analysis collaborator. The
// core treats it as a shared, externally-synchronized resource whose
// reference is cleared (not mutated) on shutdown.
type Analyzer interface {
	ExpressionFinder

	AddModule(ctx context.Context, name, path string, uri protocol.DocumentURI, cookie ParseCookie, tree any) (ModuleEntry, error)
	AddModuleAlias(alias, name string)
	RemoveModule(name string)
	EntriesImporting(name string, recursive bool) []protocol.DocumentURI
	SearchPaths() []string
	Diagnostics(entry ModuleEntry) []Diagnostic

	// Analyze runs semantic analysis for an already-parsed document,
	// rebuilding the symbol data that the query methods below (including
	// ModuleSymbols, used for workspace symbol search) read. It returns
	// only an error.
	Analyze(ctx context.Context, entry ModuleEntry, tree any) error
	MembersOf(entry ModuleEntry, expression string) ([]CompletionCandidate, bool)
	AllNamesAt(entry ModuleEntry, pos protocol.Position) []CompletionCandidate
	OverloadsOf(entry ModuleEntry, expression string) []Overload
	VariablesAt(entry ModuleEntry, expression string) []Variable
	ValuesAt(entry ModuleEntry, expression string) []AnalyzedValue
	ModuleSymbols(entry ModuleEntry) []CompletionCandidate

	ReloadModules() error
}
