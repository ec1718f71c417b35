package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.lsp.dev/protocol"
)

// CompletionOptions is the context bitset accompanying a completion
// request, per §4.7.
type CompletionOptions struct {
	IntersectMultipleResults bool
	StatementKeywords        bool // default true
	ExpressionKeywords       bool // default true
	IncludeAllModules        bool
	IncludeArgumentNames     bool
	FilterKind               SymbolKind // zero value: no filter
	HasFilterKind            bool
}

// DefaultCompletionOptions mirrors the source's defaults.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{StatementKeywords: true, ExpressionKeywords: true}
}

// CompletionItem is the resolver's rendering of one CompletionCandidate.
type CompletionItem struct {
	Label         string
	InsertText    string
	Documentation string
	Kind          SymbolKind
}

// SignatureInfo is the resolver's rendering of the active overload set.
type SignatureInfo struct {
	Overloads       []Overload
	ActiveSignature int
	ActiveParameter int
}

// ReferenceResult is one de-duplicated reference location.
type ReferenceResult struct {
	URI   protocol.DocumentURI
	Range protocol.Range
	Kind  VariableKind
}

// HoverResult is the rendered hover text for an expression.
type HoverResult struct {
	Label string
	Text  string
}

// SymbolResult is one workspace/symbol record.
type SymbolResult struct {
	Name string
	Kind SymbolKind
	URI  protocol.DocumentURI
}

// completionsTimeout resolves to "wait indefinitely" when negative and
// "best-effort" (the given duration) otherwise, per §4.7 and the open
// question in design notes: negative means wait, not "no wait".
func completionsTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// RequestResolver serves synchronous read requests against the
// document store's current parse state.
type RequestResolver struct {
	store    *DocumentStore
	analyzer Analyzer
	timeout  time.Duration
}

// NewRequestResolver builds a resolver. timeout is the configured
// completions timeout, applied to preamble's parse wait (negative: no
// deadline; non-negative: a deadline of that length). That wait returns
// at once; see preamble.
func NewRequestResolver(store *DocumentStore, analyzer Analyzer, timeout time.Duration) *RequestResolver {
	return &RequestResolver{store: store, analyzer: analyzer, timeout: timeout}
}

// preamble resolves entry, takes its current parse snapshot and
// optionally enforces an expected version, per §4.7's common preamble.
// The snapshot is read through WaitForParse with a minimum version of
// 0, which every snapshot satisfies (a cookie with no entry for the
// part reports 0), so preamble does not block waiting for a newer
// parse.
func (r *RequestResolver) preamble(ctx context.Context, uri protocol.DocumentURI, expectedVersion *int32) (*Entry, Snapshot, int, error) {
	entry, err := r.store.Get(uri, true)
	if err != nil {
		return nil, Snapshot{}, 0, err
	}

	part := PartOf(uri)

	wctx, cancel := completionsTimeout(ctx, r.timeout)
	defer cancel()

	snap := entry.WaitForParse(wctx, part, 0)

	if expectedVersion != nil {
		actual := snap.Cookie.Version(part)
		if actual != *expectedVersion {
			return nil, Snapshot{}, 0, MismatchedVersion(*expectedVersion, actual)
		}
	}

	return entry, snap, part, nil
}

// Completion resolves a completion request. expression, when non-nil,
// bypasses tree walking entirely.
func (r *RequestResolver) Completion(ctx context.Context, uri protocol.DocumentURI, pos protocol.Position, expectedVersion *int32, expression *string, opts CompletionOptions) ([]CompletionItem, error) {
	entry, snap, part, err := r.preamble(ctx, uri, expectedVersion)
	if err != nil {
		return nil, err
	}
	mod, ok := entry.Module()
	if !ok {
		return []CompletionItem{}, nil
	}

	var candidates []CompletionCandidate

	expr := ""
	hasExpr := false
	if expression != nil {
		expr = *expression
		hasExpr = true
	} else if snap.Tree != nil {
		if found, ok := r.analyzer.MemberExpressionAt(snap.Tree, part, pos); ok {
			expr = found
			hasExpr = true
		}
	}

	if hasExpr {
		members, found := r.analyzer.MembersOf(mod, expr)
		if found {
			candidates = members
		}
	} else {
		candidates = r.analyzer.AllNamesAt(mod, pos)
	}

	if opts.IncludeArgumentNames && snap.Tree != nil {
		if call, ok := r.analyzer.EnclosingCallAt(snap.Tree, part, pos); ok {
			candidates = append(candidates, argumentNameCandidates(r.analyzer.OverloadsOf(mod, call.FunctionExpr), call)...)
		}
	}

	if opts.HasFilterKind {
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if c.Kind == opts.FilterKind {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	items := make([]CompletionItem, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, CompletionItem{
			Label:         c.Label,
			InsertText:    c.InsertText,
			Documentation: c.Documentation,
			Kind:          c.Kind,
		})
	}
	return items, nil
}

// argumentNameCandidates computes (parameter names of all overloads) -
// (argument names already present), rendered "name=" with
// KindNamedArgument, per §4.7.
func argumentNameCandidates(overloads []Overload, call *CallContext) []CompletionCandidate {
	present := make(map[string]struct{}, len(call.ArgumentNames))
	for _, n := range call.ArgumentNames {
		present[n] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []CompletionCandidate
	for _, ov := range overloads {
		for _, p := range ov.ParameterNames {
			if _, skip := present[p]; skip {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, CompletionCandidate{
				Label:      p + "=",
				InsertText: p + "=",
				Kind:       KindNamedArgument,
			})
		}
	}
	return out
}

// SignatureHelp resolves a signature help request.
func (r *RequestResolver) SignatureHelp(ctx context.Context, uri protocol.DocumentURI, pos protocol.Position, expectedVersion *int32) (*SignatureInfo, error) {
	entry, snap, part, err := r.preamble(ctx, uri, expectedVersion)
	if err != nil {
		return nil, err
	}
	mod, ok := entry.Module()
	if !ok || snap.Tree == nil {
		return nil, nil
	}

	call, ok := r.analyzer.EnclosingCallAt(snap.Tree, part, pos)
	if !ok {
		return nil, nil
	}

	overloads := r.analyzer.OverloadsOf(mod, call.FunctionExpr)
	if len(overloads) == 0 {
		return nil, nil
	}

	active := activeSignature(overloads, call.ArgumentIndex)
	return &SignatureInfo{
		Overloads:       overloads,
		ActiveSignature: active,
		ActiveParameter: call.ArgumentIndex,
	}, nil
}

// activeSignature picks the lowest-arity overload whose parameter
// count strictly exceeds activeParameter, falling back to the last
// (highest-arity) overload if none qualifies.
func activeSignature(overloads []Overload, activeParameter int) int {
	best := -1
	for i, ov := range overloads {
		if len(ov.ParameterNames) <= activeParameter {
			continue
		}
		if best == -1 || len(ov.ParameterNames) < len(overloads[best].ParameterNames) {
			best = i
		}
	}
	if best == -1 {
		return len(overloads) - 1
	}
	return best
}

// References resolves a references request.
func (r *RequestResolver) References(ctx context.Context, uri protocol.DocumentURI, pos protocol.Position, expectedVersion *int32, includeDeclaration bool) ([]ReferenceResult, error) {
	entry, snap, part, err := r.preamble(ctx, uri, expectedVersion)
	if err != nil {
		return nil, err
	}
	mod, ok := entry.Module()
	if !ok {
		return []ReferenceResult{}, nil
	}

	var vars []Variable

	if snap.Tree != nil {
		if modName, ok := r.analyzer.ImportNameAt(snap.Tree, part, pos); ok {
			if declURI, found := r.moduleDeclaration(modName); found {
				vars = append(vars, Variable{URI: declURI, Kind: VariableDefinition})
			}
		}
	}

	expr := ""
	if snap.Tree != nil {
		if found, ok := r.analyzer.MemberExpressionAt(snap.Tree, part, pos); ok {
			expr = found
		}
	}
	vars = append(vars, r.analyzer.VariablesAt(mod, expr)...)

	results := make([]ReferenceResult, 0, len(vars))
	for _, v := range vars {
		if v.Kind == VariableNone {
			continue
		}
		if !includeDeclaration && (v.Kind == VariableDefinition || v.Kind == VariableValue) {
			continue
		}
		results = append(results, ReferenceResult{URI: v.URI, Range: v.Range, Kind: v.Kind})
	}

	return dedupeReferences(results), nil
}

// moduleDeclaration resolves a module name to the URI of its own
// declaring entry, used to surface import-name references.
func (r *RequestResolver) moduleDeclaration(name string) (protocol.DocumentURI, bool) {
	for _, e := range r.store.All() {
		if mod, ok := e.Module(); ok && mod.Name == name {
			return mod.URI, true
		}
	}
	return "", false
}

// dedupeReferences de-duplicates by (uri, start position), keeping the
// entry with the greatest end position and, as a tiebreak, the lowest
// kind ordinal, per §4.7.
func dedupeReferences(in []ReferenceResult) []ReferenceResult {
	type key struct {
		uri   protocol.DocumentURI
		line  uint32
		char  uint32
	}
	best := make(map[key]ReferenceResult)
	order := make([]key, 0, len(in))

	for _, r := range in {
		k := key{uri: r.URI, line: r.Range.Start.Line, char: r.Range.Start.Character}
		existing, ok := best[k]
		if !ok {
			best[k] = r
			order = append(order, k)
			continue
		}
		if endOrd(r.Range.End) > endOrd(existing.Range.End) ||
			(endOrd(r.Range.End) == endOrd(existing.Range.End) && r.Kind < existing.Kind) {
			best[k] = r
		}
	}

	out := make([]ReferenceResult, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func endOrd(p protocol.Position) uint64 {
	return uint64(p.Line)<<32 | uint64(p.Character)
}

// Hover resolves a hover request, rendering analyzed values per §4.7's
// text-rendering rules.
func (r *RequestResolver) Hover(ctx context.Context, uri protocol.DocumentURI, pos protocol.Position, expectedVersion *int32) (HoverResult, error) {
	entry, snap, part, err := r.preamble(ctx, uri, expectedVersion)
	if err != nil {
		return HoverResult{}, err
	}
	mod, ok := entry.Module()
	if !ok {
		return HoverResult{Text: "<unknown type>"}, nil
	}

	expr := ""
	if snap.Tree != nil {
		if found, ok := r.analyzer.MemberExpressionAt(snap.Tree, part, pos); ok {
			expr = found
		}
	}

	label := truncateLabel(expr)
	values := r.analyzer.ValuesAt(mod, expr)

	text := renderHover(values)
	if label != "" {
		if text == "" {
			return HoverResult{Label: label, Text: label + ": <unknown type>"}, nil
		}
		return HoverResult{Label: label, Text: label + ": " + text}, nil
	}
	if text == "" {
		return HoverResult{Text: "<unknown type>"}, nil
	}
	return HoverResult{Text: text}, nil
}

// truncateLabel caps label at 4093 characters, appending an ellipsis
// when truncated.
func truncateLabel(label string) string {
	const maxLen = 4093
	if len(label) <= maxLen {
		return label
	}
	return label[:maxLen] + "…"
}

// renderHover joins analyzed values' short descriptions with ", "
// unless any is multi-line (then newline-joined); prefers a single
// value's long description when present; then normalizes blank lines
// and caps line/character counts.
func renderHover(values []AnalyzedValue) string {
	if len(values) == 0 {
		return ""
	}
	if len(values) == 1 && values[0].LongDescription != "" {
		return capLines(collapseBlankLines(values[0].LongDescription))
	}

	multiline := false
	for _, v := range values {
		if strings.Contains(v.ShortDescription, "\n") {
			multiline = true
			break
		}
	}

	sep := ", "
	if multiline {
		sep = "\n"
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v.ShortDescription == "" {
			continue
		}
		parts = append(parts, v.ShortDescription)
	}
	return capLines(collapseBlankLines(strings.Join(parts, sep)))
}

// collapseBlankLines replaces runs of consecutive blank lines with a
// single blank line.
func collapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	prevBlank := false
	for _, l := range lines {
		blank := strings.TrimSpace(l) == ""
		if blank && prevBlank {
			continue
		}
		out = append(out, l)
		prevBlank = blank
	}
	return strings.Join(out, "\n")
}

// capLines bounds the rendered text to 30 lines and 200 characters per
// line, appending "…" wherever truncation occurs.
func capLines(text string) string {
	const maxLines = 30
	const maxChars = 200

	lines := strings.Split(text, "\n")
	truncatedLines := false
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		truncatedLines = true
	}

	for i, l := range lines {
		if len(l) > maxChars {
			lines[i] = l[:maxChars] + "…"
		}
	}

	out := strings.Join(lines, "\n")
	if truncatedLines {
		out += "…"
	}
	return out
}

// WorkspaceSymbols resolves a workspace/symbol request.
func (r *RequestResolver) WorkspaceSymbols(query string) []SymbolResult {
	lowerQuery := strings.ToLower(query)
	seen := make(map[string]struct{})
	var out []SymbolResult

	entries := r.store.All()
	sort.Slice(entries, func(i, j int) bool { return entries[i].URI < entries[j].URI })

	for _, e := range entries {
		mod, ok := e.Module()
		if !ok {
			continue
		}
		for _, c := range r.analyzer.ModuleSymbols(mod) {
			if !strings.HasPrefix(strings.ToLower(c.Label), lowerQuery) {
				continue
			}
			if _, dup := seen[c.Label]; dup {
				continue
			}
			seen[c.Label] = struct{}{}
			out = append(out, SymbolResult{Name: c.Label, Kind: c.Kind, URI: mod.URI})
		}
	}
	return out
}
