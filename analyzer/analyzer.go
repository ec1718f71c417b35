package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/juniper-lang/juniper-ls/core"
)

// module is the analyzer's record of one registered entry: its
// identity, its most recent tree, and the symbol table derived from
// it.
type module struct {
	entry   core.ModuleEntry
	tree    *Tree
	defs    map[string][]DefStmt    // name -> every def with that name (overload set)
	assigns map[string][]AssignStmt // name -> every assignment with that name
	imports map[string]string       // alias -> module name
}

// Analyzer is a minimal semantic layer over Juniper's line-oriented
// syntax: module registration, name resolution by simple string
// matching, and diagnostics for unresolved imports. It satisfies
// core.Analyzer (embedding core.ExpressionFinder) entirely through
// this one small symbol table — a real implementation would replace
// this file with a type checker while keeping core/ untouched.
type Analyzer struct {
	mu          sync.RWMutex
	modules     map[string]*module // by name
	aliasToName map[string]string  // global module alias registry
	searchPaths []string
	logger      *zap.Logger

	unhandledMu sync.Mutex
	unhandled   []func(error)
}

// NewAnalyzer builds an empty analyzer with the given search paths.
func NewAnalyzer(searchPaths []string, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		modules:     make(map[string]*module),
		aliasToName: make(map[string]string),
		searchPaths: searchPaths,
		logger:      logger,
	}
}

// OnUnhandledError registers a listener invoked when Analyze panics or
// returns an error that isn't BadSource, mirroring the analyzer's
// unhandled-exception signal named in the error handling design.
func (a *Analyzer) OnUnhandledError(fn func(error)) {
	a.unhandledMu.Lock()
	defer a.unhandledMu.Unlock()
	a.unhandled = append(a.unhandled, fn)
}

func (a *Analyzer) notifyUnhandled(err error) {
	a.unhandledMu.Lock()
	listeners := append([]func(error){}, a.unhandled...)
	a.unhandledMu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// AddModule implements core.Analyzer.
func (a *Analyzer) AddModule(_ context.Context, name, _ string, uri protocol.DocumentURI, _ core.ParseCookie, tree any) (core.ModuleEntry, error) {
	t, _ := tree.(*Tree)
	entry := core.ModuleEntry{Name: name, URI: uri}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.modules[name] = &module{entry: entry, tree: t, imports: make(map[string]string)}
	return entry, nil
}

// AddModuleAlias implements core.Analyzer.
func (a *Analyzer) AddModuleAlias(alias, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aliasToName[alias] = name
}

// RemoveModule implements core.Analyzer.
func (a *Analyzer) RemoveModule(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.modules, name)
	for alias, target := range a.aliasToName {
		if target == name {
			delete(a.aliasToName, alias)
		}
	}
}

// resolveName follows the global alias registry to a canonical module
// name, returning the input unchanged if it isn't an alias.
func (a *Analyzer) resolveName(name string) string {
	if target, ok := a.aliasToName[name]; ok {
		return target
	}
	return name
}

// EntriesImporting implements core.Analyzer.
func (a *Analyzer) EntriesImporting(name string, recursive bool) []protocol.DocumentURI {
	a.mu.RLock()
	defer a.mu.RUnlock()

	target := a.resolveName(name)
	seen := make(map[string]bool)
	var frontier []string
	var out []protocol.DocumentURI

	for modName, m := range a.modules {
		for _, imported := range m.imports {
			if a.resolveName(imported) == target {
				out = append(out, m.entry.URI)
				if !seen[modName] {
					seen[modName] = true
					frontier = append(frontier, modName)
				}
				break
			}
		}
	}

	if !recursive {
		return out
	}

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for modName, m := range a.modules {
			if seen[modName] {
				continue
			}
			for _, imported := range m.imports {
				if a.resolveName(imported) == next {
					out = append(out, m.entry.URI)
					seen[modName] = true
					frontier = append(frontier, modName)
					break
				}
			}
		}
	}

	return out
}

// SearchPaths implements core.Analyzer.
func (a *Analyzer) SearchPaths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string{}, a.searchPaths...)
}

// Diagnostics implements core.Analyzer: every import whose module name
// doesn't resolve to a known, registered module is a warning.
func (a *Analyzer) Diagnostics(entry core.ModuleEntry) []core.Diagnostic {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.modules[entry.Name]
	if !ok || m.tree == nil {
		return nil
	}

	var diags []core.Diagnostic
	for part, pt := range m.tree.Parts {
		for _, imp := range pt.Imports {
			target := a.resolveName(imp.ModuleName)
			if _, known := a.modules[target]; known {
				continue
			}
			diags = append(diags, core.Diagnostic{
				Part:     part,
				Range:    protocol.Range{Start: imp.NameToken.Start, End: imp.NameToken.End},
				Severity: core.SeverityWarning,
				Code:     "unresolved-import",
				Source:   "juniper",
				Message:  fmt.Sprintf("module %q is not found in the workspace", imp.ModuleName),
			})
		}

		seen := make(map[string]int)
		for _, def := range pt.Defs {
			seen[def.Name]++
			if seen[def.Name] > 1 {
				diags = append(diags, core.Diagnostic{
					Part:     part,
					Range:    protocol.Range{Start: def.NameToken.Start, End: def.NameToken.End},
					Severity: core.SeverityInformation,
					Code:     "redefinition",
					Source:   "juniper",
					Message:  fmt.Sprintf("%q redefined in this file", def.Name),
				})
			}
		}
	}
	return diags
}

// Analyze implements core.Analyzer: rebuilds the module's symbol
// table from tree. A panic is reported through OnUnhandledError and
// then re-raised for AnalysisQueue to recover; any error other than
// BadSource is reported through OnUnhandledError and returned.
func (a *Analyzer) Analyze(_ context.Context, entry core.ModuleEntry, tree any) error {
	defer func() {
		if r := recover(); r != nil {
			a.notifyUnhandled(fmt.Errorf("analyze %s: panic: %v", entry.Name, r))
			panic(r)
		}
	}()

	t, ok := tree.(*Tree)
	if !ok {
		return core.ErrBadSource
	}

	defs := make(map[string][]DefStmt)
	assigns := make(map[string][]AssignStmt)
	imports := make(map[string]string)

	for _, pt := range t.Parts {
		for _, d := range pt.Defs {
			defs[d.Name] = append(defs[d.Name], d)
		}
		for _, asn := range pt.Assigns {
			assigns[asn.Name] = append(assigns[asn.Name], asn)
		}
		for _, imp := range pt.Imports {
			imports[imp.Alias] = imp.ModuleName
		}
	}

	a.mu.Lock()
	m, ok := a.modules[entry.Name]
	if !ok {
		a.mu.Unlock()
		err := core.UnsupportedDocumentType(entry.Name)
		a.notifyUnhandled(err)
		return err
	}
	m.tree = t
	m.defs = defs
	m.assigns = assigns
	m.imports = imports
	a.mu.Unlock()

	return nil
}

// MembersOf implements core.Analyzer, resolving a dotted expression
// like "alias.name" by splitting on "." and looking up the first
// segment as an import alias of the calling module.
func (a *Analyzer) MembersOf(entry core.ModuleEntry, expression string) ([]core.CompletionCandidate, bool) {
	if expression == "" {
		return nil, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	caller, ok := a.modules[entry.Name]
	if !ok {
		return nil, false
	}

	head := expression
	if i := strings.IndexByte(expression, '.'); i >= 0 {
		head = expression[:i]
	}

	targetName, ok := caller.imports[head]
	if !ok {
		return nil, false
	}
	target, ok := a.modules[a.resolveName(targetName)]
	if !ok {
		return nil, false
	}

	return a.moduleSymbolsLocked(target), true
}

// AllNamesAt implements core.Analyzer: every top-level name visible in
// entry's own module, plus its imported aliases.
func (a *Analyzer) AllNamesAt(entry core.ModuleEntry, _ protocol.Position) []core.CompletionCandidate {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.modules[entry.Name]
	if !ok {
		return nil
	}

	candidates := a.moduleSymbolsLocked(m)
	for alias := range m.imports {
		candidates = append(candidates, core.CompletionCandidate{Label: alias, InsertText: alias, Kind: core.KindModule})
	}
	return candidates
}

// moduleSymbolsLocked builds the candidate list for one module's
// top-level defs and assignments. Caller must hold a.mu.
func (a *Analyzer) moduleSymbolsLocked(m *module) []core.CompletionCandidate {
	var out []core.CompletionCandidate
	for name, defs := range m.defs {
		out = append(out, core.CompletionCandidate{
			Label:         name,
			InsertText:    name,
			Documentation: signatureDoc(name, defs),
			Kind:          core.KindFunction,
		})
	}
	for name := range m.assigns {
		if _, isDef := m.defs[name]; isDef {
			continue
		}
		out = append(out, core.CompletionCandidate{Label: name, InsertText: name, Kind: core.KindVariable})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func signatureDoc(name string, defs []DefStmt) string {
	parts := make([]string, 0, len(defs))
	for _, d := range defs {
		names := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			names = append(names, p.Name)
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", name, strings.Join(names, ", ")))
	}
	return strings.Join(parts, "\n")
}

// OverloadsOf implements core.Analyzer. expression may be a bare name
// or "alias.name"; both the calling module and an imported module are
// consulted.
func (a *Analyzer) OverloadsOf(entry core.ModuleEntry, expression string) []core.Overload {
	a.mu.RLock()
	defer a.mu.RUnlock()

	name := expression
	m, ok := a.modules[entry.Name]
	if !ok {
		return nil
	}

	if i := strings.IndexByte(expression, '.'); i >= 0 {
		alias, rest := expression[:i], expression[i+1:]
		targetName, ok := m.imports[alias]
		if !ok {
			return nil
		}
		target, ok := a.modules[a.resolveName(targetName)]
		if !ok {
			return nil
		}
		m, name = target, rest
	}

	defs, ok := m.defs[name]
	if !ok {
		return nil
	}

	out := make([]core.Overload, 0, len(defs))
	for _, d := range defs {
		names := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			names = append(names, p.Name)
		}
		out = append(out, core.Overload{Label: signatureDoc(name, []DefStmt{d}), ParameterNames: names})
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i].ParameterNames) < len(out[j].ParameterNames) })
	return out
}

// VariablesAt implements core.Analyzer: every def (as a definition)
// and every assignment (as a value) of expression, plus every textual
// occurrence of expression as a bare identifier within entry's own
// module.
func (a *Analyzer) VariablesAt(entry core.ModuleEntry, expression string) []core.Variable {
	if expression == "" {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.modules[entry.Name]
	if !ok || m.tree == nil {
		return nil
	}

	var out []core.Variable
	for _, d := range m.defs[expression] {
		out = append(out, core.Variable{
			URI:   m.entry.URI,
			Range: protocol.Range{Start: d.NameToken.Start, End: d.NameToken.End},
			Kind:  core.VariableDefinition,
		})
	}
	for _, asn := range m.assigns[expression] {
		out = append(out, core.Variable{
			URI:   m.entry.URI,
			Range: protocol.Range{Start: asn.NameToken.Start, End: asn.NameToken.End},
			Kind:  core.VariableValue,
		})
	}

	for _, pt := range m.tree.Parts {
		for _, line := range pt.Lines {
			for _, t := range line.Tokens {
				if t.Kind == TokenIdent && t.Text == expression {
					out = append(out, core.Variable{
						URI:   m.entry.URI,
						Range: protocol.Range{Start: t.Start, End: t.End},
						Kind:  core.VariableReference,
					})
				}
			}
		}
	}

	return out
}

// ValuesAt implements core.Analyzer, rendering a short hover
// description for a bare name or dotted expression.
func (a *Analyzer) ValuesAt(entry core.ModuleEntry, expression string) []core.AnalyzedValue {
	if expression == "" {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	name := expression
	m, ok := a.modules[entry.Name]
	if !ok {
		return nil
	}
	if i := strings.IndexByte(expression, '.'); i >= 0 {
		alias, rest := expression[:i], expression[i+1:]
		targetName, ok := m.imports[alias]
		if !ok {
			return nil
		}
		target, ok := a.modules[a.resolveName(targetName)]
		if !ok {
			return nil
		}
		m, name = target, rest
	}

	if defs, ok := m.defs[name]; ok {
		return []core.AnalyzedValue{{ShortDescription: signatureDoc(name, defs)}}
	}
	if _, ok := m.assigns[name]; ok {
		return []core.AnalyzedValue{{ShortDescription: name + ": variable"}}
	}
	return nil
}

// ModuleSymbols implements core.Analyzer.
func (a *Analyzer) ModuleSymbols(entry core.ModuleEntry) []core.CompletionCandidate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.modules[entry.Name]
	if !ok {
		return nil
	}
	return a.moduleSymbolsLocked(m)
}

// ReloadModules implements core.Analyzer: clears derived symbol
// tables so the next Analyze pass rebuilds them from the last-known
// tree, used after workspace/didChangeConfiguration.
func (a *Analyzer) ReloadModules() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.modules {
		if m.tree == nil {
			continue
		}
		defs := make(map[string][]DefStmt)
		assigns := make(map[string][]AssignStmt)
		imports := make(map[string]string)
		for _, pt := range m.tree.Parts {
			for _, d := range pt.Defs {
				defs[d.Name] = append(defs[d.Name], d)
			}
			for _, asn := range pt.Assigns {
				assigns[asn.Name] = append(assigns[asn.Name], asn)
			}
			for _, imp := range pt.Imports {
				imports[imp.Alias] = imp.ModuleName
			}
		}
		m.defs, m.assigns, m.imports = defs, assigns, imports
	}
	return nil
}
