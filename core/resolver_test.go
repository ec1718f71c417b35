package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

// fakeAnalyzer is a minimal, hand-scripted Analyzer used to exercise
// RequestResolver without depending on a concrete semantic engine.
type fakeAnalyzer struct {
	members    map[string][]CompletionCandidate
	allNames   []CompletionCandidate
	overloads  map[string][]Overload
	variables  map[string][]Variable
	values     map[string][]AnalyzedValue
	moduleSyms []CompletionCandidate

	memberExpr   string
	hasMemberExp bool
	call         *CallContext
	hasCall      bool
	importName   string
	hasImport    bool

	importing       map[string][]protocol.DocumentURI
	removedModules  []string
	addedAliases    map[string]string
}

func (f *fakeAnalyzer) MemberExpressionAt(tree any, part int, pos protocol.Position) (string, bool) {
	return f.memberExpr, f.hasMemberExp
}

func (f *fakeAnalyzer) EnclosingCallAt(tree any, part int, pos protocol.Position) (*CallContext, bool) {
	return f.call, f.hasCall
}

func (f *fakeAnalyzer) ImportNameAt(tree any, part int, pos protocol.Position) (string, bool) {
	return f.importName, f.hasImport
}

func (f *fakeAnalyzer) AddModule(ctx context.Context, name, path string, uri protocol.DocumentURI, cookie ParseCookie, tree any) (ModuleEntry, error) {
	return ModuleEntry{Name: name, URI: uri}, nil
}

func (f *fakeAnalyzer) AddModuleAlias(alias, name string) {
	if f.addedAliases == nil {
		f.addedAliases = make(map[string]string)
	}
	f.addedAliases[alias] = name
}

func (f *fakeAnalyzer) RemoveModule(name string) {
	f.removedModules = append(f.removedModules, name)
}

func (f *fakeAnalyzer) EntriesImporting(name string, recursive bool) []protocol.DocumentURI {
	return f.importing[name]
}

func (f *fakeAnalyzer) SearchPaths() []string { return nil }
func (f *fakeAnalyzer) Diagnostics(entry ModuleEntry) []Diagnostic                    { return nil }
func (f *fakeAnalyzer) Analyze(ctx context.Context, entry ModuleEntry, tree any) error { return nil }

func (f *fakeAnalyzer) MembersOf(entry ModuleEntry, expression string) ([]CompletionCandidate, bool) {
	m, ok := f.members[expression]
	return m, ok
}

func (f *fakeAnalyzer) AllNamesAt(entry ModuleEntry, pos protocol.Position) []CompletionCandidate {
	return f.allNames
}

func (f *fakeAnalyzer) OverloadsOf(entry ModuleEntry, expression string) []Overload {
	return f.overloads[expression]
}

func (f *fakeAnalyzer) VariablesAt(entry ModuleEntry, expression string) []Variable {
	return f.variables[expression]
}

func (f *fakeAnalyzer) ValuesAt(entry ModuleEntry, expression string) []AnalyzedValue {
	return f.values[expression]
}

func (f *fakeAnalyzer) ModuleSymbols(entry ModuleEntry) []CompletionCandidate { return f.moduleSyms }

func (f *fakeAnalyzer) ReloadModules() error { return nil }

func openEntry(t *testing.T, store *DocumentStore, uri protocol.DocumentURI, mod ModuleEntry, version int32) *Entry {
	t.Helper()
	entry := store.GetOrAdd(uri, NewEntry(uri))
	entry.SetModule(mod)
	entry.SetCurrentParse("tree", ParseCookie{Versions: map[int]int32{0: version}})
	return entry
}

func TestRequestResolver_Completion_BareNames(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{allNames: []CompletionCandidate{{Label: "x", Kind: KindVariable}}}
	r := NewRequestResolver(store, fa, -1)

	items, err := r.Completion(context.Background(), uri, protocol.Position{}, nil, nil, DefaultCompletionOptions())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "x", items[0].Label)
}

func TestRequestResolver_Completion_MemberExpression(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{
		memberExpr:   "math",
		hasMemberExp: true,
		members: map[string][]CompletionCandidate{
			"math": {{Label: "sqrt", Kind: KindFunction}},
		},
	}
	r := NewRequestResolver(store, fa, -1)

	items, err := r.Completion(context.Background(), uri, protocol.Position{}, nil, nil, DefaultCompletionOptions())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sqrt", items[0].Label)
}

func TestRequestResolver_Completion_ArgumentNames(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{
		call: &CallContext{FunctionExpr: "f", ArgumentIndex: 0, ArgumentNames: []string{"x"}},
		hasCall: true,
		overloads: map[string][]Overload{
			"f": {{Label: "f", ParameterNames: []string{"x", "y"}}},
		},
	}
	opts := DefaultCompletionOptions()
	opts.IncludeArgumentNames = true

	r := NewRequestResolver(store, fa, -1)
	items, err := r.Completion(context.Background(), uri, protocol.Position{}, nil, nil, opts)
	require.NoError(t, err)

	var labels []string
	for _, it := range items {
		labels = append(labels, it.Label)
	}
	assert.Contains(t, labels, "y=")
	assert.NotContains(t, labels, "x=")
}

func TestRequestResolver_Completion_FilterKind(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{allNames: []CompletionCandidate{
		{Label: "x", Kind: KindVariable},
		{Label: "f", Kind: KindFunction},
	}}
	opts := DefaultCompletionOptions()
	opts.HasFilterKind = true
	opts.FilterKind = KindFunction

	r := NewRequestResolver(store, fa, -1)
	items, err := r.Completion(context.Background(), uri, protocol.Position{}, nil, nil, opts)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "f", items[0].Label)
}

func TestRequestResolver_Completion_MismatchedVersion(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 2)

	r := NewRequestResolver(store, &fakeAnalyzer{}, -1)
	expected := int32(5)
	_, err := r.Completion(context.Background(), uri, protocol.Position{}, &expected, nil, DefaultCompletionOptions())
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeMismatchedVersion, cerr.Code)
}

func TestRequestResolver_SignatureHelp_PicksLowestQualifyingArity(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{
		call:    &CallContext{FunctionExpr: "f", ArgumentIndex: 1},
		hasCall: true,
		overloads: map[string][]Overload{
			"f": {
				{Label: "f(a)", ParameterNames: []string{"a"}},
				{Label: "f(a,b)", ParameterNames: []string{"a", "b"}},
				{Label: "f(a,b,c)", ParameterNames: []string{"a", "b", "c"}},
			},
		},
	}
	r := NewRequestResolver(store, fa, -1)

	info, err := r.SignatureHelp(context.Background(), uri, protocol.Position{}, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.ActiveSignature) // f(a,b): 2 params > argIndex 1, lower arity than f(a,b,c)
	assert.Equal(t, 1, info.ActiveParameter)
}

func TestRequestResolver_SignatureHelp_FallsBackToLastOverload(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{
		call:    &CallContext{FunctionExpr: "f", ArgumentIndex: 5},
		hasCall: true,
		overloads: map[string][]Overload{
			"f": {
				{Label: "f(a)", ParameterNames: []string{"a"}},
				{Label: "f(a,b)", ParameterNames: []string{"a", "b"}},
			},
		},
	}
	r := NewRequestResolver(store, fa, -1)

	info, err := r.SignatureHelp(context.Background(), uri, protocol.Position{}, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.ActiveSignature)
}

func TestRequestResolver_SignatureHelp_NoEnclosingCall(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	r := NewRequestResolver(store, &fakeAnalyzer{}, -1)
	info, err := r.SignatureHelp(context.Background(), uri, protocol.Position{}, nil)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestRequestResolver_References_DedupesAndFiltersDeclaration(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	rng := protocol.Range{
		Start: protocol.Position{Line: 1, Character: 0},
		End:   protocol.Position{Line: 1, Character: 3},
	}
	biggerEnd := rng
	biggerEnd.End.Character = 10

	fa := &fakeAnalyzer{
		variables: map[string][]Variable{
			"": {
				{URI: uri, Range: rng, Kind: VariableReference},
				{URI: uri, Range: biggerEnd, Kind: VariableReference}, // dup start, bigger end should win
				{URI: uri, Range: rng, Kind: VariableDefinition},
			},
		},
	}
	r := NewRequestResolver(store, fa, -1)

	results, err := r.References(context.Background(), uri, protocol.Position{}, nil, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(10), results[0].Range.End.Character)
}

func TestRequestResolver_References_IncludeDeclaration(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{
		variables: map[string][]Variable{
			"": {
				{URI: uri, Kind: VariableDefinition},
				{URI: uri, Range: protocol.Range{Start: protocol.Position{Line: 2}}, Kind: VariableReference},
			},
		},
	}
	r := NewRequestResolver(store, fa, -1)

	results, err := r.References(context.Background(), uri, protocol.Position{}, nil, true)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRequestResolver_Hover_RendersLabelAndValue(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{
		memberExpr:   "total",
		hasMemberExp: true,
		values: map[string][]AnalyzedValue{
			"total": {{ShortDescription: "int"}},
		},
	}
	r := NewRequestResolver(store, fa, -1)

	res, err := r.Hover(context.Background(), uri, protocol.Position{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "total", res.Label)
	assert.Equal(t, "total: int", res.Text)
}

func TestRequestResolver_Hover_UnknownType(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	r := NewRequestResolver(store, &fakeAnalyzer{}, -1)
	res, err := r.Hover(context.Background(), uri, protocol.Position{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<unknown type>", res.Text)
}

func TestRequestResolver_Hover_MultipleValuesJoinedWithComma(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	openEntry(t, store, uri, ModuleEntry{Name: "main"}, 1)

	fa := &fakeAnalyzer{
		values: map[string][]AnalyzedValue{
			"": {{ShortDescription: "int"}, {ShortDescription: "str"}},
		},
	}
	r := NewRequestResolver(store, fa, -1)

	res, err := r.Hover(context.Background(), uri, protocol.Position{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "int, str", res.Text)
}

func TestRequestResolver_WorkspaceSymbols_PrefixMatchAndDedup(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uriA := protocol.DocumentURI("file:///a.jun")
	uriB := protocol.DocumentURI("file:///b.jun")
	openEntry(t, store, uriA, ModuleEntry{Name: "a", URI: uriA}, 1)
	openEntry(t, store, uriB, ModuleEntry{Name: "b", URI: uriB}, 1)

	fa := &fakeAnalyzer{moduleSyms: []CompletionCandidate{
		{Label: "greet", Kind: KindFunction},
		{Label: "greeting", Kind: KindVariable},
		{Label: "other", Kind: KindVariable},
	}}
	r := NewRequestResolver(store, fa, -1)

	results := r.WorkspaceSymbols("gre")
	var names []string
	for _, s := range results {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"greet", "greeting"}, names)
}

func TestRequestResolver_CompletionsTimeout_BestEffortDoesNotHang(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///main.jun")
	store.GetOrAdd(uri, NewEntry(uri)) // no parse ever arrives

	r := NewRequestResolver(store, &fakeAnalyzer{}, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		_, _ = r.Completion(context.Background(), uri, protocol.Position{}, nil, nil, DefaultCompletionOptions())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("best-effort completion timeout did not return")
	}
}
