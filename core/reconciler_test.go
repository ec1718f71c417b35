package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

type appliedEdit struct {
	part     int
	from, to int32
}

// fakeDocument is a minimal Document used to exercise ChangeReconciler
// without a real parser/analyzer wired up.
type fakeDocument struct {
	mu       sync.Mutex
	versions map[int]int32
	applied  []appliedEdit
}

func newFakeDocument(initialVersion int32) *fakeDocument {
	return &fakeDocument{versions: map[int]int32{0: initialVersion}}
}

func (d *fakeDocument) Version(part int) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.versions[part]
	if !ok {
		return -1
	}
	return v
}

func (d *fakeDocument) Reset(version int32, text *string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.versions[0] = version
}

func (d *fakeDocument) Update(part int, from, to int32, edits []TextEdit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.versions[part] = to
	d.applied = append(d.applied, appliedEdit{part: part, from: from, to: to})
	return nil
}

func (d *fakeDocument) Parts() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, 0, len(d.versions))
	for p := range d.versions {
		out = append(out, p)
	}
	return out
}

func newTestPipeline(store *DocumentStore) *ParseAnalyzePipeline {
	return NewParseAnalyzePipeline(store, nil, nil, nil, nil, NewEvents(), nil, NewMetrics(nil))
}

func TestChangeReconciler_Apply_InOrder(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(1)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	err := r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 2,
		Edits:               []TextEdit{{Text: "x"}},
		SkipAnalysisEnqueue: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, doc.Version(0))
}

func TestChangeReconciler_Apply_OutOfOrderDefers(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(1)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	err := r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 3,
		Edits:               []TextEdit{{Range: &protocol.Range{}, Text: "x"}},
		SkipAnalysisEnqueue: true,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, doc.Version(0)) // untouched, deferred
	pl := store.pendingListFor(uri)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	assert.Len(t, pl.items, 1)
}

func TestChangeReconciler_Apply_DrainsPendingOnPredecessorArrival(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(1)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	// version 3 arrives first: defers, since current version is 1.
	require.NoError(t, r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 3,
		Edits:               []TextEdit{{Range: &protocol.Range{}, Text: "c"}},
		SkipAnalysisEnqueue: true,
	}))

	// version 2 arrives: applies immediately, then drains the pending 3.
	require.NoError(t, r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 2,
		Edits:               []TextEdit{{Text: "b"}},
		SkipAnalysisEnqueue: true,
	}))

	assert.EqualValues(t, 3, doc.Version(0))

	pl := store.pendingListFor(uri)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	assert.Len(t, pl.items, 0)
}

func TestChangeReconciler_Apply_WholeBufferBypassesGate(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(1)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	// VersionTo is far ahead but this is a whole-buffer replace (nil
	// Range), so it applies directly instead of deferring.
	err := r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 50,
		Edits:               []TextEdit{{Text: "whole new content"}},
		SkipAnalysisEnqueue: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 50, doc.Version(0))
}

func TestChangeReconciler_Apply_NoVersionDerivesFromEditCount(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(5)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	err := r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: false,
		Edits:               []TextEdit{{Text: "a"}, {Text: "b"}},
		SkipAnalysisEnqueue: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, doc.Version(0)) // 5 + len(Edits)
}

func TestChangeReconciler_Apply_NilEditsIsNoOp(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(1)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	err := r.Apply(t.Context(), ChangeNotification{URI: uri, HasVersion: true, VersionTo: 9})
	require.NoError(t, err)
	assert.EqualValues(t, 1, doc.Version(0))
}

func TestChangeReconciler_Apply_UnknownDocument(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	err := r.Apply(t.Context(), ChangeNotification{
		URI: "file:///missing.jun", HasVersion: true, VersionTo: 2,
		Edits: []TextEdit{{Text: "x"}},
	})
	require.Error(t, err)
}

func TestChangeReconciler_DrainPending_DropsStaleEntryBehindCurrentVersion(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(1)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	// Defer version 5 (vFrom 4 > current 1): goes to the pending list.
	require.NoError(t, r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 5,
		Edits:               []TextEdit{{Range: &protocol.Range{}, Text: "c"}},
		SkipAnalysisEnqueue: true,
	}))

	// A whole-buffer replace jumps straight to version 10, bypassing the
	// gate, then drains the pending list. The deferred version-5 entry
	// is now stale (declared version 5 < the just-applied 10) and must
	// be dropped, not applied on top of the newer content.
	require.NoError(t, r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 10,
		Edits:               []TextEdit{{Text: "whole new content"}},
		SkipAnalysisEnqueue: true,
	}))

	assert.EqualValues(t, 10, doc.Version(0))
	for _, applied := range doc.applied {
		assert.NotEqual(t, int32(5), applied.to, "stale version-5 edit must not be applied after the jump to 10")
	}

	pl := store.pendingListFor(uri)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	assert.Empty(t, pl.items)
}

func TestChangeReconciler_DrainPending_AggregatesErrorWhenDocumentVanishes(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	entry := store.GetOrAdd(uri, NewEntry(uri))
	doc := newFakeDocument(1)
	entry.SetBuffer(doc)

	r := NewChangeReconciler(store, newTestPipeline(store), nil)

	// Defer version 3.
	require.NoError(t, r.Apply(t.Context(), ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 3,
		Edits:               []TextEdit{{Range: &protocol.Range{}, Text: "c"}},
		SkipAnalysisEnqueue: true,
	}))

	// The document closes before its predecessor arrives.
	store.Remove(uri)

	pl := store.pendingListFor(uri)
	pl.mu.Lock()
	pl.items = append(pl.items, &PendingChange{Notification: ChangeNotification{
		URI: uri, HasVersion: true, VersionTo: 2,
		Edits: []TextEdit{{Text: "b"}},
	}})
	pl.mu.Unlock()

	err := r.drainPending(uri)
	assert.Error(t, err)
}
