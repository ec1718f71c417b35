package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

func TestCanonicalURI_StripsFragment(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, "file:///n.jun", CanonicalURI("file:///n.jun#2"))
	assert.EqualValues(t, "file:///n.jun", CanonicalURI("file:///n.jun"))
}

func TestPartOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, PartOf("file:///n.jun"))
	assert.Equal(t, 2, PartOf("file:///n.jun#2"))
	assert.Equal(t, 0, PartOf("file:///n.jun#"))
	assert.Equal(t, 0, PartOf("file:///n.jun#notanumber"))
}

func TestDocumentStore_GetOrAdd_ReturnsExisting(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")

	first := NewEntry(uri)
	second := NewEntry(uri)

	got := s.GetOrAdd(uri, first)
	assert.Same(t, first, got)

	got2 := s.GetOrAdd(uri, second)
	assert.Same(t, first, got2)
}

func TestDocumentStore_Get_UnknownThrows(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	_, err := s.Get("file:///missing.jun", true)
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeUnknownDocument, cerr.Code)
}

func TestDocumentStore_Get_UnknownNoThrow(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	entry, err := s.Get("file:///missing.jun", false)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDocumentStore_Remove(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")
	s.GetOrAdd(uri, NewEntry(uri))

	removed := s.Remove(uri)
	require.NotNil(t, removed)

	_, err := s.Get(uri, false)
	require.NoError(t, err)
	again := s.Remove(uri)
	assert.Nil(t, again)
}

func TestDocumentStore_All(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	s.GetOrAdd("file:///a.jun", NewEntry("file:///a.jun"))
	s.GetOrAdd("file:///b.jun", NewEntry("file:///b.jun"))

	all := s.All()
	assert.Len(t, all, 2)
}

func TestEntry_Version_ClosedReturnsNegativeOne(t *testing.T) {
	t.Parallel()

	e := NewEntry("file:///n.jun")
	assert.EqualValues(t, -1, e.Version(0))
}

func TestEntry_SetCurrentParse_UpdatesSnapshot(t *testing.T) {
	t.Parallel()

	e := NewEntry("file:///n.jun")
	cookie := ParseCookie{Versions: map[int]int32{0: 3}}
	e.SetCurrentParse("tree-value", cookie)

	snap := e.CurrentParse()
	assert.Equal(t, "tree-value", snap.Tree)
	assert.EqualValues(t, 3, snap.Cookie.Version(0))
}

func TestEntry_WaitForParse_ReturnsImmediatelyIfSatisfied(t *testing.T) {
	t.Parallel()

	e := NewEntry("file:///n.jun")
	e.SetCurrentParse("tree", ParseCookie{Versions: map[int]int32{0: 5}})

	snap := e.WaitForParse(context.Background(), 0, 5)
	assert.EqualValues(t, 5, snap.Cookie.Version(0))
}

func TestEntry_WaitForParse_BlocksUntilParseArrives(t *testing.T) {
	t.Parallel()

	e := NewEntry("file:///n.jun")

	done := make(chan Snapshot)
	go func() {
		done <- e.WaitForParse(context.Background(), 0, 1)
	}()

	select {
	case <-done:
		t.Fatal("WaitForParse returned before a matching parse arrived")
	case <-time.After(30 * time.Millisecond):
	}

	e.SetCurrentParse("tree", ParseCookie{Versions: map[int]int32{0: 1}})

	select {
	case snap := <-done:
		assert.EqualValues(t, 1, snap.Cookie.Version(0))
	case <-time.After(time.Second):
		t.Fatal("WaitForParse never unblocked")
	}
}

func TestEntry_WaitForParse_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	e := NewEntry("file:///n.jun")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	snap := e.WaitForParse(ctx, 0, 99)
	assert.EqualValues(t, 0, snap.Cookie.Version(0))
}

func TestEntry_Aliases(t *testing.T) {
	t.Parallel()

	e := NewEntry("file:///n.jun")
	e.AddAlias("m")
	e.AddAlias("mm")

	assert.ElementsMatch(t, []string{"m", "mm"}, e.Aliases())
}

func TestDocumentStore_ReportedSetFor_CreatesOnce(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")

	a := s.reportedSetFor(uri)
	b := s.reportedSetFor(uri)
	assert.Same(t, a, b)
}

func TestDocumentStore_PendingParseCounter_CreatesOnce(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	uri := protocol.DocumentURI("file:///n.jun")

	a := s.pendingParseCounter(uri)
	b := s.pendingParseCounter(uri)
	assert.Same(t, a, b)
}
