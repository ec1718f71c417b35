package core

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.lsp.dev/protocol"
)

// Entry is the server's handle for one URI under management. Identity
// is fragment-insensitive: "file:///n.ipynb#0" and "file:///n.ipynb#1"
// share one Entry, distinguished by part.
type Entry struct {
	URI protocol.DocumentURI // canonical, fragment stripped

	mu      sync.RWMutex
	buffer  Document // nil: disk-backed, never opened in-memory
	module  ModuleEntry
	aliases map[string]struct{}
	tree    any
	cookie  ParseCookie
	diags   []Diagnostic
	hasMod  bool
	parseCh chan struct{} // closed and replaced on every SetCurrentParse
}

// NewEntry builds an Entry with no buffer (disk-backed) and no module
// registration yet.
func NewEntry(uri protocol.DocumentURI) *Entry {
	return &Entry{URI: CanonicalURI(uri), aliases: make(map[string]struct{}), parseCh: make(chan struct{})}
}

// Buffer returns the in-memory document, or nil if this entry is
// disk-backed.
func (e *Entry) Buffer() Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buffer
}

// SetBuffer installs an in-memory buffer (open) or clears it (close).
func (e *Entry) SetBuffer(d Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = d
}

// Version returns the current version for part, per invariant 2: -1
// once closed, monotonic non-decreasing while open.
func (e *Entry) Version(part int) int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.buffer == nil {
		return -1
	}
	return e.buffer.Version(part)
}

// Module returns the analyzer's registration for this entry, and
// whether one has been made yet.
func (e *Entry) Module() (ModuleEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.module, e.hasMod
}

// SetModule records the analyzer's registration for this entry.
func (e *Entry) SetModule(m ModuleEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.module = m
	e.hasMod = true
}

// Aliases returns a snapshot of the registered module aliases.
func (e *Entry) Aliases() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.aliases))
	for a := range e.aliases {
		out = append(out, a)
	}
	return out
}

// AddAlias registers alias as a name this module is also known by.
func (e *Entry) AddAlias(alias string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aliases[alias] = struct{}{}
}

// Snapshot is a consistent (tree, cookie) pair captured at request
// time, along with the most recently published diagnostics.
type Snapshot struct {
	Tree   any
	Cookie ParseCookie
	Diags  []Diagnostic
}

// CurrentParse returns the last recorded parse snapshot for this entry.
func (e *Entry) CurrentParse() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{Tree: e.tree, Cookie: e.cookie, Diags: e.diags}
}

// SetCurrentParse records a new parse snapshot, replacing the tree and
// cookie atomically from readers' view, and wakes every caller blocked
// in WaitForParse. Analyzer diagnostics are left as they are; they are
// replaced through SetDiagnostics.
func (e *Entry) SetCurrentParse(tree any, cookie ParseCookie) {
	e.mu.Lock()
	e.tree = tree
	e.cookie = cookie
	ch := e.parseCh
	e.parseCh = make(chan struct{})
	e.mu.Unlock()
	close(ch)
}

// WaitForParse blocks until the recorded cookie's version for part is
// at least minVersion, or ctx is done, whichever comes first. Callers
// wanting to wait indefinitely should pass a ctx with no deadline;
// callers wanting best-effort should pass one with a short timeout.
// Either way it always returns the freshest snapshot available when it
// stops waiting, never an error.
func (e *Entry) WaitForParse(ctx context.Context, part int, minVersion int32) Snapshot {
	for {
		snap := e.CurrentParse()
		if snap.Cookie.Version(part) >= minVersion {
			return snap
		}

		e.mu.RLock()
		ch := e.parseCh
		e.mu.RUnlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return e.CurrentParse()
		}
	}
}

// SetDiagnostics stores the analyzer's latest diagnostics for this entry.
func (e *Entry) SetDiagnostics(diags []Diagnostic) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.diags = diags
}

// CanonicalURI strips any "#fragment" suffix, giving the
// fragment-insensitive identity used for Entry lookup.
func CanonicalURI(uri protocol.DocumentURI) protocol.DocumentURI {
	s := string(uri)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return protocol.DocumentURI(s[:i])
	}
	return uri
}

// PartOf parses the integer part index out of uri's fragment. Returns
// 0 when the fragment is absent, empty, or not a valid integer —
// never an error, per invariant 4.
func PartOf(uri protocol.DocumentURI) int {
	s := string(uri)
	i := strings.IndexByte(s, '#')
	if i < 0 || i == len(s)-1 {
		return 0
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// pendingList is the coarse-locked list of deferred changes for one
// fragment-sensitive URI.
type pendingList struct {
	mu    sync.Mutex
	items []*PendingChange
}

// reportedSet is the coarse-locked reported-diagnostics record for one
// canonical URI: part -> (version, diagnostics).
type reportedSet struct {
	mu    sync.Mutex
	parts map[int]reportedVersion
}

type reportedVersion struct {
	version int32
	diags   []protocol.Diagnostic
}

// DocumentStore is the concurrent URI->Entry map, guarded by a
// sync.RWMutex. Reads share the read lock and wait only while a write
// holds the lock; writes to the map itself are rare (open/close/delete)
// relative to reads (every request).
type DocumentStore struct {
	mu      sync.RWMutex
	entries map[protocol.DocumentURI]*Entry // keyed by CanonicalURI

	pendingMu sync.Mutex
	pending   map[protocol.DocumentURI]*pendingList // keyed by full URI incl. fragment

	reportedMu sync.Mutex
	reported   map[protocol.DocumentURI]*reportedSet // keyed by CanonicalURI

	countersMu sync.Mutex
	counters   map[protocol.DocumentURI]*VolatileCounter // keyed by CanonicalURI
}

// NewDocumentStore returns an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		entries:  make(map[protocol.DocumentURI]*Entry),
		pending:  make(map[protocol.DocumentURI]*pendingList),
		reported: make(map[protocol.DocumentURI]*reportedSet),
		counters: make(map[protocol.DocumentURI]*VolatileCounter),
	}
}

// GetOrAdd inserts entry for uri's canonical identity unless one
// already exists, in which case the pre-existing entry is returned
// (invariant 1: at most one Entry per URI).
func (s *DocumentStore) GetOrAdd(uri protocol.DocumentURI, entry *Entry) *Entry {
	key := CanonicalURI(uri)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		return existing
	}
	s.entries[key] = entry
	return entry
}

// Get looks up the entry for uri. If throwIfMissing is true and no
// entry exists, it returns (nil, UnknownDocument error).
func (s *DocumentStore) Get(uri protocol.DocumentURI, throwIfMissing bool) (*Entry, error) {
	key := CanonicalURI(uri)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		if throwIfMissing {
			return nil, UnknownDocument(string(uri))
		}
		return nil, nil
	}
	return entry, nil
}

// Remove deletes the entry for uri (if any) along with its reported-
// diagnostics record and pending-parse counter, returning the removed
// entry.
func (s *DocumentStore) Remove(uri protocol.DocumentURI) *Entry {
	key := CanonicalURI(uri)

	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	s.reportedMu.Lock()
	delete(s.reported, key)
	s.reportedMu.Unlock()

	s.countersMu.Lock()
	delete(s.counters, key)
	s.countersMu.Unlock()

	if !ok {
		return nil
	}
	return entry
}

// All returns a snapshot slice of every known entry, for workspace-wide
// scans (DirectoryLoader re-enqueue, workspace/symbol).
func (s *DocumentStore) All() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// pendingListFor returns (creating if needed) the pending-change list
// for the given fragment-sensitive URI.
func (s *DocumentStore) pendingListFor(uri protocol.DocumentURI) *pendingList {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	pl, ok := s.pending[uri]
	if !ok {
		pl = &pendingList{}
		s.pending[uri] = pl
	}
	return pl
}

// reportedSetFor returns (creating if needed) the reported-diagnostics
// record for the given canonical URI.
func (s *DocumentStore) reportedSetFor(uri protocol.DocumentURI) *reportedSet {
	key := CanonicalURI(uri)
	s.reportedMu.Lock()
	defer s.reportedMu.Unlock()
	rs, ok := s.reported[key]
	if !ok {
		rs = &reportedSet{parts: make(map[int]reportedVersion)}
		s.reported[key] = rs
	}
	return rs
}

// pendingParseCounter returns (creating if needed) the per-document
// in-flight parse counter used by ParseAnalyzePipeline's throttle.
func (s *DocumentStore) pendingParseCounter(uri protocol.DocumentURI) *VolatileCounter {
	key := CanonicalURI(uri)
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		c = NewVolatileCounter()
		s.counters[key] = c
	}
	return c
}
