package core

import (
	"context"
	"sort"

	"go.lsp.dev/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ChangeNotification is an incremental-edit notification as received
// from textDocument/didChange, already stripped of JSON-RPC envelope.
type ChangeNotification struct {
	// URI carries the fragment selecting the part; pending changes are
	// keyed on it exactly as received (fragment-sensitive).
	URI protocol.DocumentURI

	// HasVersion is false when the client omitted the version field
	// entirely (edge case: treat V_to as V_from + len(Edits)).
	HasVersion bool
	VersionTo  int32

	// Edits is nil for a pure no-op notification. A TextEdit with a nil
	// Range is a whole-buffer replacement.
	Edits []TextEdit

	// SkipAnalysisEnqueue is the "do not enqueue for analysis" option.
	SkipAnalysisEnqueue bool
}

// PendingChange is a deferred incremental edit awaiting its
// predecessor version, keyed by URI including fragment.
type PendingChange struct {
	Notification ChangeNotification
}

// ChangeReconciler orders, gap-buffers and applies incremental edits
// per §4.4, then kicks off the parse/analyze pipeline.
type ChangeReconciler struct {
	store    *DocumentStore
	pipeline *ParseAnalyzePipeline
	logger   *zap.Logger
}

// NewChangeReconciler builds a reconciler over store, enqueuing
// completed applications onto pipeline.
func NewChangeReconciler(store *DocumentStore, pipeline *ParseAnalyzePipeline, logger *zap.Logger) *ChangeReconciler {
	return &ChangeReconciler{store: store, pipeline: pipeline, logger: logger}
}

func clamp0(v int32) int32 {
	if v < 0 {
		return 0
	}
	return v
}

func hasWholeBufferEdit(edits []TextEdit) bool {
	for _, e := range edits {
		if e.Range == nil {
			return true
		}
	}
	return false
}

// resolution is the from/to version pair computed per step 2-3 of §4.4.
type resolution struct {
	entry *Entry
	part  int
	vFrom int32
	vTo   int32
	whole bool
}

func (r *ChangeReconciler) resolve(n ChangeNotification) (resolution, error) {
	entry, err := r.store.Get(n.URI, true)
	if err != nil {
		return resolution{}, err
	}
	buf := entry.Buffer()
	if buf == nil {
		return resolution{}, UnknownDocument(string(n.URI))
	}

	part := PartOf(n.URI)
	vCur := clamp0(buf.Version(part))

	var vFrom, vTo int32
	if n.HasVersion {
		vTo = n.VersionTo
		vFrom = clamp0(vTo - 1)
	} else {
		vFrom = vCur
		vTo = vFrom + int32(len(n.Edits))
	}

	return resolution{
		entry: entry, part: part,
		vFrom: vFrom, vTo: vTo,
		whole: hasWholeBufferEdit(n.Edits),
	}, nil
}

// Apply runs the §4.4 algorithm for notification n: resolve, defer or
// apply, drain whatever it unblocks, and enqueue for parse/analyze.
func (r *ChangeReconciler) Apply(ctx context.Context, n ChangeNotification) error {
	res, err := r.resolve(n)
	if err != nil {
		return err
	}

	if n.Edits == nil {
		return nil
	}

	buf := res.entry.Buffer()
	vCur := clamp0(buf.Version(res.part))

	if res.vFrom > vCur && !res.whole {
		pl := r.store.pendingListFor(n.URI)
		pl.mu.Lock()
		pl.items = append(pl.items, &PendingChange{Notification: n})
		pl.mu.Unlock()
		return nil
	}

	if err := buf.Update(res.part, res.vFrom, res.vTo, n.Edits); err != nil {
		return err
	}

	if err := r.drainPending(n.URI); err != nil {
		return err
	}

	if !n.SkipAnalysisEnqueue {
		r.pipeline.Enqueue(ctx, res.entry, PriorityNormal, true)
	}
	return nil
}

// drainPending retains only entries with declared version >= the
// version just applied (vTo), picks the smallest, re-resolves and
// applies it, and repeats until nothing more can proceed. Failures
// from individual queued notifications are aggregated, not dropped.
func (r *ChangeReconciler) drainPending(uri protocol.DocumentURI) error {
	pl := r.store.pendingListFor(uri)
	var errs error

	for {
		pl.mu.Lock()
		if len(pl.items) == 0 {
			pl.mu.Unlock()
			return errs
		}
		sort.Slice(pl.items, func(i, j int) bool {
			return pl.items[i].Notification.VersionTo < pl.items[j].Notification.VersionTo
		})
		next := pl.items[0]
		rest := pl.items[1:]
		pl.mu.Unlock()

		res, err := r.resolve(next.Notification)
		if err != nil {
			// The document vanished under us (close/delete raced with the
			// queued edit): drop this entry, keep draining the rest.
			pl.mu.Lock()
			pl.items = rest
			pl.mu.Unlock()
			errs = multierr.Append(errs, err)
			continue
		}

		buf := res.entry.Buffer()
		vCur := clamp0(buf.Version(res.part))

		if next.Notification.VersionTo < vCur && !res.whole {
			// Stale: the document has already moved past this entry's
			// declared version (per §4.4 step 5, "retain only entries
			// with declared version >= V_to"). Drop it, keep draining.
			pl.mu.Lock()
			pl.items = rest
			pl.mu.Unlock()
			continue
		}

		if res.vFrom > vCur && !res.whole {
			// Still premature — put it back and stop; a later predecessor
			// arrival will resume the drain.
			pl.mu.Lock()
			pl.items = append([]*PendingChange{next}, rest...)
			pl.mu.Unlock()
			return errs
		}

		pl.mu.Lock()
		pl.items = rest
		pl.mu.Unlock()

		if next.Notification.Edits == nil {
			continue
		}
		if err := buf.Update(res.part, res.vFrom, res.vTo, next.Notification.Edits); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !next.Notification.SkipAnalysisEnqueue {
			r.pipeline.Enqueue(context.Background(), res.entry, PriorityNormal, true)
		}
	}
}
