package core

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// parseResult is what a queued parse task resolves to.
type parseResult struct {
	tree   any
	cookie ParseCookie
	err    error
}

// ParseFuture is handed back by ParseQueue.Submit; Wait blocks until
// the submission (and every submission queued ahead of it for the
// same URI) has run.
type ParseFuture struct {
	done chan struct{}
	res  parseResult
}

// Wait blocks for the parse to complete or ctx to be done, whichever
// happens first.
func (f *ParseFuture) Wait(ctx context.Context) (tree any, cookie ParseCookie, err error) {
	select {
	case <-f.done:
		return f.res.tree, f.res.cookie, f.res.err
	case <-ctx.Done():
		return nil, ParseCookie{}, ctx.Err()
	}
}

type parseTask struct {
	uri  protocol.DocumentURI
	doc  Document
	fut  *ParseFuture
	hash uint64
}

// ParseQueue is a single-flight parse scheduler per document: at most
// one parse for a given URI runs at a time, and submissions for the
// same URI are processed strictly in submission order so a later
// submit always observes every earlier one.
type ParseQueue struct {
	parser Parser
	logger *zap.Logger
	m      *metrics

	mu      sync.Mutex
	pending map[protocol.DocumentURI][]*parseTask
	running map[protocol.DocumentURI]bool

	lastHash map[protocol.DocumentURI]uint64
}

// NewParseQueue builds a queue that delegates actual parsing to parser.
func NewParseQueue(parser Parser, logger *zap.Logger, m *metrics) *ParseQueue {
	return &ParseQueue{
		parser:   parser,
		logger:   logger,
		m:        m,
		pending:  make(map[protocol.DocumentURI][]*parseTask),
		running:  make(map[protocol.DocumentURI]bool),
		lastHash: make(map[protocol.DocumentURI]uint64),
	}
}

// Submit enqueues uri's current document for parsing and returns a
// future for the eventual cookie. fingerprint is a caller-supplied
// string (the pipeline passes each part's version) that is hashed
// purely for debug-log dedup; it never substitutes for the
// authoritative version.
func (q *ParseQueue) Submit(ctx context.Context, uri protocol.DocumentURI, doc Document, fingerprint string) *ParseFuture {
	fut := &ParseFuture{done: make(chan struct{})}
	task := &parseTask{uri: uri, doc: doc, fut: fut, hash: xxhash.Sum64String(fingerprint)}

	q.mu.Lock()
	q.pending[uri] = append(q.pending[uri], task)
	alreadyRunning := q.running[uri]
	if !alreadyRunning {
		q.running[uri] = true
	}
	q.mu.Unlock()

	if !alreadyRunning {
		go q.drain(ctx, uri)
	}
	return fut
}

func (q *ParseQueue) drain(ctx context.Context, uri protocol.DocumentURI) {
	for {
		q.mu.Lock()
		tasks := q.pending[uri]
		if len(tasks) == 0 {
			q.running[uri] = false
			q.mu.Unlock()
			return
		}
		task := tasks[0]
		q.pending[uri] = tasks[1:]
		last, dup := q.lastHash[uri]
		dup = dup && last == task.hash
		q.lastHash[uri] = task.hash
		q.mu.Unlock()

		if dup && q.logger != nil {
			q.logger.Debug("parse: identical content resubmitted", zap.String("uri", string(uri)))
		}

		tree, cookie, err := q.parser.Parse(ctx, uri, task.doc)
		task.fut.res = parseResult{tree: tree, cookie: cookie, err: err}
		close(task.fut.done)
	}
}
