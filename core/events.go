package core

import (
	"sync"

	"go.lsp.dev/protocol"
)

// Events is the core's observer hub. Subscribers are invoked
// synchronously on whatever goroutine publishes the event; they must
// not mutate core state (design note §9) and should return quickly.
type Events struct {
	mu sync.RWMutex

	onParseComplete    []func(uri protocol.DocumentURI, version int32)
	onAnalysisComplete []func(uri protocol.DocumentURI, version int32)
	onFileFound        []func(uri protocol.DocumentURI)
	onPublish          []func(uri protocol.DocumentURI, version int32, diags []protocol.Diagnostic)
}

// NewEvents returns an empty event hub.
func NewEvents() *Events {
	return &Events{}
}

func (e *Events) OnParseComplete(fn func(uri protocol.DocumentURI, version int32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onParseComplete = append(e.onParseComplete, fn)
}

func (e *Events) OnAnalysisComplete(fn func(uri protocol.DocumentURI, version int32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAnalysisComplete = append(e.onAnalysisComplete, fn)
}

func (e *Events) OnFileFound(fn func(uri protocol.DocumentURI)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFileFound = append(e.onFileFound, fn)
}

func (e *Events) OnPublish(fn func(uri protocol.DocumentURI, version int32, diags []protocol.Diagnostic)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPublish = append(e.onPublish, fn)
}

func (e *Events) emitParseComplete(uri protocol.DocumentURI, version int32) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onParseComplete {
		fn(uri, version)
	}
}

func (e *Events) emitAnalysisComplete(uri protocol.DocumentURI, version int32) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onAnalysisComplete {
		fn(uri, version)
	}
}

func (e *Events) emitFileFound(uri protocol.DocumentURI) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onFileFound {
		fn(uri)
	}
}

func (e *Events) emitPublish(uri protocol.DocumentURI, version int32, diags []protocol.Diagnostic) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onPublish {
		fn(uri, version, diags)
	}
}
