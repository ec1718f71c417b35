// Package analyzer is a concrete, minimal implementation of the
// Document, Parser and Analyzer contracts for Juniper, a small
// dynamically-typed scripting language. It is the replaceable
// collaborator named by the core: the core never imports it back, and
// a production deployment could swap it for a real type-checker
// without touching anything under core/.
package analyzer

import (
	"strings"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/juniper-lang/juniper-ls/core"
)

// part holds the text and current version for one part of a document.
type part struct {
	text    string
	version int32
}

// Document is an in-memory, line-addressable buffer. Edits are applied
// against byte offsets computed from 0-based line/character positions,
// mirroring how the server itself addresses text in protocol.Range.
type Document struct {
	mu    sync.RWMutex
	parts map[int]*part
}

// NewDocument builds a single-part (part 0) document from initial text
// at version 0, used by DirectoryLoader for on-disk discovery.
func NewDocument(text string) *Document {
	return &Document{parts: map[int]*part{0: {text: text, version: 0}}}
}

// Version implements core.Document.
func (d *Document) Version(p int) int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pt, ok := d.parts[p]
	if !ok {
		return -1
	}
	return pt.version
}

// Reset implements core.Document.
func (d *Document) Reset(version int32, text *string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.parts == nil {
		d.parts = make(map[int]*part)
	}
	if text == nil {
		if pt, ok := d.parts[0]; ok {
			pt.version = version
			return
		}
		d.parts[0] = &part{version: version}
		return
	}
	d.parts[0] = &part{text: *text, version: version}
}

// Update implements core.Document, applying edits to one part. A nil
// Range means whole-part replacement.
func (d *Document) Update(p int, from, to int32, edits []core.TextEdit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.parts == nil {
		d.parts = make(map[int]*part)
	}
	pt, ok := d.parts[p]
	if !ok {
		pt = &part{}
		d.parts[p] = pt
	}
	if pt.version != from {
		return core.MismatchedVersion(from, pt.version)
	}

	for _, e := range edits {
		if e.Range == nil {
			pt.text = e.Text
			continue
		}
		pt.text = applyEdit(pt.text, *e.Range, e.Text)
	}
	pt.version = to
	return nil
}

// Parts implements core.Document.
func (d *Document) Parts() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int, 0, len(d.parts))
	for p := range d.parts {
		out = append(out, p)
	}
	return out
}

// Text returns a snapshot of one part's current text.
func (d *Document) Text(p int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pt, ok := d.parts[p]
	if !ok {
		return ""
	}
	return pt.text
}

// applyEdit replaces the text spanned by rng within text with
// replacement, addressing lines/characters the same way LSP does
// (UTF-16-oblivious; byte-per-character, adequate for ASCII sources).
func applyEdit(text string, rng protocol.Range, replacement string) string {
	lines := strings.Split(text, "\n")

	startOffset := offsetOf(lines, rng.Start)
	endOffset := offsetOf(lines, rng.End)
	if startOffset > len(text) {
		startOffset = len(text)
	}
	if endOffset > len(text) {
		endOffset = len(text)
	}
	if endOffset < startOffset {
		endOffset = startOffset
	}

	return text[:startOffset] + replacement + text[endOffset:]
}

// offsetOf converts a 0-based line/character position into a byte
// offset into the joined text represented by lines.
func offsetOf(lines []string, pos protocol.Position) int {
	offset := 0
	for i := 0; i < int(pos.Line) && i < len(lines); i++ {
		offset += len(lines[i]) + 1 // +1 for the stripped "\n"
	}
	if int(pos.Line) < len(lines) {
		line := lines[pos.Line]
		char := int(pos.Character)
		if char > len(line) {
			char = len(line)
		}
		offset += char
	}
	return offset
}
