package core

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// InitFileRule decides, for a given packaging directory and language
// version, whether an init file is required to treat the directory as
// a package (and, if so, its expected name).
type InitFileRule func(languageVersion string) (fileName string, required bool)

// DefaultInitFileRule mirrors a Python-style packaging convention:
// Juniper 2.x requires an explicit package marker; 1.x does not.
func DefaultInitFileRule(languageVersion string) (string, bool) {
	if len(languageVersion) > 0 && languageVersion[0] == '1' {
		return "", false
	}
	return "juniper-init.jun", true
}

// DocumentFactory builds a Document buffer for freshly discovered
// on-disk text (version 0, never yet opened by a client).
type DocumentFactory func(text string) Document

// DirectoryLoader enumerates a workspace root for source files,
// registering each as a disk-backed Entry, and recurses into
// subdirectories that satisfy the language's packaging rule.
type DirectoryLoader struct {
	store         *DocumentStore
	pipeline      *ParseAnalyzePipeline
	analyzer      Analyzer
	events        *Events
	logger        *zap.Logger
	sourcePattern string
	initRule      InitFileRule
	languageVer   string
	newDocument   DocumentFactory
}

// NewDirectoryLoader builds a loader. sourcePattern is a doublestar
// glob matched against file base names (default "*.jun" if empty).
func NewDirectoryLoader(
	store *DocumentStore,
	pipeline *ParseAnalyzePipeline,
	analyzer Analyzer,
	events *Events,
	logger *zap.Logger,
	sourcePattern string,
	languageVersion string,
	initRule InitFileRule,
	newDocument DocumentFactory,
) *DirectoryLoader {
	if sourcePattern == "" {
		sourcePattern = "*.jun"
	}
	if initRule == nil {
		initRule = DefaultInitFileRule
	}
	return &DirectoryLoader{
		store:         store,
		pipeline:      pipeline,
		analyzer:      analyzer,
		events:        events,
		logger:        logger,
		sourcePattern: sourcePattern,
		initRule:      initRule,
		languageVer:   languageVersion,
		newDocument:   newDocument,
	}
}

// Load enumerates rootURI's directory tree, registering every source
// file it finds and firing FileFound for each.
func (l *DirectoryLoader) Load(ctx context.Context, rootURI protocol.DocumentURI) {
	root := URIToPath(rootURI)
	l.loadDir(ctx, root)
}

func (l *DirectoryLoader) loadDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("directory scan failed", zap.String("dir", dir), zap.Error(err))
		}
		return
	}

	var fileNames, subdirs []string
	for _, de := range entries {
		if de.IsDir() {
			subdirs = append(subdirs, de.Name())
			continue
		}
		fileNames = append(fileNames, de.Name())
	}

	for _, name := range fileNames {
		matched, err := doublestar.Match(l.sourcePattern, name)
		if err != nil || !matched {
			continue
		}
		l.loadFile(ctx, filepath.Join(dir, name))
	}

	initName, required := l.initRule(l.languageVer)
	for _, sub := range subdirs {
		if required {
			if _, err := os.Stat(filepath.Join(dir, sub, initName)); err != nil {
				continue // no package marker: skip the subtree
			}
		}
		l.loadDir(ctx, filepath.Join(dir, sub))
	}
}

// LoadFile registers a single on-disk file as an Entry and enqueues it
// for parsing, used by workspace/didChangeWatchedFiles when a new
// source file is created.
func (l *DirectoryLoader) LoadFile(ctx context.Context, uri protocol.DocumentURI) {
	l.loadFile(ctx, URIToPath(uri))
}

func (l *DirectoryLoader) loadFile(ctx context.Context, path string) {
	text, err := os.ReadFile(path)
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("read source file failed", zap.String("path", path), zap.Error(err))
		}
		return
	}

	uri := PathToURI(path)
	doc := l.newDocument(string(text))
	entry := NewEntry(uri)
	entry.SetBuffer(doc)
	entry = l.store.GetOrAdd(uri, entry)

	l.events.emitFileFound(uri)
	l.pipeline.Enqueue(ctx, entry, PriorityLow, true)
}

// DeleteFile implements the module-destruction cascade in §3: the
// module is removed from the analyzer, its Entry is removed from the
// store, and every entry that imported it is re-enqueued at Low
// priority so completion stops offering its members.
func (l *DirectoryLoader) DeleteFile(ctx context.Context, uri protocol.DocumentURI) {
	entry := l.store.Remove(uri)
	if entry == nil {
		return
	}
	mod, ok := entry.Module()
	if !ok {
		return
	}
	l.analyzer.RemoveModule(mod.Name)

	for _, importerURI := range l.analyzer.EntriesImporting(mod.Name, true) {
		importer, err := l.store.Get(importerURI, false)
		if err != nil || importer == nil {
			continue
		}
		l.pipeline.Enqueue(ctx, importer, PriorityLow, true)
	}
}
