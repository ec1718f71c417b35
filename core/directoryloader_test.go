package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

func buildLoader(t *testing.T, analyzer Analyzer) (*DirectoryLoader, *DocumentStore, *capturedSink) {
	t.Helper()
	sink := newCapturingPublisher()
	parser := &fakeParser{cookie: ParseCookie{Versions: map[int]int32{0: 0}}}
	p, store := buildPipeline(t, parser, analyzer, sink)
	loader := NewDirectoryLoader(store, p, analyzer, NewEvents(), nil, "*.jun", "2", DefaultInitFileRule, func(text string) Document {
		return newFakeDocument(0)
	})
	return loader, store, sink
}

func TestDirectoryLoader_Load_RegistersMatchingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jun"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o644))

	loader, store, _ := buildLoader(t, &fakeAnalyzer{})
	loader.Load(t.Context(), PathToURI(dir))

	require.Eventually(t, func() bool { return len(store.All()) == 1 }, time.Second, time.Millisecond)
	all := store.All()
	assert.Equal(t, PathToURI(filepath.Join(dir, "a.jun")), all[0].URI)
}

func TestDirectoryLoader_Load_RecursesOnlyIntoPackagedSubdirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "pkg")
	nonPkgDir := filepath.Join(dir, "scratch")
	require.NoError(t, os.Mkdir(pkgDir, 0o755))
	require.NoError(t, os.Mkdir(nonPkgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "juniper-init.jun"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "mod.jun"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nonPkgDir, "mod.jun"), []byte("x = 1\n"), 0o644))

	loader, store, _ := buildLoader(t, &fakeAnalyzer{})
	loader.Load(t.Context(), PathToURI(dir))

	// pkg/juniper-init.jun and pkg/mod.jun register; scratch/mod.jun is
	// skipped because the directory lacks the package marker.
	require.Eventually(t, func() bool { return len(store.All()) == 2 }, time.Second, time.Millisecond)

	var uris []protocol.DocumentURI
	for _, e := range store.All() {
		uris = append(uris, e.URI)
	}
	assert.Contains(t, uris, PathToURI(filepath.Join(pkgDir, "mod.jun")))
	assert.Contains(t, uris, PathToURI(filepath.Join(pkgDir, "juniper-init.jun")))
	assert.NotContains(t, uris, PathToURI(filepath.Join(nonPkgDir, "mod.jun")))
}

func TestDirectoryLoader_LoadFile_RegistersSingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "solo.jun")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	loader, store, _ := buildLoader(t, &fakeAnalyzer{})
	loader.LoadFile(t.Context(), PathToURI(path))

	require.Eventually(t, func() bool { return len(store.All()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, PathToURI(path), store.All()[0].URI)
}

func TestDirectoryLoader_LoadFile_MissingFileIsNoOp(t *testing.T) {
	t.Parallel()

	loader, store, _ := buildLoader(t, &fakeAnalyzer{})
	loader.LoadFile(t.Context(), PathToURI("/does/not/exist.jun"))

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, store.All())
}

func TestDirectoryLoader_DeleteFile_CascadesToImporters(t *testing.T) {
	t.Parallel()

	uriMath := protocol.DocumentURI("file:///math.jun")
	uriMain := protocol.DocumentURI("file:///main.jun")

	fa := &fakeAnalyzer{importing: map[string][]protocol.DocumentURI{"math": {uriMain}}}
	loader, store, sink := buildLoader(t, fa)

	mathEntry := store.GetOrAdd(uriMath, NewEntry(uriMath))
	mathEntry.SetModule(ModuleEntry{Name: "math", URI: uriMath})
	mathEntry.SetBuffer(newFakeDocument(1))

	mainEntry := store.GetOrAdd(uriMain, NewEntry(uriMain))
	mainEntry.SetModule(ModuleEntry{Name: "main", URI: uriMain})
	mainEntry.SetBuffer(newFakeDocument(1))

	loader.DeleteFile(t.Context(), uriMath)

	_, err := store.Get(uriMath, true)
	require.Error(t, err)

	assert.Contains(t, fa.removedModules, "math")

	// The importer is re-enqueued, so its diagnostics get republished.
	select {
	case call := <-sink.ch:
		assert.Equal(t, uriMain, call.uri)
	case <-time.After(time.Second):
		t.Fatal("importer was never re-enqueued")
	}
}

func TestDirectoryLoader_DeleteFile_UnknownURIIsNoOp(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{}
	loader, _, _ := buildLoader(t, fa)

	loader.DeleteFile(t.Context(), "file:///never-registered.jun")
	assert.Empty(t, fa.removedModules)
}
