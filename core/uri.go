package core

import (
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"go.lsp.dev/protocol"
)

// URIToPath converts a file:// document URI into a filesystem path.
// Non-file schemes are returned with the scheme stripped, best-effort.
func URIToPath(uri protocol.DocumentURI) string {
	s := string(uri)
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "file" {
		return s
	}
	p := u.Path
	if runtime.GOOS == "windows" && len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// PathToURI converts a filesystem path into a file:// document URI.
func PathToURI(path string) protocol.DocumentURI {
	p := filepath.ToSlash(path)
	if runtime.GOOS == "windows" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	return protocol.DocumentURI(u.String())
}
