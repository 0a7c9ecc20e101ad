// Package blob stores generated binary artifacts and hands out URLs for them.
package blob

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Store persists binary artifacts and returns a URL clients can fetch.
type Store interface {
	// Put writes data under the given name and returns its public URL.
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// DirStore keeps artifacts in a local directory, served by the HTTP server
// under its base URL.
type DirStore struct {
	dir     string
	baseURL string
}

// NewDirStore creates the directory if needed. baseURL is the URL prefix
// the server mounts the directory under, e.g. "/files".
func NewDirStore(dir, baseURL string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DirStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the backing directory, for mounting a file server.
func (s *DirStore) Dir() string {
	return s.dir
}

// Put writes the artifact. The name is sanitized to its base component so
// callers cannot escape the store directory. An extension is derived from
// the content type when the name has none.
func (s *DirStore) Put(_ context.Context, name string, data []byte, contentType string) (string, error) {
	name = filepath.Base(name)
	if filepath.Ext(name) == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			name += exts[0]
		}
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return s.baseURL + "/" + name, nil
}
