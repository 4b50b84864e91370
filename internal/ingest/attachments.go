package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AttachmentStore keeps the original document before processing. Save
// returns the location recorded as the compact record's file path.
type AttachmentStore interface {
	Save(ctx context.Context, runID, filename string, data []byte) (string, error)
}

// ObjectPutter is the subset of the MinIO backend used here.
type ObjectPutter interface {
	PutAttachment(ctx context.Context, key, filename string, data []byte) (string, error)
}

// LocalStore writes attachments into a directory, one file per base name.
// A later attachment with the same name replaces the earlier file.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, _ string, filename string, data []byte) (string, error) {
	p := filepath.Join(s.dir, SanitizeFilename(filename))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// ObjectStore uploads attachments under the run identifier, so same-named
// documents never collide.
type ObjectStore struct {
	objects ObjectPutter
}

func NewObjectStore(objects ObjectPutter) *ObjectStore {
	return &ObjectStore{objects: objects}
}

func (s *ObjectStore) Save(ctx context.Context, runID, filename string, data []byte) (string, error) {
	return s.objects.PutAttachment(ctx, runID, SanitizeFilename(filename), data)
}

// SanitizeFilename strips directories and characters that are unsafe in a
// path segment. The result is never empty.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`/:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}
