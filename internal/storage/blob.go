// Package storage holds the blob backends used for invoices and contract documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Download and Delete when the path holds no object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Path      string
	Size      int64
	UpdatedAt time.Time
}

// BlobStore uploads and downloads binary documents by path within one bucket.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectPath builds "{contractID}/{unixMillis}-{token}-{fileName}". The random token keeps
// same-millisecond uploads of one file name from sharing a path.
func ObjectPath(contractID string, at time.Time, fileName string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s/%d-%s-%s", strings.TrimSpace(contractID), at.UnixMilli(), token, SanitizeFileName(fileName))
}

// SanitizeFileName keeps the last path element of a client-supplied name so it
// cannot introduce extra path segments.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", ".", "..":
		return "file"
	}
	return name
}
