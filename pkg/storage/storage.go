// Package storage persists rendered report artifacts and hands back a
// location clients can download them from.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when an artifact key does not exist
var ErrNotFound = errors.New("artifact not found")

// Object describes a stored artifact
type Object struct {
	Key         string    `json:"key"`
	Location    string    `json:"location"`
	URL         string    `json:"url,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store is an artifact store
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

// ArtifactKey builds reports/<code>/<yyyy>/<mm>/<file>
func ArtifactKey(prefix, code, fileName string, at time.Time) string {
	return path.Join(strings.Trim(prefix, "/"), "reports", code, at.UTC().Format("2006/01"), fileName)
}

// cleanKey rejects keys escaping the store root
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if cleaned == "/" || strings.Contains(key, "..") {
		return "", errors.New("invalid artifact key")
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}
