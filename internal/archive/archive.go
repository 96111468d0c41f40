// Package archive moves original documents into durable object storage.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the durable home for original uploads. Put returns a public URL;
// Delete accepts a URL previously returned by Put.
type Store interface {
	Put(ctx context.Context, data []byte, name, mimeType string) (string, error)
	Delete(ctx context.Context, publicURL string) error
}

const localPrefix = "uploads/"

// IsRemote reports whether ref points at archived storage rather than a
// locally retained file.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// LocalReference is the fileUrl recorded when archival failed and the
// uploaded file stays on local disk.
func LocalReference(name string) string {
	return localPrefix + filepath.Base(name)
}

// LocalPath resolves a local reference against the upload directory. Only
// the base name is used so a reference can never escape uploadDir.
func LocalPath(uploadDir, ref string) string {
	return filepath.Join(uploadDir, filepath.Base(strings.TrimPrefix(ref, localPrefix)))
}

// ObjectKey builds records/<yyyy>/<mm>/<uuid>-<name>.
func ObjectKey(now time.Time, name string) string {
	base := strings.ReplaceAll(filepath.Base(name), " ", "_")
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	return path.Join("records", fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())), uuid.New().String()+"-"+base)
}

// keyFromURL strips prefix from publicURL and returns the unescaped object key.
func keyFromURL(publicURL, prefix string) (string, error) {
	if !strings.HasPrefix(publicURL, prefix) {
		return "", fmt.Errorf("url %q does not belong to this archive", publicURL)
	}
	key, err := url.PathUnescape(strings.TrimPrefix(publicURL, prefix))
	if err != nil {
		return "", fmt.Errorf("invalid object path in %q: %w", publicURL, err)
	}
	if key == "" {
		return "", fmt.Errorf("url %q has no object key", publicURL)
	}
	return key, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
