package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DiskBlobStore keeps artifacts under a root directory and serves them under a base URL.
// Writes go to a temporary file first and are renamed into place once complete.
type DiskBlobStore struct {
	root    string
	baseURL string
	log     *slog.Logger
}

func NewDiskBlobStore(root, baseURL string, log *slog.Logger) (*DiskBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &DiskBlobStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), log: log}, nil
}

func (d *DiskBlobStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("empty blob path")
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

// Put streams r to p and returns the number of bytes written.
func (d *DiskBlobStore) Put(ctx context.Context, p string, r io.Reader) (int64, error) {
	target, err := d.resolve(p)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write blob %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes p; a missing file is not an error.
func (d *DiskBlobStore) Delete(p string) error {
	target, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *DiskBlobStore) URL(p string) string {
	segments := strings.Split(strings.TrimPrefix(path.Clean("/"+p), "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return d.baseURL + "/" + strings.Join(segments, "/")
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
