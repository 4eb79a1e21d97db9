package binimage

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"
)

// mmapBacking adapts golang.org/x/exp/mmap.ReaderAt, the read-only mmap
// reader from the same module family loov-lensm requires directly, to the
// backing interface.
type mmapBacking struct {
	r *mmap.ReaderAt
}

func (m mmapBacking) ReadAt(p []byte, off int64) (int, error) { return m.r.ReadAt(p, off) }
func (m mmapBacking) Len() int64                              { return int64(m.r.Len()) }
func (m mmapBacking) Close() error                            { return m.r.Close() }

// openOrBuildCache persists the flattened image bytes to dir, keyed by the
// source file's sha256 digest, and returns an mmap-backed reader over it.
// Concurrent builders racing on the same digest converge on the same file
// content via an atomic rename: each writes to its own temp file and only
// the winning rename is observed by later opens.
func openOrBuildCache(dir, digest string, flattened []byte) (backing, error) {
	if dir == "" {
		return nil, fmt.Errorf("binimage: cache: no directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("binimage: cache: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, digest+".img")
	if info, err := os.Stat(path); err == nil && info.Size() == int64(len(flattened)) {
		r, err := mmap.Open(path)
		if err == nil {
			return mmapBacking{r: r}, nil
		}
	}

	tmp, err := os.CreateTemp(dir, digest+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("binimage: cache: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(flattened); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("binimage: cache: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("binimage: cache: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("binimage: cache: rename into place: %w", err)
	}

	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("binimage: cache: mmap %s: %w", path, err)
	}
	return mmapBacking{r: r}, nil
}
