// Package fileutil provides filesystem helpers for staging downloaded media.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic streams r into path via a ".partial" sibling and renames on
// success, so readers never observe a half-written file. The partial file is
// removed on failure. Returns the number of bytes written.
func WriteAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	partial := path + ".partial"
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create partial file: %w", err)
	}

	written, err := io.Copy(out, r)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(partial)
		return written, fmt.Errorf("stream body: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return written, fmt.Errorf("close partial file: %w", err)
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return written, fmt.Errorf("finalize file: %w", err)
	}
	return written, nil
}

// RemoveQuietly deletes path and its ".partial" sibling, ignoring missing
// files. Used when a failed share's staged media is torn down.
func RemoveQuietly(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + ".partial")
}
