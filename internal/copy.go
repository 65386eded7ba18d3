package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

const tempMarker = ".tmp-"

// isTempName reports whether name looks like an unfinished copy.
func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempMarker)
}

// Copier writes files into the destination tree without ever replacing an
// existing file. Content goes to a hidden temp file in the target directory
// first and is published under its final name only after the digest matches.
type Copier struct {
	hasher *Hasher
	verify bool
	dirs   singleflight.Group
}

// NewCopier returns a Copier. With verify set, each temp file is read back
// and hashed again before it is published.
func NewCopier(hasher *Hasher, verify bool) *Copier {
	return &Copier{hasher: hasher, verify: verify}
}

// Copy copies src to dst and returns the number of bytes written. want is
// the fingerprint computed earlier for src; a mismatch means src changed or
// the write was corrupted, and nothing is published.
func (c *Copier) Copy(ctx context.Context, src, dst string, want Fingerprint) (int64, error) {
	if err := c.ensureDir(filepath.Dir(dst)); err != nil {
		return 0, err
	}
	if _, err := os.Lstat(dst); err == nil {
		return 0, fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+tempMarker+"*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	d := c.hasher.New()
	n, err := io.CopyBuffer(io.MultiWriter(tmp, d), &ctxReader{ctx: ctx, r: in}, make([]byte, hashBufferSize))
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", src, err)
	}

	if got := Sum(d); got != want {
		return n, fmt.Errorf("%s: %w (source changed during import?)", src, ErrHashMismatch)
	}
	if c.verify {
		got, _, err := c.hasher.HashFile(ctx, tmpPath)
		if err != nil {
			return n, fmt.Errorf("verify %s: %w", dst, err)
		}
		if got != want {
			return n, fmt.Errorf("%s: %w (read back differs)", dst, ErrHashMismatch)
		}
	}

	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return n, err
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return n, err
	}
	if err := publish(tmpPath, dst); err != nil {
		return n, err
	}
	return n, nil
}

// publish gives tmp the name dst, failing if dst exists. A hard link is
// atomic and refuses to overwrite; rename is the fallback for filesystems
// that do not support links.
func publish(tmp, dst string) error {
	err := os.Link(tmp, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}
	if _, serr := os.Lstat(dst); serr == nil {
		return fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}
	return os.Rename(tmp, dst)
}

// ensureDir creates dir once even when many workers target it together.
func (c *Copier) ensureDir(dir string) error {
	_, err, _ := c.dirs.Do(dir, func() (any, error) {
		return nil, os.MkdirAll(dir, 0o755)
	})
	return err
}
