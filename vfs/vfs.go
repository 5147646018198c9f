// Package vfs owns the process-wide virtual-filesystem mount state: an
// ordered overlay of real directories and zip archives resolved behind
// logical paths, plus a single write directory receiving all write and
// append handles. Handles are read-xor-write; a handle opened for
// writing cannot service reads and vice versa.
//
// The mount state must be initialized with Init before any handle is
// opened and torn down with Deinit after every handle and virtual
// stream is closed. Mutating the mount table while streams are open is
// the caller's responsibility to avoid.
package vfs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/afero/zipfs"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

var (
	// ErrNotInitialized is returned by every mount-state operation before
	// Init or after Deinit.
	ErrNotInitialized = errors.New("virtual filesystem is not initialized")

	// ErrNoWriteDir is returned by write and append opens before
	// SetWriteDir configured a destination.
	ErrNoWriteDir = errors.New("write directory is not set")
)

type mount struct {
	source  string
	point   string // normalized mount point, "" for the namespace root
	fs      afero.Fs
	backing io.Closer // archive file handle, nil for directory mounts
}

// resolve strips the mount point prefix from p, reporting whether p is
// inside this mount.
func (m *mount) resolve(p string) (string, bool) {
	if m.point == "" {
		return p, true
	}
	if p == m.point {
		return "", true
	}
	if rest, ok := strings.CutPrefix(p, m.point+"/"); ok {
		return rest, true
	}
	return "", false
}

var (
	initialized atomic.Bool

	mounts   []*mount
	writeFs  afero.Fs
	writeDir string
)

// Init prepares the mount state. It is idempotent: a second call while
// initialized is a no-op.
func Init() error {
	if !initialized.CompareAndSwap(false, true) {
		return nil
	}
	mounts = nil
	writeFs = nil
	writeDir = ""
	return nil
}

// IsInitialized reports whether the mount state is up.
func IsInitialized() bool {
	return initialized.Load()
}

// Deinit unmounts everything and releases archive handles. Idempotent.
func Deinit() (err error) {
	if !initialized.CompareAndSwap(true, false) {
		return nil
	}
	for _, m := range mounts {
		if m.backing != nil {
			err = multierr.Append(err, m.backing.Close())
		}
	}
	mounts = nil
	writeFs = nil
	writeDir = ""
	return err
}

// Mount adds source to the read search path under mountPoint. Source is
// either a real directory or a zip archive; archives are mounted
// read-only. Resolution follows mount order: the first mount containing
// a path wins.
func Mount(source, mountPoint string) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("failed to stat mount source %q: %w", source, err)
	}

	m := &mount{
		source: source,
		point:  strings.Trim(Normalize(mountPoint), "/"),
	}
	if info.IsDir() {
		m.fs = afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), source))
	} else {
		f, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("failed to open archive mount %q: %w", source, err)
		}
		zr, err := zip.NewReader(f, info.Size())
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to parse archive mount %q: %w", source, err)
		}
		m.fs = zipfs.New(zr)
		m.backing = f
	}

	mounts = append(mounts, m)
	return nil
}

// SetWriteDir directs all write and append handles into dir, creating
// it if needed. The write directory is not part of the read search
// path; mount it explicitly to read written files back.
func SetWriteDir(dir string) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create write directory %q: %w", dir, err)
	}
	writeFs = afero.NewBasePathFs(afero.NewOsFs(), dir)
	writeDir = dir
	return nil
}

// WriteDir returns the configured write directory, or "".
func WriteDir() string {
	return writeDir
}

// findRead resolves p against the mount table in mount order.
func findRead(p string) (afero.Fs, string, bool) {
	for _, m := range mounts {
		rel, ok := m.resolve(p)
		if !ok {
			continue
		}
		if exists, _ := afero.Exists(m.fs, rel); exists {
			return m.fs, rel, true
		}
	}
	return nil, "", false
}

func logicalPath(p string) string {
	return strings.TrimPrefix(Normalize(p), "/")
}

// Exists reports whether path resolves in any read mount.
func Exists(path string) bool {
	if !initialized.Load() {
		return false
	}
	_, _, ok := findRead(logicalPath(path))
	return ok
}

// IsDir reports whether path resolves to a directory in a read mount.
func IsDir(path string) bool {
	if !initialized.Load() {
		return false
	}
	mfs, rel, ok := findRead(logicalPath(path))
	if !ok {
		return false
	}
	dir, err := afero.IsDir(mfs, rel)
	return err == nil && dir
}

// ModTime returns the modification time of path from the first mount
// containing it.
func ModTime(path string) (time.Time, error) {
	if !initialized.Load() {
		return time.Time{}, ErrNotInitialized
	}
	mfs, rel, ok := findRead(logicalPath(path))
	if !ok {
		return time.Time{}, fmt.Errorf("%q: %w", path, fs.ErrNotExist)
	}
	info, err := mfs.Stat(rel)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	return info.ModTime(), nil
}

// MkdirAll creates a directory tree inside the write directory.
func MkdirAll(path string) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	if writeFs == nil {
		return ErrNoWriteDir
	}
	return writeFs.MkdirAll(logicalPath(path), 0o755)
}

// Remove deletes a file or empty directory inside the write directory.
func Remove(path string) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	if writeFs == nil {
		return ErrNoWriteDir
	}
	return writeFs.Remove(logicalPath(path))
}
