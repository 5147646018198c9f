package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/afero"
)

var (
	// ErrWriteOnly is returned by reads on a write or append handle.
	ErrWriteOnly = errors.New("handle is open for writing")

	// ErrReadOnly is returned by writes on a read handle.
	ErrReadOnly = errors.New("handle is open for reading")

	// ErrHandleClosed is returned by operations on a closed handle.
	ErrHandleClosed = errors.New("handle is closed")
)

// HandleMode is the single I/O direction a handle was opened with.
type HandleMode int

const (
	ModeRead HandleMode = iota
	ModeWrite
	ModeAppend
)

// Handle is an open file inside the virtual namespace. Handles are
// strictly read-xor-write: the mode is fixed at open and the opposite
// operation fails. Callers needing both directions on one logical path
// reopen it in the other mode (see stream.VirtualStream).
type Handle struct {
	f      afero.File
	mode   HandleMode
	path   string
	closed bool
}

// OpenRead resolves path through the mount table and opens it for
// reading. The error wraps fs.ErrNotExist when no mount contains it.
func OpenRead(path string) (*Handle, error) {
	if !initialized.Load() {
		return nil, ErrNotInitialized
	}
	p := logicalPath(path)
	mfs, rel, ok := findRead(p)
	if !ok {
		return nil, fmt.Errorf("%q not found in any mount: %w", p, fs.ErrNotExist)
	}
	f, err := mfs.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", p, err)
	}
	return &Handle{f: f, mode: ModeRead, path: p}, nil
}

// OpenWrite opens path for writing inside the write directory, creating
// the file if needed. With truncate false an existing file keeps its
// contents, which is what a mode-switching stream needs to reopen a
// file it is in the middle of writing.
func OpenWrite(path string, truncate bool) (*Handle, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if truncate {
		flag |= os.O_TRUNC
	}
	return openWriteSide(path, flag, ModeWrite)
}

// OpenAppend opens path write-only with every write forced to the end
// of the file.
func OpenAppend(path string) (*Handle, error) {
	return openWriteSide(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, ModeAppend)
}

func openWriteSide(path string, flag int, mode HandleMode) (*Handle, error) {
	if !initialized.Load() {
		return nil, ErrNotInitialized
	}
	if writeFs == nil {
		return nil, ErrNoWriteDir
	}
	p := logicalPath(path)
	f, err := writeFs.OpenFile(p, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q for writing: %w", p, err)
	}
	return &Handle{f: f, mode: mode, path: p}, nil
}

// Mode returns the direction the handle was opened with.
func (h *Handle) Mode() HandleMode { return h.mode }

// Path returns the normalized logical path the handle was opened on.
func (h *Handle) Path() string { return h.path }

func (h *Handle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, ErrHandleClosed
	}
	if h.mode != ModeRead {
		return 0, ErrWriteOnly
	}
	return h.f.Read(p)
}

func (h *Handle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, ErrHandleClosed
	}
	if h.mode == ModeRead {
		return 0, ErrReadOnly
	}
	return h.f.Write(p)
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	if h.closed {
		return 0, ErrHandleClosed
	}
	return h.f.Seek(offset, whence)
}

// Position returns the current offset of the handle.
func (h *Handle) Position() (int64, error) {
	if h.closed {
		return 0, ErrHandleClosed
	}
	return h.f.Seek(0, io.SeekCurrent)
}

// Length returns the current size of the backing file.
func (h *Handle) Length() (int64, error) {
	if h.closed {
		return 0, ErrHandleClosed
	}
	info, err := h.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %q: %w", h.path, err)
	}
	return info.Size(), nil
}

// Close releases the handle. Idempotent.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.f.Close()
}
