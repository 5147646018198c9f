// Package stream provides sequential and random-access binary I/O over
// open file resources. The same Stream contract is implemented by two
// backends: FileStream on top of native OS file handles and
// VirtualStream on top of a virtual-filesystem mount, so format readers
// built on Stream never need to know where the bytes live.
package stream

import (
	"errors"
	"io"
)

// Mode selects how a stream's backing file is opened.
type Mode int

const (
	// OpenExisting opens an existing regular file read-only. It fails if
	// the path is absent or names a directory.
	OpenExisting Mode = iota

	// CreateOrTruncate creates the file if needed, truncates it to zero
	// length and opens it for both reading and writing.
	CreateOrTruncate

	// Append opens the file write-only, creating it if needed. Every
	// write lands at the end of the file regardless of the current seek
	// position; callers relying on positioned writes must not use Append.
	Append
)

var (
	// ErrClosed is returned by every operation on a closed stream.
	ErrClosed = errors.New("stream is closed")

	// ErrBroken is returned once a VirtualStream failed a mode switch and
	// lost its backing handle. The stream cannot recover.
	ErrBroken = errors.New("stream is broken")

	// ErrNotReadable is returned by reads on a write-only stream.
	ErrNotReadable = errors.New("stream is not readable")

	// ErrNotWritable is returned by writes on a read-only stream.
	ErrNotWritable = errors.New("stream is not writable")
)

// Stream is a random-access binary stream over an exclusively owned
// resource. A stream is not safe for concurrent use; callers sharing an
// instance serialize access themselves.
type Stream interface {
	CanRead() bool
	CanWrite() bool

	// Length returns the total stream length in bytes. The length is the
	// size observed at open time, extended by the running maximum
	// position reached after each successful write; it never shrinks.
	Length() int64

	// Position returns the current offset, or 0 if it cannot be
	// determined.
	Position() int64

	// SetPosition seeks to an absolute offset from the start.
	SetPosition(pos int64) error

	// Seek follows io.Seeker semantics with io.SeekStart, io.SeekCurrent
	// and io.SeekEnd, returning the new absolute offset.
	Seek(offset int64, whence int) (int64, error)

	// Read fills p entirely. If fewer than len(p) bytes remain before the
	// end of the stream it fails without consuming anything.
	Read(p []byte) error

	// TryRead reads up to len(p) bytes and reports how many were read.
	// It never fails; short counts near end-of-stream are normal.
	TryRead(p []byte) int

	// Write writes all of p or fails. A short write from the backend is
	// an error.
	Write(p []byte) error

	io.Closer
}
