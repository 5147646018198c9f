// Package zipfile reads and writes zip archives through the stream
// abstraction, so the same archive code serves OS files and
// virtual-filesystem mounts. Archives are catalog-scale: the whole file
// is snapshotted into memory for random entry access and rewritten in
// full when a writable archive is closed.
package zipfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/angguss/vfstream/stream"
)

// Access selects how an archive is opened.
type Access int

const (
	// AccessRead opens an existing archive read-only.
	AccessRead Access = iota

	// AccessWrite opens an archive for modification, creating it if
	// absent. Entries of an existing archive are preserved and carried
	// into the rewrite on Close.
	AccessWrite
)

// ErrReadOnly is returned by mutating operations on an archive opened
// with AccessRead.
var ErrReadOnly = errors.New("archive is open read-only")

type entry struct {
	name string
	size int64
	zf   *zip.File // snapshot-backed entry; nil when buf is set
	buf  []byte    // pending write buffer; nil for snapshot entries
}

// Archive is an open zip archive. Entry indices are stable only within
// one open session; path lookup normalizes separators but preserves
// case. An Archive is not safe for concurrent use.
type Archive struct {
	logger  *zap.Logger
	access  Access
	path    string
	virtual bool

	entries []*entry

	// writeBuffers pins every buffer registered through ReplaceOrAdd
	// until Close: the final flush reads from them, so the set is
	// append-only for the session even when entries are later deleted.
	writeBuffers [][]byte

	closed bool
}

// Open opens the archive at path. With AccessWrite a missing file is
// treated as an empty archive and created on Close.
func Open(path string, access Access, opts ...Option) (*Archive, error) {
	var o archiveOptions
	if err := o.apply(opts); err != nil {
		return nil, err
	}

	a := &Archive{
		logger:  o.logger,
		access:  access,
		path:    path,
		virtual: o.virtual,
	}

	data, err := a.snapshot()
	switch {
	case err != nil:
		if access == AccessRead || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// Write access on an absent archive starts empty.
	case len(data) == 0 && access == AccessWrite:
		// A zero-byte file is not a parsable archive; treat it as empty
		// and overwrite it on Close.
	default:
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse archive %q: %w", path, err)
		}
		for _, f := range zr.File {
			a.entries = append(a.entries, &entry{
				name: f.Name,
				size: int64(f.UncompressedSize64),
				zf:   f,
			})
		}
	}

	a.logger.Debug("opened archive",
		zap.String("path", path),
		zap.Bool("write", access == AccessWrite),
		zap.Int("entries", len(a.entries)))
	return a, nil
}

// TryOpen is the non-raising variant of Open: callers that treat a
// missing or corrupt archive as an optional resource get nil instead of
// an error.
func TryOpen(path string, access Access, opts ...Option) *Archive {
	a, err := Open(path, access, opts...)
	if err != nil {
		return nil
	}
	return a
}

// snapshot reads the whole archive file through the configured stream
// backend. Zip needs random access over the decoded central directory,
// and reading once through the mount keeps the virtual backend simple.
func (a *Archive) snapshot() (data []byte, err error) {
	s, err := a.openStream(stream.OpenExisting)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()

	data = make([]byte, s.Length())
	if len(data) == 0 {
		return nil, nil
	}
	if rerr := s.Read(data); rerr != nil {
		return nil, fmt.Errorf("failed to read archive %q: %w", a.path, rerr)
	}
	return data, nil
}

func (a *Archive) openStream(mode stream.Mode) (stream.Stream, error) {
	if a.virtual {
		return stream.OpenVirtual(a.path, mode, stream.WithLogger(a.logger))
	}
	return stream.OpenFile(a.path, mode, stream.WithLogger(a.logger))
}

// EntryCount returns the number of entries in the open session.
func (a *Archive) EntryCount() int {
	return len(a.entries)
}

// EntryName returns the stored name of the entry at index i, or "" when
// i is out of range.
func (a *Archive) EntryName(i int) string {
	if i < 0 || i >= len(a.entries) {
		return ""
	}
	return a.entries[i].name
}

// EntrySize returns the uncompressed size of the entry at index i, or 0
// when it cannot be determined.
func (a *Archive) EntrySize(i int) int64 {
	if i < 0 || i >= len(a.entries) {
		return 0
	}
	return a.entries[i].size
}

// Extract returns the full decompressed contents of the named entry. It
// returns nil when the entry is absent, empty, or cannot be read in
// full; a failed read never yields partial data. Callers that need to
// tell absent from empty check EntrySize first.
func (a *Archive) Extract(path string) []byte {
	i := a.indexOf(path)
	if i < 0 {
		return nil
	}
	e := a.entries[i]
	if e.size <= 0 {
		return nil
	}

	out := make([]byte, e.size)
	if e.buf != nil {
		copy(out, e.buf)
		return out
	}

	rc, err := e.zf.Open()
	if err != nil {
		a.logger.Warn("failed to open archive entry",
			zap.String("entry", e.name), zap.Error(err))
		return nil
	}
	defer rc.Close()
	if _, err := io.ReadFull(rc, out); err != nil {
		a.logger.Warn("short read from archive entry",
			zap.String("entry", e.name), zap.Error(err))
		return nil
	}
	return out
}

// ReplaceOrAdd registers data as the contents of path, replacing a
// matching entry or appending a new one. The archive takes ownership of
// data and keeps it alive until Close; the caller must not mutate it
// afterwards.
func (a *Archive) ReplaceOrAdd(path string, data []byte) error {
	if a.access != AccessWrite {
		return ErrReadOnly
	}
	a.writeBuffers = append(a.writeBuffers, data)

	if i := a.indexOf(path); i >= 0 {
		e := a.entries[i]
		e.buf = data
		e.size = int64(len(data))
		e.zf = nil
		return nil
	}
	a.entries = append(a.entries, &entry{
		name: path,
		size: int64(len(data)),
		buf:  data,
	})
	return nil
}

// Delete removes the named entry from the session.
func (a *Archive) Delete(path string) error {
	if a.access != AccessWrite {
		return ErrReadOnly
	}
	i := a.indexOf(path)
	if i < 0 {
		return fmt.Errorf("no entry %q in archive", path)
	}
	a.entries = append(a.entries[:i], a.entries[i+1:]...)
	return nil
}

// Rename changes the stored name of the entry at path to newPath.
func (a *Archive) Rename(path, newPath string) error {
	if a.access != AccessWrite {
		return ErrReadOnly
	}
	i := a.indexOf(path)
	if i < 0 {
		return fmt.Errorf("no entry %q in archive", path)
	}
	a.entries[i].name = newPath
	return nil
}

// Close flushes a writable archive and releases the session. Idempotent.
func (a *Archive) Close() (err error) {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.access == AccessWrite {
		err = a.flush()
	}
	a.entries = nil
	a.writeBuffers = nil
	return err
}

// flush rewrites the archive in full: surviving snapshot entries are
// recompressed from their original data, pending buffers take the place
// of replaced ones.
func (a *Archive) flush() (err error) {
	out, err := a.openStream(stream.CreateOrTruncate)
	if err != nil {
		return fmt.Errorf("failed to open archive %q for flush: %w", a.path, err)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	zw := zip.NewWriter(streamWriter{out})
	for _, e := range a.entries {
		w, werr := zw.Create(e.name)
		if werr != nil {
			return multierr.Append(
				fmt.Errorf("failed to create entry %q: %w", e.name, werr),
				zw.Close())
		}
		if e.buf != nil {
			_, werr = w.Write(e.buf)
		} else {
			werr = copyEntry(w, e.zf)
		}
		if werr != nil {
			return multierr.Append(
				fmt.Errorf("failed to write entry %q: %w", e.name, werr),
				zw.Close())
		}
	}
	if cerr := zw.Close(); cerr != nil {
		return fmt.Errorf("failed to finalize archive %q: %w", a.path, cerr)
	}

	a.logger.Debug("flushed archive",
		zap.String("path", a.path),
		zap.Int("entries", len(a.entries)),
		zap.Int("pending_buffers", len(a.writeBuffers)))
	return nil
}

func copyEntry(dst io.Writer, src *zip.File) error {
	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(dst, rc)
	return err
}

// streamWriter adapts a Stream to io.Writer for the zip writer.
type streamWriter struct {
	s stream.Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	if err := w.s.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// indexOf normalizes both the query and every stored entry name before
// an exact, case-sensitive comparison. Linear scan: archives hold file
// catalogs, not indexable-at-scale data.
func (a *Archive) indexOf(path string) int {
	want := normalizePath(path)
	if want == "" {
		return -1
	}
	for i, e := range a.entries {
		if normalizePath(e.name) == want {
			return i
		}
	}
	return -1
}

func normalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
