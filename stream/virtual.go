package stream

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/angguss/vfstream/vfs"
)

// virtualState tracks which direction the underlying vfs handle is
// currently open for. Broken is terminal: the old handle is gone and a
// replacement could not be opened.
type virtualState int

const (
	stateReadOpen virtualState = iota
	stateWriteOpen
	stateBroken
)

// VirtualStream implements Stream on top of a virtual-filesystem
// handle.
//
// The virtual filesystem hands out read-xor-write handles, so a stream
// opened with CreateOrTruncate cannot satisfy both sides of the Stream
// contract with a single handle. Whenever an operation needs the mode
// the current handle lacks, the stream records its position, closes the
// handle, reopens the same logical path in the other mode (without
// truncating) and seeks back. The switch is invisible to the caller; if
// the reopen fails the stream turns Broken and every later operation
// fails fast instead of touching a stale handle.
//
// The switch is not atomic with respect to other handles on the same
// mount: if another caller retargets the write directory mid-stream the
// reopen lands somewhere else. Single-writer discipline is the
// caller's job.
type VirtualStream struct {
	h      *vfs.Handle
	logger *zap.Logger
	path   string

	state    virtualState
	canRead  bool
	canWrite bool
	closed   bool
	length   int64
}

var _ Stream = (*VirtualStream)(nil)

// OpenVirtual opens a logical path inside the virtual-filesystem mount.
// The path is normalized once (drive-letter prefix stripped, separators
// canonicalized) and kept for mode-switch reopens. The mount must be
// initialized first; see the vfs package.
func OpenVirtual(path string, mode Mode, opts ...Option) (*VirtualStream, error) {
	var o streamOptions
	if err := o.apply(opts); err != nil {
		return nil, err
	}

	vs := &VirtualStream{
		logger: o.logger,
		path:   vfs.Normalize(path),
	}

	var h *vfs.Handle
	var err error
	switch mode {
	case OpenExisting:
		h, err = vfs.OpenRead(vs.path)
		vs.state = stateReadOpen
		vs.canRead = true
	case CreateOrTruncate:
		h, err = vfs.OpenWrite(vs.path, true)
		vs.state = stateWriteOpen
		vs.canRead = true
		vs.canWrite = true
	case Append:
		h, err = vfs.OpenAppend(vs.path)
		vs.state = stateWriteOpen
		vs.canWrite = true
	default:
		return nil, fmt.Errorf("unknown open mode: %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open virtual file %q: %w", path, err)
	}

	length, err := h.Length()
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to measure virtual file %q: %w", path, err)
	}

	vs.h = h
	vs.length = length
	vs.logger.Debug("opened virtual stream",
		zap.String("path", vs.path),
		zap.Int("mode", int(mode)),
		zap.Int64("length", length))
	return vs, nil
}

func (s *VirtualStream) CanRead() bool  { return s.canRead }
func (s *VirtualStream) CanWrite() bool { return s.canWrite }

func (s *VirtualStream) Length() int64 { return s.length }

func (s *VirtualStream) Position() int64 {
	if s.closed || s.state == stateBroken {
		return 0
	}
	pos, err := s.h.Position()
	if err != nil {
		return 0
	}
	return pos
}

func (s *VirtualStream) guard() error {
	if s.closed {
		return ErrClosed
	}
	if s.state == stateBroken {
		return ErrBroken
	}
	return nil
}

// ensureMode reopens the underlying handle when the requested operation
// needs the other direction. Position is carried across the switch.
func (s *VirtualStream) ensureMode(want virtualState) error {
	if s.state == want {
		return nil
	}

	pos, err := s.h.Position()
	if err != nil {
		s.state = stateBroken
		return fmt.Errorf("mode switch on %q: position lost: %w", s.path, err)
	}
	if err := s.h.Close(); err != nil {
		s.state = stateBroken
		s.h = nil
		return fmt.Errorf("mode switch on %q: close failed: %w", s.path, err)
	}

	var h *vfs.Handle
	if want == stateReadOpen {
		h, err = vfs.OpenRead(s.path)
	} else {
		h, err = vfs.OpenWrite(s.path, false)
	}
	if err != nil {
		s.state = stateBroken
		s.h = nil
		return fmt.Errorf("mode switch on %q: reopen failed: %w", s.path, err)
	}
	if _, err := h.Seek(pos, io.SeekStart); err != nil {
		_ = h.Close()
		s.state = stateBroken
		s.h = nil
		return fmt.Errorf("mode switch on %q: seek to %d failed: %w", s.path, pos, err)
	}

	s.logger.Debug("virtual stream mode switch",
		zap.String("path", s.path),
		zap.Int64("position", pos),
		zap.Bool("read", want == stateReadOpen))
	s.h = h
	s.state = want
	return nil
}

func (s *VirtualStream) SetPosition(pos int64) error {
	_, err := s.Seek(pos, io.SeekStart)
	return err
}

func (s *VirtualStream) Seek(offset int64, whence int) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	if whence == io.SeekEnd {
		// The handle's idea of the end lags behind unflushed length
		// bookkeeping; resolve against the recorded length instead.
		pos, err := s.h.Seek(s.length+offset, io.SeekStart)
		if err != nil {
			return 0, fmt.Errorf("seek failed: %w", err)
		}
		return pos, nil
	}
	pos, err := s.h.Seek(offset, whence)
	if err != nil {
		return 0, fmt.Errorf("seek failed: %w", err)
	}
	return pos, nil
}

func (s *VirtualStream) Read(p []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	if !s.canRead {
		return ErrNotReadable
	}
	if err := s.ensureMode(stateReadOpen); err != nil {
		return err
	}
	if remaining := s.length - s.Position(); int64(len(p)) > remaining {
		return fmt.Errorf("read of %d bytes exceeds remaining %d: %w",
			len(p), remaining, io.ErrUnexpectedEOF)
	}
	if _, err := io.ReadFull(s.h, p); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	return nil
}

func (s *VirtualStream) TryRead(p []byte) int {
	if s.guard() != nil || !s.canRead {
		return 0
	}
	if s.ensureMode(stateReadOpen) != nil {
		return 0
	}
	n, _ := io.ReadFull(s.h, p)
	return n
}

func (s *VirtualStream) Write(p []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	if !s.canWrite {
		return ErrNotWritable
	}
	if err := s.ensureMode(stateWriteOpen); err != nil {
		return err
	}
	n, err := s.h.Write(p)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("partial write: %d out of %d", n, len(p))
	}
	if pos := s.Position(); pos > s.length {
		s.length = pos
	}
	return nil
}

// Close releases the underlying handle. Idempotent; closing a Broken
// stream is a no-op since the handle is already gone.
func (s *VirtualStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.h == nil {
		return nil
	}
	if err := s.h.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}
