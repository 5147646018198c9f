package stream

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// FileStream implements Stream on top of a native OS file handle.
type FileStream struct {
	f      *os.File
	logger *zap.Logger

	canRead  bool
	canWrite bool
	closed   bool
	length   int64
}

var _ Stream = (*FileStream)(nil)

// OpenFile opens path with the given mode. The length is measured once
// at open by seeking to the end, then the position is restored to the
// start.
func OpenFile(path string, mode Mode, opts ...Option) (*FileStream, error) {
	var o streamOptions
	if err := o.apply(opts); err != nil {
		return nil, err
	}

	fs := &FileStream{logger: o.logger}

	var flag int
	switch mode {
	case OpenExisting:
		// Reject directories before the open so the caller gets a
		// deterministic failure instead of a backend-specific one.
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %q: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%q is not a regular file", path)
		}
		flag = os.O_RDONLY
		fs.canRead = true
	case CreateOrTruncate:
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
		fs.canRead = true
		fs.canWrite = true
	case Append:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		fs.canWrite = true
	default:
		return nil, fmt.Errorf("unknown open mode: %d", mode)
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}

	length, err := f.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to measure %q: %w", path, err)
	}

	fs.f = f
	fs.length = length
	fs.logger.Debug("opened file stream",
		zap.String("path", path),
		zap.Int("mode", int(mode)),
		zap.Int64("length", length))
	return fs, nil
}

func (s *FileStream) CanRead() bool  { return s.canRead }
func (s *FileStream) CanWrite() bool { return s.canWrite }

func (s *FileStream) Length() int64 { return s.length }

func (s *FileStream) Position() int64 {
	if s.closed {
		return 0
	}
	pos, err := s.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (s *FileStream) SetPosition(pos int64) error {
	_, err := s.Seek(pos, io.SeekStart)
	return err
}

func (s *FileStream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	pos, err := s.f.Seek(offset, whence)
	if err != nil {
		return 0, fmt.Errorf("seek failed: %w", err)
	}
	return pos, nil
}

func (s *FileStream) Read(p []byte) error {
	if s.closed {
		return ErrClosed
	}
	if !s.canRead {
		return ErrNotReadable
	}
	if remaining := s.length - s.Position(); int64(len(p)) > remaining {
		return fmt.Errorf("read of %d bytes exceeds remaining %d: %w",
			len(p), remaining, io.ErrUnexpectedEOF)
	}
	if _, err := io.ReadFull(s.f, p); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	return nil
}

func (s *FileStream) TryRead(p []byte) int {
	if s.closed || !s.canRead {
		return 0
	}
	n, _ := io.ReadFull(s.f, p)
	return n
}

func (s *FileStream) Write(p []byte) error {
	if s.closed {
		return ErrClosed
	}
	if !s.canWrite {
		return ErrNotWritable
	}
	n, err := s.f.Write(p)
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

// Close releases the file handle. It is safe to call more than once.
func (s *FileStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}
