// Package wav locates the PCM data region inside a RIFF/WAVE container
// and exposes bounded reads into it. It is a chunk scanner, not a
// decoder: samples come out exactly as stored, and only uncompressed
// PCM at 8 or 16 bits per sample is accepted.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/angguss/vfstream/stream"
)

// Chunk ids are the FourCCs of the RIFF container read as
// little-endian 32-bit values.
const (
	riffID = 0x46464952 // "RIFF"
	waveID = 0x45564157 // "WAVE"
	fmtID  = 0x20746D66 // "fmt "
	dataID = 0x61746164 // "data"

	// Ancillary chunks that are known to be safely skippable. Anything
	// else terminates the scan: a foreign or malformed container should
	// fail here rather than be mined for a chunk that happens to match.
	factID = 0x74636166 // "fact"
	listID = 0x5453494C // "LIST"
	bextID = 0x74786562 // "bext"
	junkID = 0x4B4E554A // "JUNK"

	pcmEncoding = 0x0001

	fmtBodySize = 16
)

// SampleFormat is the fixed output representation of one stored sample
// width.
type SampleFormat int

const (
	// Unsigned8 is one unsigned byte per sample.
	Unsigned8 SampleFormat = iota
	// Signed16LE is a signed little-endian 16-bit word per sample.
	Signed16LE
)

func (f SampleFormat) String() string {
	switch f {
	case Unsigned8:
		return "u8"
	case Signed16LE:
		return "s16le"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

// Format describes the PCM layout of the data region.
type Format struct {
	Channels   int
	SampleRate int
	Sample     SampleFormat
}

// Source streams raw PCM bytes out of the data chunk of a parsed
// container. The data-region window is fixed at load and immutable for
// the life of the Source.
type Source struct {
	logger *zap.Logger
	s      stream.Stream

	format     Format
	dataStart  int64
	dataLength int64
}

// New parses the container headers of s and returns a ready Source. It
// takes ownership of s: on success the Source closes it on Close, on
// failure it is closed before the error is returned, so a caller never
// sees a partially initialized Source.
func New(s stream.Stream, opts ...Option) (*Source, error) {
	var o sourceOptions
	if err := o.apply(opts); err != nil {
		return nil, err
	}

	src := &Source{logger: o.logger, s: s}
	if err := src.load(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return src, nil
}

// Open loads a Source from a path, using the virtual-filesystem backend
// when WithVirtualFS is given and the OS backend otherwise.
func Open(path string, opts ...Option) (*Source, error) {
	var o sourceOptions
	if err := o.apply(opts); err != nil {
		return nil, err
	}

	var s stream.Stream
	var err error
	if o.virtual {
		s, err = stream.OpenVirtual(path, stream.OpenExisting, stream.WithLogger(o.logger))
	} else {
		s, err = stream.OpenFile(path, stream.OpenExisting, stream.WithLogger(o.logger))
	}
	if err != nil {
		return nil, err
	}
	return New(s, opts...)
}

func (s *Source) load() error {
	id, err := s.readLE32()
	if err != nil {
		return fmt.Errorf("failed to read container id: %w", err)
	}
	if id != riffID {
		return fmt.Errorf("not a RIFF container: id %#08x", id)
	}

	// Declared container size, unused.
	if _, err := s.readLE32(); err != nil {
		return fmt.Errorf("failed to read container size: %w", err)
	}

	formatID, err := s.readLE32()
	if err != nil {
		return fmt.Errorf("failed to read format id: %w", err)
	}
	if formatID != waveID {
		return fmt.Errorf("not a WAVE container: id %#08x", formatID)
	}

	fmtSize, err := s.findChunk(fmtID)
	if err != nil {
		return fmt.Errorf("fmt chunk: %w", err)
	}
	chunkStart := s.s.Position()

	var body [fmtBodySize]byte
	if err := s.s.Read(body[:]); err != nil {
		return fmt.Errorf("failed to read fmt chunk body: %w", err)
	}
	// The declared chunk size wins over the structure size: encoders pad
	// the fmt chunk past the 16 PCM bytes, and the scan must resume at
	// the declared boundary either way.
	if err := s.s.SetPosition(chunkStart + int64(fmtSize)); err != nil {
		return fmt.Errorf("failed to skip fmt chunk padding: %w", err)
	}

	if encoding := binary.LittleEndian.Uint16(body[0:]); encoding != pcmEncoding {
		return fmt.Errorf("unsupported encoding %#04x, want PCM", encoding)
	}
	s.format.Channels = int(binary.LittleEndian.Uint16(body[2:]))
	s.format.SampleRate = int(binary.LittleEndian.Uint32(body[4:]))
	switch bits := binary.LittleEndian.Uint16(body[14:]); bits {
	case 8:
		s.format.Sample = Unsigned8
	case 16:
		s.format.Sample = Signed16LE
	default:
		return fmt.Errorf("unsupported bits per sample: %d", bits)
	}

	dataSize, err := s.findChunk(dataID)
	if err != nil {
		return fmt.Errorf("data chunk: %w", err)
	}
	// A data chunk declaring size zero is a valid empty region: the
	// source loads with Length 0 and every Read returns 0 bytes. Some
	// readers treat this as a load failure instead; here the minimal
	// 44-byte container is accepted.

	s.dataStart = s.s.Position()
	s.dataLength = int64(dataSize)
	s.logger.Debug("loaded wav source",
		zap.Int("channels", s.format.Channels),
		zap.Int("sample_rate", s.format.SampleRate),
		zap.Stringer("sample_format", s.format.Sample),
		zap.Int64("data_length", s.dataLength))
	return nil
}

// findChunk scans (id, size) headers forward until wantedID is found,
// skipping only the fixed allow-list of ancillary chunks. Running out
// of stream data or meeting any other id is a hard failure.
func (s *Source) findChunk(wantedID uint32) (uint32, error) {
	for {
		id, err := s.readLE32()
		if err != nil {
			return 0, fmt.Errorf("chunk id: %w", err)
		}
		size, err := s.readLE32()
		if err != nil {
			return 0, fmt.Errorf("chunk size: %w", err)
		}
		if id == wantedID {
			return size, nil
		}
		switch id {
		case factID, listID, bextID, junkID:
			if _, err := s.s.Seek(int64(size), io.SeekCurrent); err != nil {
				return 0, fmt.Errorf("failed to skip chunk %#08x: %w", id, err)
			}
		default:
			return 0, fmt.Errorf("unexpected chunk %#08x", id)
		}
	}
}

func (s *Source) readLE32() (uint32, error) {
	var b [4]byte
	if err := s.s.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Length returns the data-region length in bytes.
func (s *Source) Length() int64 {
	return s.dataLength
}

// Format returns the parsed format descriptor.
func (s *Source) Format() Format {
	return s.format
}

// Read copies up to len(p) bytes of sample data starting at off within
// the data region and reports how many bytes were copied. The count is
// clamped to the remaining window; sequential readers pay for a seek
// only when the underlying position actually moved. A seek failure
// yields 0.
func (s *Source) Read(p []byte, off int64) int {
	if s.s == nil || off < 0 || off >= s.dataLength {
		return 0
	}
	n := int64(len(p))
	if remaining := s.dataLength - off; n > remaining {
		n = remaining
	}
	if n <= 0 {
		return 0
	}

	target := s.dataStart + off
	if s.s.Position() != target {
		if err := s.s.SetPosition(target); err != nil {
			s.logger.Warn("failed to seek to sample data",
				zap.Int64("offset", off), zap.Error(err))
			return 0
		}
	}
	return s.s.TryRead(p[:n])
}

// Close releases the underlying stream and resets the parsed state.
// Idempotent.
func (s *Source) Close() error {
	if s.s == nil {
		return nil
	}
	err := s.s.Close()
	s.s = nil
	s.dataStart = 0
	s.dataLength = 0
	return err
}
