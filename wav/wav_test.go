package wav

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angguss/vfstream/stream"
)

type chunk struct {
	id   string
	body []byte
}

func pcmFmtBody(channels, rate, bits uint16) []byte {
	body := make([]byte, fmtBodySize)
	binary.LittleEndian.PutUint16(body[0:], pcmEncoding)
	binary.LittleEndian.PutUint16(body[2:], channels)
	binary.LittleEndian.PutUint32(body[4:], uint32(rate))
	binary.LittleEndian.PutUint32(body[8:], uint32(rate)*uint32(channels)*uint32(bits)/8)
	binary.LittleEndian.PutUint16(body[12:], channels*bits/8)
	binary.LittleEndian.PutUint16(body[14:], bits)
	return body
}

// container assembles a RIFF/WAVE byte stream from chunks in order.
func container(chunks ...chunk) []byte {
	var payload bytes.Buffer
	payload.WriteString("WAVE")
	for _, c := range chunks {
		payload.WriteString(c.id)
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(c.body)))
		payload.Write(size[:])
		payload.Write(c.body)
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(payload.Len()))
	out.Write(size[:])
	out.Write(payload.Bytes())
	return out.Bytes()
}

func openSource(t *testing.T, data []byte) (*Source, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sound.wav")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	s, err := stream.OpenFile(path, stream.OpenExisting)
	require.NoError(t, err)
	return New(s)
}

func TestLoadWellFormed(t *testing.T) {
	t.Parallel()

	samples := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	src, err := openSource(t, container(
		chunk{"fmt ", pcmFmtBody(2, 44100, 16)},
		chunk{"data", samples},
	))
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	f := src.Format()
	assert.Equal(t, 2, f.Channels)
	assert.Equal(t, 44100, f.SampleRate)
	assert.Equal(t, Signed16LE, f.Sample)
	assert.Equal(t, int64(8), src.Length())

	got := make([]byte, 8)
	assert.Equal(t, 8, src.Read(got, 0))
	assert.Equal(t, samples, got)

	// Windowed read in the middle of the region.
	got = make([]byte, 3)
	assert.Equal(t, 3, src.Read(got, 2))
	assert.Equal(t, []byte{3, 4, 5}, got)

	// Clamped at the end of the region.
	got = make([]byte, 8)
	assert.Equal(t, 2, src.Read(got, 6))
	assert.Equal(t, samples[6:], got[:2])

	// Outside the region entirely.
	assert.Equal(t, 0, src.Read(got, 8))
	assert.Equal(t, 0, src.Read(got, -1))
}

func TestSequentialReads(t *testing.T) {
	t.Parallel()

	samples := bytes.Repeat([]byte{0xA5}, 64)
	src, err := openSource(t, container(
		chunk{"fmt ", pcmFmtBody(1, 22050, 8)},
		chunk{"data", samples},
	))
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	// Consecutive window reads cover the region without gaps.
	var got []byte
	buf := make([]byte, 16)
	for off := int64(0); off < src.Length(); off += 16 {
		n := src.Read(buf, off)
		require.Equal(t, 16, n)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, samples, got)
}

func TestSkippableChunksAreSkipped(t *testing.T) {
	t.Parallel()

	samples := []byte{9, 9, 9, 9}
	plain, err := openSource(t, container(
		chunk{"fmt ", pcmFmtBody(1, 11025, 8)},
		chunk{"data", samples},
	))
	require.NoError(t, err)
	defer func() { require.NoError(t, plain.Close()) }()

	decorated, err := openSource(t, container(
		chunk{"JUNK", make([]byte, 12)},
		chunk{"fmt ", pcmFmtBody(1, 11025, 8)},
		chunk{"fact", []byte{4, 0, 0, 0}},
		chunk{"LIST", []byte("INFOabc")},
		chunk{"bext", make([]byte, 10)},
		chunk{"data", samples},
	))
	require.NoError(t, err)
	defer func() { require.NoError(t, decorated.Close()) }()

	assert.Equal(t, plain.Format(), decorated.Format())
	assert.Equal(t, plain.Length(), decorated.Length())

	got := make([]byte, 4)
	assert.Equal(t, 4, decorated.Read(got, 0))
	assert.Equal(t, samples, got)
}

func TestUnknownChunkIsFatal(t *testing.T) {
	t.Parallel()

	// "cue " is not on the skip allow-list, even though a real WAV could
	// carry it: the scanner refuses rather than guessing.
	_, err := openSource(t, container(
		chunk{"cue ", make([]byte, 4)},
		chunk{"fmt ", pcmFmtBody(1, 8000, 8)},
		chunk{"data", []byte{1}},
	))
	require.ErrorContains(t, err, "unexpected chunk")

	_, err = openSource(t, container(
		chunk{"fmt ", pcmFmtBody(1, 8000, 8)},
		chunk{"cue ", make([]byte, 4)},
		chunk{"data", []byte{1}},
	))
	require.ErrorContains(t, err, "unexpected chunk")
}

func TestBadMagic(t *testing.T) {
	t.Parallel()

	data := container(chunk{"fmt ", pcmFmtBody(1, 8000, 8)}, chunk{"data", []byte{1}})

	notRiff := append([]byte{}, data...)
	copy(notRiff, "RIFX")
	_, err := openSource(t, notRiff)
	require.ErrorContains(t, err, "not a RIFF container")

	notWave := append([]byte{}, data...)
	copy(notWave[8:], "AVI ")
	_, err = openSource(t, notWave)
	require.ErrorContains(t, err, "not a WAVE container")

	_, err = openSource(t, []byte("RI"))
	require.ErrorContains(t, err, "container id")
}

func TestUnsupportedFormats(t *testing.T) {
	t.Parallel()

	// 24-bit samples are not supported.
	_, err := openSource(t, container(
		chunk{"fmt ", pcmFmtBody(2, 44100, 24)},
		chunk{"data", []byte{1, 2, 3}},
	))
	require.ErrorContains(t, err, "unsupported bits per sample: 24")

	// Non-PCM encodings are rejected.
	body := pcmFmtBody(2, 44100, 16)
	binary.LittleEndian.PutUint16(body[0:], 0x0055) // MP3
	_, err = openSource(t, container(chunk{"fmt ", body}, chunk{"data", []byte{1}}))
	require.ErrorContains(t, err, "unsupported encoding")
}

func TestSupportedBitWidths(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		bits uint16
		want SampleFormat
	}{
		{8, Unsigned8},
		{16, Signed16LE},
	} {
		src, err := openSource(t, container(
			chunk{"fmt ", pcmFmtBody(1, 8000, tc.bits)},
			chunk{"data", []byte{1, 2}},
		))
		require.NoError(t, err)
		assert.Equal(t, tc.want, src.Format().Sample)
		require.NoError(t, src.Close())
	}
}

func TestPaddedFmtChunk(t *testing.T) {
	t.Parallel()

	// The declared size exceeds the 16-byte PCM structure; the cursor
	// must advance past the padding to find the data chunk.
	padded := append(pcmFmtBody(1, 8000, 16), 0, 0)
	samples := []byte{7, 7}
	src, err := openSource(t, container(
		chunk{"fmt ", padded},
		chunk{"data", samples},
	))
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	got := make([]byte, 2)
	assert.Equal(t, 2, src.Read(got, 0))
	assert.Equal(t, samples, got)
}

func TestMinimalContainer(t *testing.T) {
	t.Parallel()

	// 44 bytes: empty fmt padding, zero-length data region.
	data := container(
		chunk{"fmt ", pcmFmtBody(1, 8000, 8)},
		chunk{"data", nil},
	)
	require.Len(t, data, 44)

	src, err := openSource(t, data)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	assert.Equal(t, int64(0), src.Length())
	assert.Equal(t, 0, src.Read(make([]byte, 16), 0))
}

func TestMissingChunks(t *testing.T) {
	t.Parallel()

	// Stream ends before a data chunk shows up.
	_, err := openSource(t, container(
		chunk{"fmt ", pcmFmtBody(1, 8000, 8)},
	))
	require.ErrorContains(t, err, "data chunk")

	// No fmt chunk at all.
	_, err = openSource(t, container(
		chunk{"data", []byte{1, 2}},
	))
	require.ErrorContains(t, err, "fmt chunk")
}

func TestOpenFromPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "direct.wav")
	require.NoError(t, os.WriteFile(path, container(
		chunk{"fmt ", pcmFmtBody(1, 8000, 8)},
		chunk{"data", []byte{1, 2, 3}},
	), 0o644))

	src, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), src.Length())
	require.NoError(t, src.Close())
	require.NoError(t, src.Close()) // idempotent

	_, err = Open(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}
