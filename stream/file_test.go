package stream

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileModes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "assets.dat")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	s, err := OpenFile(path, OpenExisting)
	require.NoError(t, err)
	assert.True(t, s.CanRead())
	assert.False(t, s.CanWrite())
	assert.Equal(t, int64(10), s.Length())
	assert.Equal(t, int64(0), s.Position())
	require.NoError(t, s.Close())

	// Directories are rejected before the open.
	_, err = OpenFile(dir, OpenExisting)
	require.ErrorContains(t, err, "not a regular file")

	_, err = OpenFile(filepath.Join(dir, "absent.dat"), OpenExisting)
	require.Error(t, err)

	s, err = OpenFile(path, CreateOrTruncate)
	require.NoError(t, err)
	assert.True(t, s.CanRead())
	assert.True(t, s.CanWrite())
	assert.Equal(t, int64(0), s.Length())
	require.NoError(t, s.Close())

	s, err = OpenFile(path, Append)
	require.NoError(t, err)
	assert.False(t, s.CanRead())
	assert.True(t, s.CanWrite())
	require.NoError(t, s.Close())
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{0, 1, 7, 4096, 70000} {
		path := filepath.Join(t.TempDir(), "roundtrip.bin")

		src := make([]byte, n)
		_, err := rng.Read(src)
		require.NoError(t, err)

		s, err := OpenFile(path, CreateOrTruncate)
		require.NoError(t, err)
		require.NoError(t, s.Write(src))
		assert.Equal(t, int64(n), s.Length())

		require.NoError(t, s.SetPosition(0))
		got := make([]byte, n)
		require.NoError(t, s.Read(got))
		assert.Equal(t, src, got)
		require.NoError(t, s.Close())
	}
}

func TestFileReadPastEndFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	s, err := OpenFile(path, OpenExisting)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.NoError(t, s.SetPosition(6))
	err = s.Read(make([]byte, 8))
	require.ErrorContains(t, err, "exceeds remaining")
	// The failed read consumed nothing.
	assert.Equal(t, int64(6), s.Position())
}

func TestFileTryReadNearEnd(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	s, err := OpenFile(path, OpenExisting)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.NoError(t, s.SetPosition(6))
	buf := make([]byte, 8)
	assert.Equal(t, 4, s.TryRead(buf))
	assert.Equal(t, []byte("6789"), buf[:4])

	// At the very end there is nothing left.
	assert.Equal(t, 0, s.TryRead(buf))
}

func TestFileWriteExtendsLength(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "grow.bin")
	s, err := OpenFile(path, CreateOrTruncate)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.NoError(t, s.Write(make([]byte, 10)))
	assert.Equal(t, int64(10), s.Length())

	// Rewriting inside the existing bounds never shrinks the length.
	require.NoError(t, s.SetPosition(0))
	require.NoError(t, s.Write(make([]byte, 4)))
	assert.Equal(t, int64(10), s.Length())

	require.NoError(t, s.SetPosition(8))
	require.NoError(t, s.Write(make([]byte, 4)))
	assert.Equal(t, int64(12), s.Length())
}

func TestFileAppendIgnoresSeeks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log.bin")
	require.NoError(t, os.WriteFile(path, []byte("ab"), 0o644))

	s, err := OpenFile(path, Append)
	require.NoError(t, err)

	require.NoError(t, s.SetPosition(0))
	require.NoError(t, s.Write([]byte("cd")))
	require.NoError(t, s.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), got)
}

func TestFileModeErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ro.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	ro, err := OpenFile(path, OpenExisting)
	require.NoError(t, err)
	defer func() { require.NoError(t, ro.Close()) }()
	require.ErrorIs(t, ro.Write([]byte("x")), ErrNotWritable)

	wo, err := OpenFile(filepath.Join(dir, "wo.bin"), Append)
	require.NoError(t, err)
	defer func() { require.NoError(t, wo.Close()) }()
	require.ErrorIs(t, wo.Read(make([]byte, 1)), ErrNotReadable)
	assert.Equal(t, 0, wo.TryRead(make([]byte, 1)))
}

func TestFileCloseIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "c.bin")
	s, err := OpenFile(path, CreateOrTruncate)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Read(make([]byte, 1)), ErrClosed)
	require.ErrorIs(t, s.Write([]byte("x")), ErrClosed)
	_, err = s.Seek(0, 0)
	require.ErrorIs(t, err, ErrClosed)
}
