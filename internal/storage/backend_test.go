package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	fb, err := OpenFile(filepath.Join(t.TempDir(), "logs_1.txt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fb.Close() })
	return map[string]Backend{
		"file": fb,
		"mem":  NewMemBackend(nil),
	}
}

func TestBackendReadWrite(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			n, err := b.WriteAt(0, []byte("hello\n"))
			require.NoError(t, err)
			assert.Equal(t, 6, n)

			_, err = b.WriteAt(6, []byte("world\n"))
			require.NoError(t, err)

			size, err := b.Size()
			require.NoError(t, err)
			assert.EqualValues(t, 12, size)

			buf := make([]byte, 6)
			n, err = b.ReadAt(6, buf)
			require.NoError(t, err)
			assert.Equal(t, "world\n", string(buf[:n]))

			require.NoError(t, b.Flush())
		})
	}
}

func TestBackendShortReadAtEnd(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.WriteAt(0, []byte("abc"))
			require.NoError(t, err)

			buf := make([]byte, 10)
			n, err := b.ReadAt(1, buf)
			require.NoError(t, err)
			assert.Equal(t, "bc", string(buf[:n]))

			n, err = b.ReadAt(100, buf)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestBackendTruncate(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.WriteAt(0, []byte("line one\nline two\n"))
			require.NoError(t, err)
			require.NoError(t, b.Truncate(0))

			size, err := b.Size()
			require.NoError(t, err)
			assert.Zero(t, size)

			_, err = b.WriteAt(0, []byte("x\n"))
			require.NoError(t, err)
			size, _ = b.Size()
			assert.EqualValues(t, 2, size)
		})
	}
}

func TestMemBackendClosed(t *testing.T) {
	m := NewMemBackend([]byte("abc"))
	require.NoError(t, m.Close())

	_, err := m.WriteAt(0, []byte("x"))
	assert.True(t, errors.Is(err, ErrStorage))
	_, err = m.ReadAt(0, make([]byte, 1))
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestMemBackendSparseWrite(t *testing.T) {
	m := NewMemBackend(nil)
	_, err := m.WriteAt(3, []byte("z"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 'z'}, m.Bytes())
}

func TestFileBackendErrorsWrapStorage(t *testing.T) {
	fb, err := OpenFile(filepath.Join(t.TempDir(), "f.txt"))
	require.NoError(t, err)
	require.NoError(t, fb.Close())

	_, err = fb.WriteAt(0, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)

	_, err = fb.Size()
	assert.ErrorIs(t, err, ErrStorage)
}

func TestOpenFileMissingDir(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope", "f.txt"))
	assert.ErrorIs(t, err, ErrStorage)
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.txt")
	_, err := OpenReadOnly(path)
	require.ErrorIs(t, err, ErrStorage)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "missing file must not be created")

	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	b, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer b.Close()
	buf := make([]byte, 3)
	n, err := b.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	_, err = b.WriteAt(0, []byte("x"))
	assert.ErrorIs(t, err, ErrStorage)
}
