package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_RoundTrip(t *testing.T) {
	t.Parallel()
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, osfs.MkdirAll(dir, 0755))

	name := filepath.Join(dir, "data.json")
	require.NoError(t, osfs.WriteFile(name, []byte(`{"ok":true}`), 0644))

	data, err := ReadFileLimited(osfs, name, 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	w, err := osfs.Create(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	_, err = w.Write([]byte("plot"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	info, err := osfs.Stat(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.WriteFile("/test.txt", []byte("hello, world"), 0644))
	data, err := mfs.ReadFile("/test.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))

	// The returned slice is a copy.
	data[0] = 'J'
	again, err := mfs.ReadFile("/test.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(again))
}

func TestMemoryFileSystem_CreateAndWrite(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/out/created.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("created "))
	require.NoError(t, err)
	_, err = w.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := mfs.ReadFile("/out/created.txt")
	require.NoError(t, err)
	assert.Equal(t, "created content", string(data))
	assert.Equal(t, []string{"/out/created.txt"}, mfs.Files())
}

func TestMemoryFileSystem_StatAndDirs(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/a/b/c", 0755))

	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := mfs.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	_, err := mfs.Stat("/missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	_, err = mfs.ReadFile("/missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestReadFileLimited(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/big.json", make([]byte, 2048), 0644))
	require.NoError(t, mfs.MkdirAll("/dir", 0755))

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"too large", "/big.json", "too large"},
		{"directory", "/dir", "is a directory"},
		{"missing", "/nope.json", "failed to stat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFileLimited(mfs, tt.path, 1024)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	data, err := ReadFileLimited(mfs, "/big.json", 4096)
	require.NoError(t, err)
	assert.Len(t, data, 2048)
}
