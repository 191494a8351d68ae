package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerPathPreservesExtension(t *testing.T) {
	p := NewServerPath("vacation-photo.PNG")
	assert.True(t, strings.HasSuffix(p, filepath.Ext("vacation-photo.PNG")))
	assert.NotEqual(t, "vacation-photo.PNG", p)

	other := NewServerPath("vacation-photo.PNG")
	assert.NotEqual(t, p, other, "each call should generate a distinct name")
}

func TestNewServerPathWithoutExtension(t *testing.T) {
	p := NewServerPath("README")
	assert.Equal(t, filepath.Ext(p), "")
}

func TestLocalBlobStoreSaveOpenDelete(t *testing.T) {
	root := t.TempDir()
	bs, err := NewLocalBlobStore(root)
	require.NoError(t, err)

	n, err := bs.Save("sub/dir/a.txt", bytes.NewBufferString("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello world")), n)

	_, err = os.Stat(filepath.Join(root, "sub/dir/a.txt"))
	require.NoError(t, err)

	rc, err := bs.Open("sub/dir/a.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	require.NoError(t, bs.Delete("sub/dir/a.txt"))
	_, err = os.Stat(filepath.Join(root, "sub/dir/a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalBlobStoreDeleteMissingIsNoop(t *testing.T) {
	root := t.TempDir()
	bs, err := NewLocalBlobStore(root)
	require.NoError(t, err)

	assert.NoError(t, bs.Delete("never-existed.txt"))
}

func TestLocalBlobStoreOpenMissingReturnsError(t *testing.T) {
	root := t.TempDir()
	bs, err := NewLocalBlobStore(root)
	require.NoError(t, err)

	_, err = bs.Open("never-existed.txt")
	assert.Error(t, err)
}
