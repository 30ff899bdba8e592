package agent

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarUntarRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "config", "plugins"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "state.json"), []byte(`{"ok":true}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "config", "plugins", "a.yml"), []byte("name: a"), 0644))

	archive := filepath.Join(t.TempDir(), "bot-t1.tar.gz")
	require.NoError(t, tarDir(src, archive))

	dst := t.TempDir()
	require.NoError(t, untarDir(archive, dst))

	data, err := os.ReadFile(filepath.Join(dst, "state.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
	data, err = os.ReadFile(filepath.Join(dst, "config", "plugins", "a.yml"))
	require.NoError(t, err)
	assert.Equal(t, "name: a", string(data))
}

func TestTarDirOfEmptyDir(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "empty.tar.gz")
	require.NoError(t, tarDir(t.TempDir(), archive))

	dst := t.TempDir()
	require.NoError(t, untarDir(archive, dst))
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUntarRejectsPathEscape(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(archive)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../evil.txt",
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     4,
	}))
	_, err = tw.Write([]byte("pwnd"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	dst := t.TempDir()
	err = untarDir(archive, dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes target dir")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dst), "evil.txt"))
}
