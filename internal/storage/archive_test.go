package storage

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "index_meta.json"), []byte(`{"storage":"x"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "store"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "store", "seg1.zap"), bytes.Repeat([]byte("z"), 4096), 0o600))

	for _, c := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(string(c), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteSnapshot(&buf, src, c))

			dst := filepath.Join(t.TempDir(), "restored")
			require.NoError(t, ReadSnapshot(&buf, dst, c))

			meta, err := os.ReadFile(filepath.Join(dst, "index_meta.json"))
			require.NoError(t, err)
			assert.Equal(t, `{"storage":"x"}`, string(meta))
			seg, err := os.ReadFile(filepath.Join(dst, "store", "seg1.zap"))
			require.NoError(t, err)
			assert.Len(t, seg, 4096)
		})
	}
}

func TestReadSnapshot_RejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	err = ReadSnapshot(&buf, t.TempDir(), CompressionNone)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	c, err = ParseCompression("LZ4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)
	assert.Equal(t, ".lz4", c.Ext())
	assert.Equal(t, "", CompressionNone.Ext())

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}
