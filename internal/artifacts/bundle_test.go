package artifacts

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundle_RoundTrip(t *testing.T) {
	t.Parallel()

	in := map[string][]byte{
		"index.html":        []byte("<html></html>"),
		"assets/app.js":     []byte("console.log(1)"),
		"assets/logo.png":   {0x89, 0x50, 0x4e, 0x47},
		"assets/styles.css": []byte("body{}"),
	}

	data, err := PackBundle(in)
	require.NoError(t, err)

	out, err := UnpackBundle(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPackBundle_Deterministic(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"b.txt": []byte("b"),
		"a.txt": []byte("a"),
		"c.txt": []byte("c"),
	}

	first, err := PackBundle(files)
	require.NoError(t, err)

	second, err := PackBundle(files)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUnpackBundle_SkipsEscapingEntries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	entries := map[string][]byte{
		"safe.txt":           []byte("ok"),
		"../escape.txt":      []byte("bad"),
		"/etc/passwd":        []byte("bad"),
		"nested/../../x.txt": []byte("bad"),
	}
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Unix(0, 0),
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	out, err := UnpackBundle(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, map[string][]byte{"safe.txt": []byte("ok")}, out)
}

func TestUnpackBundle_NotGzip(t *testing.T) {
	t.Parallel()

	_, err := UnpackBundle([]byte("plain text"))
	require.Error(t, err)
}
