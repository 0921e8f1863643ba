package artifacts

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// PackBundle builds a tar.gz archive from a set of files keyed by
// slash-separated relative path. Entries are written in sorted order so
// the same input produces the same archive.
func PackBundle(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, name := range names {
		content := files[name]

		err := tw.WriteHeader(&tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Unix(0, 0),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write bundle header for %s: %w", name, err)
		}

		if _, err := tw.Write(content); err != nil {
			return nil, fmt.Errorf("failed to write bundle entry %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnpackBundle extracts a tar.gz archive into a file map. Entries that
// would escape the extraction root (absolute paths, "..") are skipped.
func UnpackBundle(data []byte) (map[string][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer gz.Close()

	files := make(map[string][]byte)

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read bundle: %w", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle entry %s: %w", name, err)
		}

		files[name] = content
	}

	return files, nil
}
