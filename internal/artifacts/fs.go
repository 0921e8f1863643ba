package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FS stores objects as files under a base directory. Used in local
// development and tests where no bucket is available.
type FS struct {
	basePath string
}

var _ Store = (*FS)(nil)

func NewFS(basePath string) *FS {
	return &FS{basePath: basePath}
}

func (s *FS) String() string {
	return fmt.Sprintf("[Local file storage, base path set to %s]", s.basePath)
}

func (s *FS) getPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func (s *FS) Put(_ context.Context, key string, data []byte) error {
	fullPath := s.getPath(key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}

	return os.WriteFile(fullPath, data, 0o644)
}

func (s *FS) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotExist
		}

		return nil, err
	}

	return data, nil
}

func (s *FS) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(s.getPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return !info.IsDir(), nil
}

func (s *FS) Delete(_ context.Context, key string) error {
	err := os.Remove(s.getPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
