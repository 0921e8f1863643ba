package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
)

func TestFS_PutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := NewFS(t.TempDir())

	key := DeploymentBundleKey("proj-1", "my-app")
	require.NoError(t, store.Put(ctx, key, []byte("bundle")))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle"), data)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, ErrObjectNotExist)

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFS_PutOverwrites(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := NewFS(t.TempDir())

	require.NoError(t, store.Put(ctx, "assets/proj-1.tar.gz", []byte("v1")))
	require.NoError(t, store.Put(ctx, "assets/proj-1.tar.gz", []byte("v2")))

	data, err := store.Get(ctx, "assets/proj-1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestFS_DeleteMissingIsNoop(t *testing.T) {
	t.Parallel()

	store := NewFS(t.TempDir())
	require.NoError(t, store.Delete(t.Context(), "assets/absent.tar.gz"))
}

func TestNew_SelectsBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  cfg.Config
		want    string
		wantErr bool
	}{
		{
			name:   "local",
			config: cfg.Config{StorageProvider: "local", StorageLocalDir: t.TempDir()},
			want:   "[Local file storage",
		},
		{
			name:   "empty defaults to local",
			config: cfg.Config{StorageLocalDir: t.TempDir()},
			want:   "[Local file storage",
		},
		{
			name:    "aws without bucket",
			config:  cfg.Config{StorageProvider: "aws"},
			wantErr: true,
		},
		{
			name:    "unknown",
			config:  cfg.Config{StorageProvider: "gcs"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := New(t.Context(), tt.config)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Contains(t, store.String(), tt.want)
		})
	}
}
