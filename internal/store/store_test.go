package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
)

func TestFilesystem(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFilesystem(dir, zap.NewNop())
	require.NoError(t, err)

	t.Run("Put And Get", func(t *testing.T) {
		key := Key("v20240101_000000", "complexity_model.json")
		require.NoError(t, fs.Put(ctx, key, []byte(`{"a":1}`)))

		data, err := fs.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(data))

		exists, err := fs.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, filepath.Join(dir, "v20240101_000000", "complexity_model.json"), fs.Location(key))
	})

	t.Run("Refuses Overwrite", func(t *testing.T) {
		key := Key("v20240102_000000", "test_yield_ecg.json")
		require.NoError(t, fs.Put(ctx, key, []byte("first")))

		err := fs.Put(ctx, key, []byte("second"))
		assert.ErrorIs(t, err, ErrExists)

		data, err := fs.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "first", string(data))
	})

	t.Run("Concurrent Writers", func(t *testing.T) {
		key := Key("v20240102_000000", "test_yield_lipid.json")
		const writers = 8

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = fs.Put(ctx, key, []byte(fmt.Sprintf("writer-%d", i)))
			}(i)
		}
		wg.Wait()

		winner := -1
		for i, err := range errs {
			if err == nil {
				require.Equal(t, -1, winner, "more than one writer succeeded")
				winner = i
				continue
			}
			assert.ErrorIs(t, err, ErrExists)
		}
		require.NotEqual(t, -1, winner)

		data, err := fs.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("writer-%d", winner), string(data))
	})

	t.Run("Missing Key", func(t *testing.T) {
		_, err := fs.Get(ctx, Key("v19990101_000000", "complexity_model.json"))
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := fs.Exists(ctx, Key("v19990101_000000", "complexity_model.json"))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Namespaces", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0644))

		namespaces, err := fs.Namespaces(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v20240101_000000", "v20240102_000000"}, namespaces)
	})

	t.Run("No Temp Files Left Behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(dir, "v20240101_000000"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	})

	t.Run("Invalid Keys", func(t *testing.T) {
		for _, key := range []string{"", "/abs", "../escape", "a//b", "a/./b"} {
			assert.Error(t, fs.Put(ctx, key, []byte("x")), key)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("Filesystem By Default", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.ML.ModelDir = t.TempDir()

		blobs, err := New(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &Filesystem{}, blobs)
	})

	t.Run("Unsupported Type", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Storage.Type = "gcs"

		_, err := New(cfg, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestS3ObjectNames(t *testing.T) {
	s := &S3{bucket: "models", prefix: "uw"}
	assert.Equal(t, "uw/v1/complexity_model.json", s.object("v1/complexity_model.json"))
	assert.Equal(t, "s3://models/uw/v1/complexity_model.json", s.Location("v1/complexity_model.json"))

	bare := &S3{bucket: "models"}
	assert.Equal(t, "v1/x.json", bare.object("v1/x.json"))
}
