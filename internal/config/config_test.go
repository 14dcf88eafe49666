package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "./models", cfg.ML.ModelDir)
		assert.Equal(t, "latest", cfg.ML.CurrentModelVersion)
		assert.Equal(t, 100, cfg.ML.MinTrainingSamples)
		assert.Equal(t, 50, cfg.ML.MinTestSamples)
		assert.Equal(t, DefaultComplexityFeatures, cfg.ML.ComplexityFeatures)
		assert.Equal(t, DefaultTestYieldFeatures, cfg.ML.TestYieldFeatures)
		assert.Equal(t, "http://localhost:3000", cfg.Backend.URL)
		assert.Equal(t, 60*time.Second, cfg.Backend.CasesTimeout)
		assert.Equal(t, 30*time.Second, cfg.Backend.OverridesTimeout)
		assert.Equal(t, 2000, cfg.ML.Training.CaseLimit)
		assert.Equal(t, 90, cfg.ML.Training.OverrideLookbackDays)
		assert.Equal(t, 100, cfg.ML.Training.Complexity.NEstimators)
		assert.Equal(t, 15, cfg.ML.Training.TestYield.NumLeaves)
	})

	t.Run("Environment Overrides", func(t *testing.T) {
		t.Setenv("ML_SERVER_PORT", "9001")
		t.Setenv("ML_MODEL_DIR", "/var/lib/models")
		t.Setenv("ML_MIN_TRAINING_SAMPLES", "40")
		t.Setenv("ML_BACKEND_URL", "http://backend:3000")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 9001, cfg.Server.Port)
		assert.Equal(t, "/var/lib/models", cfg.ML.ModelDir)
		assert.Equal(t, 40, cfg.ML.MinTrainingSamples)
		assert.Equal(t, 20, cfg.ML.MinTestSamples)
		assert.Equal(t, "http://backend:3000", cfg.Backend.URL)
	})

	t.Run("Secrets And S3 From Environment", func(t *testing.T) {
		t.Setenv("ML_REDIS_PASSWORD", "s3cret")
		t.Setenv("ML_DATABASE_PASSWORD", "dbpw")
		t.Setenv("ML_STORAGE_TYPE", "s3")
		t.Setenv("ML_STORAGE_S3_ENDPOINT", "minio:9000")
		t.Setenv("ML_STORAGE_S3_BUCKET", "uw-models")
		t.Setenv("ML_STORAGE_S3_ACCESS_KEY", "access")
		t.Setenv("ML_STORAGE_S3_SECRET_KEY", "secret")
		t.Setenv("ML_STORAGE_S3_PREFIX", "prod")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "s3cret", cfg.Redis.Password)
		assert.Equal(t, "dbpw", cfg.Database.Password)
		assert.Equal(t, "s3", cfg.Storage.Type)
		assert.Equal(t, "minio:9000", cfg.Storage.S3.Endpoint)
		assert.Equal(t, "uw-models", cfg.Storage.S3.Bucket)
		assert.Equal(t, "access", cfg.Storage.S3.AccessKey)
		assert.Equal(t, "secret", cfg.Storage.S3.SecretKey)
		assert.Equal(t, "prod", cfg.Storage.S3.Prefix)
	})

	t.Run("Config File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := []byte("ml:\n  min_training_samples: 10\n  min_test_samples: 3\nstorage:\n  type: filesystem\n")
		require.NoError(t, os.WriteFile(path, content, 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.ML.MinTrainingSamples)
		assert.Equal(t, 3, cfg.ML.MinTestSamples)
	})

	t.Run("Invalid Storage Type", func(t *testing.T) {
		t.Setenv("ML_STORAGE_TYPE", "gcs")

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported storage type")
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Backend: BackendConfig{URL: "http://localhost:3000"},
			ML: MLConfig{
				ModelDir:           "./models",
				MinTrainingSamples: 100,
				ComplexityFeatures: DefaultComplexityFeatures,
				TestYieldFeatures:  DefaultTestYieldFeatures,
				Training:           TrainingConfig{MaxConcurrentJobs: 1, CalibrationFolds: 5},
			},
			Storage: StorageConfig{Type: "filesystem"},
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("S3 Requires Bucket", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Type = "s3"
		cfg.Storage.S3.Endpoint = "minio:9000"
		assert.Error(t, cfg.Validate())

		cfg.Storage.S3.Bucket = "models"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Empty Schema", func(t *testing.T) {
		cfg := base()
		cfg.ML.TestYieldFeatures = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("Calibration Folds", func(t *testing.T) {
		cfg := base()
		cfg.ML.Training.CalibrationFolds = 1
		assert.Error(t, cfg.Validate())
	})
}
