package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the ML service configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Backend     BackendConfig   `mapstructure:"backend"`
	ML          MLConfig        `mapstructure:"ml"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	APIPrefix    string        `mapstructure:"api_prefix"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	EnableCORS   bool          `mapstructure:"enable_cors"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// DatabaseConfig holds job persistence configuration
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds prediction cache configuration
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Password      string        `mapstructure:"password"`
	Database      int           `mapstructure:"database"`
	PoolSize      int           `mapstructure:"pool_size"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PredictionTTL time.Duration `mapstructure:"prediction_ttl"`
}

// KafkaConfig holds event publishing configuration
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	Topics       TopicsConfig  `mapstructure:"topics"`
}

// TopicsConfig holds Kafka topic names
type TopicsConfig struct {
	ModelUpdates string `mapstructure:"model_updates"`
	TrainingJobs string `mapstructure:"training_jobs"`
}

// BackendConfig holds the case-management backend client configuration
type BackendConfig struct {
	URL              string        `mapstructure:"url"`
	CasesTimeout     time.Duration `mapstructure:"cases_timeout"`
	OverridesTimeout time.Duration `mapstructure:"overrides_timeout"`
}

// MLConfig holds model lifecycle configuration
type MLConfig struct {
	ModelDir            string         `mapstructure:"model_dir"`
	CurrentModelVersion string         `mapstructure:"current_model_version"`
	MinTrainingSamples  int            `mapstructure:"min_training_samples"`
	MinTestSamples      int            `mapstructure:"min_test_samples"`
	ComplexityFeatures  []string       `mapstructure:"complexity_features"`
	TestYieldFeatures   []string       `mapstructure:"test_yield_features"`
	KeywordsFile        string         `mapstructure:"keywords_file"`
	Training            TrainingConfig `mapstructure:"training"`
}

// TrainingConfig holds training run configuration
type TrainingConfig struct {
	MaxConcurrentJobs    int            `mapstructure:"max_concurrent_jobs"`
	QueueSize            int            `mapstructure:"queue_size"`
	CaseLimit            int            `mapstructure:"case_limit"`
	OverrideLookbackDays int            `mapstructure:"override_lookback_days"`
	CalibrationFolds     int            `mapstructure:"calibration_folds"`
	Complexity           BoostingConfig `mapstructure:"complexity"`
	TestYield            BoostingConfig `mapstructure:"test_yield"`
}

// BoostingConfig holds gradient boosting hyperparameters
type BoostingConfig struct {
	NEstimators     int     `mapstructure:"n_estimators"`
	MaxDepth        int     `mapstructure:"max_depth"`
	NumLeaves       int     `mapstructure:"num_leaves"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	MinChildSamples int     `mapstructure:"min_child_samples"`
	Lambda          float64 `mapstructure:"lambda"`
}

// StorageConfig holds model blob storage configuration
type StorageConfig struct {
	Type string   `mapstructure:"type"` // filesystem, s3
	S3   S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage configuration
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// SchedulerConfig holds automatic retraining configuration
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	RetrainSchedule string `mapstructure:"retrain_schedule"` // cron expression
}

// RateLimitConfig holds prediction endpoint rate limiting
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Load reads configuration from an optional file and the environment
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ML")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.ML.MinTestSamples <= 0 {
		cfg.ML.MinTestSamples = cfg.ML.MinTrainingSamples / 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnv keeps the flat variable names used by existing deployments working.
func bindLegacyEnv(v *viper.Viper) {
	aliases := map[string]string{
		"ml.model_dir":             "ML_MODEL_DIR",
		"ml.current_model_version": "ML_CURRENT_MODEL_VERSION",
		"ml.min_training_samples":  "ML_MIN_TRAINING_SAMPLES",
		"backend.url":              "ML_BACKEND_URL",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, "ML_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.enable_cors", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "uw_ml")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "uw_ml.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.prediction_ttl", "15m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.batch_timeout", "100ms")
	v.SetDefault("kafka.write_timeout", "10s")
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.topics.model_updates", "ml.model.updates")
	v.SetDefault("kafka.topics.training_jobs", "ml.training.jobs")

	// Backend defaults
	v.SetDefault("backend.url", "http://localhost:3000")
	v.SetDefault("backend.cases_timeout", "60s")
	v.SetDefault("backend.overrides_timeout", "30s")

	// ML defaults
	v.SetDefault("ml.model_dir", "./models")
	v.SetDefault("ml.current_model_version", "latest")
	v.SetDefault("ml.min_training_samples", 100)
	v.SetDefault("ml.min_test_samples", 0)
	v.SetDefault("ml.complexity_features", DefaultComplexityFeatures)
	v.SetDefault("ml.test_yield_features", DefaultTestYieldFeatures)
	v.SetDefault("ml.keywords_file", "")
	v.SetDefault("ml.training.max_concurrent_jobs", 1)
	v.SetDefault("ml.training.queue_size", 16)
	v.SetDefault("ml.training.case_limit", 2000)
	v.SetDefault("ml.training.override_lookback_days", 90)
	v.SetDefault("ml.training.calibration_folds", 5)

	v.SetDefault("ml.training.complexity.n_estimators", 100)
	v.SetDefault("ml.training.complexity.max_depth", 6)
	v.SetDefault("ml.training.complexity.num_leaves", 31)
	v.SetDefault("ml.training.complexity.learning_rate", 0.1)
	v.SetDefault("ml.training.complexity.min_child_samples", 20)
	v.SetDefault("ml.training.complexity.lambda", 1.0)

	v.SetDefault("ml.training.test_yield.n_estimators", 50)
	v.SetDefault("ml.training.test_yield.max_depth", 4)
	v.SetDefault("ml.training.test_yield.num_leaves", 15)
	v.SetDefault("ml.training.test_yield.learning_rate", 0.1)
	v.SetDefault("ml.training.test_yield.min_child_samples", 10)
	v.SetDefault("ml.training.test_yield.lambda", 1.0)

	// Storage defaults
	v.SetDefault("storage.type", "filesystem")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("storage.s3.prefix", "")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.retrain_schedule", "@every 24h")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)
}

// DefaultComplexityFeatures is the feature schema of the complexity classifier.
var DefaultComplexityFeatures = []string{
	"age",
	"bmi",
	"sum_assured",
	"smoking_status",
	"condition_count",
	"medication_count",
	"has_cardiac",
	"has_diabetes",
	"has_hypertension",
	"has_renal",
	"family_history_cardiac",
	"family_history_diabetes",
}

// DefaultTestYieldFeatures is the feature schema shared by the per-test regressors.
var DefaultTestYieldFeatures = []string{
	"age",
	"bmi",
	"smoking_status",
	"condition_count",
	"has_condition_related",
	"sum_assured_tier",
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.ML.ModelDir == "" && c.Storage.Type == "filesystem" {
		return fmt.Errorf("ml.model_dir is required for filesystem storage")
	}
	if c.ML.MinTrainingSamples <= 0 {
		return fmt.Errorf("ml.min_training_samples must be positive, got %d", c.ML.MinTrainingSamples)
	}
	if len(c.ML.ComplexityFeatures) == 0 {
		return fmt.Errorf("ml.complexity_features must not be empty")
	}
	if len(c.ML.TestYieldFeatures) == 0 {
		return fmt.Errorf("ml.test_yield_features must not be empty")
	}
	if c.ML.Training.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("ml.training.max_concurrent_jobs must be positive")
	}
	if c.ML.Training.CalibrationFolds < 2 {
		return fmt.Errorf("ml.training.calibration_folds must be at least 2")
	}
	switch c.Storage.Type {
	case "filesystem":
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.endpoint and storage.s3.bucket are required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Database.Enabled && c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HTTPAddr returns the HTTP listen address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCAddr returns the gRPC listen address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

// PostgresDSN builds the postgres connection string
func (d DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// RedisAddr returns the redis address
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
