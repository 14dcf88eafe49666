// Package registry owns the set of models currently serving predictions and
// swaps them atomically when training deploys a new version.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/events"
	"github.com/Sanidhya1398/uw-decision-support/internal/inference"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
)

// LatestVersion resolves, per model, to the newest version that holds its artifact.
const LatestVersion = "latest"

// Snapshot is an immutable view of the serving models. Readers take one
// snapshot per request so every prediction sees a consistent model set.
type Snapshot struct {
	Complexity *inference.ComplexityModel
	TestYield  *inference.TestYieldModel
	Version    string
	LoadedAt   time.Time
}

// Manager is the single source of truth for which models are serving
type Manager struct {
	cfg       *config.Config
	blobs     store.BlobStore
	logger    *zap.Logger
	publisher events.Publisher
	metrics   *monitoring.Metrics

	current atomic.Pointer[Snapshot]
	// mu serializes writers; readers never take it.
	mu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithPublisher publishes swap events
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithMetrics exports model gauges
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager serving unfitted models. Call LoadAll to load
// the configured version.
func NewManager(cfg *config.Config, blobs store.BlobStore, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		blobs:     blobs,
		logger:    logger.With(zap.String("component", "model_manager")),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.current.Store(&Snapshot{
		Complexity: inference.NewComplexityModel(cfg, logger),
		TestYield:  inference.NewTestYieldModel(cfg, logger),
		Version:    cfg.ML.CurrentModelVersion,
		LoadedAt:   time.Now(),
	})
	return m
}

// Snapshot returns the models currently serving
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// LoadAll loads the configured current version
func (m *Manager) LoadAll(ctx context.Context) (map[string]bool, error) {
	return m.Reload(ctx, m.cfg.ML.CurrentModelVersion)
}

// Reload loads every model from version and swaps them in together. An empty
// version reloads the configured one. Models without an artifact in the
// version fall back to rule-based prediction.
func (m *Manager) Reload(ctx context.Context, version string) (map[string]bool, error) {
	if version == "" {
		version = m.cfg.ML.CurrentModelVersion
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With(zap.String("version", version))
	versions, err := m.AvailableVersions(ctx)
	if err != nil {
		return nil, err
	}

	complexity := inference.NewComplexityModel(m.cfg, m.logger)
	if v := m.resolve(ctx, version, versions, inference.ComplexityKey); v != "" {
		if _, err := complexity.Load(ctx, m.blobs, v); err != nil {
			logger.Warn("Failed to load complexity model, using rule-based fallback", zap.Error(err))
		}
	}
	if !complexity.Fitted() {
		logger.Info("Complexity model not found, using rule-based fallback")
	}

	bank := inference.NewTestYieldModel(m.cfg, m.logger)
	loadedTests := 0
	for _, code := range models.SupportedTests {
		code := code
		keyFn := func(v string) string { return inference.TestYieldKey(v, code) }
		v := m.resolve(ctx, version, versions, keyFn)
		if v == "" {
			continue
		}
		ok, err := bank.LoadTest(ctx, m.blobs, code, v)
		if err != nil {
			logger.Warn("Failed to load test yield model", zap.String("test_code", string(code)), zap.Error(err))
			continue
		}
		if ok {
			loadedTests++
		}
	}
	logger.Info("Models loaded",
		zap.Bool("complexity", complexity.Fitted()),
		zap.Int("test_yield_loaded", loadedTests),
		zap.Int("test_yield_total", len(models.SupportedTests)))

	next := &Snapshot{Complexity: complexity, TestYield: bank, Version: version, LoadedAt: time.Now()}
	m.publish(ctx, next, models.ModelType(""), "reload")
	return loadedModels(next), nil
}

// resolve maps a requested version to the namespace to load from, or "" when
// the artifact is absent.
func (m *Manager) resolve(ctx context.Context, version string, versions []string, key func(string) string) string {
	candidates := versions
	if version != LatestVersion {
		candidates = []string{version}
	}
	for _, v := range candidates {
		exists, err := m.blobs.Exists(ctx, key(v))
		if err != nil {
			m.logger.Warn("Failed to check artifact", zap.String("key", key(v)), zap.Error(err))
			continue
		}
		if exists {
			return v
		}
	}
	return ""
}

// UpdateComplexityModel hot-swaps the complexity model
func (m *Manager) UpdateComplexityModel(ctx context.Context, model *inference.ComplexityModel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current.Load()
	next := &Snapshot{Complexity: model, TestYield: cur.TestYield, Version: model.Version(), LoadedAt: time.Now()}
	m.publish(ctx, next, models.ModelTypeComplexity, "training")
}

// UpdateTestYieldModel hot-swaps the test yield bank
func (m *Manager) UpdateTestYieldModel(ctx context.Context, bank *inference.TestYieldModel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current.Load()
	next := &Snapshot{Complexity: cur.Complexity, TestYield: bank, Version: cur.Version, LoadedAt: time.Now()}
	m.publish(ctx, next, models.ModelTypeTestYield, "training")
}

// publish stores the snapshot and emits gauges and events. Callers hold mu.
func (m *Manager) publish(ctx context.Context, next *Snapshot, modelType models.ModelType, reason string) {
	m.current.Store(next)

	loaded := loadedModels(next)
	for name, ok := range loaded {
		m.metrics.SetModelLoaded(name, ok)
	}
	if modelType != "" {
		m.metrics.RecordSwap(string(modelType))
	}

	update := events.ModelUpdate{
		ModelType: modelType,
		Versions:  versionsOf(next),
		Loaded:    loaded,
		Reason:    reason,
		SwappedAt: next.LoadedAt.UTC(),
	}
	if err := m.publisher.ModelUpdated(ctx, update); err != nil {
		m.logger.Warn("Failed to publish model update", zap.Error(err))
	}
	m.logger.Info("Serving models swapped", zap.String("reason", reason), zap.String("model_type", string(modelType)))
}

// LoadedModels reports which models have a fitted predictor
func (m *Manager) LoadedModels() map[string]bool {
	return loadedModels(m.Snapshot())
}

// ModelInfo describes every model
func (m *Manager) ModelInfo() map[string]models.ModelInfo {
	snap := m.Snapshot()
	out := map[string]models.ModelInfo{
		string(models.ModelTypeComplexity): snap.Complexity.Info(),
	}
	for _, code := range models.SupportedTests {
		if info, err := snap.TestYield.Info(code); err == nil {
			out[modelName(code)] = info
		}
	}
	return out
}

// AvailableVersions lists version namespaces, newest first
func (m *Manager) AvailableVersions(ctx context.Context) ([]string, error) {
	namespaces, err := m.blobs.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list model versions: %w", err)
	}
	versions := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		if strings.HasPrefix(ns, "v") {
			versions = append(versions, ns)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))
	return versions, nil
}

func loadedModels(s *Snapshot) map[string]bool {
	out := map[string]bool{string(models.ModelTypeComplexity): s.Complexity.Fitted()}
	for _, code := range models.SupportedTests {
		out[modelName(code)] = s.TestYield.Fitted(code)
	}
	return out
}

func versionsOf(s *Snapshot) map[string]string {
	out := map[string]string{string(models.ModelTypeComplexity): s.Complexity.Version()}
	for _, code := range models.SupportedTests {
		if v, err := s.TestYield.Version(code); err == nil {
			out[modelName(code)] = v
		}
	}
	return out
}

func modelName(code models.TestCode) string {
	return "test_yield_" + code.Key()
}
