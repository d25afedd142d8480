// File: internal/config/settings.go
package config

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Settings answers the triage pipeline's eligibility queries from the current
// configuration snapshot. The snapshot is replaced atomically when the
// configuration file changes.
type Settings struct {
	logger  *zap.Logger
	current atomic.Pointer[Config]

	mu        sync.Mutex
	overrides []func(Interface)
}

// NewSettings wraps cfg. Overrides are applied to cfg now and to every
// reloaded configuration later.
func NewSettings(logger *zap.Logger, cfg *Config, overrides ...func(Interface)) *Settings {
	s := &Settings{logger: logger.Named("settings"), overrides: overrides}
	s.Update(cfg)
	return s
}

// Update applies the overrides to cfg and makes it current. Settings that are
// wired into components at startup are logged when they change, since they
// only apply after a restart.
func (s *Settings) Update(cfg *Config) {
	s.mu.Lock()
	for _, apply := range s.overrides {
		apply(cfg)
	}
	s.mu.Unlock()
	if prev := s.current.Swap(cfg); prev != nil {
		if keys := restartRequired(prev, cfg); len(keys) > 0 {
			s.logger.Warn("Changed settings take effect after a restart.", zap.Strings("keys", keys))
		}
	}
}

// restartRequired lists the triage keys that differ between prev and next and
// are read only when the pipeline is built.
func restartRequired(prev, next *Config) []string {
	a, b := prev.TriageCfg, next.TriageCfg
	var keys []string
	if a.ProjectRoot != b.ProjectRoot {
		keys = append(keys, "triage.project_root")
	}
	if !slices.Equal(a.SourceRoots, b.SourceRoots) {
		keys = append(keys, "triage.source_roots")
	}
	if !slices.Equal(a.SpecGlobs, b.SpecGlobs) {
		keys = append(keys, "triage.spec_globs")
	}
	if !slices.Equal(a.Classifier.LocationMarkers, b.Classifier.LocationMarkers) ||
		!slices.Equal(a.Classifier.AncestorMarkers, b.Classifier.AncestorMarkers) ||
		!slices.Equal(a.Classifier.ErrorMarkers, b.Classifier.ErrorMarkers) {
		keys = append(keys, "triage.classifier")
	}
	if a.MaxConcurrentAnalyses != b.MaxConcurrentAnalyses {
		keys = append(keys, "triage.max_concurrent_analyses")
	}
	if a.AnalysisTimeout != b.AnalysisTimeout {
		keys = append(keys, "triage.analysis_timeout")
	}
	if a.NavigatorCacheSize != b.NavigatorCacheSize {
		keys = append(keys, "triage.navigator_cache_size")
	}
	if a.UIQueueSize != b.UIQueueSize {
		keys = append(keys, "triage.ui_queue_size")
	}
	return keys
}

// Config returns the current snapshot.
func (s *Settings) Config() *Config { return s.current.Load() }

func (s *Settings) IsFeatureEnabled() bool { return s.current.Load().TriageCfg.Enabled }

// IsConfigured reports whether the analysis service has credentials.
func (s *Settings) IsConfigured() bool { return s.current.Load().LLMCfg.APIKey != "" }

func (s *Settings) IsAutoAnalyzeEnabled() bool { return s.current.Load().TriageCfg.AutoAnalyze }

func (s *Settings) AnalysisMode() string { return s.current.Load().TriageCfg.AnalysisMode }

// Watch reloads the configuration whenever the file behind v changes. A
// reload that fails validation is logged and the previous snapshot kept.
func (s *Settings) Watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := NewConfigFromViper(v)
		if err != nil {
			s.logger.Warn("Ignoring invalid configuration change.", zap.String("file", e.Name), zap.Error(err))
			return
		}
		s.Update(cfg)
		s.logger.Info("Configuration reloaded.", zap.String("file", e.Name))
	})
	v.WatchConfig()
}
