// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Triage() TriageConfig
	LLM() LLMConfig
	Metrics() MetricsConfig

	// Setters for values that command line flags override.
	SetAnalysisMode(mode string)
	SetProjectRoot(root string)
	SetAutoAnalyze(enabled bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	TriageCfg  TriageConfig  `mapstructure:"triage" yaml:"triage"`
	LLMCfg     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	MetricsCfg MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Triage() TriageConfig   { return c.TriageCfg }
func (c *Config) LLM() LLMConfig         { return c.LLMCfg }
func (c *Config) Metrics() MetricsConfig { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAnalysisMode(mode string) { c.TriageCfg.AnalysisMode = mode }
func (c *Config) SetProjectRoot(root string)  { c.TriageCfg.ProjectRoot = root }
func (c *Config) SetAutoAnalyze(enabled bool) { c.TriageCfg.AutoAnalyze = enabled }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// TriageConfig controls failure extraction and analysis dispatch.
type TriageConfig struct {
	Enabled               bool             `mapstructure:"enabled" yaml:"enabled"`
	AutoAnalyze           bool             `mapstructure:"auto_analyze" yaml:"auto_analyze"`
	AnalysisMode          string           `mapstructure:"analysis_mode" yaml:"analysis_mode"`
	ProjectRoot           string           `mapstructure:"project_root" yaml:"project_root"`
	SourceRoots           []string         `mapstructure:"source_roots" yaml:"source_roots"`
	SpecGlobs             []string         `mapstructure:"spec_globs" yaml:"spec_globs"`
	Classifier            ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	MaxConcurrentAnalyses int              `mapstructure:"max_concurrent_analyses" yaml:"max_concurrent_analyses"`
	AnalysisTimeout       time.Duration    `mapstructure:"analysis_timeout" yaml:"analysis_timeout"`
	NavigatorCacheSize    int              `mapstructure:"navigator_cache_size" yaml:"navigator_cache_size"`
	UIQueueSize           int              `mapstructure:"ui_queue_size" yaml:"ui_queue_size"`
}

// ClassifierConfig lists extra markers on top of the built-in ones.
type ClassifierConfig struct {
	LocationMarkers []string `mapstructure:"location_markers" yaml:"location_markers"`
	AncestorMarkers []string `mapstructure:"ancestor_markers" yaml:"ancestor_markers"`
	ErrorMarkers    []string `mapstructure:"error_markers" yaml:"error_markers"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the analysis model client.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	FastModel         string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel     string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK              int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bddtriage")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Triage --
	v.SetDefault("triage.enabled", true)
	v.SetDefault("triage.auto_analyze", true)
	v.SetDefault("triage.analysis_mode", "quick")
	v.SetDefault("triage.project_root", ".")
	v.SetDefault("triage.source_roots", []string{
		"src/test/java", "src/main/java",
		"src/test/kotlin", "src/main/kotlin",
		"src/test/groovy", "test", "src",
	})
	v.SetDefault("triage.spec_globs", []string{"**/*.feature"})
	v.SetDefault("triage.max_concurrent_analyses", 2)
	v.SetDefault("triage.analysis_timeout", "2m")
	v.SetDefault("triage.navigator_cache_size", 256)
	v.SetDefault("triage.ui_queue_size", 64)

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_minute", 30)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", APIKeyEnv, "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.TriageCfg.Validate(); err != nil {
		return fmt.Errorf("triage configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the triage configuration.
func (t *TriageConfig) Validate() error {
	if t.MaxConcurrentAnalyses <= 0 {
		return fmt.Errorf("max_concurrent_analyses must be a positive integer")
	}
	if t.AnalysisTimeout < 0 {
		return fmt.Errorf("analysis_timeout must not be negative")
	}
	if !IsValidMode(t.AnalysisMode) {
		return fmt.Errorf("analysis_mode %q is not one of %v", t.AnalysisMode, AnalysisModes)
	}
	if len(t.SpecGlobs) == 0 {
		return fmt.Errorf("spec_globs must list at least one pattern")
	}
	return nil
}

// Validate checks the LLM configuration. A missing API key is not an error:
// it leaves the service unconfigured and analysis is skipped.
func (l *LLMConfig) Validate() error {
	if l.Provider != ProviderGemini {
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
	if l.FastModel == "" || l.PowerfulModel == "" {
		return fmt.Errorf("fast_model and powerful_model are required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}

// AnalysisModes are the accepted analysis modes.
var AnalysisModes = []string{"quick", "detailed", "fix"}

// IsValidMode reports whether mode is one of AnalysisModes.
func IsValidMode(mode string) bool {
	for _, m := range AnalysisModes {
		if m == mode {
			return true
		}
	}
	return false
}
