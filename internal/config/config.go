// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full engine configuration. Values come from the YAML file,
// overlaid by environment variables (TREMOR_*), with defaults applied first so
// an explicit false/zero in the file always wins over a default.
type Config struct {
	Analysis         AnalysisConfig         `yaml:"analysis"`
	EventDetection   EventDetectionConfig   `yaml:"event_detection"`
	AdvancedEvents   AdvancedEventsConfig   `yaml:"advanced_events"`
	PhaseAnalysis    PhaseAnalysisConfig    `yaml:"phase_analysis"`
	FeatureSelection FeatureSelectionConfig `yaml:"feature_selection"`
	Scoring          ScoringConfig          `yaml:"scoring"`
	LTFHTF           LTFHTFConfig           `yaml:"ltf_htf"`
	VetoSystem       VetoSystemConfig       `yaml:"veto_system"`
	CombinedScoring  CombinedScoringConfig  `yaml:"combined_scoring"`
	FieldGroups      map[string][]string    `yaml:"field_groups"`
	Server           ServerConfig           `yaml:"server"`
	Store            StoreConfig            `yaml:"store"`
	Cache            CacheConfig            `yaml:"cache"`
	Artifacts        ArtifactsConfig        `yaml:"artifacts"`
	Schedule         []ScheduledSource      `yaml:"schedule" validate:"dive"`
	Logging          LoggingConfig          `yaml:"logging"`
}

// AnalysisConfig gates the overall run and controls sampling.
type AnalysisConfig struct {
	MinAccuracy          float64 `yaml:"min_accuracy" default:"0.60" validate:"gt=0,lte=1"`
	MinLift              float64 `yaml:"min_lift" default:"1.5" validate:"gt=0"`
	ValidationSplit      float64 `yaml:"validation_split" default:"0.3"`
	CVFolds              int     `yaml:"cv_folds" default:"5" validate:"gte=2"`
	MaxFeatures          int     `yaml:"max_features" default:"100" validate:"gt=0"`
	EnableLTFHTF         bool    `yaml:"enable_ltf_htf" default:"true"`
	EnableAdvancedEvents bool    `yaml:"enable_advanced_events" default:"true"`
	EnableVetoSystem     bool    `yaml:"enable_veto_system" default:"true"`
	LegacyMode           bool    `yaml:"legacy_mode"`
	Workers              int     `yaml:"workers" validate:"gte=0"` // 0 = NumCPU
}

// EventDetectionConfig drives the threshold/quantile event rules.
type EventDetectionConfig struct {
	VolatilityThreshold  float64 `yaml:"volatility_threshold" default:"2.0" validate:"gt=0"`
	VolumeThreshold      float64 `yaml:"volume_threshold" default:"1.5" validate:"gt=0"`
	PriceChangeThreshold float64 `yaml:"price_change_threshold" default:"0.5" validate:"gt=0"`
	ExtremeQuantile      float64 `yaml:"extreme_quantile" default:"0.8" validate:"gte=0.5,lt=1"`
	MinEventStrength     float64 `yaml:"min_event_strength" default:"1.0" validate:"gte=0"`
	Window               int     `yaml:"window" default:"20" validate:"gte=5"`
}

// AdvancedEventsConfig drives retracement, culmination and consolidation
// detection.
type AdvancedEventsConfig struct {
	RetracementLevels                []float64 `yaml:"retracement_levels" default:"[2,3,5,7,10]"`
	RetracementTimeWindow            []int     `yaml:"retracement_time_window" default:"[1,90]"` // minutes, [min,max]
	MinExtremumMove                  float64   `yaml:"min_extremum_move" default:"1.0" validate:"gt=0"`
	CulminationThreshold             float64   `yaml:"culmination_threshold" default:"0.8" validate:"gt=0,lte=1"`
	ConsolidationVolatilityThreshold float64   `yaml:"consolidation_volatility_threshold" default:"0.5" validate:"gt=0"`
}

// PhaseAnalysisConfig bounds the five phases of the state machine.
type PhaseAnalysisConfig struct {
	PreparationMaxDuration   int     `yaml:"preparation_max_duration" default:"30"`
	ActivityThreshold        float64 `yaml:"activity_threshold" default:"0.3" validate:"gt=0"`
	CulminationMaxDuration   int     `yaml:"culmination_max_duration" default:"3"`
	DevelopmentMaxDuration   int     `yaml:"development_max_duration" default:"45"`
	ConsolidationMinDuration int     `yaml:"consolidation_min_duration" default:"5"`
	ConsolidationMaxDuration int     `yaml:"consolidation_max_duration" default:"40"`
	TransitionMaxDuration    int     `yaml:"transition_max_duration" default:"20"`
	VolatilityMax            float64 `yaml:"volatility_max" default:"0.5" validate:"gt=0"`
	StabilityThreshold       float64 `yaml:"stability_threshold" default:"0.2" validate:"gt=0"`
	DetectionWindow          int     `yaml:"detection_window" default:"10" validate:"gt=0"`
}

// FeatureSelectionConfig controls lag generation and candidate filtering.
type FeatureSelectionConfig struct {
	MaxFeatures          int     `yaml:"max_features" default:"50" validate:"gt=0"`
	CorrelationThreshold float64 `yaml:"correlation_threshold" default:"0.8" validate:"gt=0,lte=1"`
	MinVariance          float64 `yaml:"min_variance" default:"0.01" validate:"gte=0"`
	MaxLags              int     `yaml:"max_lags" default:"10" validate:"gte=0"`
}

// ScoringConfig controls per-field cross-validated evaluation.
type ScoringConfig struct {
	MinROCAUC        float64 `yaml:"min_roc_auc" default:"0.55" validate:"gte=0.5,lt=1"`
	MinActivations   int     `yaml:"min_activations" default:"10" validate:"gte=0"`
	ThresholdMethod  string  `yaml:"threshold_method" default:"percentile" validate:"oneof=percentile statistical optimal"`
	ThresholdStdDevs float64 `yaml:"threshold_std_devs" default:"2.0" validate:"gt=0"`
	RFNEstimators    int     `yaml:"rf_n_estimators" default:"100"`
	RFRandomState    int     `yaml:"rf_random_state" default:"42"`
	RFMaxDepth       int     `yaml:"rf_max_depth" default:"10"`
}

// LTFHTFConfig buckets incoming series into the fast and slow sides.
type LTFHTFConfig struct {
	LTFTimeframes    []int    `yaml:"ltf_timeframes" default:"[2,5,15,30]"` // minutes
	HTFTimeframes    []string `yaml:"htf_timeframes" default:"[\"1h\",\"4h\",\"1d\",\"1w\"]"`
	SeparationMethod string   `yaml:"separation_method" default:"auto" validate:"oneof=auto manual"`
	TemporalLagFix   bool     `yaml:"temporal_lag_fix" default:"true"`
}

// VetoThresholds are the per-rule trigger levels.
type VetoThresholds struct {
	HighVolatility     float64 `yaml:"high_volatility" default:"3.0" validate:"gt=0"`
	ConflictingSignals float64 `yaml:"conflicting_signals" default:"0.7" validate:"gt=0,lte=1"`
	LowConfidence      float64 `yaml:"low_confidence" default:"0.3" validate:"gt=0,lte=1"`
}

// VetoSystemConfig controls the blocking rules.
type VetoSystemConfig struct {
	Thresholds           VetoThresholds `yaml:"veto_thresholds"`
	MinConfirmingSignals int            `yaml:"min_confirming_signals" default:"2" validate:"gte=1"`
	EnableBlocking       bool           `yaml:"enable_blocking" default:"true"`
}

// CombinedScoringConfig selects strategies and ensemble methods.
type CombinedScoringConfig struct {
	EnsembleMethods       []string  `yaml:"ensemble_methods" default:"[\"weighted\",\"voting\",\"stacking\"]"`
	AdaptiveWeighting     bool      `yaml:"adaptive_weighting" default:"true"`
	ScenarioBased         bool      `yaml:"scenario_based" default:"true"`
	ConfidenceThresholds  []float64 `yaml:"confidence_thresholds" default:"[0.3,0.5,0.7,0.9]"`
	CombinationStrategies []string  `yaml:"combination_strategies" default:"[\"ltf_primary\",\"htf_primary\",\"balanced\",\"adaptive\",\"hierarchical\"]"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port        int      `yaml:"port" default:"8090" validate:"gt=0,lt=65536"`
	CORSOrigins []string `yaml:"cors_origins" default:"[\"*\"]"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `yaml:"path" default:"tremor.db"`
}

// CacheConfig controls the parsed-series snapshot cache. An empty Dir
// disables caching entirely.
type CacheConfig struct {
	Dir         string `yaml:"dir" default:"cache"`
	MaxAgeHours int    `yaml:"max_age_hours" default:"168" validate:"gte=0"`
}

// ArtifactsConfig holds run artifact export settings. S3 upload is optional
// and disabled while Bucket is empty.
type ArtifactsConfig struct {
	Dir      string `yaml:"dir" default:"artifacts"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix" default:"tremor"`
	S3Region string `yaml:"s3_region"`
}

// ScheduledSource pairs a data source with a cron expression for re-analysis.
// TimeoutMinutes bounds one pass; zero runs without a deadline.
type ScheduledSource struct {
	Path           string `yaml:"path" validate:"required"`
	Cron           string `yaml:"cron" validate:"required"`
	TimeoutMinutes int    `yaml:"timeout_minutes" validate:"gte=0"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultFieldGroups returns the canonical field vocabulary grouped by family.
func DefaultFieldGroups() map[string][]string {
	return map[string][]string{
		"group_1": {"rd", "md", "cd", "cmd", "macd", "od", "dd", "cvd", "drd", "ad", "ed", "hd", "sd"},
		"group_2": {"ro", "mo", "co", "cz", "do", "ae", "so"},
		"group_3": {"rz", "mz", "ciz", "sz", "dz", "cvz", "maz", "oz"},
		"group_4": {"ef", "wv", "vc", "ze", "nw", "as", "vw"},
		"group_5": {"bs", "wa", "pd"},
	}
}

// Default returns a configuration with every default applied and no file or
// environment input.
func Default() *Config {
	cfg := &Config{}
	// Only fails on malformed struct tags, which tests catch.
	_ = defaults.Set(cfg)
	cfg.FieldGroups = DefaultFieldGroups()
	return cfg
}

// Load reads the YAML file at path (optional), overlays TREMOR_* environment
// variables and validates the result. A missing path loads pure defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	// A file that defines field_groups replaces the vocabulary grouping
	// entirely; absence falls back to the canonical groups.
	if len(cfg.FieldGroups) == 0 {
		cfg.FieldGroups = DefaultFieldGroups()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	b, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnv overlays selected environment variables on top of file values.
func applyEnv(cfg *Config) {
	cfg.Logging.Level = getEnv("TREMOR_LOG_LEVEL", cfg.Logging.Level)
	cfg.Store.Path = getEnv("TREMOR_STORE_PATH", cfg.Store.Path)
	cfg.Artifacts.Dir = getEnv("TREMOR_ARTIFACTS_DIR", cfg.Artifacts.Dir)
	cfg.Artifacts.S3Bucket = getEnv("TREMOR_S3_BUCKET", cfg.Artifacts.S3Bucket)
	cfg.Artifacts.S3Region = getEnv("TREMOR_S3_REGION", cfg.Artifacts.S3Region)

	if port := getEnv("TREMOR_PORT", ""); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if workers := getEnv("TREMOR_WORKERS", ""); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w >= 0 {
			cfg.Analysis.Workers = w
		}
	}
	if pretty := getEnv("TREMOR_LOG_PRETTY", ""); pretty != "" {
		cfg.Logging.Pretty = pretty == "1" || pretty == "true"
	}
}

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// KnownFields returns the set of valid field identifiers.
func KnownFields() map[string]bool {
	known := make(map[string]bool)
	for _, fields := range DefaultFieldGroups() {
		for _, f := range fields {
			known[f] = true
		}
	}
	return known
}
