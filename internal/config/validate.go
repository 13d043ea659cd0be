package config

import (
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aristath/tremor/internal/domain"
)

var validate = validator.New()

// Validate checks struct tags and cross-field invariants. Every failure is a
// domain.ConfigurationError; nothing downstream runs when one is returned.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return domain.NewConfigurationError(e.Namespace(), "failed %q validation (value %v)", e.Tag(), e.Value())
		}
		return domain.NewConfigurationError("config", "%v", err)
	}

	if c.Analysis.ValidationSplit < 0.1 || c.Analysis.ValidationSplit > 0.5 {
		return domain.NewConfigurationError("analysis.validation_split",
			"must be within [0.1, 0.5], got %v", c.Analysis.ValidationSplit)
	}

	if err := c.validatePhaseBounds(); err != nil {
		return err
	}
	if err := c.validateFieldGroups(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateAdvancedEvents(); err != nil {
		return err
	}
	if err := c.validateCombined(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePhaseBounds() error {
	p := c.PhaseAnalysis
	for name, d := range map[string]int{
		"preparation_max_duration": p.PreparationMaxDuration,
		"culmination_max_duration": p.CulminationMaxDuration,
		"development_max_duration": p.DevelopmentMaxDuration,
		"transition_max_duration":  p.TransitionMaxDuration,
	} {
		if d <= 0 {
			return domain.NewConfigurationError("phase_analysis."+name, "must be positive, got %d", d)
		}
	}
	if p.ConsolidationMinDuration <= 0 {
		return domain.NewConfigurationError("phase_analysis.consolidation_min_duration",
			"must be positive, got %d", p.ConsolidationMinDuration)
	}
	if p.ConsolidationMinDuration > p.ConsolidationMaxDuration {
		return domain.NewConfigurationError("phase_analysis.consolidation_min_duration",
			"conflicting duration bounds: min %d exceeds max %d",
			p.ConsolidationMinDuration, p.ConsolidationMaxDuration)
	}
	return nil
}

func (c *Config) validateFieldGroups() error {
	if len(c.FieldGroups) == 0 {
		return domain.NewConfigurationError("field_groups", "at least one group is required")
	}
	known := KnownFields()
	for group, fields := range c.FieldGroups {
		if len(fields) == 0 {
			return domain.NewConfigurationError("field_groups."+group, "group is empty")
		}
		for _, f := range fields {
			if !known[f] {
				return domain.NewConfigurationError("field_groups."+group, "unknown field %q", f)
			}
		}
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	if s.RFNEstimators <= 0 {
		return domain.NewConfigurationError("scoring.rf_n_estimators", "must be positive, got %d", s.RFNEstimators)
	}
	if s.RFRandomState <= 0 {
		return domain.NewConfigurationError("scoring.rf_random_state", "must be positive, got %d", s.RFRandomState)
	}
	if s.RFMaxDepth <= 0 {
		return domain.NewConfigurationError("scoring.rf_max_depth", "must be positive, got %d", s.RFMaxDepth)
	}
	return nil
}

func (c *Config) validateAdvancedEvents() error {
	a := c.AdvancedEvents
	if len(a.RetracementLevels) == 0 {
		return domain.NewConfigurationError("advanced_events.retracement_levels", "must not be empty")
	}
	if !sort.Float64sAreSorted(a.RetracementLevels) {
		return domain.NewConfigurationError("advanced_events.retracement_levels",
			"must be ascending, got %v", a.RetracementLevels)
	}
	if a.RetracementLevels[0] <= 0 {
		return domain.NewConfigurationError("advanced_events.retracement_levels",
			"levels must be positive, got %v", a.RetracementLevels)
	}
	if len(a.RetracementTimeWindow) != 2 || a.RetracementTimeWindow[0] < 0 ||
		a.RetracementTimeWindow[0] >= a.RetracementTimeWindow[1] {
		return domain.NewConfigurationError("advanced_events.retracement_time_window",
			"must be [min, max] minutes with min < max, got %v", a.RetracementTimeWindow)
	}
	return nil
}

func (c *Config) validateCombined() error {
	cs := c.CombinedScoring
	if len(cs.CombinationStrategies) == 0 {
		return domain.NewConfigurationError("combined_scoring.combination_strategies", "must not be empty")
	}
	for _, s := range cs.CombinationStrategies {
		switch domain.Strategy(s) {
		case domain.StrategyLTFPrimary, domain.StrategyHTFPrimary, domain.StrategyBalanced,
			domain.StrategyAdaptive, domain.StrategyHierarchical:
		default:
			return domain.NewConfigurationError("combined_scoring.combination_strategies",
				"unknown strategy %q", s)
		}
	}
	for _, m := range cs.EnsembleMethods {
		switch domain.EnsembleMethod(m) {
		case domain.EnsembleWeighted, domain.EnsembleVoting, domain.EnsembleStacking:
		default:
			return domain.NewConfigurationError("combined_scoring.ensemble_methods",
				"unknown ensemble method %q", m)
		}
	}
	if len(cs.ConfidenceThresholds) == 0 {
		return domain.NewConfigurationError("combined_scoring.confidence_thresholds", "must not be empty")
	}
	if !sort.Float64sAreSorted(cs.ConfidenceThresholds) {
		return domain.NewConfigurationError("combined_scoring.confidence_thresholds",
			"must be ascending, got %v", cs.ConfidenceThresholds)
	}
	for _, th := range cs.ConfidenceThresholds {
		if th <= 0 || th > 1 {
			return domain.NewConfigurationError("combined_scoring.confidence_thresholds",
				"thresholds must be in (0, 1], got %v", th)
		}
	}
	return nil
}

// GroupNames returns the configured group names in stable sorted order.
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.FieldGroups))
	for name := range c.FieldGroups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Strategies converts the configured strategy names to domain values.
func (c *Config) Strategies() []domain.Strategy {
	out := make([]domain.Strategy, 0, len(c.CombinedScoring.CombinationStrategies))
	for _, s := range c.CombinedScoring.CombinationStrategies {
		out = append(out, domain.Strategy(strings.ToLower(s)))
	}
	return out
}
