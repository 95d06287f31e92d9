package finance

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Limit keys inside cost_limits_percent and their defaults.
const (
	LimitContingencyOfRevenue = "contingency_of_revenue"
	LimitEquipment            = "equipment"

	DefaultContingencyLimit = 5.0
	DefaultEquipmentLimit   = 40.0
)

// ErrNoRules is returned when the rule file is missing. Financial checks
// cannot run without it, so callers treat it as fatal.
var ErrNoRules = errors.New("financial rules not found")

// RuleSet is the declarative budget policy. It is immutable once loaded.
type RuleSet struct {
	DisallowedItems   []string           `yaml:"disallowed_items" json:"disallowed_items"`
	NormalizationMap  map[string]string  `yaml:"normalization_map" json:"normalization_map"`
	CostLimitsPercent map[string]float64 `yaml:"cost_limits_percent" json:"cost_limits_percent"`

	disallowed map[string]struct{}
}

// LoadRules reads and validates the YAML rule file.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RuleSet{}, fmt.Errorf("%w: %s", ErrNoRules, path)
		}
		return RuleSet{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML (or JSON) rule document.
func ParseRules(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}
	for key, limit := range rs.CostLimitsPercent {
		if limit < 0 {
			return RuleSet{}, fmt.Errorf("cost limit %q cannot be negative", key)
		}
	}
	return rs.compile(), nil
}

// NewRuleSet builds a compiled rule set from in-memory values.
func NewRuleSet(disallowed []string, normalization map[string]string, limits map[string]float64) RuleSet {
	rs := RuleSet{
		DisallowedItems:   disallowed,
		NormalizationMap:  normalization,
		CostLimitsPercent: limits,
	}
	return rs.compile()
}

func (rs RuleSet) compile() RuleSet {
	rs.disallowed = make(map[string]struct{}, len(rs.DisallowedItems))
	for _, item := range rs.DisallowedItems {
		rs.disallowed[strings.TrimSpace(item)] = struct{}{}
	}
	return rs
}

// Normalize maps a raw budget label to its normalized name. Unknown labels
// are returned unchanged.
func (rs RuleSet) Normalize(label string) string {
	if n, ok := rs.NormalizationMap[label]; ok {
		return n
	}
	return label
}

// IsDisallowed reports whether a normalized label is on the disallowed list.
func (rs RuleSet) IsDisallowed(normalized string) bool {
	if rs.disallowed == nil {
		rs = rs.compile()
	}
	_, ok := rs.disallowed[normalized]
	return ok
}

// Limit returns the percent limit for key or fallback when it is not set.
func (rs RuleSet) Limit(key string, fallback float64) float64 {
	if v, ok := rs.CostLimitsPercent[key]; ok {
		return v
	}
	return fallback
}
