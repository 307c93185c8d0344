// Package rules implements the RuleProvider port on top of a YAML rule pack.
//
// The pack carries every table the engines are forbidden to hardcode:
// bracket tables, decomposition shares, activity-code assignments,
// prohibitions and regime constants. A default pack is embedded; an external
// pack can be supplied via configuration. The pack is validated in full at
// load time so that lookups never surface a partially populated structure.
package rules

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tributolabs/tributo/internal/domain/model"
)

//go:embed default_pack.yaml
var defaultPack []byte

// shareTolerance bounds the acceptable deviation of a tier's share sum
// from 1.0. Violations are data errors, never silently normalized.
const shareTolerance = 1e-6

const tiersPerCategory = 6

// Pack is the decoded rule pack.
type Pack struct {
	Version string `yaml:"version"`

	Limits struct {
		Sublimit          float64 `yaml:"sublimit"`
		MaxAnnualRevenue  float64 `yaml:"max_annual_revenue"`
		MEIRevenueCeiling float64 `yaml:"mei_revenue_ceiling"`
		MEIAnnualFee      float64 `yaml:"mei_annual_fee"`
	} `yaml:"limits"`

	Categories map[model.Category]CategoryTable `yaml:"categories"`

	Assignments []AssignmentRule `yaml:"assignments"`

	Prohibitions []ProhibitionRule `yaml:"prohibitions"`

	SinglePhaseProducts []SinglePhaseRule `yaml:"single_phase_products"`

	Regimes RegimeTable `yaml:"regimes"`
}

// CategoryTable holds one category's six tiers and per-tier shares.
type CategoryTable struct {
	Tiers  []model.Tier               `yaml:"tiers"`
	Shares map[int]map[string]float64 `yaml:"shares"`
}

// AssignmentRule maps an activity-code prefix to a category outcome.
type AssignmentRule struct {
	Prefix   string         `yaml:"prefix"`
	Kind     string         `yaml:"kind"` // fixed | fator_r
	Category model.Category `yaml:"category,omitempty"`
	Above    model.Category `yaml:"above,omitempty"`
	Below    model.Category `yaml:"below,omitempty"`
}

// ProhibitionRule bars activity codes from the regime, either by prefix or
// by a jsonlogic guard evaluated over {"code": <activity code>}.
type ProhibitionRule struct {
	Prefix string         `yaml:"prefix,omitempty"`
	When   map[string]any `yaml:"when,omitempty"`
	Reason string         `yaml:"reason"`
}

// SinglePhaseRule marks a product-code prefix as single-phase taxed.
type SinglePhaseRule struct {
	Prefix   string         `yaml:"prefix"`
	Category model.Category `yaml:"category"`
}

// RegimeTable carries the alternative-regime constants.
type RegimeTable struct {
	PresumedMarginIRPJ map[model.ActivityClass]float64 `yaml:"presumed_margin_irpj"`
	PresumedMarginCSLL map[model.ActivityClass]float64 `yaml:"presumed_margin_csll"`

	IRPJRate           float64 `yaml:"irpj_rate"`
	IRPJSurchargeRate  float64 `yaml:"irpj_surcharge_rate"`
	IRPJSurchargeFloor float64 `yaml:"irpj_surcharge_floor"`
	CSLLRate           float64 `yaml:"csll_rate"`

	PISCumulative       float64 `yaml:"pis_cumulative"`
	CofinsCumulative    float64 `yaml:"cofins_cumulative"`
	PISNonCumulative    float64 `yaml:"pis_non_cumulative"`
	CofinsNonCumulative float64 `yaml:"cofins_non_cumulative"`

	PayrollEmployerRate float64 `yaml:"payroll_employer_rate"`
	DefaultICMSRate     float64 `yaml:"default_icms_rate"`

	DefaultRealMargin       float64 `yaml:"default_real_margin"`
	DefaultInputCreditShare float64 `yaml:"default_input_credit_share"`
}

// LoadPack decodes and validates a rule pack from raw YAML.
func LoadPack(data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackInvalid, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPackFile reads and validates a rule pack from disk.
func LoadPackFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackInvalid, err)
	}
	return LoadPack(data)
}

// DefaultPack returns the embedded rule pack.
func DefaultPack() (*Pack, error) {
	return LoadPack(defaultPack)
}

func (p *Pack) validate() error {
	if len(p.Categories) == 0 {
		return fmt.Errorf("%w: no categories", ErrPackInvalid)
	}
	for cat, table := range p.Categories {
		if !cat.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrPackInvalid, cat)
		}
		if err := table.validate(cat); err != nil {
			return err
		}
	}
	for _, a := range p.Assignments {
		if err := a.validate(p.Categories); err != nil {
			return err
		}
	}
	for _, pr := range p.Prohibitions {
		if pr.Reason == "" {
			return fmt.Errorf("%w: prohibition without reason", ErrPackInvalid)
		}
		if pr.Prefix == "" && len(pr.When) == 0 {
			return fmt.Errorf("%w: prohibition needs a prefix or a guard", ErrPackInvalid)
		}
	}
	if p.Limits.Sublimit <= 0 || p.Limits.MaxAnnualRevenue <= p.Limits.Sublimit {
		return fmt.Errorf("%w: inconsistent revenue limits", ErrPackInvalid)
	}
	return nil
}

func (t CategoryTable) validate(cat model.Category) error {
	if len(t.Tiers) != tiersPerCategory {
		return fmt.Errorf("%w: category %s has %d tiers, want %d",
			ErrPackInvalid, cat, len(t.Tiers), tiersPerCategory)
	}
	sorted := sort.SliceIsSorted(t.Tiers, func(i, j int) bool {
		return t.Tiers[i].RevenueCeiling < t.Tiers[j].RevenueCeiling
	})
	if !sorted {
		return fmt.Errorf("%w: category %s tiers not ascending", ErrPackInvalid, cat)
	}
	for i, tier := range t.Tiers {
		if tier.Index != i+1 {
			return fmt.Errorf("%w: category %s tier %d has index %d",
				ErrPackInvalid, cat, i+1, tier.Index)
		}
		if tier.NominalRate < 0 || tier.NominalRate > 1 {
			return fmt.Errorf("%w: category %s tier %d nominal rate out of range",
				ErrPackInvalid, cat, tier.Index)
		}
		shares, ok := t.Shares[tier.Index]
		if !ok || len(shares) == 0 {
			return fmt.Errorf("%w: category %s tier %d missing shares",
				ErrPackInvalid, cat, tier.Index)
		}
		var sum float64
		for name, frac := range shares {
			if frac < 0 {
				return fmt.Errorf("%w: category %s tier %d share %s negative",
					ErrPackInvalid, cat, tier.Index, name)
			}
			sum += frac
		}
		if math.Abs(sum-1.0) > shareTolerance {
			return fmt.Errorf("%w: category %s tier %d shares sum to %.8f",
				ErrPackInvalid, cat, tier.Index, sum)
		}
	}
	return nil
}

func (a AssignmentRule) validate(categories map[model.Category]CategoryTable) error {
	if a.Prefix == "" {
		return fmt.Errorf("%w: assignment without prefix", ErrPackInvalid)
	}
	switch a.Kind {
	case "fixed":
		if _, ok := categories[a.Category]; !ok {
			return fmt.Errorf("%w: assignment %s targets unknown category %q",
				ErrPackInvalid, a.Prefix, a.Category)
		}
	case "fator_r":
		if _, ok := categories[a.Above]; !ok {
			return fmt.Errorf("%w: assignment %s above-category %q unknown",
				ErrPackInvalid, a.Prefix, a.Above)
		}
		if _, ok := categories[a.Below]; !ok {
			return fmt.Errorf("%w: assignment %s below-category %q unknown",
				ErrPackInvalid, a.Prefix, a.Below)
		}
	default:
		return fmt.Errorf("%w: assignment %s has kind %q", ErrPackInvalid, a.Prefix, a.Kind)
	}
	return nil
}
