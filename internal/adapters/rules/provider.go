package rules

import (
	"context"
	"fmt"
	"strings"

	jsonlogic "github.com/diegoholiveira/jsonlogic/v3"

	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
)

// Provider implements ports.RuleProvider over a validated Pack.
// It is read-only after construction and safe for concurrent use.
type Provider struct {
	pack *Pack
	log  logger.Logger
}

// Option applies a configuration option to the Provider.
type Option func(*Provider)

// WithLogger sets a custom logger for the provider.
func WithLogger(log logger.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProvider builds a Provider from an already validated pack.
func NewProvider(pack *Pack, opts ...Option) *Provider {
	p := &Provider{
		pack: pack,
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefaultProvider builds a Provider from the embedded pack.
func NewDefaultProvider(opts ...Option) (*Provider, error) {
	pack, err := DefaultPack()
	if err != nil {
		return nil, err
	}
	return NewProvider(pack, opts...), nil
}

// ResolveCategory maps an activity code to its assignment rule. Prohibitions
// take precedence over assignments; the longest matching prefix wins.
func (p *Provider) ResolveCategory(ctx context.Context, activityCode string) (ports.CategoryAssignment, error) {
	code := normalizeCode(activityCode)
	if code == "" {
		return ports.CategoryAssignment{}, fmt.Errorf("%w: empty activity code", ErrUnknownActivity)
	}

	if reason, err := p.IsProhibited(ctx, activityCode); err != nil {
		return ports.CategoryAssignment{}, err
	} else if reason != "" {
		return ports.CategoryAssignment{Kind: ports.AssignmentProhibited, Reason: reason}, nil
	}

	var best *AssignmentRule
	for i := range p.pack.Assignments {
		rule := &p.pack.Assignments[i]
		if !strings.HasPrefix(code, normalizeCode(rule.Prefix)) {
			continue
		}
		if best == nil || len(rule.Prefix) > len(best.Prefix) {
			best = rule
		}
	}
	if best == nil {
		return ports.CategoryAssignment{}, fmt.Errorf("%w: %s", ErrUnknownActivity, activityCode)
	}

	switch best.Kind {
	case "fixed":
		return ports.CategoryAssignment{Kind: ports.AssignmentFixed, Category: best.Category}, nil
	case "fator_r":
		return ports.CategoryAssignment{
			Kind:  ports.AssignmentFatorR,
			Above: best.Above,
			Below: best.Below,
		}, nil
	default:
		// Unreachable after pack validation.
		return ports.CategoryAssignment{}, fmt.Errorf("%w: assignment kind %q", ErrPackInvalid, best.Kind)
	}
}

// BracketTable returns a copy of the six tiers of a category.
func (p *Provider) BracketTable(_ context.Context, category model.Category) ([]model.Tier, error) {
	table, ok := p.pack.Categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	tiers := make([]model.Tier, len(table.Tiers))
	copy(tiers, table.Tiers)
	return tiers, nil
}

// DecompositionShares returns a copy of the sub-tax fractions for one tier.
func (p *Provider) DecompositionShares(_ context.Context, category model.Category, tierIndex int) (map[string]float64, error) {
	table, ok := p.pack.Categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	shares, ok := table.Shares[tierIndex]
	if !ok {
		return nil, fmt.Errorf("%w: %s tier %d", ErrUnknownTier, category, tierIndex)
	}
	out := make(map[string]float64, len(shares))
	for name, frac := range shares {
		out[name] = frac
	}
	return out, nil
}

// IsProhibited returns a non-empty reason when the activity code is barred.
// Guard expressions that fail to evaluate are logged and skipped; a broken
// guard must not bar an activity the static rules allow.
func (p *Provider) IsProhibited(ctx context.Context, activityCode string) (string, error) {
	code := normalizeCode(activityCode)
	for _, rule := range p.pack.Prohibitions {
		if rule.Prefix != "" && strings.HasPrefix(code, normalizeCode(rule.Prefix)) {
			return rule.Reason, nil
		}
		if len(rule.When) == 0 {
			continue
		}
		out, err := jsonlogic.ApplyInterface(anyMap(rule.When), map[string]any{"code": activityCode})
		if err != nil {
			p.log.Warn(ctx, "prohibition guard failed",
				logger.String("reason", rule.Reason), logger.Error(err))
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return rule.Reason, nil
		}
	}
	return "", nil
}

// SingleTaxExemptCategory returns the category under which a product code is
// single-phase taxed, or CategoryNone when it is not.
func (p *Provider) SingleTaxExemptCategory(_ context.Context, productCode string) (model.Category, error) {
	code := normalizeCode(productCode)
	for _, rule := range p.pack.SinglePhaseProducts {
		if strings.HasPrefix(code, normalizeCode(rule.Prefix)) {
			return rule.Category, nil
		}
	}
	return model.CategoryNone, nil
}

// Limits returns the regime-wide revenue thresholds.
func (p *Provider) Limits(context.Context) (ports.Limits, error) {
	return ports.Limits{
		Sublimit:          p.pack.Limits.Sublimit,
		MaxAnnualRevenue:  p.pack.Limits.MaxAnnualRevenue,
		MEIRevenueCeiling: p.pack.Limits.MEIRevenueCeiling,
		MEIAnnualFee:      p.pack.Limits.MEIAnnualFee,
	}, nil
}

// RegimeParams returns the alternative-regime constants.
func (p *Provider) RegimeParams(context.Context) (ports.RegimeParams, error) {
	r := p.pack.Regimes
	return ports.RegimeParams{
		PresumedMarginIRPJ:      copyClassMap(r.PresumedMarginIRPJ),
		PresumedMarginCSLL:      copyClassMap(r.PresumedMarginCSLL),
		IRPJRate:                r.IRPJRate,
		IRPJSurchargeRate:       r.IRPJSurchargeRate,
		IRPJSurchargeFloor:      r.IRPJSurchargeFloor,
		CSLLRate:                r.CSLLRate,
		PISCumulative:           r.PISCumulative,
		CofinsCumulative:        r.CofinsCumulative,
		PISNonCumulative:        r.PISNonCumulative,
		CofinsNonCumulative:     r.CofinsNonCumulative,
		PayrollEmployerRate:     r.PayrollEmployerRate,
		DefaultICMSRate:         r.DefaultICMSRate,
		DefaultRealMargin:       r.DefaultRealMargin,
		DefaultInputCreditShare: r.DefaultInputCreditShare,
	}, nil
}

// normalizeCode strips formatting so "6201-5/01" and "620150 1" compare equal.
func normalizeCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// anyMap rebuilds the YAML-decoded guard as a plain map for jsonlogic.
func anyMap(in map[string]any) any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyClassMap(in map[model.ActivityClass]float64) map[model.ActivityClass]float64 {
	out := make(map[model.ActivityClass]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
