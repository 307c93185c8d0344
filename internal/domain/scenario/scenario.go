// Package scenario runs what-if simulations: clone the profile snapshot,
// apply one structural change, recompute, and report the exact before/after
// difference. The live profile is never touched.
package scenario

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

// defaultMinimumWage12 is twelve months of the reference minimum wage, the
// compensation floor each additional partner brings in.
const defaultMinimumWage12 = 16_944.0

const monthsPerYear = 12

// Params carries the inputs of a single simulation. Which fields are read
// depends on the scenario type.
type Params struct {
	// Amount is the scenario's monetary input: the target 12-month
	// compensation (raise_pro_labore), the per-partner 12-month
	// compensation (add_partners), the new monthly revenue
	// (reduce_revenue) or the monthly export slice (declare_exports).
	Amount float64 `json:"amount"`

	// ActivityCode is the replacement primary code (change_activity).
	ActivityCode string `json:"activity_code"`

	// Codes lists the secondary activity codes to spin off
	// (split_activities).
	Codes []string `json:"codes"`

	// Partners is the number of partners to add (add_partners).
	Partners int `json:"partners"`
}

// Request pairs a scenario type with its parameters for batch runs.
type Request struct {
	Type   model.ScenarioType `json:"type"`
	Params Params             `json:"params"`
}

// Engine runs simulations on top of the tax calculator.
type Engine struct {
	calc *calc.Engine
	log  logger.Logger

	minimumWage12 float64
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMinimumWage12 overrides the per-partner compensation floor.
func WithMinimumWage12(w float64) Option {
	return func(e *Engine) {
		if w > 0 {
			e.minimumWage12 = w
		}
	}
}

// New creates a scenario engine over the given calculator.
func New(c *calc.Engine, opts ...Option) *Engine {
	e := &Engine{
		calc:          c,
		log:           logger.Nop(),
		minimumWage12: defaultMinimumWage12,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Simulate applies one perturbation to a copy of the snapshot and recomputes.
// Terminal outcomes (prohibited, over the ceiling) on either side are valid
// states, not errors.
func (e *Engine) Simulate(ctx context.Context, snap model.Snapshot, typ model.ScenarioType, p Params) (model.ScenarioResult, error) {
	before, err := e.calc.Compute(ctx, snap)
	if err != nil {
		return model.ScenarioResult{}, fmt.Errorf("compute baseline: %w", err)
	}

	altered, extraTax, err := e.apply(snap, typ, p)
	if err != nil {
		return model.ScenarioResult{}, err
	}

	after, err := e.calc.Compute(ctx, altered)
	if err != nil {
		return model.ScenarioResult{}, fmt.Errorf("compute scenario: %w", err)
	}

	res := model.ScenarioResult{
		Type:      typ,
		Parameter: p,
		Before:    model.ScenarioState{Snapshot: snap, Metrics: before.Metrics, Result: before},
		After:     model.ScenarioState{Snapshot: altered, Metrics: after.Metrics, Result: after},
		Delta:     delta(before, after, extraTax),
	}

	metrics.RecordScenario(string(typ))
	e.log.Debug(ctx, "scenario simulated",
		logger.String("type", string(typ)),
		logger.Float64("monthly_tax_delta", res.Delta.MonthlyTax))
	return res, nil
}

// SimulateAll fans the requests out concurrently and preserves input order.
// The first error cancels the remaining runs.
func (e *Engine) SimulateAll(ctx context.Context, snap model.Snapshot, reqs []Request) ([]model.ScenarioResult, error) {
	results := make([]model.ScenarioResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Simulate(gctx, snap, req.Type, req.Params)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", req.Type, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// apply returns the perturbed snapshot plus any monthly tax arising outside
// of it (the spun-off entities of a split).
func (e *Engine) apply(snap model.Snapshot, typ model.ScenarioType, p Params) (model.Snapshot, float64, error) {
	s := clone(snap)

	switch typ {
	case model.ScenarioRaiseProLabore:
		if p.Amount <= 0 {
			return s, 0, fmt.Errorf("%w: target compensation %.2f must be positive", ErrInvalidParameter, p.Amount)
		}
		// Compensation is set to the target, not raised by it, so a later
		// simulation can bring it back down. Payroll moves by the same
		// difference since compensation is part of it.
		diff := p.Amount - s.ProLabore12
		s.ProLabore12 = p.Amount
		s.Payroll12 += diff
		if s.Payroll12 < 0 {
			s.Payroll12 = 0
		}
		return s, 0, nil

	case model.ScenarioChangeActivity:
		if p.ActivityCode == "" {
			return s, 0, fmt.Errorf("%w: activity code required", ErrInvalidParameter)
		}
		s.ActivityCode = p.ActivityCode
		return s, 0, nil

	case model.ScenarioSplitActivities:
		return e.applySplit(s, p)

	case model.ScenarioReduceRevenue:
		if p.Amount <= 0 || p.Amount >= snap.MonthlyRevenue {
			return s, 0, fmt.Errorf("%w: new monthly revenue %.2f must be positive and below the current %.2f",
				ErrInvalidParameter, p.Amount, snap.MonthlyRevenue)
		}
		s.MonthlyRevenue = p.Amount
		s.AnnualRevenue = p.Amount * monthsPerYear
		return s, 0, nil

	case model.ScenarioAddPartners:
		if p.Partners < 1 {
			return s, 0, fmt.Errorf("%w: partner count %d must be at least 1", ErrInvalidParameter, p.Partners)
		}
		// Each partner draws the given compensation, or the minimum-wage
		// floor when none is supplied; both count toward the labor ratio.
		perPartner := e.minimumWage12
		if p.Amount > 0 {
			perPartner = p.Amount
		}
		added := float64(p.Partners) * perPartner
		s.ProLabore12 += added
		s.Payroll12 += added
		s.Partners = rebalance(s.Partners, p.Partners)
		return s, 0, nil

	case model.ScenarioDeclareExports:
		if p.Amount <= 0 || p.Amount > snap.MonthlyRevenue {
			return s, 0, fmt.Errorf("%w: export amount %.2f must be positive and within monthly revenue %.2f",
				ErrInvalidParameter, p.Amount, snap.MonthlyRevenue)
		}
		s.Special.Export += p.Amount
		return s, 0, nil

	default:
		return s, 0, fmt.Errorf("%w: %q", ErrUnknownScenario, typ)
	}
}

// applySplit removes the named secondary activities from the snapshot. Their
// revenue leaves with them; the spun-off entities are not recomputed here, so
// extraTax stays zero and the delta summary states the caveat.
func (e *Engine) applySplit(s model.Snapshot, p Params) (model.Snapshot, float64, error) {
	if len(p.Codes) == 0 {
		return s, 0, fmt.Errorf("%w: at least one secondary activity code required", ErrInvalidParameter)
	}
	wanted := make(map[string]bool, len(p.Codes))
	for _, c := range p.Codes {
		wanted[c] = true
	}

	var kept []model.SecondaryActivity
	var moved float64
	for _, sec := range s.SecondaryActivities {
		if !wanted[sec.Code] {
			kept = append(kept, sec)
			continue
		}
		moved += sec.MonthlyRevenue
		delete(wanted, sec.Code)
	}
	if len(wanted) > 0 || moved <= 0 {
		return s, 0, fmt.Errorf("%w: codes not found among secondary activities", ErrInvalidParameter)
	}

	s.SecondaryActivities = kept
	s.MonthlyRevenue -= moved
	s.AnnualRevenue -= moved * monthsPerYear
	return s, 0, nil
}

// rebalance appends n unnamed partners and redistributes ownership equally.
func rebalance(existing []model.Partner, n int) []model.Partner {
	out := make([]model.Partner, 0, len(existing)+n)
	out = append(out, existing...)
	for i := 0; i < n; i++ {
		out = append(out, model.Partner{Name: fmt.Sprintf("novo sócio %d", i+1)})
	}
	share := 1.0 / float64(len(out))
	for i := range out {
		out[i].Share = share
	}
	return out
}

func delta(before, after model.TaxResult, extraTax float64) model.ScenarioDelta {
	d := model.ScenarioDelta{
		MonthlyTax:      after.OptimizedMonthlyTax + extraTax - before.OptimizedMonthlyTax,
		EffectiveRate:   after.EffectiveRate - before.EffectiveRate,
		CategoryChanged: after.Category != before.Category,
		TierChanged:     after.TierIndex != before.TierIndex,
	}
	d.AnnualTax = d.MonthlyTax * monthsPerYear
	d.CrossedBoundary = d.CategoryChanged || d.TierChanged ||
		after.Terminal() != before.Terminal()

	switch {
	case after.Prohibited:
		d.Summary = "the altered profile falls into a prohibited activity"
	case after.ExceededMax:
		d.Summary = "the altered profile exceeds the regime revenue ceiling"
	case d.MonthlyTax < 0:
		d.Summary = fmt.Sprintf("monthly tax drops by %.2f (%.2f per year)", -d.MonthlyTax, -d.AnnualTax)
	case d.MonthlyTax > 0:
		d.Summary = fmt.Sprintf("monthly tax rises by %.2f (%.2f per year)", d.MonthlyTax, d.AnnualTax)
	default:
		d.Summary = "no change in monthly tax"
	}
	return d
}

// clone deep-copies the snapshot so a simulation can never leak into the
// caller's profile.
func clone(snap model.Snapshot) model.Snapshot {
	s := snap
	if len(snap.SecondaryActivities) > 0 {
		s.SecondaryActivities = append([]model.SecondaryActivity(nil), snap.SecondaryActivities...)
	}
	if len(snap.Partners) > 0 {
		s.Partners = append([]model.Partner(nil), snap.Partners...)
	}
	if len(snap.Special.SinglePhaseCodes) > 0 {
		s.Special.SinglePhaseCodes = append([]string(nil), snap.Special.SinglePhaseCodes...)
	}
	return s
}
