// Package plan turns a ranked diagnosis into a concrete remediation plan:
// quantified action items ordered by net annual gain and grouped into
// implementation windows.
package plan

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/domain/regime"
	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

const (
	// addedCompensationCostRate is the employer-side overhead on each unit
	// of additional compensation (payroll contribution plus charges).
	addedCompensationCostRate = 0.275

	// defaultMinimumWage12 is twelve months of the reference minimum wage,
	// the per-partner compensation floor used by the rebalance target.
	defaultMinimumWage12 = 16_944.0

	monthsPerYear = 12
)

// Comparator estimates the three-regime comparison reused by the plan's
// regime teaser item.
type Comparator interface {
	Compare(ctx context.Context, snap model.Snapshot, a regime.Assumptions) (model.RegimeComparison, error)
}

// Engine builds action plans from diagnoses.
type Engine struct {
	log logger.Logger

	rules      ports.RuleProvider
	comparator Comparator

	fatorRThreshold float64
	minimumWage12   float64
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

// WithFatorRThreshold overrides the labor-ratio switch point used when
// quantifying payroll targets.
func WithFatorRThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t < 1 {
			e.fatorRThreshold = t
		}
	}
}

// WithRules wires the provider used to quantify sublimit and rebalance
// items. Without it those items carry the diagnostic figures as-is.
func WithRules(r ports.RuleProvider) Option {
	return func(e *Engine) {
		e.rules = r
	}
}

// WithComparator wires the regime comparison behind the plan's teaser item.
func WithComparator(c Comparator) Option {
	return func(e *Engine) {
		e.comparator = c
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

// New creates a plan engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:             logger.Nop(),
		fatorRThreshold: calc.DefaultFatorRThreshold,
		minimumWage12:   defaultMinimumWage12,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build converts the diagnosis into an ordered, bucketed plan. Urgent alerts
// come first regardless of savings; everything else is sorted by net annual
// gain, descending. Informational findings from the diagnosis never become
// action items; the regime teaser is synthesized on top of them.
func (e *Engine) Build(ctx context.Context, diag model.Diagnosis, result model.TaxResult, snap model.Snapshot) model.ActionPlan {
	var urgent, rest []model.ActionItem

	for _, f := range diag.Alerts {
		item := e.quantify(ctx, f, result, snap)
		if f.Urgent {
			urgent = append(urgent, item)
			continue
		}
		rest = append(rest, item)
	}
	for _, f := range diag.Opportunities {
		rest = append(rest, e.quantify(ctx, f, result, snap))
	}
	if teaser, ok := e.regimeTeaser(ctx, snap); ok {
		rest = append(rest, teaser)
	}

	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].NetGain > rest[j].NetGain
	})

	p := model.ActionPlan{Items: append(urgent, rest...)}
	for i := range p.Items {
		it := p.Items[i]
		if it.NetGain > 0 {
			p.TotalNetAnnual += it.NetGain
		}
		switch it.Window {
		case model.WindowImmediate:
			p.Immediate = append(p.Immediate, it)
		case model.WindowShortTerm:
			p.ShortTerm = append(p.ShortTerm, it)
		case model.WindowFiscalYear:
			p.FiscalYear = append(p.FiscalYear, it)
		default:
			p.Ongoing = append(p.Ongoing, it)
		}
	}
	p.TotalNetMonthly = p.TotalNetAnnual / monthsPerYear

	metrics.RecordPlan()
	e.log.Debug(ctx, "action plan built",
		logger.Int("items", len(p.Items)),
		logger.Float64("total_net_annual", p.TotalNetAnnual))
	return p
}

// quantify fills the current/target/cost fields where the finding kind allows
// reconstructing them from the snapshot. Findings without a natural pair of
// values become items with the savings carried as-is.
func (e *Engine) quantify(ctx context.Context, f model.Finding, result model.TaxResult, snap model.Snapshot) model.ActionItem {
	item := model.ActionItem{
		Finding:   f,
		GrossGain: f.AnnualSavings,
		NetGain:   f.AnnualSavings,
	}
	if f.Urgent {
		// Compliance items block everything else and carry no savings.
		item.Window = model.WindowImmediate
	}

	switch f.ID {
	case "fator_r_migration":
		item.CurrentValue = snap.Payroll12
		item.TargetValue = e.fatorRThreshold * snap.AnnualRevenue
		item.Cost = (item.TargetValue - item.CurrentValue) * addedCompensationCostRate
		if item.Cost < 0 {
			item.Cost = 0
		}
		// The detector reports the net figure; recover the gross.
		item.GrossGain = f.AnnualSavings + item.Cost

	case "pro_labore_rebalance":
		e.quantifyRebalance(ctx, &item, result, snap)

	case "over_sublimit":
		e.quantifySublimit(ctx, &item, result, snap)

	case "local_rate_verification":
		item.CurrentValue = snap.AnnualRevenue
	}
	return item
}

// quantifyRebalance computes the exempt-profit ceiling from the presumed
// margin and targets the compensation left after shifting the excess into
// distribution, floored at the legal minimum per partner.
func (e *Engine) quantifyRebalance(ctx context.Context, item *model.ActionItem, result model.TaxResult, snap model.Snapshot) {
	item.CurrentValue = snap.ProLabore12
	if e.rules == nil || snap.ProLabore12 <= 0 {
		return
	}
	params, err := e.rules.RegimeParams(ctx)
	if err != nil {
		e.log.Warn(ctx, "regime params unavailable for rebalance target", logger.Error(err))
		return
	}
	margin := params.PresumedMarginIRPJ[result.Category.Class()]
	if margin <= 0 {
		return
	}

	partners := len(snap.Partners)
	if partners == 0 {
		partners = 1
	}
	floor := e.minimumWage12 * float64(partners)
	exemptCeiling := snap.AnnualRevenue * margin
	shiftable := math.Min(snap.ProLabore12-floor, exemptCeiling)
	if shiftable <= 0 {
		return
	}
	item.TargetValue = snap.ProLabore12 - shiftable
}

// quantifySublimit estimates the annual consumption tax leaving the unified
// payment on the revenue above the sublimit, using the result's own shares.
func (e *Engine) quantifySublimit(ctx context.Context, item *model.ActionItem, result model.TaxResult, snap model.Snapshot) {
	item.CurrentValue = snap.AnnualRevenue
	if e.rules == nil {
		return
	}
	limits, err := e.rules.Limits(ctx)
	if err != nil || limits.Sublimit <= 0 {
		return
	}
	item.TargetValue = limits.Sublimit

	over := snap.AnnualRevenue - limits.Sublimit
	if over <= 0 || result.EffectiveRate <= 0 {
		return
	}
	share := result.Shares[model.ShareICMS] + result.Shares[model.ShareISS]
	item.Cost = over * result.EffectiveRate * share
	item.NetGain = -item.Cost
	item.Estimate = true
}

// regimeTeaser turns the three-regime comparison into one plan item so the
// plan always closes with the regime question.
func (e *Engine) regimeTeaser(ctx context.Context, snap model.Snapshot) (model.ActionItem, bool) {
	if e.comparator == nil || snap.AnnualRevenue <= 0 {
		return model.ActionItem{}, false
	}
	cmp, err := e.comparator.Compare(ctx, snap, regime.Assumptions{})
	if err != nil {
		e.log.Warn(ctx, "regime comparison unavailable for plan", logger.Error(err))
		return model.ActionItem{}, false
	}

	item := model.ActionItem{Finding: model.Finding{
		ID:         "regime_comparison",
		Title:      "Review the taxation regime before the next fiscal year",
		Severity:   model.SeverityInfo,
		Difficulty: model.DifficultyHard,
		Window:     model.WindowFiscalYear,
		Estimate:   true,
	}}
	if cmp.Best != model.RegimeSimples && cmp.SavingsVsCurrent > 0 {
		item.Severity = model.SeverityOpportunity
		item.AnnualSavings = cmp.SavingsVsCurrent
		item.MonthlySavings = cmp.SavingsVsCurrent / monthsPerYear
		item.GrossGain = cmp.SavingsVsCurrent
		item.NetGain = cmp.SavingsVsCurrent
		item.Description = fmt.Sprintf(
			"A first-order comparison puts %s ahead of the current regime by %.2f per year (%.1f%%). Validate with full accounting figures before migrating.",
			cmp.Best, cmp.SavingsVsCurrent, cmp.RelativeGap*100)
	} else {
		item.Description = fmt.Sprintf(
			"A first-order comparison keeps the current regime as the cheapest of the three; the best alternative is %s. Revisit when revenue or payroll shifts.",
			cheapestAlternative(cmp))
	}
	return item, true
}

func cheapestAlternative(cmp model.RegimeComparison) model.RegimeID {
	if len(cmp.Alternatives) == 0 {
		return cmp.Best
	}
	best := cmp.Alternatives[0]
	for _, alt := range cmp.Alternatives[1:] {
		if alt.AnnualBurden < best.AnnualBurden {
			best = alt
		}
	}
	return best.Regime
}
