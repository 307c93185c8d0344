// Package scoring maps a diagnosis and a computed tax result into the five
// weighted category scores behind the 0-100 health score.
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

// Category point caps. The five caps sum to 100.
const (
	CapLaborRatio   = 25.0
	CapSegregation  = 25.0
	CapLocalRate    = 15.0
	CapCompensation = 20.0
	CapRisk         = 15.0
)

// Scoring constants.
const (
	// ratioFloor is where the labor-ratio interpolation bottoms out.
	ratioFloor = 0.20

	// compensationTarget is the owner-compensation fraction of revenue
	// that earns full points.
	compensationTarget = 0.28

	// withheldBonus rewards withheld-at-source deductions, capped at the
	// local-rate category max.
	withheldBonus = 2.0

	// Risk penalties.
	alertPenalty    = 2.0
	riskFlagPenalty = 5.0

	maxScore = 100.0
)

// Qualitative tiers over the total score, four contiguous bands.
const (
	TierExcellent = "excelente"
	TierGood      = "boa"
	TierRegular   = "regular"
	TierCritical  = "crítica"
)

// Engine computes health scores.
type Engine struct {
	location ports.LocationProvider
	log      logger.Logger

	fatorRThreshold float64
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

// WithFatorRThreshold overrides the labor-ratio switch point.
func WithFatorRThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t < 1 {
			e.fatorRThreshold = t
		}
	}
}

// New creates a scoring engine. The location provider may be nil; the
// local-rate category then scores as not applicable.
func New(location ports.LocationProvider, opts ...Option) *Engine {
	e := &Engine{
		location:        location,
		log:             logger.Nop(),
		fatorRThreshold: calc.DefaultFatorRThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score computes the five category sub-scores and the clamped total. It
// never fails for business-data reasons; a partial upstream result scores
// its categories as not applicable.
func (e *Engine) Score(ctx context.Context, diag model.Diagnosis, result model.TaxResult, snap model.Snapshot) model.ScoreResult {
	categories := []model.ScoreCategory{
		e.scoreLaborRatio(result),
		scoreSegregation(result, snap),
		e.scoreLocalRate(ctx, snap, result),
		scoreCompensation(snap),
		scoreRisk(diag, snap),
	}

	var total float64
	for _, c := range categories {
		total += c.Points
	}
	total = math.Min(maxScore, math.Max(0, total))

	metrics.RecordScore()
	return model.ScoreResult{
		Total:      total,
		Tier:       tierFor(total),
		Categories: categories,
	}
}

func (e *Engine) scoreLaborRatio(result model.TaxResult) model.ScoreCategory {
	c := model.ScoreCategory{Name: "labor_ratio", Cap: CapLaborRatio}
	m := result.Metrics

	switch {
	case !m.FatorRDependent || !m.LaborRatioDefined:
		c.Points = CapLaborRatio
		c.Reason = "category does not depend on the labor ratio"
	case m.LaborRatio >= e.fatorRThreshold:
		c.Points = CapLaborRatio
		c.Reason = fmt.Sprintf("labor ratio %.4f at or above the %.2f threshold", m.LaborRatio, e.fatorRThreshold)
	case m.LaborRatio <= ratioFloor:
		c.Points = 0
		c.Reason = fmt.Sprintf("labor ratio %.4f far below the threshold", m.LaborRatio)
	default:
		frac := (m.LaborRatio - ratioFloor) / (e.fatorRThreshold - ratioFloor)
		c.Points = CapLaborRatio * frac
		c.Reason = fmt.Sprintf("labor ratio %.4f approaching the %.2f threshold", m.LaborRatio, e.fatorRThreshold)
	}
	return c
}

func scoreSegregation(result model.TaxResult, snap model.Snapshot) model.ScoreCategory {
	c := model.ScoreCategory{Name: "revenue_segregation", Cap: CapSegregation}

	switch {
	case !snap.Special.HasAny():
		c.Points = CapSegregation
		c.Reason = "no special revenue to segregate"
	case result.Terminal():
		// Segregation cannot be evaluated on a terminal result.
		c.Points = CapSegregation / 2
		c.Reason = "segregation status ambiguous without a computed result"
	case result.MonthlySavings > 0:
		c.Points = CapSegregation
		c.Reason = fmt.Sprintf("segregation saves %.2f per month", result.MonthlySavings)
	default:
		c.Points = 0
		c.Reason = "special revenue present but yielding no segregation savings"
	}
	return c
}

func (e *Engine) scoreLocalRate(ctx context.Context, snap model.Snapshot, result model.TaxResult) model.ScoreCategory {
	c := model.ScoreCategory{Name: "local_rate", Cap: CapLocalRate}

	if e.location == nil || snap.Location.State == "" {
		c.Points = CapLocalRate
		c.Reason = "no locality data; local rate not applicable"
		return c
	}
	bounds, err := e.location.LocalRateBounds(ctx, snap.Location.State)
	if err != nil || bounds.Ceiling <= bounds.Floor {
		e.log.Warn(ctx, "local rate bounds unavailable", logger.Error(err))
		c.Points = CapLocalRate
		c.Reason = "rate bounds unavailable; local rate not applicable"
		return c
	}

	rate := e.location.LocalRate(ctx, snap.Location.State, snap.Location.CityCode)
	frac := (bounds.Ceiling - rate.Rate) / (bounds.Ceiling - bounds.Floor)
	frac = math.Min(1, math.Max(0, frac))
	c.Points = CapLocalRate * frac
	c.Reason = fmt.Sprintf("local rate %.2f%% between floor %.2f%% and ceiling %.2f%%",
		rate.Rate*100, bounds.Floor*100, bounds.Ceiling*100)

	// The bonus requires the deduction to be in effect, not just the amount
	// declared; a terminal result deducts nothing.
	if snap.Special.WithheldAtSource > 0 && result.MonthlySavings > 0 {
		c.Points = math.Min(CapLocalRate, c.Points+withheldBonus)
		c.Reason += "; withheld tax being deducted"
	}
	return c
}

func scoreCompensation(snap model.Snapshot) model.ScoreCategory {
	c := model.ScoreCategory{Name: "owner_compensation", Cap: CapCompensation}

	switch {
	case snap.AnnualRevenue <= 0:
		c.Points = CapCompensation
		c.Reason = "no revenue; owner compensation not applicable"
	case snap.ProLabore12 <= 0 && len(snap.Partners) > 0:
		c.Points = CapCompensation / 2
		c.Reason = "owner compensation unset while partners exist"
	case snap.ProLabore12 <= 0:
		c.Points = CapCompensation
		c.Reason = "no owner compensation configured"
	default:
		frac := snap.ProLabore12 / (snap.AnnualRevenue * compensationTarget)
		frac = math.Min(1, frac)
		c.Points = CapCompensation * frac
		c.Reason = fmt.Sprintf("12-month compensation at %.1f%% of the %.0f%% revenue target",
			frac*100, compensationTarget*100)
	}
	return c
}

func scoreRisk(diag model.Diagnosis, snap model.Snapshot) model.ScoreCategory {
	c := model.ScoreCategory{Name: "risk", Cap: CapRisk}

	if snap.Flags.PendingDebts {
		c.Points = 0
		c.Reason = "pending tax debts zero the risk score"
		return c
	}

	points := CapRisk
	points -= float64(len(diag.Alerts)) * alertPenalty
	for _, flagged := range []bool{
		snap.Flags.CorporatePartner,
		snap.Flags.LaborOutsourcing,
		snap.Flags.ForeignPartner,
	} {
		if flagged {
			points -= riskFlagPenalty
		}
	}
	c.Points = math.Max(0, points)
	c.Reason = fmt.Sprintf("%d alert(s) and eligibility flags deducted from the maximum", len(diag.Alerts))
	return c
}

func tierFor(total float64) string {
	switch {
	case total >= 85:
		return TierExcellent
	case total >= 70:
		return TierGood
	case total >= 50:
		return TierRegular
	default:
		return TierCritical
	}
}
