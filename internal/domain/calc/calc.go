// Package calc implements the core tax computation chain: category
// assignment, tier lookup, effective rate, monthly tax, sub-tax
// decomposition and the optimized variant for segregated special revenue.
//
// Compute is a pure function of the profile snapshot and the rule provider;
// calling it twice on the same snapshot yields identical results.
package calc

import (
	"context"
	"fmt"
	"math"

	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
)

// Default classification constants. The volatile-zone bounds are published
// asymmetric around the threshold; both are overridable per engine.
const (
	DefaultFatorRThreshold  = 0.28
	DefaultVolatileZoneLow  = 0.25
	DefaultVolatileZoneHigh = 0.31
)

// shareTolerance bounds the acceptable deviation of a tier's share sum from
// 1.0. A violation is provider data corruption, not something to normalize.
const shareTolerance = 1e-6

// Engine computes tax results from profile snapshots.
type Engine struct {
	rules ports.RuleProvider
	log   logger.Logger

	fatorRThreshold  float64
	volatileZoneLow  float64
	volatileZoneHigh float64
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

// WithVolatileZone overrides the volatile-zone bounds.
func WithVolatileZone(low, high float64) Option {
	return func(e *Engine) {
		if low > 0 && high > low {
			e.volatileZoneLow = low
			e.volatileZoneHigh = high
		}
	}
}

// New creates an Engine bound to a rule provider.
func New(rules ports.RuleProvider, opts ...Option) *Engine {
	e := &Engine{
		rules:            rules,
		log:              logger.Nop(),
		fatorRThreshold:  DefaultFatorRThreshold,
		volatileZoneLow:  DefaultVolatileZoneLow,
		volatileZoneHigh: DefaultVolatileZoneHigh,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FatorRThreshold returns the configured labor-ratio switch point.
func (e *Engine) FatorRThreshold() float64 { return e.fatorRThreshold }

// VolatileZone returns the configured volatile-zone bounds.
func (e *Engine) VolatileZone() (low, high float64) {
	return e.volatileZoneLow, e.volatileZoneHigh
}

// LaborRatio returns the 12-month payroll over the 12-month revenue.
// The second return is false when revenue is not positive.
func LaborRatio(snap model.Snapshot) (float64, bool) {
	if snap.AnnualRevenue <= 0 {
		return 0, false
	}
	return snap.Payroll12 / snap.AnnualRevenue, true
}

// Compute runs the full calculation chain against one snapshot.
//
// A prohibited activity or an over-the-ceiling revenue short-circuits into a
// terminal result, not an error; those are valid business outcomes. Errors
// are reserved for unresolvable activity codes (ErrRuleProviderData wraps
// the provider failure) and for non-positive revenue where a tier lookup is
// required (ErrInsufficientData).
func (e *Engine) Compute(ctx context.Context, snap model.Snapshot) (model.TaxResult, error) {
	metrics := model.DerivedMetrics{}

	ratio, ratioDefined := LaborRatio(snap)
	metrics.LaborRatio = ratio
	metrics.LaborRatioDefined = ratioDefined
	if ratioDefined {
		metrics.VolatileZone = ratio >= e.volatileZoneLow && ratio < e.volatileZoneHigh
	}

	assignment, err := e.rules.ResolveCategory(ctx, snap.ActivityCode)
	if err != nil {
		return model.TaxResult{}, fmt.Errorf("%w: resolve category for %q: %v",
			ErrRuleProviderData, snap.ActivityCode, err)
	}

	switch assignment.Kind {
	case ports.AssignmentProhibited:
		e.log.Debug(ctx, "activity prohibited",
			logger.String("activity_code", snap.ActivityCode),
			logger.String("reason", assignment.Reason))
		return model.TaxResult{
			Prohibited:        true,
			ProhibitionReason: assignment.Reason,
			MonthlyRevenue:    snap.MonthlyRevenue,
			AnnualRevenue:     snap.AnnualRevenue,
			Metrics:           metrics,
		}, nil
	case ports.AssignmentFixed:
		metrics.Category = assignment.Category
	case ports.AssignmentFatorR:
		metrics.FatorRDependent = true
		// Ratio exactly at the threshold classifies as "at or above".
		if ratioDefined && ratio >= e.fatorRThreshold {
			metrics.Category = assignment.Above
		} else {
			metrics.Category = assignment.Below
		}
	default:
		return model.TaxResult{}, fmt.Errorf("%w: unknown assignment kind %q",
			ErrRuleProviderData, assignment.Kind)
	}

	if snap.AnnualRevenue <= 0 {
		return model.TaxResult{}, fmt.Errorf("%w: annual revenue %.2f requires a tier lookup",
			ErrInsufficientData, snap.AnnualRevenue)
	}

	limits, err := e.rules.Limits(ctx)
	if err != nil {
		return model.TaxResult{}, fmt.Errorf("%w: limits: %v", ErrRuleProviderData, err)
	}
	metrics.OverSublimit = snap.AnnualRevenue > limits.Sublimit

	tiers, err := e.rules.BracketTable(ctx, metrics.Category)
	if err != nil {
		return model.TaxResult{}, fmt.Errorf("%w: bracket table for %s: %v",
			ErrRuleProviderData, metrics.Category, err)
	}

	tier, found := selectTier(tiers, snap.AnnualRevenue)
	if !found {
		metrics.ExceededMax = true
		e.log.Debug(ctx, "annual revenue exceeds regime ceiling",
			logger.Float64("annual_revenue", snap.AnnualRevenue))
		return model.TaxResult{
			Category:       metrics.Category,
			ExceededMax:    true,
			MonthlyRevenue: snap.MonthlyRevenue,
			AnnualRevenue:  snap.AnnualRevenue,
			Metrics:        metrics,
		}, nil
	}
	metrics.TierIndex = tier.Index

	effectiveRate := EffectiveRate(snap.AnnualRevenue, tier)
	monthlyTax := snap.MonthlyRevenue * effectiveRate

	shares, err := e.rules.DecompositionShares(ctx, metrics.Category, tier.Index)
	if err != nil {
		return model.TaxResult{}, fmt.Errorf("%w: shares for %s tier %d: %v",
			ErrRuleProviderData, metrics.Category, tier.Index, err)
	}
	var shareSum float64
	decomposition := make(map[string]float64, len(shares))
	for name, frac := range shares {
		shareSum += frac
		decomposition[name] = monthlyTax * frac
	}
	if math.Abs(shareSum-1.0) > shareTolerance {
		return model.TaxResult{}, fmt.Errorf("%w: shares for %s tier %d sum to %.8f",
			ErrRuleProviderData, metrics.Category, tier.Index, shareSum)
	}

	optimized := optimizedMonthlyTax(snap, monthlyTax, effectiveRate, shares)

	return model.TaxResult{
		Category:            metrics.Category,
		TierIndex:           tier.Index,
		NominalRate:         tier.NominalRate,
		Deduction:           tier.Deduction,
		EffectiveRate:       effectiveRate,
		MonthlyRevenue:      snap.MonthlyRevenue,
		AnnualRevenue:       snap.AnnualRevenue,
		MonthlyTax:          monthlyTax,
		Shares:              shares,
		Decomposition:       decomposition,
		OptimizedMonthlyTax: optimized,
		MonthlySavings:      monthlyTax - optimized,
		Metrics:             metrics,
	}, nil
}

// EffectiveRate applies the progressive-bracket formula
// (revenue x nominal - deduction) / revenue, clamped to [0, 1].
func EffectiveRate(annualRevenue float64, tier model.Tier) float64 {
	if annualRevenue <= 0 {
		return 0
	}
	rate := (annualRevenue*tier.NominalRate - tier.Deduction) / annualRevenue
	return math.Min(1, math.Max(0, rate))
}

// selectTier picks the smallest tier whose ceiling covers the revenue.
// Returns false when the revenue exceeds the largest ceiling.
func selectTier(tiers []model.Tier, annualRevenue float64) (model.Tier, bool) {
	for _, t := range tiers {
		if annualRevenue <= t.RevenueCeiling {
			return t, true
		}
	}
	return model.Tier{}, false
}

// SegregationShareNames returns the sub-tax names whose shares stop applying
// to one segregated special-revenue kind.
func SegregationShareNames(kind string) []string {
	switch kind {
	case "single_phase":
		return []string{model.SharePIS, model.ShareCofins}
	case "export":
		return []string{model.SharePIS, model.ShareCofins, model.ShareICMS, model.ShareISS}
	case "tax_substitution":
		return []string{model.ShareICMS}
	case "movable_rental":
		return []string{model.ShareISS}
	default:
		return nil
	}
}

// SegregationSaving computes the monthly deduction for one segregated
// sub-amount: amount x effective rate x the applicable share fractions.
func SegregationSaving(amount, effectiveRate float64, shares map[string]float64, kind string) float64 {
	if amount <= 0 {
		return 0
	}
	var sum float64
	for _, name := range SegregationShareNames(kind) {
		sum += shares[name]
	}
	return amount * effectiveRate * sum
}

// optimizedMonthlyTax applies every legal deduction for segregated special
// revenue. Withheld-at-source tax is a direct 1:1 deduction; the rest use
// the decomposition shares. The result never goes below zero.
func optimizedMonthlyTax(snap model.Snapshot, monthlyTax, effectiveRate float64, shares map[string]float64) float64 {
	optimized := monthlyTax
	optimized -= SegregationSaving(snap.Special.SinglePhase, effectiveRate, shares, "single_phase")
	optimized -= SegregationSaving(snap.Special.Export, effectiveRate, shares, "export")
	optimized -= SegregationSaving(snap.Special.TaxSubstitution, effectiveRate, shares, "tax_substitution")
	optimized -= SegregationSaving(snap.Special.MovableRental, effectiveRate, shares, "movable_rental")
	optimized -= snap.Special.WithheldAtSource
	return math.Max(0, optimized)
}
