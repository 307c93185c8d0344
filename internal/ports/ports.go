// Package ports declares the interfaces the engines consume. Implementations
// live under internal/adapters; tests supply mocks.
package ports

import (
	"context"

	"github.com/tributolabs/tributo/internal/domain/model"
)

// AssignmentKind tells how a category was resolved for an activity code.
type AssignmentKind string

const (
	// AssignmentFixed maps the code straight to a category.
	AssignmentFixed AssignmentKind = "fixed"
	// AssignmentFatorR means the category depends on the labor ratio.
	AssignmentFatorR AssignmentKind = "fator_r"
	// AssignmentProhibited means the activity cannot use the regime.
	AssignmentProhibited AssignmentKind = "prohibited"
)

// CategoryAssignment is the outcome of resolving an activity code.
type CategoryAssignment struct {
	Kind     AssignmentKind
	Category model.Category // set for AssignmentFixed
	// Above/Below are the two outcomes of the labor-ratio switch.
	Above model.Category // set for AssignmentFatorR, ratio >= threshold
	Below model.Category // set for AssignmentFatorR, ratio < threshold
	// Reason explains a prohibition.
	Reason string
}

// RuleProvider supplies every table the engines are forbidden to hardcode.
// Each method returns a complete, internally consistent structure or an
// explicit error; never a partially populated object.
type RuleProvider interface {
	// ResolveCategory maps an activity code to its assignment rule.
	ResolveCategory(ctx context.Context, activityCode string) (CategoryAssignment, error)

	// BracketTable returns the six revenue tiers of a category.
	BracketTable(ctx context.Context, category model.Category) ([]model.Tier, error)

	// DecompositionShares returns the sub-tax fractions for one tier.
	// Fractions sum to 1.0 within 1e-6 or the provider errors at load.
	DecompositionShares(ctx context.Context, category model.Category, tierIndex int) (map[string]float64, error)

	// IsProhibited returns a non-empty reason when the activity code is
	// barred from the regime.
	IsProhibited(ctx context.Context, activityCode string) (string, error)

	// SingleTaxExemptCategory returns the category under which a product
	// code is single-phase taxed, or model.CategoryNone when it is not.
	SingleTaxExemptCategory(ctx context.Context, productCode string) (model.Category, error)

	// Limits returns the regime-wide revenue thresholds.
	Limits(ctx context.Context) (Limits, error)

	// RegimeParams returns the constants of the two alternative regimes.
	RegimeParams(ctx context.Context) (RegimeParams, error)
}

// Limits are the regime-wide revenue thresholds.
type Limits struct {
	Sublimit          float64 // annual revenue above which ICMS/ISS leave the unified payment
	MaxAnnualRevenue  float64 // hard regime ceiling
	MEIRevenueCeiling float64 // small-entity fixed-fee regime ceiling
	MEIAnnualFee      float64
}

// RegimeParams hold the presumed-margin and real-profit regime constants.
type RegimeParams struct {
	// Presumed profit margins by activity class.
	PresumedMarginIRPJ map[model.ActivityClass]float64
	PresumedMarginCSLL map[model.ActivityClass]float64

	IRPJRate           float64
	IRPJSurchargeRate  float64
	IRPJSurchargeFloor float64 // annual presumed profit above which the surcharge applies
	CSLLRate           float64

	PISCumulative       float64
	CofinsCumulative    float64
	PISNonCumulative    float64
	CofinsNonCumulative float64

	// PayrollEmployerRate is the employer payroll contribution carried by
	// both alternative regimes.
	PayrollEmployerRate float64

	// DefaultICMSRate approximates the state consumption tax carried by
	// goods activities outside the unified payment.
	DefaultICMSRate float64

	// Defaults when the caller supplies no assumptions.
	DefaultRealMargin       float64
	DefaultInputCreditShare float64
}

// RateBounds are the legal floor and ceiling of the local service-tax rate.
type RateBounds struct {
	Floor   float64
	Ceiling float64
}

// LocalRate is a locality's service-tax rate plus whether it was confirmed
// against reference data or is a fallback.
type LocalRate struct {
	Rate      float64
	Confirmed bool
}

// LocationProvider serves jurisdiction reference data. Lookups may block on
// I/O; implementations carry their own timeout and fall back to an
// unconfirmed default rather than failing.
type LocationProvider interface {
	LocalRateBounds(ctx context.Context, state string) (RateBounds, error)
	LocalRate(ctx context.Context, state, cityCode string) LocalRate
}

// Notifier is the outbound notification port. Publish must never block the
// caller; delivery is best effort and engine correctness never depends on a
// listener being attached.
type Notifier interface {
	Publish(ctx context.Context, n model.Notification)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

// Publish implements Notifier.
func (NopNotifier) Publish(context.Context, model.Notification) {}
