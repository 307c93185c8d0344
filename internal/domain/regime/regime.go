// Package regime estimates the company's annual burden under the two
// alternative taxation regimes and ranks all three against the current one.
// Alternatives are first-order estimates built on published rates and the
// profile's own figures; the notes on each burden state the assumptions.
package regime

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

const monthsPerYear = 12

// defaultServiceRate stands in for the municipal service-tax rate when no
// location provider is wired.
const defaultServiceRate = 0.05

// Assumptions are the caller-supplied inputs of the actual-profit estimate.
// Zero fields fall back to the provider's documented defaults.
type Assumptions struct {
	RealMargin       float64 `json:"real_margin"`
	InputCreditShare float64 `json:"input_credit_share"`
}

func (a Assumptions) validate() error {
	if a.RealMargin < 0 || a.RealMargin >= 1 {
		return fmt.Errorf("%w: real margin %.4f must be in [0, 1)", ErrInvalidAssumptions, a.RealMargin)
	}
	if a.InputCreditShare < 0 || a.InputCreditShare >= 1 {
		return fmt.Errorf("%w: input credit share %.4f must be in [0, 1)", ErrInvalidAssumptions, a.InputCreditShare)
	}
	return nil
}

// Engine compares taxation regimes.
type Engine struct {
	calc     *calc.Engine
	rules    ports.RuleProvider
	location ports.LocationProvider
	log      logger.Logger
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

// New creates a regime comparison engine. The location provider may be nil;
// service-tax estimates then carry an assumption note.
func New(c *calc.Engine, rules ports.RuleProvider, location ports.LocationProvider, opts ...Option) *Engine {
	e := &Engine{
		calc:     c,
		rules:    rules,
		location: location,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compare computes the three burdens and ranks them by ascending annual
// cost. Zero assumptions use the provider defaults. A profile barred from
// the current regime still gets the two alternatives; the current burden
// then carries the ineligibility note and stays out of the ranking.
func (e *Engine) Compare(ctx context.Context, snap model.Snapshot, a Assumptions) (model.RegimeComparison, error) {
	if snap.AnnualRevenue <= 0 {
		return model.RegimeComparison{}, fmt.Errorf("%w: annual revenue required for regime comparison",
			calc.ErrInsufficientData)
	}
	if err := a.validate(); err != nil {
		return model.RegimeComparison{}, err
	}

	result, err := e.calc.Compute(ctx, snap)
	if err != nil {
		return model.RegimeComparison{}, err
	}
	params, err := e.rules.RegimeParams(ctx)
	if err != nil {
		return model.RegimeComparison{}, fmt.Errorf("%w: regime params: %v", calc.ErrRuleProviderData, err)
	}

	class := result.Category.Class()
	current := e.currentBurden(result)
	presumido := e.presumedBurden(ctx, snap, params, class)
	real := e.realBurden(ctx, snap, params, class, a)

	cmp := model.RegimeComparison{
		Current:      current,
		Alternatives: []model.RegimeBurden{presumido, real},
	}

	cmp.Ranked = append(cmp.Ranked, presumido, real)
	if !result.Terminal() {
		cmp.Ranked = append(cmp.Ranked, current)
	}
	sort.SliceStable(cmp.Ranked, func(i, j int) bool {
		return cmp.Ranked[i].AnnualBurden < cmp.Ranked[j].AnnualBurden
	})
	cmp.Best = cmp.Ranked[0].Regime

	if !result.Terminal() && current.AnnualBurden > 0 {
		cmp.SavingsVsCurrent = current.AnnualBurden - cmp.Ranked[0].AnnualBurden
		cmp.RelativeGap = cmp.SavingsVsCurrent / current.AnnualBurden
	}

	metrics.RecordRegimeComparison()
	e.log.Debug(ctx, "regimes compared",
		logger.String("best", string(cmp.Best)),
		logger.Float64("savings_vs_current", cmp.SavingsVsCurrent))
	return cmp, nil
}

func (e *Engine) currentBurden(result model.TaxResult) model.RegimeBurden {
	b := model.RegimeBurden{
		Regime:    model.RegimeSimples,
		Breakdown: map[string]float64{},
	}
	switch {
	case result.Prohibited:
		b.Notes = append(b.Notes, "activity barred from the unified regime: "+result.ProhibitionReason)
	case result.ExceededMax:
		b.Notes = append(b.Notes, "annual revenue exceeds the unified regime ceiling")
	default:
		b.AnnualBurden = result.OptimizedMonthlyTax * monthsPerYear
		b.EffectiveRate = b.AnnualBurden / result.AnnualRevenue
		for name, amount := range result.Decomposition {
			b.Breakdown[name] = amount * monthsPerYear
		}
	}
	return b
}

// presumedBurden applies the presumed-margin formulas: fixed profit margins
// by activity class feed the income taxes, turnover taxes are cumulative.
func (e *Engine) presumedBurden(ctx context.Context, snap model.Snapshot, p ports.RegimeParams, class model.ActivityClass) model.RegimeBurden {
	annual := snap.AnnualRevenue
	b := model.RegimeBurden{Regime: model.RegimePresumido, Breakdown: map[string]float64{}}

	profitIRPJ := annual * p.PresumedMarginIRPJ[class]
	profitCSLL := annual * p.PresumedMarginCSLL[class]
	b.Breakdown[model.ShareIRPJ] = incomeTax(profitIRPJ, p)
	b.Breakdown[model.ShareCSLL] = profitCSLL * p.CSLLRate
	b.Breakdown[model.SharePIS] = annual * p.PISCumulative
	b.Breakdown[model.ShareCofins] = annual * p.CofinsCumulative
	b.Breakdown[model.ShareCPP] = snap.Payroll12 * p.PayrollEmployerRate
	e.addConsumptionTax(ctx, &b, snap, p, class, annual)

	finish(&b, annual)
	b.Notes = append(b.Notes,
		fmt.Sprintf("presumed profit margin %.0f%% (IRPJ) for the %s class", p.PresumedMarginIRPJ[class]*100, class))
	return b
}

// realBurden applies the actual-profit formulas with the caller's margin and
// input-credit assumptions, falling back to the provider defaults; turnover
// taxes are non-cumulative net of credits.
func (e *Engine) realBurden(ctx context.Context, snap model.Snapshot, p ports.RegimeParams, class model.ActivityClass, a Assumptions) model.RegimeBurden {
	annual := snap.AnnualRevenue
	b := model.RegimeBurden{Regime: model.RegimeReal, Breakdown: map[string]float64{}}

	margin := p.DefaultRealMargin
	if a.RealMargin > 0 {
		margin = a.RealMargin
	}
	creditShare := p.DefaultInputCreditShare
	if a.InputCreditShare > 0 {
		creditShare = a.InputCreditShare
	}

	profit := annual * margin
	creditFactor := 1 - creditShare
	b.Breakdown[model.ShareIRPJ] = incomeTax(profit, p)
	b.Breakdown[model.ShareCSLL] = profit * p.CSLLRate
	b.Breakdown[model.SharePIS] = annual * p.PISNonCumulative * creditFactor
	b.Breakdown[model.ShareCofins] = annual * p.CofinsNonCumulative * creditFactor
	b.Breakdown[model.ShareCPP] = snap.Payroll12 * p.PayrollEmployerRate
	e.addConsumptionTax(ctx, &b, snap, p, class, annual)

	finish(&b, annual)
	b.Notes = append(b.Notes,
		fmt.Sprintf("assumed real profit margin %.0f%% and input credits on %.0f%% of turnover",
			margin*100, creditShare*100))
	return b
}

// addConsumptionTax estimates the state or municipal consumption tax that the
// alternative regimes pay outside any unified payment.
func (e *Engine) addConsumptionTax(ctx context.Context, b *model.RegimeBurden, snap model.Snapshot, p ports.RegimeParams, class model.ActivityClass, annual float64) {
	if class == model.ClassServices {
		rate := ports.LocalRate{Rate: defaultServiceRate, Confirmed: false}
		if e.location != nil {
			rate = e.location.LocalRate(ctx, snap.Location.State, snap.Location.CityCode)
		}
		b.Breakdown[model.ShareISS] = annual * rate.Rate
		if !rate.Confirmed {
			b.Notes = append(b.Notes, "local service-tax rate unconfirmed; using the fallback rate")
		}
		return
	}
	b.Breakdown[model.ShareICMS] = annual * p.DefaultICMSRate
	b.Notes = append(b.Notes,
		fmt.Sprintf("state consumption tax approximated at %.0f%%", p.DefaultICMSRate*100))
}

// incomeTax applies the base rate plus the surcharge on annual profit above
// the floor.
func incomeTax(annualProfit float64, p ports.RegimeParams) float64 {
	tax := annualProfit * p.IRPJRate
	if excess := annualProfit - p.IRPJSurchargeFloor; excess > 0 {
		tax += excess * p.IRPJSurchargeRate
	}
	return math.Max(0, tax)
}

func finish(b *model.RegimeBurden, annual float64) {
	for _, amount := range b.Breakdown {
		b.AnnualBurden += amount
	}
	b.EffectiveRate = b.AnnualBurden / annual
}
