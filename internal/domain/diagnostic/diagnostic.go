// Package diagnostic runs the fixed battery of opportunity and alert
// detectors against one computed tax result.
//
// The battery is intentionally a flat list of loosely related detector
// functions, each isolated in its own failure domain: a detector that
// panics or errors contributes nothing and never suppresses the others.
package diagnostic

import (
	"context"
	"sort"

	"github.com/getsentry/sentry-go"

	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

// Input carries everything a detector may read. Detectors never read each
// other's output; they all see the same computed result and profile.
type Input struct {
	Result model.TaxResult
	Snap   model.Snapshot

	Limits ports.Limits
	Params ports.RegimeParams

	LocalRate  ports.LocalRate
	RateBounds ports.RateBounds

	FatorRThreshold  float64
	VolatileZoneLow  float64
	VolatileZoneHigh float64

	// EstimateCombinedShare is the documented conservative fallback used
	// when the provider's share table is unavailable. Figures derived from
	// it carry Estimate: true.
	EstimateCombinedShare float64

	MinimumWage12 float64
}

// DetectorFunc inspects the input and returns a finding or nil.
type DetectorFunc func(ctx context.Context, in Input) (*model.Finding, error)

// Detector pairs a stable id with its function.
type Detector struct {
	ID  string
	Run DetectorFunc
}

// Engine owns the detector battery and the reference data each run needs.
type Engine struct {
	rules    ports.RuleProvider
	location ports.LocationProvider
	log      logger.Logger

	detectors []Detector

	fatorRThreshold       float64
	volatileZoneLow       float64
	volatileZoneHigh      float64
	estimateCombinedShare float64
	minimumWage12         float64
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

// WithEstimateCombinedShare overrides the estimate fallback constant.
func WithEstimateCombinedShare(s float64) Option {
	return func(e *Engine) {
		if s > 0 && s < 1 {
			e.estimateCombinedShare = s
		}
	}
}

// WithMinimumWage12 overrides the 12-month minimum-wage proxy.
func WithMinimumWage12(w float64) Option {
	return func(e *Engine) {
		if w > 0 {
			e.minimumWage12 = w
		}
	}
}

// WithDetectors replaces the battery. Intended for tests.
func WithDetectors(detectors []Detector) Option {
	return func(e *Engine) {
		if len(detectors) > 0 {
			e.detectors = detectors
		}
	}
}

// New creates an Engine with the full default battery.
func New(rules ports.RuleProvider, location ports.LocationProvider, opts ...Option) *Engine {
	e := &Engine{
		rules:                 rules,
		location:              location,
		log:                   logger.Nop(),
		fatorRThreshold:       calc.DefaultFatorRThreshold,
		volatileZoneLow:       calc.DefaultVolatileZoneLow,
		volatileZoneHigh:      calc.DefaultVolatileZoneHigh,
		estimateCombinedShare: defaultEstimateCombinedShare,
		minimumWage12:         defaultMinimumWage12,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.detectors == nil {
		e.detectors = e.defaultBattery()
	}
	return e
}

// Detectors returns the battery ids in execution order.
func (e *Engine) Detectors() []string {
	ids := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		ids[i] = d.ID
	}
	return ids
}

// Diagnose runs the full battery and ranks the output.
func (e *Engine) Diagnose(ctx context.Context, result model.TaxResult, snap model.Snapshot) model.Diagnosis {
	in := Input{
		Result:                result,
		Snap:                  snap,
		FatorRThreshold:       e.fatorRThreshold,
		VolatileZoneLow:       e.volatileZoneLow,
		VolatileZoneHigh:      e.volatileZoneHigh,
		EstimateCombinedShare: e.estimateCombinedShare,
		MinimumWage12:         e.minimumWage12,
	}

	// Reference data is resolved once per run. Failures degrade the
	// detectors that need the data, never the whole battery.
	if limits, err := e.rules.Limits(ctx); err == nil {
		in.Limits = limits
	} else {
		e.log.Warn(ctx, "limits unavailable", logger.Error(err))
	}
	if params, err := e.rules.RegimeParams(ctx); err == nil {
		in.Params = params
	} else {
		e.log.Warn(ctx, "regime params unavailable", logger.Error(err))
	}
	if e.location != nil && snap.Location.State != "" {
		in.LocalRate = e.location.LocalRate(ctx, snap.Location.State, snap.Location.CityCode)
		if bounds, err := e.location.LocalRateBounds(ctx, snap.Location.State); err == nil {
			in.RateBounds = bounds
		}
	}

	var diagnosis model.Diagnosis
	for _, d := range e.detectors {
		finding := e.runDetector(ctx, d, in)
		if finding == nil {
			continue
		}
		metrics.RecordDetectorFinding(d.ID, string(finding.Severity))
		switch finding.Severity {
		case model.SeverityOpportunity:
			diagnosis.Opportunities = append(diagnosis.Opportunities, *finding)
		case model.SeverityAlert:
			diagnosis.Alerts = append(diagnosis.Alerts, *finding)
		default:
			diagnosis.Informational = append(diagnosis.Informational, *finding)
		}
	}

	rank(&diagnosis)
	metrics.RecordDiagnosis()
	return diagnosis
}

// runDetector isolates one detector's failure domain.
func (e *Engine) runDetector(ctx context.Context, d Detector, in Input) (finding *model.Finding) {
	defer func() {
		if r := recover(); r != nil {
			finding = nil
			metrics.RecordDetectorError(d.ID)
			e.log.Error(ctx, "detector panicked",
				logger.String("detector", d.ID), logger.Any("panic", r))
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("detector", d.ID)
				sentry.CurrentHub().Recover(r)
			})
		}
	}()

	f, err := d.Run(ctx, in)
	if err != nil {
		metrics.RecordDetectorError(d.ID)
		e.log.Warn(ctx, "detector failed",
			logger.String("detector", d.ID), logger.Error(err))
		return nil
	}
	if f != nil && f.ID == "" {
		f.ID = d.ID
	}
	return f
}

// rank sorts opportunities descending by net annual savings, assigns 1-based
// ranks and fills the aggregate totals.
func rank(d *model.Diagnosis) {
	sort.SliceStable(d.Opportunities, func(i, j int) bool {
		return d.Opportunities[i].AnnualSavings > d.Opportunities[j].AnnualSavings
	})
	for i := range d.Opportunities {
		d.Opportunities[i].Rank = i + 1
		d.TotalAnnualSavings += d.Opportunities[i].AnnualSavings
		d.TotalMonthlySavings += d.Opportunities[i].MonthlySavings
	}
}
