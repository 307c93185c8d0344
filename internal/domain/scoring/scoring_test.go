package scoring_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/domain/scoring"
	"github.com/tributolabs/tributo/internal/ports"
)

// stubLocation serves one fixed confirmed rate inside fixed bounds.
type stubLocation struct {
	rate float64
}

func (s stubLocation) LocalRateBounds(context.Context, string) (ports.RateBounds, error) {
	return ports.RateBounds{Floor: 0.02, Ceiling: 0.05}, nil
}

func (s stubLocation) LocalRate(context.Context, string, string) ports.LocalRate {
	return ports.LocalRate{Rate: s.rate, Confirmed: true}
}

func TestHealthyCommerceProfile(t *testing.T) {
	Convey("Given a commerce profile with no issues", t, func() {
		engine := scoring.New(nil)
		snap := model.Snapshot{
			ActivityCode:   "4711-3/01",
			MonthlyRevenue: 20_000,
			AnnualRevenue:  240_000,
		}
		result := model.TaxResult{
			Category:      model.CategoryAnexoI,
			TierIndex:     2,
			EffectiveRate: 0.0483,
			Metrics:       model.DerivedMetrics{Category: model.CategoryAnexoI},
		}

		Convey("When scoring", func() {
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then every category maxes out and the tier is the top band", func() {
				So(score.Total, ShouldEqual, 100)
				So(score.Tier, ShouldEqual, scoring.TierExcellent)
				So(len(score.Categories), ShouldEqual, 5)
				for _, c := range score.Categories {
					So(c.Points, ShouldEqual, c.Cap)
				}
			})
		})
	})
}

func TestLaborRatioCategory(t *testing.T) {
	Convey("Given a ratio-dependent result", t, func() {
		engine := scoring.New(nil)
		snap := model.Snapshot{AnnualRevenue: 360_000, MonthlyRevenue: 30_000}

		Convey("When the ratio sits at the floor", func() {
			result := model.TaxResult{Metrics: model.DerivedMetrics{
				FatorRDependent: true, LaborRatioDefined: true, LaborRatio: 0.20,
			}}
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then the labor-ratio category scores zero", func() {
				So(categoryPoints(score, "labor_ratio"), ShouldEqual, 0)
			})
		})

		Convey("When the ratio sits midway to the threshold", func() {
			result := model.TaxResult{Metrics: model.DerivedMetrics{
				FatorRDependent: true, LaborRatioDefined: true, LaborRatio: 0.24,
			}}
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then the points interpolate linearly", func() {
				So(categoryPoints(score, "labor_ratio"), ShouldAlmostEqual, 12.5, 1e-9)
			})
		})

		Convey("When the ratio reaches the threshold", func() {
			result := model.TaxResult{Metrics: model.DerivedMetrics{
				FatorRDependent: true, LaborRatioDefined: true, LaborRatio: 0.28,
			}}
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then the category maxes out", func() {
				So(categoryPoints(score, "labor_ratio"), ShouldEqual, scoring.CapLaborRatio)
			})
		})
	})
}

func TestRiskCategory(t *testing.T) {
	Convey("Given the scoring engine", t, func() {
		engine := scoring.New(nil)
		snap := model.Snapshot{AnnualRevenue: 240_000, MonthlyRevenue: 20_000}

		Convey("When pending debts exist", func() {
			snap.Flags.PendingDebts = true
			score := engine.Score(context.Background(), model.Diagnosis{}, model.TaxResult{}, snap)

			Convey("Then risk scores zero regardless of anything else", func() {
				So(categoryPoints(score, "risk"), ShouldEqual, 0)
			})
		})

		Convey("When alerts and eligibility flags accumulate", func() {
			snap.Flags.CorporatePartner = true
			diag := model.Diagnosis{Alerts: []model.Finding{
				{Severity: model.SeverityAlert}, {Severity: model.SeverityAlert},
			}}
			score := engine.Score(context.Background(), diag, model.TaxResult{}, snap)

			Convey("Then each one deducts from the cap", func() {
				So(categoryPoints(score, "risk"), ShouldEqual, 15-2*2-5)
			})
		})
	})
}

func TestSegregationCategory(t *testing.T) {
	Convey("Given special revenue on the profile", t, func() {
		engine := scoring.New(nil)
		snap := model.Snapshot{
			AnnualRevenue:  360_000,
			MonthlyRevenue: 30_000,
			Special:        model.SpecialRevenue{SinglePhase: 5_000},
		}

		Convey("When the computation captures savings", func() {
			result := model.TaxResult{MonthlySavings: 50}
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then the category maxes out", func() {
				So(categoryPoints(score, "revenue_segregation"), ShouldEqual, scoring.CapSegregation)
			})
		})

		Convey("When no savings materialize", func() {
			score := engine.Score(context.Background(), model.Diagnosis{}, model.TaxResult{}, snap)

			Convey("Then the category scores zero", func() {
				So(categoryPoints(score, "revenue_segregation"), ShouldEqual, 0)
			})
		})

		Convey("When the result is terminal", func() {
			result := model.TaxResult{Prohibited: true}
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then the category scores half for ambiguity", func() {
				So(categoryPoints(score, "revenue_segregation"), ShouldEqual, scoring.CapSegregation/2)
			})
		})
	})
}

func TestWithheldBonus(t *testing.T) {
	Convey("Given a located profile with withheld tax declared", t, func() {
		engine := scoring.New(stubLocation{rate: 0.035})
		snap := model.Snapshot{
			AnnualRevenue:  360_000,
			MonthlyRevenue: 30_000,
			Location:       model.Location{State: "SP", CityCode: "3550308"},
			Special:        model.SpecialRevenue{WithheldAtSource: 400},
		}
		// Rate 3.5% between the 2%-5% bounds scores half the cap.
		base := scoring.CapLocalRate / 2

		Convey("When the computation is deducting the withheld amount", func() {
			result := model.TaxResult{MonthlySavings: 400}
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then the local-rate points carry the bonus", func() {
				So(categoryPoints(score, "local_rate"), ShouldAlmostEqual, base+2, 1e-9)
			})
		})

		Convey("When a terminal result deducts nothing", func() {
			result := model.TaxResult{ExceededMax: true}
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then no bonus applies despite the declared amount", func() {
				So(categoryPoints(score, "local_rate"), ShouldAlmostEqual, base, 1e-9)
			})
		})
	})
}

func TestTierBands(t *testing.T) {
	Convey("Given scores at the band edges", t, func() {
		engine := scoring.New(nil)

		// A profile engineered near zero: ratio at the floor, unproductive
		// special revenue, pending debts.
		snap := model.Snapshot{
			AnnualRevenue:  360_000,
			MonthlyRevenue: 30_000,
			ProLabore12:    1, // far below the compensation target
			Partners:       []model.Partner{{Name: "a", Share: 1}},
			Special:        model.SpecialRevenue{SinglePhase: 5_000},
			Flags:          model.Flags{PendingDebts: true},
		}
		result := model.TaxResult{Metrics: model.DerivedMetrics{
			FatorRDependent: true, LaborRatioDefined: true, LaborRatio: 0.20,
		}}

		Convey("When scoring", func() {
			score := engine.Score(context.Background(), model.Diagnosis{}, result, snap)

			Convey("Then the total lands in the critical band", func() {
				So(score.Total, ShouldBeLessThan, 50)
				So(score.Tier, ShouldEqual, scoring.TierCritical)
			})
		})
	})
}

func categoryPoints(score model.ScoreResult, name string) float64 {
	for _, c := range score.Categories {
		if c.Name == name {
			return c.Points
		}
	}
	return -1
}
