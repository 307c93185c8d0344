package regime_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tributolabs/tributo/internal/adapters/rules"
	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/domain/regime"
)

func newEngine(t *testing.T) *regime.Engine {
	t.Helper()
	provider, err := rules.NewDefaultProvider()
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	return regime.New(calc.New(provider), provider, nil)
}

func TestCompareSmallService(t *testing.T) {
	Convey("Given a small service company inside the unified regime", t, func() {
		engine := newEngine(t)
		snap := model.Snapshot{
			ActivityCode:   "6201-5/01",
			MonthlyRevenue: 15_000,
			AnnualRevenue:  180_000,
			Payroll12:      60_000, // ratio 0.3333, favored table, 6% effective
		}

		Convey("When comparing regimes", func() {
			cmp, err := engine.Compare(context.Background(), snap, regime.Assumptions{})

			Convey("Then the unified regime wins for this profile", func() {
				So(err, ShouldBeNil)
				So(cmp.Best, ShouldEqual, model.RegimeSimples)
				So(cmp.SavingsVsCurrent, ShouldEqual, 0)
			})

			Convey("Then three burdens are ranked in ascending order", func() {
				So(len(cmp.Ranked), ShouldEqual, 3)
				for i := 1; i < len(cmp.Ranked); i++ {
					So(cmp.Ranked[i].AnnualBurden,
						ShouldBeGreaterThanOrEqualTo, cmp.Ranked[i-1].AnnualBurden)
				}
			})

			Convey("Then the current burden matches the unified computation", func() {
				So(cmp.Current.AnnualBurden, ShouldAlmostEqual, 180_000*0.06, 1e-6)
				So(cmp.Current.EffectiveRate, ShouldAlmostEqual, 0.06, 1e-9)
			})

			Convey("Then each alternative carries its assumption notes", func() {
				for _, alt := range cmp.Alternatives {
					So(len(alt.Notes), ShouldBeGreaterThan, 0)
					So(len(alt.Breakdown), ShouldBeGreaterThan, 0)
				}
			})
		})
	})
}

func TestCompareIneligibleProfile(t *testing.T) {
	Convey("Given a company above the regime ceiling", t, func() {
		engine := newEngine(t)
		snap := model.Snapshot{
			ActivityCode:   "4711-3/01",
			MonthlyRevenue: 500_000,
			AnnualRevenue:  6_000_000,
		}

		Convey("When comparing regimes", func() {
			cmp, err := engine.Compare(context.Background(), snap, regime.Assumptions{})

			Convey("Then the current regime is excluded from the ranking", func() {
				So(err, ShouldBeNil)
				So(len(cmp.Ranked), ShouldEqual, 2)
				So(cmp.Best, ShouldBeIn, model.RegimePresumido, model.RegimeReal)
			})

			Convey("Then the ineligibility is noted on the current burden", func() {
				So(cmp.Current.AnnualBurden, ShouldEqual, 0)
				So(len(cmp.Current.Notes), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestCompareRequiresRevenue(t *testing.T) {
	Convey("Given a profile without revenue", t, func() {
		engine := newEngine(t)

		Convey("When comparing regimes", func() {
			_, err := engine.Compare(context.Background(), model.Snapshot{ActivityCode: "4711-3/01"}, regime.Assumptions{})

			Convey("Then the comparison refuses to guess", func() {
				So(err, ShouldWrap, calc.ErrInsufficientData)
			})
		})
	})
}

func TestRealProfitAssumptions(t *testing.T) {
	Convey("Given a commerce company and caller-supplied assumptions", t, func() {
		engine := newEngine(t)
		snap := model.Snapshot{
			ActivityCode:   "4711-3/01",
			MonthlyRevenue: 100_000,
			AnnualRevenue:  1_200_000,
		}
		ctx := context.Background()

		Convey("When supplying a low real margin", func() {
			cmp, err := engine.Compare(ctx, snap, regime.Assumptions{RealMargin: 0.05})
			So(err, ShouldBeNil)

			var real model.RegimeBurden
			for _, alt := range cmp.Alternatives {
				if alt.Regime == model.RegimeReal {
					real = alt
				}
			}

			Convey("Then the income taxes follow the supplied margin", func() {
				// 5% margin -> 60,000 profit, below the surcharge floor.
				So(real.Breakdown[model.ShareIRPJ], ShouldAlmostEqual, 60_000*0.15, 1e-6)
				So(real.Breakdown[model.ShareCSLL], ShouldAlmostEqual, 60_000*0.09, 1e-6)
			})
		})

		Convey("When supplying a high input-credit share", func() {
			cmp, err := engine.Compare(ctx, snap, regime.Assumptions{InputCreditShare: 0.9})
			So(err, ShouldBeNil)

			var real model.RegimeBurden
			for _, alt := range cmp.Alternatives {
				if alt.Regime == model.RegimeReal {
					real = alt
				}
			}

			Convey("Then the turnover taxes shrink by the credit factor", func() {
				So(real.Breakdown[model.SharePIS], ShouldAlmostEqual, 1_200_000*0.0165*0.1, 1e-6)
				So(real.Breakdown[model.ShareCofins], ShouldAlmostEqual, 1_200_000*0.076*0.1, 1e-6)
			})
		})

		Convey("When a margin falls outside the valid range", func() {
			_, err := engine.Compare(ctx, snap, regime.Assumptions{RealMargin: 1.5})

			Convey("Then the assumptions are rejected", func() {
				So(err, ShouldWrap, regime.ErrInvalidAssumptions)
			})
		})
	})
}

func TestPresumedArithmetic(t *testing.T) {
	Convey("Given a commerce company with known figures", t, func() {
		engine := newEngine(t)
		snap := model.Snapshot{
			ActivityCode:   "4711-3/01",
			MonthlyRevenue: 100_000,
			AnnualRevenue:  1_200_000,
			Payroll12:      120_000,
		}

		Convey("When comparing regimes", func() {
			cmp, err := engine.Compare(context.Background(), snap, regime.Assumptions{})
			So(err, ShouldBeNil)

			var presumido model.RegimeBurden
			for _, alt := range cmp.Alternatives {
				if alt.Regime == model.RegimePresumido {
					presumido = alt
				}
			}

			Convey("Then the presumed-margin taxes match the published formulas", func() {
				// IRPJ: 8% margin -> 96,000 profit, 15% base, no surcharge.
				So(presumido.Breakdown[model.ShareIRPJ], ShouldAlmostEqual, 96_000*0.15, 1e-6)
				// CSLL: 12% margin -> 144,000 profit at 9%.
				So(presumido.Breakdown[model.ShareCSLL], ShouldAlmostEqual, 144_000*0.09, 1e-6)
				So(presumido.Breakdown[model.SharePIS], ShouldAlmostEqual, 1_200_000*0.0065, 1e-6)
				So(presumido.Breakdown[model.ShareCofins], ShouldAlmostEqual, 1_200_000*0.03, 1e-6)
				So(presumido.Breakdown[model.ShareCPP], ShouldAlmostEqual, 120_000*0.20, 1e-6)
				So(presumido.Breakdown[model.ShareICMS], ShouldAlmostEqual, 1_200_000*0.18, 1e-6)
			})
		})
	})
}
