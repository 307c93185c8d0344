package scenario_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tributolabs/tributo/internal/adapters/rules"
	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/domain/scenario"
)

func newEngine(t *testing.T) *scenario.Engine {
	t.Helper()
	provider, err := rules.NewDefaultProvider()
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	return scenario.New(calc.New(provider))
}

func baseSnapshot() model.Snapshot {
	return model.Snapshot{
		ActivityCode:   "6201-5/01",
		MonthlyRevenue: 30_000,
		AnnualRevenue:  360_000,
		Payroll12:      60_000, // ratio 0.1667, below the threshold
	}
}

func TestRaiseProLabore(t *testing.T) {
	Convey("Given a service company below the labor-ratio threshold", t, func() {
		engine := newEngine(t)
		ctx := context.Background()

		Convey("When raising compensation to a target that crosses it", func() {
			res, err := engine.Simulate(ctx, baseSnapshot(), model.ScenarioRaiseProLabore,
				scenario.Params{Amount: 50_000}) // ratio becomes 0.3056

			Convey("Then the category flips and the tax drops", func() {
				So(err, ShouldBeNil)
				So(res.Before.Result.Category, ShouldEqual, model.CategoryAnexoV)
				So(res.After.Result.Category, ShouldEqual, model.CategoryAnexoIII)
				So(res.Delta.CategoryChanged, ShouldBeTrue)
				So(res.Delta.CrossedBoundary, ShouldBeTrue)
				So(res.Delta.MonthlyTax, ShouldBeLessThan, 0)
			})

			Convey("Then the caller's snapshot is untouched", func() {
				snap := baseSnapshot()
				_, err := engine.Simulate(ctx, snap, model.ScenarioRaiseProLabore,
					scenario.Params{Amount: 50_000})
				So(err, ShouldBeNil)
				So(snap.Payroll12, ShouldEqual, 60_000)
			})
		})

		Convey("When the target is below the current compensation", func() {
			snap := baseSnapshot()
			snap.ProLabore12 = 40_000
			res, err := engine.Simulate(ctx, snap, model.ScenarioRaiseProLabore,
				scenario.Params{Amount: 10_000})

			Convey("Then the compensation and payroll both come down", func() {
				So(err, ShouldBeNil)
				So(res.After.Snapshot.ProLabore12, ShouldEqual, 10_000)
				So(res.After.Snapshot.Payroll12, ShouldEqual, 30_000)
			})
		})

		Convey("When the target compensation is not positive", func() {
			_, err := engine.Simulate(ctx, baseSnapshot(), model.ScenarioRaiseProLabore,
				scenario.Params{Amount: 0})

			Convey("Then the parameter is rejected", func() {
				So(err, ShouldWrap, scenario.ErrInvalidParameter)
			})
		})
	})
}

func TestRaiseProLaboreRoundTrip(t *testing.T) {
	Convey("Given a profile with existing owner compensation", t, func() {
		engine := newEngine(t)
		ctx := context.Background()
		snap := baseSnapshot()
		snap.ProLabore12 = 40_000

		Convey("When raising to a target and then back to the original", func() {
			up, err := engine.Simulate(ctx, snap, model.ScenarioRaiseProLabore,
				scenario.Params{Amount: 120_000})
			So(err, ShouldBeNil)
			So(up.After.Result.Category, ShouldEqual, model.CategoryAnexoIII)

			down, err := engine.Simulate(ctx, up.After.Snapshot, model.ScenarioRaiseProLabore,
				scenario.Params{Amount: snap.ProLabore12})

			Convey("Then the final state matches the original before state", func() {
				So(err, ShouldBeNil)
				So(down.After.Snapshot.ProLabore12, ShouldEqual, snap.ProLabore12)
				So(down.After.Snapshot.Payroll12, ShouldAlmostEqual, snap.Payroll12, 1e-9)
				So(down.After.Result.Category, ShouldEqual, up.Before.Result.Category)
				So(down.After.Result.MonthlyTax, ShouldAlmostEqual, up.Before.Result.MonthlyTax, 1e-9)
				So(down.After.Result.OptimizedMonthlyTax,
					ShouldAlmostEqual, up.Before.Result.OptimizedMonthlyTax, 1e-9)
			})
		})
	})
}

func TestChangeActivity(t *testing.T) {
	Convey("Given the base service profile", t, func() {
		engine := newEngine(t)

		Convey("When switching to a prohibited activity", func() {
			res, err := engine.Simulate(context.Background(), baseSnapshot(),
				model.ScenarioChangeActivity, scenario.Params{ActivityCode: "6422-1/00"})

			Convey("Then the after state is terminal and the boundary flag is set", func() {
				So(err, ShouldBeNil)
				So(res.After.Result.Prohibited, ShouldBeTrue)
				So(res.Delta.CrossedBoundary, ShouldBeTrue)
			})
		})
	})
}

func TestReduceRevenue(t *testing.T) {
	Convey("Given the base service profile", t, func() {
		engine := newEngine(t)
		ctx := context.Background()

		Convey("When reducing monthly revenue into a lower tier", func() {
			res, err := engine.Simulate(ctx, baseSnapshot(), model.ScenarioReduceRevenue,
				scenario.Params{Amount: 14_000})

			Convey("Then the tier changes and both revenue figures follow", func() {
				So(err, ShouldBeNil)
				So(res.After.Result.AnnualRevenue, ShouldEqual, 168_000)
				So(res.Delta.TierChanged, ShouldBeTrue)
			})
		})

		Convey("When the new revenue is not below the current one", func() {
			_, err := engine.Simulate(ctx, baseSnapshot(), model.ScenarioReduceRevenue,
				scenario.Params{Amount: 30_000})

			Convey("Then the parameter is rejected", func() {
				So(err, ShouldWrap, scenario.ErrInvalidParameter)
			})
		})
	})
}

func TestDeclareExports(t *testing.T) {
	Convey("Given the base service profile", t, func() {
		engine := newEngine(t)

		Convey("When declaring part of the revenue as exports", func() {
			res, err := engine.Simulate(context.Background(), baseSnapshot(),
				model.ScenarioDeclareExports, scenario.Params{Amount: 10_000})

			Convey("Then the optimized tax drops without a category change", func() {
				So(err, ShouldBeNil)
				So(res.Delta.MonthlyTax, ShouldBeLessThan, 0)
				So(res.Delta.CategoryChanged, ShouldBeFalse)
			})
		})
	})
}

func TestSplitActivities(t *testing.T) {
	Convey("Given a profile with a secondary activity", t, func() {
		engine := newEngine(t)
		snap := baseSnapshot()
		snap.SecondaryActivities = []model.SecondaryActivity{
			{Code: "4711-3/01", MonthlyRevenue: 8_000},
		}

		Convey("When splitting it into a separate entity", func() {
			res, err := engine.Simulate(context.Background(), snap,
				model.ScenarioSplitActivities, scenario.Params{Codes: []string{"4711-3/01"}})

			Convey("Then the remaining revenue shrinks accordingly", func() {
				So(err, ShouldBeNil)
				So(res.After.Result.AnnualRevenue, ShouldEqual, 360_000-8_000*12)
			})
		})

		Convey("When naming a code the profile does not carry", func() {
			_, err := engine.Simulate(context.Background(), snap,
				model.ScenarioSplitActivities, scenario.Params{Codes: []string{"0000-0/00"}})

			Convey("Then the parameter is rejected", func() {
				So(err, ShouldWrap, scenario.ErrInvalidParameter)
			})
		})
	})
}

func TestAddPartners(t *testing.T) {
	Convey("Given the base service profile with one owner", t, func() {
		engine := newEngine(t)
		snap := baseSnapshot()
		snap.Partners = []model.Partner{{Name: "a", Share: 1}}

		Convey("When adding two partners without a compensation figure", func() {
			res, err := engine.Simulate(context.Background(), snap,
				model.ScenarioAddPartners, scenario.Params{Partners: 2})

			Convey("Then the compensation floor raises the labor ratio", func() {
				So(err, ShouldBeNil)
				So(res.After.Metrics.LaborRatio, ShouldBeGreaterThan, res.Before.Metrics.LaborRatio)
			})
		})

		Convey("When adding two partners at 30,000 each", func() {
			res, err := engine.Simulate(context.Background(), snap,
				model.ScenarioAddPartners, scenario.Params{Partners: 2, Amount: 30_000})

			Convey("Then the per-partner compensation drives the payroll", func() {
				So(err, ShouldBeNil)
				So(res.After.Snapshot.Payroll12, ShouldEqual, 120_000) // ratio 0.3333
				So(res.After.Result.Category, ShouldEqual, model.CategoryAnexoIII)
			})
		})
	})
}

func TestUnknownScenario(t *testing.T) {
	Convey("Given the base service profile", t, func() {
		engine := newEngine(t)

		Convey("When simulating an unknown type", func() {
			_, err := engine.Simulate(context.Background(), baseSnapshot(),
				model.ScenarioType("teleport"), scenario.Params{})

			Convey("Then the type is rejected", func() {
				So(err, ShouldWrap, scenario.ErrUnknownScenario)
			})
		})
	})
}

func TestSimulateAll(t *testing.T) {
	Convey("Given a batch of scenarios", t, func() {
		engine := newEngine(t)
		reqs := []scenario.Request{
			{Type: model.ScenarioRaiseProLabore, Params: scenario.Params{Amount: 50_000}},
			{Type: model.ScenarioDeclareExports, Params: scenario.Params{Amount: 10_000}},
		}

		Convey("When running them concurrently", func() {
			results, err := engine.SimulateAll(context.Background(), baseSnapshot(), reqs)

			Convey("Then results come back in input order", func() {
				So(err, ShouldBeNil)
				So(len(results), ShouldEqual, 2)
				So(results[0].Type, ShouldEqual, model.ScenarioRaiseProLabore)
				So(results[1].Type, ShouldEqual, model.ScenarioDeclareExports)
			})
		})

		Convey("When one request is invalid", func() {
			bad := append(reqs, scenario.Request{Type: model.ScenarioRaiseProLabore})
			_, err := engine.SimulateAll(context.Background(), baseSnapshot(), bad)

			Convey("Then the batch fails with the underlying cause", func() {
				So(err, ShouldWrap, scenario.ErrInvalidParameter)
			})
		})
	})
}
