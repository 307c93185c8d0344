package diagnostic_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tributolabs/tributo/internal/adapters/rules"
	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/diagnostic"
	"github.com/tributolabs/tributo/internal/domain/model"
)

func fixtures(t *testing.T) (*calc.Engine, *diagnostic.Engine) {
	t.Helper()
	provider, err := rules.NewDefaultProvider()
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	return calc.New(provider), diagnostic.New(provider, nil)
}

func TestFatorRMigrationFinding(t *testing.T) {
	Convey("Given a service company just below the labor-ratio threshold", t, func() {
		engine, diag := fixtures(t)
		snap := model.Snapshot{
			ActivityCode:   "6201-5/01",
			MonthlyRevenue: 50_000,
			AnnualRevenue:  600_000,
			Payroll12:      150_000, // ratio 0.25
		}
		result, err := engine.Compute(context.Background(), snap)
		So(err, ShouldBeNil)
		So(result.Category, ShouldEqual, model.CategoryAnexoV)

		Convey("When diagnosing", func() {
			d := diag.Diagnose(context.Background(), result, snap)

			Convey("Then the migration opportunity is present and quantified", func() {
				f := findByID(d.Opportunities, "fator_r_migration")
				So(f, ShouldNotBeNil)
				So(f.AnnualSavings, ShouldBeGreaterThan, 0)
				So(f.Rank, ShouldBeGreaterThan, 0)
			})

			Convey("Then the volatile-zone warning fires as well", func() {
				So(findByID(d.All(), "fator_r_volatile_zone"), ShouldNotBeNil)
			})

			Convey("Then opportunities are ranked by savings, descending", func() {
				for i := 1; i < len(d.Opportunities); i++ {
					So(d.Opportunities[i-1].AnnualSavings,
						ShouldBeGreaterThanOrEqualTo, d.Opportunities[i].AnnualSavings)
					So(d.Opportunities[i].Rank, ShouldEqual, i+1)
				}
			})

			Convey("Then the totals add up", func() {
				var sum float64
				for _, f := range d.Opportunities {
					sum += f.AnnualSavings
				}
				So(d.TotalAnnualSavings, ShouldAlmostEqual, sum, 1e-6)
			})
		})
	})
}

func TestVolatileZoneLowerBound(t *testing.T) {
	Convey("Given the same company with the ratio just under the volatile zone", t, func() {
		engine, diag := fixtures(t)
		snap := model.Snapshot{
			ActivityCode:   "6201-5/01",
			MonthlyRevenue: 50_000,
			AnnualRevenue:  600_000,
			Payroll12:      144_000, // ratio 0.24
		}
		result, err := engine.Compute(context.Background(), snap)
		So(err, ShouldBeNil)
		So(result.Category, ShouldEqual, model.CategoryAnexoV)

		Convey("When diagnosing", func() {
			d := diag.Diagnose(context.Background(), result, snap)

			Convey("Then the migration opportunity fires with positive savings", func() {
				f := findByID(d.Opportunities, "fator_r_migration")
				So(f, ShouldNotBeNil)
				So(f.AnnualSavings, ShouldBeGreaterThan, 0)
			})

			Convey("Then the volatile-zone warning stays silent below 0.25", func() {
				So(findByID(d.All(), "fator_r_volatile_zone"), ShouldBeNil)
			})
		})
	})
}

func TestSinglePhaseConfirmation(t *testing.T) {
	Convey("Given a commerce profile with single-phase revenue", t, func() {
		engine, diag := fixtures(t)
		snap := model.Snapshot{
			ActivityCode:   "4711-3/01",
			MonthlyRevenue: 30_000,
			AnnualRevenue:  360_000,
		}
		ctx := context.Background()

		Convey("When every declared product code is in the exemption table", func() {
			snap.Special = model.SpecialRevenue{
				SinglePhase:      5_000,
				SinglePhaseCodes: []string{"2202-1/00"},
			}
			result, err := engine.Compute(ctx, snap)
			So(err, ShouldBeNil)
			d := diag.Diagnose(ctx, result, snap)

			Convey("Then the segregation figure is precise", func() {
				f := findByID(d.Opportunities, "single_phase_segregation")
				So(f, ShouldNotBeNil)
				So(f.Estimate, ShouldBeFalse)
				So(f.MonthlySavings, ShouldBeGreaterThan, 0)
			})
		})

		Convey("When a declared code is not in the exemption table", func() {
			snap.Special = model.SpecialRevenue{
				SinglePhase:      5_000,
				SinglePhaseCodes: []string{"0101-0/00"},
			}
			result, err := engine.Compute(ctx, snap)
			So(err, ShouldBeNil)
			d := diag.Diagnose(ctx, result, snap)

			Convey("Then the figure is marked an estimate", func() {
				f := findByID(d.Opportunities, "single_phase_segregation")
				So(f, ShouldNotBeNil)
				So(f.Estimate, ShouldBeTrue)
			})
		})

		Convey("When no product codes are declared at all", func() {
			snap.Special = model.SpecialRevenue{SinglePhase: 5_000}
			result, err := engine.Compute(ctx, snap)
			So(err, ShouldBeNil)
			d := diag.Diagnose(ctx, result, snap)

			Convey("Then the figure is also an estimate", func() {
				f := findByID(d.Opportunities, "single_phase_segregation")
				So(f, ShouldNotBeNil)
				So(f.Estimate, ShouldBeTrue)
			})
		})
	})
}

func TestComplianceAlerts(t *testing.T) {
	Convey("Given a profile with pending debts and a corporate partner", t, func() {
		engine, diag := fixtures(t)
		snap := model.Snapshot{
			ActivityCode:   "4711-3/01",
			MonthlyRevenue: 20_000,
			AnnualRevenue:  240_000,
			Flags:          model.Flags{PendingDebts: true, CorporatePartner: true},
		}
		result, err := engine.Compute(context.Background(), snap)
		So(err, ShouldBeNil)

		Convey("When diagnosing", func() {
			d := diag.Diagnose(context.Background(), result, snap)

			Convey("Then both alerts are urgent", func() {
				debts := findByID(d.Alerts, "overdue_debts")
				partner := findByID(d.Alerts, "corporate_partner")
				So(debts, ShouldNotBeNil)
				So(debts.Urgent, ShouldBeTrue)
				So(partner, ShouldNotBeNil)
				So(partner.Urgent, ShouldBeTrue)
			})
		})
	})
}

func TestMEIEligibility(t *testing.T) {
	Convey("Given a tiny commerce profile", t, func() {
		engine, diag := fixtures(t)
		snap := model.Snapshot{
			ActivityCode:   "4711-3/01",
			MonthlyRevenue: 5_000,
			AnnualRevenue:  60_000,
		}
		result, err := engine.Compute(context.Background(), snap)
		So(err, ShouldBeNil)

		Convey("When diagnosing", func() {
			d := diag.Diagnose(context.Background(), result, snap)

			Convey("Then the small-entity note appears as informational", func() {
				f := findByID(d.Informational, "mei_eligible")
				So(f, ShouldNotBeNil)
				So(f.Severity, ShouldEqual, model.SeverityInfo)
			})
		})
	})
}

func TestDetectorIsolation(t *testing.T) {
	Convey("Given a battery with one panicking and one failing detector", t, func() {
		provider, err := rules.NewDefaultProvider()
		So(err, ShouldBeNil)

		diag := diagnostic.New(provider, nil, diagnostic.WithDetectors([]diagnostic.Detector{
			{ID: "panics", Run: func(context.Context, diagnostic.Input) (*model.Finding, error) {
				panic("boom")
			}},
			{ID: "fails", Run: func(context.Context, diagnostic.Input) (*model.Finding, error) {
				return nil, errors.New("no data")
			}},
			{ID: "works", Run: func(context.Context, diagnostic.Input) (*model.Finding, error) {
				return &model.Finding{Title: "ok", Severity: model.SeverityOpportunity, AnnualSavings: 1}, nil
			}},
		}))

		Convey("When diagnosing", func() {
			d := diag.Diagnose(context.Background(), model.TaxResult{}, model.Snapshot{})

			Convey("Then the healthy detector still contributes", func() {
				So(len(d.Opportunities), ShouldEqual, 1)
				So(d.Opportunities[0].ID, ShouldEqual, "works")
			})
		})
	})
}

func findByID(findings []model.Finding, id string) *model.Finding {
	for i := range findings {
		if findings[i].ID == id {
			return &findings[i]
		}
	}
	return nil
}
