package rules_test

import (
	"context"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tributolabs/tributo/internal/adapters/rules"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/ports"
)

func TestDefaultPack(t *testing.T) {
	Convey("Given the embedded default rule pack", t, func() {
		pack, err := rules.DefaultPack()

		Convey("Then it loads and validates", func() {
			So(err, ShouldBeNil)
			So(pack, ShouldNotBeNil)
			So(pack.Version, ShouldNotBeEmpty)
		})

		Convey("Then every category carries six tiers with shares summing to one", func() {
			So(err, ShouldBeNil)
			for _, table := range pack.Categories {
				So(len(table.Tiers), ShouldEqual, 6)
				for idx, shares := range table.Shares {
					var sum float64
					for _, frac := range shares {
						sum += frac
					}
					So(idx, ShouldBeBetweenOrEqual, 1, 6)
					So(math.Abs(sum-1.0), ShouldBeLessThan, 1e-6)
				}
			}
		})
	})
}

func TestResolveCategory(t *testing.T) {
	Convey("Given a provider over the default pack", t, func() {
		provider, err := rules.NewDefaultProvider()
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When resolving a commerce code", func() {
			a, err := provider.ResolveCategory(ctx, "4711-3/01")

			Convey("Then it maps straight to the commerce category", func() {
				So(err, ShouldBeNil)
				So(a.Kind, ShouldEqual, ports.AssignmentFixed)
				So(a.Category, ShouldEqual, model.CategoryAnexoI)
			})
		})

		Convey("When resolving a labor-ratio-dependent service code", func() {
			a, err := provider.ResolveCategory(ctx, "6201-5/01")

			Convey("Then both switch outcomes are set", func() {
				So(err, ShouldBeNil)
				So(a.Kind, ShouldEqual, ports.AssignmentFatorR)
				So(a.Above, ShouldEqual, model.CategoryAnexoIII)
				So(a.Below, ShouldEqual, model.CategoryAnexoV)
			})
		})

		Convey("When resolving a financial-sector code", func() {
			a, err := provider.ResolveCategory(ctx, "6422-1/00")

			Convey("Then the activity is prohibited with a reason", func() {
				So(err, ShouldBeNil)
				So(a.Kind, ShouldEqual, ports.AssignmentProhibited)
				So(a.Reason, ShouldNotBeEmpty)
			})
		})

		Convey("When resolving a code barred by an expression guard", func() {
			a, err := provider.ResolveCategory(ctx, "6550-2/00")

			Convey("Then the guard fires even without a prefix match", func() {
				So(err, ShouldBeNil)
				So(a.Kind, ShouldEqual, ports.AssignmentProhibited)
			})
		})

		Convey("When resolving an unmapped code", func() {
			_, err := provider.ResolveCategory(ctx, "9999-9/99")

			Convey("Then the provider errors explicitly", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestProviderTables(t *testing.T) {
	Convey("Given a provider over the default pack", t, func() {
		provider, err := rules.NewDefaultProvider()
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When fetching a bracket table", func() {
			tiers, err := provider.BracketTable(ctx, model.CategoryAnexoIII)

			Convey("Then the six tiers come back in ascending order", func() {
				So(err, ShouldBeNil)
				So(len(tiers), ShouldEqual, 6)
				So(tiers[0].NominalRate, ShouldEqual, 0.060)
				So(tiers[5].RevenueCeiling, ShouldEqual, 4_800_000)
				for i := 1; i < len(tiers); i++ {
					So(tiers[i].RevenueCeiling, ShouldBeGreaterThan, tiers[i-1].RevenueCeiling)
				}
			})
		})

		Convey("When fetching shares for an unknown category", func() {
			_, err := provider.DecompositionShares(ctx, model.Category("anexo_x"), 1)

			Convey("Then the provider errors", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When fetching the regime limits", func() {
			limits, err := provider.Limits(ctx)

			Convey("Then the thresholds match the published values", func() {
				So(err, ShouldBeNil)
				So(limits.Sublimit, ShouldEqual, 3_600_000)
				So(limits.MaxAnnualRevenue, ShouldEqual, 4_800_000)
				So(limits.MEIRevenueCeiling, ShouldEqual, 81_000)
			})
		})

		Convey("When checking a single-phase product code", func() {
			cat, err := provider.SingleTaxExemptCategory(ctx, "2202-1/00")

			Convey("Then it reports the commerce category", func() {
				So(err, ShouldBeNil)
				So(cat, ShouldEqual, model.CategoryAnexoI)
			})
		})

		Convey("When checking a regular product code", func() {
			cat, err := provider.SingleTaxExemptCategory(ctx, "0101-0/00")

			Convey("Then it reports no category", func() {
				So(err, ShouldBeNil)
				So(cat, ShouldEqual, model.CategoryNone)
			})
		})
	})
}

func TestLoadPackValidation(t *testing.T) {
	Convey("Given a pack with a broken share table", t, func() {
		broken := []byte(`
version: "test"
limits: {sublimit: 100, max_annual_revenue: 200, mei_revenue_ceiling: 10, mei_annual_fee: 1}
categories:
  anexo_i:
    tiers:
      - {index: 1, revenue_ceiling: 10, nominal_rate: 0.1, deduction: 0}
      - {index: 2, revenue_ceiling: 20, nominal_rate: 0.1, deduction: 0}
      - {index: 3, revenue_ceiling: 30, nominal_rate: 0.1, deduction: 0}
      - {index: 4, revenue_ceiling: 40, nominal_rate: 0.1, deduction: 0}
      - {index: 5, revenue_ceiling: 50, nominal_rate: 0.1, deduction: 0}
      - {index: 6, revenue_ceiling: 200, nominal_rate: 0.1, deduction: 0}
    shares:
      1: {irpj: 0.5, csll: 0.4}
`)

		Convey("When loading it", func() {
			_, err := rules.LoadPack(broken)

			Convey("Then validation rejects the pack", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
