package diagnostic

import (
	"context"
	"fmt"

	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/ports"
)

// Documented fallback and cost-model constants. Savings computed from these
// instead of the provider's share table are marked as estimates.
const (
	defaultEstimateCombinedShare = 0.155
	defaultMinimumWage12         = 16_944

	// addedCompensationCostRate approximates the social contribution and
	// income tax carried by one additional unit of owner compensation.
	addedCompensationCostRate = 0.275

	// ownerINSSRate is the contribution retained on owner compensation.
	ownerINSSRate = 0.11

	monthsPerYear = 12
)

func (e *Engine) defaultBattery() []Detector {
	return []Detector{
		{ID: "fator_r_migration", Run: e.detectFatorRMigration},
		{ID: "fator_r_volatile_zone", Run: detectVolatileZone},
		{ID: "single_phase_segregation", Run: e.detectSinglePhase},
		{ID: "export_segregation", Run: segregationDetector("export", "export revenue",
			"LC 123/2006, art. 18, §14")},
		{ID: "tax_substitution_segregation", Run: segregationDetector("tax_substitution", "tax-substitution revenue",
			"LC 123/2006, art. 18, §4º-A, I")},
		{ID: "movable_rental_segregation", Run: segregationDetector("movable_rental", "movable-asset rental revenue",
			"LC 116/2003, lista anexa (locação de bens móveis)")},
		{ID: "withheld_at_source", Run: detectWithheldAtSource},
		{ID: "local_rate_verification", Run: detectLocalRate},
		{ID: "over_sublimit", Run: detectOverSublimit},
		{ID: "exceeded_max", Run: detectExceededMax},
		{ID: "mei_eligible", Run: detectMEIEligible},
		{ID: "pro_labore_rebalance", Run: detectProLaboreRebalance},
		{ID: "cash_basis", Run: detectCashBasis},
		{ID: "mixed_activity_segregation", Run: e.detectMixedActivities},
		{ID: "payroll_outside_unified", Run: detectPayrollOutsideUnified},
		{ID: "overdue_debts", Run: detectOverdueDebts},
		{ID: "corporate_partner", Run: detectCorporatePartner},
		{ID: "foreign_partner", Run: detectForeignPartner},
		{ID: "labor_outsourcing", Run: detectLaborOutsourcing},
		{ID: "regional_incentive", Run: detectRegionalIncentive},
		{ID: "pending_legislation", Run: detectPendingLegislation},
	}
}

// detectFatorRMigration quantifies the exact payroll increase needed to
// cross the labor-ratio threshold, net of the added compensation cost.
func (e *Engine) detectFatorRMigration(ctx context.Context, in Input) (*model.Finding, error) {
	m := in.Result.Metrics
	if in.Result.Terminal() || !m.FatorRDependent || !m.LaborRatioDefined {
		return nil, nil
	}
	if m.LaborRatio >= in.FatorRThreshold {
		return nil, nil
	}

	assignment, err := e.rules.ResolveCategory(ctx, in.Snap.ActivityCode)
	if err != nil {
		return nil, err
	}
	if assignment.Kind != ports.AssignmentFatorR {
		return nil, nil
	}
	tiers, err := e.rules.BracketTable(ctx, assignment.Above)
	if err != nil {
		return nil, err
	}
	tier, ok := tierFor(tiers, in.Snap.AnnualRevenue)
	if !ok {
		return nil, nil
	}

	altRate := calc.EffectiveRate(in.Snap.AnnualRevenue, tier)
	altMonthly := in.Snap.MonthlyRevenue * altRate
	grossAnnual := (in.Result.MonthlyTax - altMonthly) * monthsPerYear

	neededPayroll := in.FatorRThreshold*in.Snap.AnnualRevenue - in.Snap.Payroll12
	cost := neededPayroll * addedCompensationCostRate
	net := grossAnnual - cost
	if net <= 0 {
		return nil, nil
	}

	return &model.Finding{
		Title: "Migrate to the labor-ratio-favored bracket table",
		Description: fmt.Sprintf(
			"Raising 12-month compensation by %.2f lifts the labor ratio from %.4f to %.2f, switching the category from %s to %s. Gross annual saving %.2f, added compensation cost %.2f.",
			neededPayroll, m.LaborRatio, in.FatorRThreshold, in.Result.Category, assignment.Above, grossAnnual, cost),
		Severity:       model.SeverityOpportunity,
		AnnualSavings:  net,
		MonthlySavings: net / monthsPerYear,
		Difficulty:     model.DifficultyMedium,
		Window:         model.WindowShortTerm,
		LegalBasis:     "LC 123/2006, art. 18, §5º-J e §5º-M",
	}, nil
}

// detectVolatileZone flags a labor ratio close enough to the threshold that
// small input swings can flip the category.
func detectVolatileZone(_ context.Context, in Input) (*model.Finding, error) {
	m := in.Result.Metrics
	if !m.LaborRatioDefined || !m.FatorRDependent {
		return nil, nil
	}
	if m.LaborRatio < in.VolatileZoneLow || m.LaborRatio >= in.VolatileZoneHigh {
		return nil, nil
	}
	return &model.Finding{
		Title: "Labor ratio inside the volatile zone",
		Description: fmt.Sprintf(
			"The labor ratio %.4f sits in [%.2f, %.2f); a small revenue or payroll swing can flip the category. Monitor it monthly.",
			m.LaborRatio, in.VolatileZoneLow, in.VolatileZoneHigh),
		Severity:   model.SeverityAlert,
		Difficulty: model.DifficultyEasy,
		Window:     model.WindowOngoing,
		LegalBasis: "LC 123/2006, art. 18, §5º-J",
	}, nil
}

// detectSinglePhase quantifies segregating single-phase taxed goods. Declared
// product codes are confirmed against the provider's exemption table; the
// figure stays an estimate until every declared code is confirmed.
func (e *Engine) detectSinglePhase(ctx context.Context, in Input) (*model.Finding, error) {
	amount := in.Snap.Special.SinglePhase
	if amount <= 0 || in.Result.Terminal() {
		return nil, nil
	}

	codes := in.Snap.Special.SinglePhaseCodes
	confirmed := len(codes) > 0
	for _, code := range codes {
		category, err := e.rules.SingleTaxExemptCategory(ctx, code)
		if err != nil {
			return nil, err
		}
		if category == model.CategoryNone {
			confirmed = false
			break
		}
	}

	estimate := !confirmed
	var monthly float64
	if len(in.Result.Shares) > 0 {
		monthly = calc.SegregationSaving(amount, in.Result.EffectiveRate, in.Result.Shares, "single_phase")
	} else {
		monthly = amount * in.Result.EffectiveRate * in.EstimateCombinedShare
		estimate = true
	}
	if monthly <= 0 {
		return nil, nil
	}

	return &model.Finding{
		Title: "Segregate single-phase taxed goods in the filing",
		Description: fmt.Sprintf(
			"Declaring %.2f of single-phase taxed goods separately removes the sub-taxes already collected upstream, saving %.2f per month.",
			amount, monthly),
		Severity:       model.SeverityOpportunity,
		AnnualSavings:  monthly * monthsPerYear,
		MonthlySavings: monthly,
		Difficulty:     model.DifficultyEasy,
		Window:         model.WindowImmediate,
		LegalBasis:     "Lei 10.147/2000; LC 123/2006, art. 18, §4º-A, I",
		Estimate:       estimate,
	}, nil
}

// segregationDetector builds one detector per segregable revenue kind. The
// saving comes from the decomposition shares; the fallback constant is used
// only when the share table is unavailable, and marks the figure an estimate.
func segregationDetector(kind, label, legalBasis string) DetectorFunc {
	return func(_ context.Context, in Input) (*model.Finding, error) {
		amount := specialAmount(in.Snap.Special, kind)
		if amount <= 0 || in.Result.Terminal() {
			return nil, nil
		}

		var monthly float64
		estimate := false
		if len(in.Result.Shares) > 0 {
			monthly = calc.SegregationSaving(amount, in.Result.EffectiveRate, in.Result.Shares, kind)
		} else {
			monthly = amount * in.Result.EffectiveRate * in.EstimateCombinedShare
			estimate = true
		}
		if monthly <= 0 {
			return nil, nil
		}

		return &model.Finding{
			Title: fmt.Sprintf("Segregate %s in the filing", label),
			Description: fmt.Sprintf(
				"Declaring %.2f of %s separately removes the sub-taxes that do not apply to it, saving %.2f per month.",
				amount, label, monthly),
			Severity:       model.SeverityOpportunity,
			AnnualSavings:  monthly * monthsPerYear,
			MonthlySavings: monthly,
			Difficulty:     model.DifficultyEasy,
			Window:         model.WindowImmediate,
			LegalBasis:     legalBasis,
			Estimate:       estimate,
		}, nil
	}
}

func specialAmount(s model.SpecialRevenue, kind string) float64 {
	switch kind {
	case "single_phase":
		return s.SinglePhase
	case "export":
		return s.Export
	case "tax_substitution":
		return s.TaxSubstitution
	case "movable_rental":
		return s.MovableRental
	default:
		return 0
	}
}

// detectWithheldAtSource confirms the direct deduction of tax withheld by
// the payer, which applies 1:1 rather than through the share table.
func detectWithheldAtSource(_ context.Context, in Input) (*model.Finding, error) {
	amount := in.Snap.Special.WithheldAtSource
	if amount <= 0 || in.Result.Terminal() {
		return nil, nil
	}
	return &model.Finding{
		Title: "Deduct tax withheld at source",
		Description: fmt.Sprintf(
			"Tax of %.2f withheld by payers deducts 1:1 from the unified payment. Keep the withholding receipts with the filing.",
			amount),
		Severity:       model.SeverityOpportunity,
		AnnualSavings:  amount * monthsPerYear,
		MonthlySavings: amount,
		Difficulty:     model.DifficultyEasy,
		Window:         model.WindowImmediate,
		LegalBasis:     "LC 123/2006, art. 21, §4º",
	}, nil
}

// detectLocalRate flags an unconfirmed locality rate sitting at the legal
// ceiling.
func detectLocalRate(_ context.Context, in Input) (*model.Finding, error) {
	if in.RateBounds.Ceiling <= 0 || in.LocalRate.Rate <= 0 {
		return nil, nil
	}
	if in.LocalRate.Confirmed || in.LocalRate.Rate < in.RateBounds.Ceiling {
		return nil, nil
	}
	return &model.Finding{
		Title: "Confirm the local service-tax rate",
		Description: fmt.Sprintf(
			"The locality rate is assumed at the legal ceiling %.2f%% without confirmation; the legal floor is %.2f%%. Verify the municipal statute before filing.",
			in.RateBounds.Ceiling*100, in.RateBounds.Floor*100),
		Severity:   model.SeverityAlert,
		Difficulty: model.DifficultyEasy,
		Window:     model.WindowShortTerm,
		LegalBasis: "LC 116/2003, art. 8º-A; ADCT, art. 88",
	}, nil
}

// detectOverSublimit warns that the state consumption taxes leave the
// unified payment above the sublimit.
func detectOverSublimit(_ context.Context, in Input) (*model.Finding, error) {
	m := in.Result.Metrics
	if !m.OverSublimit || m.ExceededMax || in.Limits.Sublimit <= 0 {
		return nil, nil
	}
	return &model.Finding{
		Title: "Annual revenue crossed the regional sublimit",
		Description: fmt.Sprintf(
			"12-month revenue %.2f exceeds the sublimit %.2f: state and municipal consumption taxes must be paid outside the unified document from the crossing month on.",
			in.Snap.AnnualRevenue, in.Limits.Sublimit),
		Severity:   model.SeverityAlert,
		Difficulty: model.DifficultyHard,
		Window:     model.WindowImmediate,
		LegalBasis: "LC 123/2006, arts. 19 e 20",
	}, nil
}

// detectExceededMax raises the mandatory alert for revenue above the regime
// ceiling.
func detectExceededMax(_ context.Context, in Input) (*model.Finding, error) {
	if !in.Result.ExceededMax {
		return nil, nil
	}
	return &model.Finding{
		Title: "Annual revenue exceeds the regime ceiling",
		Description: fmt.Sprintf(
			"12-month revenue %.2f is above the %.2f ceiling; the company must migrate to another regime. No tier or effective rate applies.",
			in.Snap.AnnualRevenue, in.Limits.MaxAnnualRevenue),
		Severity:   model.SeverityAlert,
		Urgent:     true,
		Difficulty: model.DifficultyHard,
		Window:     model.WindowImmediate,
		LegalBasis: "LC 123/2006, art. 3º, II",
	}, nil
}

// detectMEIEligible notes eligibility for the fixed-fee small-entity regime.
func detectMEIEligible(_ context.Context, in Input) (*model.Finding, error) {
	if in.Limits.MEIRevenueCeiling <= 0 || in.Result.Terminal() {
		return nil, nil
	}
	if in.Snap.AnnualRevenue <= 0 || in.Snap.AnnualRevenue > in.Limits.MEIRevenueCeiling {
		return nil, nil
	}
	if len(in.Snap.Partners) > 1 || in.Snap.Flags.CorporatePartner {
		return nil, nil
	}
	saving := in.Result.MonthlyTax*monthsPerYear - in.Limits.MEIAnnualFee
	if saving < 0 {
		saving = 0
	}
	return &model.Finding{
		Title: "Eligible for the fixed-fee micro-entrepreneur regime",
		Description: fmt.Sprintf(
			"Revenue below %.2f with a single owner qualifies for the fixed-fee regime; the fee replaces the %.2f currently due per year.",
			in.Limits.MEIRevenueCeiling, in.Result.MonthlyTax*monthsPerYear),
		Severity:      model.SeverityInfo,
		AnnualSavings: saving,
		Difficulty:    model.DifficultyMedium,
		Window:        model.WindowFiscalYear,
		LegalBasis:    "LC 123/2006, art. 18-A",
	}, nil
}

// detectProLaboreRebalance quantifies shifting owner compensation above the
// legal minimum into exempt profit distribution.
func detectProLaboreRebalance(_ context.Context, in Input) (*model.Finding, error) {
	if in.Result.Terminal() || in.Snap.ProLabore12 <= 0 {
		return nil, nil
	}
	partners := len(in.Snap.Partners)
	if partners == 0 {
		partners = 1
	}
	floor := in.MinimumWage12 * float64(partners)
	excess := in.Snap.ProLabore12 - floor
	if excess <= 0 {
		return nil, nil
	}

	margin := in.Params.PresumedMarginIRPJ[in.Result.Category.Class()]
	if margin <= 0 {
		return nil, nil
	}
	distributable := in.Snap.AnnualRevenue * margin
	if distributable <= excess {
		return nil, nil
	}

	saving := excess * ownerINSSRate
	return &model.Finding{
		Title: "Rebalance owner compensation toward exempt profit",
		Description: fmt.Sprintf(
			"Compensation exceeds the legal minimum by %.2f across %d partner(s) while %.2f of presumed profit remains distributable tax-free. Shifting the excess saves %.2f of contributions per year.",
			excess, partners, distributable, saving),
		Severity:       model.SeverityOpportunity,
		AnnualSavings:  saving,
		MonthlySavings: saving / monthsPerYear,
		Difficulty:     model.DifficultyMedium,
		Window:         model.WindowShortTerm,
		LegalBasis:     "Lei 8.212/1991, art. 21; LC 123/2006, art. 14",
	}, nil
}

// detectCashBasis suggests cash-basis accounting when it is not in use.
func detectCashBasis(_ context.Context, in Input) (*model.Finding, error) {
	if in.Snap.Flags.CashBasis || in.Result.Terminal() {
		return nil, nil
	}
	return &model.Finding{
		Title: "Cash-basis accounting available",
		Description: "Electing the cash basis defers tax on revenue not yet received, improving cash flow when customers pay late. The election binds the whole fiscal year.",
		Severity:   model.SeverityInfo,
		Difficulty: model.DifficultyEasy,
		Window:     model.WindowFiscalYear,
		LegalBasis: "LC 123/2006, art. 18, §3º; Resolução CGSN 140/2018, art. 16",
	}, nil
}

// detectMixedActivities finds secondary activity codes that fall in a
// cheaper category than the one currently absorbing their revenue.
func (e *Engine) detectMixedActivities(ctx context.Context, in Input) (*model.Finding, error) {
	if in.Result.Terminal() || len(in.Snap.SecondaryActivities) == 0 {
		return nil, nil
	}

	var monthly float64
	var moved []string
	for _, act := range in.Snap.SecondaryActivities {
		if act.MonthlyRevenue <= 0 {
			continue
		}
		assignment, err := e.rules.ResolveCategory(ctx, act.Code)
		if err != nil || assignment.Kind == ports.AssignmentProhibited {
			continue
		}
		category := assignment.Category
		if assignment.Kind == ports.AssignmentFatorR {
			m := in.Result.Metrics
			if m.LaborRatioDefined && m.LaborRatio >= in.FatorRThreshold {
				category = assignment.Above
			} else {
				category = assignment.Below
			}
		}
		if category == in.Result.Category {
			continue
		}
		tiers, err := e.rules.BracketTable(ctx, category)
		if err != nil {
			continue
		}
		tier, ok := tierFor(tiers, in.Snap.AnnualRevenue)
		if !ok {
			continue
		}
		altRate := calc.EffectiveRate(in.Snap.AnnualRevenue, tier)
		if delta := act.MonthlyRevenue * (in.Result.EffectiveRate - altRate); delta > 0 {
			monthly += delta
			moved = append(moved, act.Code)
		}
	}
	if monthly <= 0 {
		return nil, nil
	}

	return &model.Finding{
		Title: "Segregate secondary activities into their own category",
		Description: fmt.Sprintf(
			"Filing the revenue of %d secondary activity code(s) %v under their own bracket tables saves %.2f per month.",
			len(moved), moved, monthly),
		Severity:       model.SeverityOpportunity,
		AnnualSavings:  monthly * monthsPerYear,
		MonthlySavings: monthly,
		Difficulty:     model.DifficultyMedium,
		Window:         model.WindowShortTerm,
		LegalBasis:     "LC 123/2006, art. 18, §4º",
	}, nil
}

// detectPayrollOutsideUnified warns about the employer payroll contribution
// carried outside the unified payment by the category that excludes it.
func detectPayrollOutsideUnified(_ context.Context, in Input) (*model.Finding, error) {
	if in.Result.Category != model.CategoryAnexoIV || in.Result.Terminal() {
		return nil, nil
	}
	cost := in.Snap.Payroll12 * in.Params.PayrollEmployerRate
	return &model.Finding{
		Title: "Employer payroll contribution due outside the unified payment",
		Description: fmt.Sprintf(
			"This category keeps the employer payroll contribution out of the unified document: roughly %.2f per year on the current payroll must be paid separately.",
			cost),
		Severity:   model.SeverityAlert,
		Difficulty: model.DifficultyEasy,
		Window:     model.WindowOngoing,
		LegalBasis: "LC 123/2006, art. 18, §5º-C",
	}, nil
}

// detectOverdueDebts raises the urgent exclusion-risk alert.
func detectOverdueDebts(_ context.Context, in Input) (*model.Finding, error) {
	if !in.Snap.Flags.PendingDebts {
		return nil, nil
	}
	return &model.Finding{
		Title: "Pending tax debts put the regime at risk",
		Description: "Unresolved federal or social-security debts are grounds for exclusion from the regime. Regularize or negotiate installments before the annual notice deadline.",
		Severity:   model.SeverityAlert,
		Urgent:     true,
		Difficulty: model.DifficultyHard,
		Window:     model.WindowImmediate,
		LegalBasis: "LC 123/2006, art. 17, V",
	}, nil
}

// detectCorporatePartner flags the corporate-partner eligibility bar.
func detectCorporatePartner(_ context.Context, in Input) (*model.Finding, error) {
	if !in.Snap.Flags.CorporatePartner {
		return nil, nil
	}
	return &model.Finding{
		Title: "Corporate partner bars the regime",
		Description: "A legal-entity partner disqualifies the company from the regime. Review the ownership structure before the next fiscal year.",
		Severity:   model.SeverityAlert,
		Urgent:     true,
		Difficulty: model.DifficultyHard,
		Window:     model.WindowFiscalYear,
		LegalBasis: "LC 123/2006, art. 3º, §4º, I",
	}, nil
}

// detectForeignPartner flags the foreign-domiciled-partner eligibility bar.
func detectForeignPartner(_ context.Context, in Input) (*model.Finding, error) {
	if !in.Snap.Flags.ForeignPartner {
		return nil, nil
	}
	return &model.Finding{
		Title: "Foreign-domiciled partner bars the regime",
		Description: "A partner domiciled abroad disqualifies the company from the regime. Review the ownership structure before the next fiscal year.",
		Severity:   model.SeverityAlert,
		Urgent:     true,
		Difficulty: model.DifficultyHard,
		Window:     model.WindowFiscalYear,
		LegalBasis: "LC 123/2006, art. 17, II",
	}, nil
}

// detectLaborOutsourcing flags the labor-outsourcing eligibility bar.
func detectLaborOutsourcing(_ context.Context, in Input) (*model.Finding, error) {
	if !in.Snap.Flags.LaborOutsourcing {
		return nil, nil
	}
	return &model.Finding{
		Title: "Labor outsourcing activity bars the regime",
		Description: "Supplying outsourced labor is not admitted in the regime. Confirm whether the current contracts qualify as labor supply.",
		Severity:   model.SeverityAlert,
		Difficulty: model.DifficultyHard,
		Window:     model.WindowShortTerm,
		LegalBasis: "LC 123/2006, art. 17, XII",
	}, nil
}

// detectRegionalIncentive points goods activities at state incentive
// programs that operate outside the unified payment.
func detectRegionalIncentive(_ context.Context, in Input) (*model.Finding, error) {
	if in.Result.Terminal() || in.Snap.Location.State == "" {
		return nil, nil
	}
	if in.Result.Category.Class() == model.ClassServices {
		return nil, nil
	}
	return &model.Finding{
		Title: "Check state incentive programs",
		Description: fmt.Sprintf(
			"Goods activities in %s may qualify for state-level credit or deferral programs once revenue leaves the unified payment. Verify with the state treasury.",
			in.Snap.Location.State),
		Severity:   model.SeverityInfo,
		Difficulty: model.DifficultyMedium,
		Window:     model.WindowOngoing,
		LegalBasis: "LC 123/2006, art. 18, §20-A",
	}, nil
}

// detectPendingLegislation surfaces the standing note about bills that can
// shift thresholds between fiscal years.
func detectPendingLegislation(_ context.Context, in Input) (*model.Finding, error) {
	if in.Snap.AnnualRevenue <= 0 {
		return nil, nil
	}
	return &model.Finding{
		Title: "Revenue thresholds under legislative review",
		Description: "Bills updating the regime's revenue ceiling and sublimit are recurrently before Congress; a change shifts every tier boundary. Re-run the analysis when a new fiscal year starts.",
		Severity:   model.SeverityInfo,
		Difficulty: model.DifficultyEasy,
		Window:     model.WindowOngoing,
		LegalBasis: "PLP em tramitação; LC 123/2006, art. 1º, §§ 6º-15",
	}, nil
}

// tierFor picks the tier covering the revenue, mirroring the core engine's
// selection rule.
func tierFor(tiers []model.Tier, annualRevenue float64) (model.Tier, bool) {
	for _, t := range tiers {
		if annualRevenue <= t.RevenueCeiling {
			return t, true
		}
	}
	return model.Tier{}, false
}
