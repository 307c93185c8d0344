// Package model contains the value objects passed between engine layers.
//
// Everything here except the profile snapshot inputs is recomputed on
// demand and never mutated in place after construction.
package model

import "time"

// Category identifies one of the five tax-treatment classes (anexos) of the
// progressive regime. The zero value means "not resolved yet".
type Category string

// Known categories. AnexoIII and AnexoV are the two outcomes of the
// labor-ratio (fator R) switch for service activities.
const (
	CategoryNone     Category = ""
	CategoryAnexoI   Category = "anexo_i"   // commerce
	CategoryAnexoII  Category = "anexo_ii"  // industry
	CategoryAnexoIII Category = "anexo_iii" // services, fator R at or above threshold
	CategoryAnexoIV  Category = "anexo_iv"  // services without payroll contribution in the unified payment
	CategoryAnexoV   Category = "anexo_v"   // services, fator R below threshold
)

// ActivityClass groups categories for presumed-margin purposes.
type ActivityClass string

// Activity classes.
const (
	ClassCommerce ActivityClass = "commerce"
	ClassIndustry ActivityClass = "industry"
	ClassServices ActivityClass = "services"
)

// Class maps a category to its activity class.
func (c Category) Class() ActivityClass {
	switch c {
	case CategoryAnexoI:
		return ClassCommerce
	case CategoryAnexoII:
		return ClassIndustry
	default:
		return ClassServices
	}
}

// Valid reports whether c is one of the five known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAnexoI, CategoryAnexoII, CategoryAnexoIII, CategoryAnexoIV, CategoryAnexoV:
		return true
	default:
		return false
	}
}

// Sub-tax share names used across bracket decomposition tables.
const (
	ShareIRPJ   = "irpj"   // corporate income tax
	ShareCSLL   = "csll"   // social contribution on profit
	SharePIS    = "pis"    // turnover tax
	ShareCofins = "cofins" // turnover tax
	ShareCPP    = "cpp"    // payroll contribution
	ShareICMS   = "icms"   // state consumption tax (goods)
	ShareISS    = "iss"    // municipal consumption tax (services)
	ShareIPI    = "ipi"    // industrialized-products tax (industry only)
)

// Partner is one company owner with an ownership fraction.
type Partner struct {
	Name  string  `json:"name" yaml:"name"`
	Share float64 `json:"share" yaml:"share"`
}

// SpecialRevenue holds the monthly sub-amounts that can be segregated in the
// filing so that only the applicable sub-taxes reach them.
type SpecialRevenue struct {
	SinglePhase      float64 `json:"single_phase" yaml:"single_phase"`           // monofásico goods
	WithheldAtSource float64 `json:"withheld_at_source" yaml:"withheld_at_source"` // ISS retained by the payer
	Export           float64 `json:"export" yaml:"export"`
	MovableRental    float64 `json:"movable_rental" yaml:"movable_rental"`
	TaxSubstitution  float64 `json:"tax_substitution" yaml:"tax_substitution"` // ICMS-ST

	// SinglePhaseCodes lists the product codes behind the single-phase
	// amount, checked against the provider's exemption table. A figure
	// backed by unconfirmed codes stays an estimate.
	SinglePhaseCodes []string `json:"single_phase_codes,omitempty" yaml:"single_phase_codes,omitempty"`
}

// Total returns the sum of all segregable sub-amounts.
func (s SpecialRevenue) Total() float64 {
	return s.SinglePhase + s.WithheldAtSource + s.Export + s.MovableRental + s.TaxSubstitution
}

// HasAny reports whether any segregable sub-amount is present.
func (s SpecialRevenue) HasAny() bool {
	return s.Total() > 0
}

// Flags are the boolean eligibility markers read by detectors and scoring.
type Flags struct {
	PendingDebts     bool `json:"pending_debts" yaml:"pending_debts"`
	ForeignPartner   bool `json:"foreign_partner" yaml:"foreign_partner"`
	CorporatePartner bool `json:"corporate_partner" yaml:"corporate_partner"`
	LaborOutsourcing bool `json:"labor_outsourcing" yaml:"labor_outsourcing"`
	NewlyFormed      bool `json:"newly_formed" yaml:"newly_formed"`
	CashBasis        bool `json:"cash_basis" yaml:"cash_basis"`
}

// Location identifies the jurisdiction whose local service-tax rate applies.
type Location struct {
	State    string `json:"state" yaml:"state"`
	CityCode string `json:"city_code" yaml:"city_code"`
}

// SecondaryActivity is an additional activity code with its own revenue slice,
// used by mixed-activity segregation analysis.
type SecondaryActivity struct {
	Code           string  `json:"code" yaml:"code"`
	MonthlyRevenue float64 `json:"monthly_revenue" yaml:"monthly_revenue"`
}

// Snapshot is an immutable copy of the company profile taken at mutation
// time. Engines only ever see snapshots, never the mutable store.
type Snapshot struct {
	ActivityCode        string
	SecondaryActivities []SecondaryActivity
	MonthlyRevenue      float64
	AnnualRevenue       float64 // RBT12; derived as monthly x 12 when absent
	Payroll12           float64
	ProLabore12         float64 // 12-month owner compensation
	Partners            []Partner
	Special             SpecialRevenue
	Flags               Flags
	Location            Location
	Version             uint64
	UpdatedAt           time.Time
}

// DerivedMetrics are the classification facts recomputed from a snapshot.
type DerivedMetrics struct {
	LaborRatio        float64
	LaborRatioDefined bool
	VolatileZone      bool
	FatorRDependent   bool
	Category          Category
	TierIndex         int // 1..6, 0 when not computed
	ExceededMax       bool
	OverSublimit      bool
}

// Tier is one revenue bracket of a category's table.
type Tier struct {
	Index          int     `json:"index" yaml:"index"`
	RevenueCeiling float64 `json:"revenue_ceiling" yaml:"revenue_ceiling"`
	NominalRate    float64 `json:"nominal_rate" yaml:"nominal_rate"`
	Deduction      float64 `json:"deduction" yaml:"deduction"`
}

// TaxResult is the full output of one compute call.
type TaxResult struct {
	Category          Category
	Prohibited        bool
	ProhibitionReason string
	ExceededMax       bool

	TierIndex     int
	NominalRate   float64
	Deduction     float64
	EffectiveRate float64

	MonthlyRevenue float64
	AnnualRevenue  float64
	MonthlyTax     float64

	// Shares are the decomposition fractions; Decomposition the amounts.
	Shares        map[string]float64
	Decomposition map[string]float64

	// OptimizedMonthlyTax applies the legal deductions for segregated
	// special revenue. MonthlySavings = MonthlyTax - OptimizedMonthlyTax.
	OptimizedMonthlyTax float64
	MonthlySavings      float64

	Metrics DerivedMetrics
}

// Terminal reports whether the result short-circuited before tier lookup.
func (r TaxResult) Terminal() bool {
	return r.Prohibited || r.ExceededMax
}

// Severity distinguishes detector output kinds.
type Severity string

const (
	SeverityOpportunity Severity = "opportunity"
	SeverityAlert       Severity = "alert"
	SeverityInfo        Severity = "informational"
)

// Difficulty is a qualitative implementation-effort tag.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Window is the implementation time bucket used for plan grouping.
type Window string

const (
	WindowImmediate  Window = "immediate"
	WindowShortTerm  Window = "short_term"   // up to one month
	WindowFiscalYear Window = "fiscal_year"  // requires start of fiscal year
	WindowOngoing    Window = "ongoing"
)

// Finding is a single detector output: an opportunity, an alert or an
// informational note, depending on Severity.
type Finding struct {
	ID          string
	Title       string
	Description string
	Severity    Severity

	AnnualSavings  float64
	MonthlySavings float64

	Difficulty Difficulty
	Window     Window
	LegalBasis string

	// Estimate marks figures derived from the documented fallback constant
	// instead of the provider's share table.
	Estimate bool

	// Urgent marks alerts that must outrank every opportunity in plans.
	Urgent bool

	Rank int // 1-based, assigned after sorting; 0 for alerts and infos
}

// Diagnosis is the ranked output of the full detector battery.
type Diagnosis struct {
	Opportunities []Finding
	Alerts        []Finding
	Informational []Finding

	TotalAnnualSavings  float64
	TotalMonthlySavings float64
}

// All returns every finding in battery order groups.
func (d Diagnosis) All() []Finding {
	out := make([]Finding, 0, len(d.Opportunities)+len(d.Alerts)+len(d.Informational))
	out = append(out, d.Opportunities...)
	out = append(out, d.Alerts...)
	out = append(out, d.Informational...)
	return out
}

// ScoreCategory is one of the five weighted sub-scores.
type ScoreCategory struct {
	Name   string
	Points float64
	Cap    float64
	Reason string
}

// ScoreResult is the 0-100 health score with its decomposition.
type ScoreResult struct {
	Total      float64
	Tier       string
	Categories []ScoreCategory
}

// ActionItem is a quantified remediation step: what to change, by how much,
// and the exact net effect.
type ActionItem struct {
	Finding

	CurrentValue float64
	TargetValue  float64
	GrossGain    float64 // annual
	Cost         float64 // annual implementation cost
	NetGain      float64 // annual, GrossGain - Cost
}

// ActionPlan is the ranked and time-bucketed remediation plan.
type ActionPlan struct {
	Items []ActionItem

	Immediate  []ActionItem
	ShortTerm  []ActionItem
	FiscalYear []ActionItem
	Ongoing    []ActionItem

	TotalNetAnnual  float64
	TotalNetMonthly float64
}

// ScenarioType enumerates the supported what-if simulations.
type ScenarioType string

const (
	ScenarioRaiseProLabore  ScenarioType = "raise_pro_labore"
	ScenarioChangeActivity  ScenarioType = "change_activity"
	ScenarioSplitActivities ScenarioType = "split_activities"
	ScenarioReduceRevenue   ScenarioType = "reduce_revenue"
	ScenarioAddPartners     ScenarioType = "add_partners"
	ScenarioDeclareExports  ScenarioType = "declare_exports"
)

// ScenarioState is one side of a before/after pair. The after side carries
// the perturbed snapshot so callers can chain simulations from it.
type ScenarioState struct {
	Snapshot Snapshot
	Metrics  DerivedMetrics
	Result   TaxResult
}

// ScenarioDelta is the field-wise difference between the two states.
type ScenarioDelta struct {
	MonthlyTax      float64
	AnnualTax       float64
	EffectiveRate   float64
	CategoryChanged bool
	TierChanged     bool
	CrossedBoundary bool
	Summary         string
}

// ScenarioResult is the immutable outcome of one simulation.
type ScenarioResult struct {
	Type      ScenarioType
	Parameter any
	Before    ScenarioState
	After     ScenarioState
	Delta     ScenarioDelta
}

// RegimeID identifies one of the three compared regimes.
type RegimeID string

const (
	RegimeSimples   RegimeID = "simples_nacional"
	RegimePresumido RegimeID = "lucro_presumido"
	RegimeReal      RegimeID = "lucro_real"
)

// RegimeBurden is the annual burden of the company under one regime.
type RegimeBurden struct {
	Regime        RegimeID
	AnnualBurden  float64
	EffectiveRate float64
	Breakdown     map[string]float64
	Notes         []string
}

// RegimeComparison ranks the three regimes by ascending annual burden.
type RegimeComparison struct {
	Current      RegimeBurden
	Alternatives []RegimeBurden
	Ranked       []RegimeBurden

	Best             RegimeID
	SavingsVsCurrent float64 // absolute, positive when Best beats current
	RelativeGap      float64 // SavingsVsCurrent / current burden
}

// NotificationKind tags outbound fire-and-forget events.
type NotificationKind string

const (
	NotifyProfileUpdated       NotificationKind = "profile-updated"
	NotifyComputationCompleted NotificationKind = "computation-completed"
	NotifyDiagnosisCompleted   NotificationKind = "diagnosis-completed"
	NotifyScoreComputed        NotificationKind = "score-computed"
	NotifyPlanGenerated        NotificationKind = "plan-generated"
	NotifyScenarioCompleted    NotificationKind = "scenario-completed"
	NotifyComparisonCompleted  NotificationKind = "comparison-completed"
)

// Notification is the payload delivered to outbound listeners.
type Notification struct {
	ID        string
	Kind      NotificationKind
	SessionID string
	At        time.Time
	Payload   any
}
