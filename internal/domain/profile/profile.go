// Package profile holds the single mutable company profile of one session.
//
// The store is the only mutable state in the system. Engines never see it
// directly; every mutation produces a fresh immutable model.Snapshot and the
// owning service re-runs the pipeline against that snapshot.
package profile

import (
	"math"
	"sync"
	"time"

	"github.com/tributolabs/tributo/internal/domain/model"
)

// partnerShareTolerance bounds the acceptable deviation of ownership
// fractions from 1.0.
const partnerShareTolerance = 1e-6

const monthsPerYear = 12

// Store owns one company profile. Safe for concurrent use, though a profile
// is normally owned by exactly one logical session.
type Store struct {
	mu   sync.Mutex
	snap model.Snapshot
	now  func() time.Time
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty profile store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bump() {
	s.snap.Version++
	s.snap.UpdatedAt = s.now()
}

// SetActivityCode sets the primary activity code.
func (s *Store) SetActivityCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ActivityCode = code
	s.bump()
}

// SetSecondaryActivities replaces the secondary activity list.
func (s *Store) SetSecondaryActivities(acts []model.SecondaryActivity) error {
	for _, a := range acts {
		if a.MonthlyRevenue < 0 {
			return ErrNegativeAmount
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.SecondaryActivities = append([]model.SecondaryActivity(nil), acts...)
	s.bump()
	return nil
}

// SetMonthlyRevenue sets the monthly revenue and derives the 12-month figure.
func (s *Store) SetMonthlyRevenue(v float64) error {
	if v < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.MonthlyRevenue = v
	s.snap.AnnualRevenue = v * monthsPerYear
	s.bump()
	return nil
}

// SetAnnualRevenue sets the 12-month revenue and derives the monthly figure.
func (s *Store) SetAnnualRevenue(v float64) error {
	if v < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AnnualRevenue = v
	s.snap.MonthlyRevenue = v / monthsPerYear
	s.bump()
	return nil
}

// SetPayroll12 sets the 12-month payroll.
func (s *Store) SetPayroll12(v float64) error {
	if v < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Payroll12 = v
	s.bump()
	return nil
}

// SetProLabore12 sets the 12-month owner compensation.
func (s *Store) SetProLabore12(v float64) error {
	if v < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ProLabore12 = v
	s.bump()
	return nil
}

// SetPartners replaces the partner list. Ownership fractions of a non-empty
// list must sum to 1.0 within tolerance.
func (s *Store) SetPartners(partners []model.Partner) error {
	if err := validatePartners(partners); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Partners = append([]model.Partner(nil), partners...)
	s.bump()
	return nil
}

// SetSpecialRevenue replaces the segregable sub-amounts.
func (s *Store) SetSpecialRevenue(sr model.SpecialRevenue) error {
	if sr.SinglePhase < 0 || sr.WithheldAtSource < 0 || sr.Export < 0 ||
		sr.MovableRental < 0 || sr.TaxSubstitution < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Special = sr
	s.snap.Special.SinglePhaseCodes = append([]string(nil), sr.SinglePhaseCodes...)
	s.bump()
	return nil
}

// SetFlags replaces the eligibility flags.
func (s *Store) SetFlags(f model.Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Flags = f
	s.bump()
}

// SetLocation sets the jurisdiction identifiers.
func (s *Store) SetLocation(loc model.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Location = loc
	s.bump()
}

// Load bulk-replaces the whole profile. The input is validated as a unit so
// the store never holds a partially valid state.
func (s *Store) Load(in model.Snapshot) error {
	if in.MonthlyRevenue < 0 || in.AnnualRevenue < 0 || in.Payroll12 < 0 || in.ProLabore12 < 0 {
		return ErrNegativeAmount
	}
	if err := validatePartners(in.Partners); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.snap.Version
	s.snap = in
	s.snap.Partners = append([]model.Partner(nil), in.Partners...)
	s.snap.SecondaryActivities = append([]model.SecondaryActivity(nil), in.SecondaryActivities...)
	s.snap.Special.SinglePhaseCodes = append([]string(nil), in.Special.SinglePhaseCodes...)
	if s.snap.AnnualRevenue == 0 && s.snap.MonthlyRevenue > 0 {
		s.snap.AnnualRevenue = s.snap.MonthlyRevenue * monthsPerYear
	}
	if s.snap.MonthlyRevenue == 0 && s.snap.AnnualRevenue > 0 {
		s.snap.MonthlyRevenue = s.snap.AnnualRevenue / monthsPerYear
	}
	s.snap.Version = version
	s.bump()
	return nil
}

// Reset returns the profile to empty defaults. The version keeps counting so
// listeners can tell a reset from a fresh store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := s.snap.Version
	s.snap = model.Snapshot{Version: version}
	s.bump()
}

// Snapshot returns an immutable copy of the current profile.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.Partners = append([]model.Partner(nil), s.snap.Partners...)
	out.SecondaryActivities = append([]model.SecondaryActivity(nil), s.snap.SecondaryActivities...)
	out.Special.SinglePhaseCodes = append([]string(nil), s.snap.Special.SinglePhaseCodes...)
	return out
}

func validatePartners(partners []model.Partner) error {
	if len(partners) == 0 {
		return nil
	}
	var sum float64
	for _, p := range partners {
		if p.Share < 0 {
			return ErrPartnerShares
		}
		sum += p.Share
	}
	if math.Abs(sum-1.0) > partnerShareTolerance {
		return ErrPartnerShares
	}
	return nil
}
