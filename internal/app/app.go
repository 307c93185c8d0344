// Package app wires the engines, the session store and the notification bus
// into the one service the HTTP layer calls. Every profile mutation goes
// through here so listeners always see a consistent stream of events.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tributolabs/tributo/internal/adapters/repository"
	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/diagnostic"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/domain/plan"
	"github.com/tributolabs/tributo/internal/domain/profile"
	"github.com/tributolabs/tributo/internal/domain/regime"
	"github.com/tributolabs/tributo/internal/domain/scenario"
	"github.com/tributolabs/tributo/internal/domain/scoring"
	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Session pairs a session id with its mutable profile.
type Session struct {
	ID        string
	Profile   *profile.Store
	CreatedAt time.Time
}

// Service is the application facade.
type Service struct {
	rules    ports.RuleProvider
	location ports.LocationProvider
	notifier ports.Notifier
	log      logger.Logger

	calc       *calc.Engine
	diagnostic *diagnostic.Engine
	scoring    *scoring.Engine
	plan       *plan.Engine
	scenario   *scenario.Engine
	regime     *regime.Engine

	sessions *repository.Store[*Session]

	calcOpts     []calc.Option
	diagOpts     []diagnostic.Option
	scenarioOpts []scenario.Option
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLocation wires the locality reference client.
func WithLocation(location ports.LocationProvider) Option {
	return func(s *Service) {
		s.location = location
	}
}

// WithNotifier wires the outbound notification bus.
func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithSessionShards sets the session store shard count.
func WithSessionShards(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sessions = repository.NewStore[*Session](repository.WithShardCount(n))
		}
	}
}

// WithCalcOptions forwards options to the tax calculator.
func WithCalcOptions(opts ...calc.Option) Option {
	return func(s *Service) {
		s.calcOpts = append(s.calcOpts, opts...)
	}
}

// WithDiagnosticOptions forwards options to the diagnostic engine.
func WithDiagnosticOptions(opts ...diagnostic.Option) Option {
	return func(s *Service) {
		s.diagOpts = append(s.diagOpts, opts...)
	}
}

// WithScenarioOptions forwards options to the scenario engine.
func WithScenarioOptions(opts ...scenario.Option) Option {
	return func(s *Service) {
		s.scenarioOpts = append(s.scenarioOpts, opts...)
	}
}

// New builds the service and its engines over the given rule provider.
func New(rules ports.RuleProvider, opts ...Option) *Service {
	s := &Service{
		rules:    rules,
		notifier: ports.NopNotifier{},
		log:      logger.Nop(),
		sessions: repository.NewStore[*Session](),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.calc = calc.New(rules, append(s.calcOpts, calc.WithLogger(s.log))...)
	s.diagnostic = diagnostic.New(rules, s.location,
		append(s.diagOpts, diagnostic.WithLogger(s.log))...)
	s.scoring = scoring.New(s.location,
		scoring.WithLogger(s.log),
		scoring.WithFatorRThreshold(s.calc.FatorRThreshold()))
	s.scenario = scenario.New(s.calc, append(s.scenarioOpts, scenario.WithLogger(s.log))...)
	s.regime = regime.New(s.calc, rules, s.location, regime.WithLogger(s.log))
	s.plan = plan.New(
		plan.WithLogger(s.log),
		plan.WithFatorRThreshold(s.calc.FatorRThreshold()),
		plan.WithRules(rules),
		plan.WithComparator(s.regime))
	return s
}

// CreateSession opens a session with an empty profile.
func (s *Service) CreateSession(ctx context.Context) *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		Profile:   profile.NewStore(),
		CreatedAt: time.Now(),
	}
	s.sessions.Put(ctx, sess.ID, sess)
	metrics.UpdateActiveSessions(s.sessions.Len(ctx))
	s.log.Info(ctx, "session created", logger.String("session_id", sess.ID))
	return sess
}

// Session returns the session or ErrSessionNotFound.
func (s *Service) Session(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// DropSession removes the session and its profile.
func (s *Service) DropSession(ctx context.Context, id string) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	metrics.UpdateActiveSessions(s.sessions.Len(ctx))
	return nil
}

// Profile returns the session's current profile snapshot.
func (s *Service) Profile(ctx context.Context, id string) (model.Snapshot, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	return sess.Profile.Snapshot(), nil
}

// UpdateProfile bulk-replaces the session's profile and announces the change.
func (s *Service) UpdateProfile(ctx context.Context, id string, in model.Snapshot) (model.Snapshot, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := sess.Profile.Load(in); err != nil {
		return model.Snapshot{}, err
	}
	snap := sess.Profile.Snapshot()

	metrics.RecordProfileUpdate()
	s.publish(ctx, id, model.NotifyProfileUpdated, snap.Version)
	return snap, nil
}

// Compute runs the tax calculation against the session's current profile.
func (s *Service) Compute(ctx context.Context, id string) (model.TaxResult, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.TaxResult{}, err
	}
	return s.compute(ctx, id, sess.Profile.Snapshot())
}

func (s *Service) compute(ctx context.Context, id string, snap model.Snapshot) (model.TaxResult, error) {
	start := time.Now()
	result, err := s.calc.Compute(ctx, snap)
	metrics.RecordComputationLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordComputationError(errorKind(err))
		return model.TaxResult{}, err
	}

	metrics.RecordComputation()
	s.publish(ctx, id, model.NotifyComputationCompleted, snap.Version)
	return result, nil
}

// Diagnose computes and runs the full detector battery.
func (s *Service) Diagnose(ctx context.Context, id string) (model.Diagnosis, model.TaxResult, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.Diagnosis{}, model.TaxResult{}, err
	}
	snap := sess.Profile.Snapshot()

	result, err := s.compute(ctx, id, snap)
	if err != nil {
		return model.Diagnosis{}, model.TaxResult{}, err
	}
	diag := s.diagnostic.Diagnose(ctx, result, snap)

	s.publish(ctx, id, model.NotifyDiagnosisCompleted, snap.Version)
	return diag, result, nil
}

// Score produces the 0-100 health score.
func (s *Service) Score(ctx context.Context, id string) (model.ScoreResult, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.ScoreResult{}, err
	}
	snap := sess.Profile.Snapshot()

	diag, result, err := s.Diagnose(ctx, id)
	if err != nil {
		return model.ScoreResult{}, err
	}
	score := s.scoring.Score(ctx, diag, result, snap)

	s.publish(ctx, id, model.NotifyScoreComputed, snap.Version)
	return score, nil
}

// Plan produces the ordered remediation plan.
func (s *Service) Plan(ctx context.Context, id string) (model.ActionPlan, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.ActionPlan{}, err
	}
	snap := sess.Profile.Snapshot()

	diag, result, err := s.Diagnose(ctx, id)
	if err != nil {
		return model.ActionPlan{}, err
	}
	p := s.plan.Build(ctx, diag, result, snap)

	s.publish(ctx, id, model.NotifyPlanGenerated, snap.Version)
	return p, nil
}

// Simulate runs one what-if scenario against the session's profile.
func (s *Service) Simulate(ctx context.Context, id string, typ model.ScenarioType, p scenario.Params) (model.ScenarioResult, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.ScenarioResult{}, err
	}
	res, err := s.scenario.Simulate(ctx, sess.Profile.Snapshot(), typ, p)
	if err != nil {
		return model.ScenarioResult{}, err
	}

	s.publish(ctx, id, model.NotifyScenarioCompleted, sess.Profile.Snapshot().Version)
	return res, nil
}

// SimulateAll runs a batch of scenarios concurrently.
func (s *Service) SimulateAll(ctx context.Context, id string, reqs []scenario.Request) ([]model.ScenarioResult, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := s.scenario.SimulateAll(ctx, sess.Profile.Snapshot(), reqs)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, id, model.NotifyScenarioCompleted, sess.Profile.Snapshot().Version)
	return results, nil
}

// CompareRegimes estimates the burden under the alternative regimes with the
// caller's margin and input-credit assumptions.
func (s *Service) CompareRegimes(ctx context.Context, id string, a regime.Assumptions) (model.RegimeComparison, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return model.RegimeComparison{}, err
	}
	cmp, err := s.regime.Compare(ctx, sess.Profile.Snapshot(), a)
	if err != nil {
		return model.RegimeComparison{}, err
	}

	s.publish(ctx, id, model.NotifyComparisonCompleted, sess.Profile.Snapshot().Version)
	return cmp, nil
}

func (s *Service) publish(ctx context.Context, sessionID string, kind model.NotificationKind, version uint64) {
	s.notifier.Publish(ctx, model.Notification{
		Kind:      kind,
		SessionID: sessionID,
		Payload:   map[string]any{"profile_version": version},
	})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, calc.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, calc.ErrRuleProviderData):
		return "rule_provider"
	default:
		return "other"
	}
}
