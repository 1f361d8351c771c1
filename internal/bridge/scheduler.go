package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/auth"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/credential"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/poller"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/telemetry"
)

// Default scheduler settings.
const (
	DefaultInterval     = 60 * time.Second
	DefaultMaxBackoff   = 900 * time.Second
	DefaultCycleTimeout = 120 * time.Second
)

// recordTimeout bounds the journal write that follows every cycle, including
// one that used up its own timeout.
const recordTimeout = 5 * time.Second

// Authenticator obtains VRM credentials. Implemented by *auth.Client.
type Authenticator interface {
	EnsureValid(ctx context.Context, cached *credential.Credential) (credential.Credential, error)
	Reauthenticate(ctx context.Context) (credential.Credential, error)
	Invalidate(ctx context.Context) error
}

// Poller fetches one site snapshot. Implemented by *poller.Poller.
type Poller interface {
	Poll(ctx context.Context, siteID string, cred credential.Credential) (telemetry.Snapshot, error)
}

// Publisher sends one MQTT message. Implemented by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Sink receives every successfully fetched snapshot, such as the InfluxDB
// mirror. WriteSnapshot must not block on the network.
type Sink interface {
	WriteSnapshot(snap telemetry.Snapshot)
}

// Journal records cycle reports.
type Journal interface {
	Record(ctx context.Context, report CycleReport) error
}

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds scheduler settings.
type Config struct {
	// SiteID is the VRM installation to poll.
	SiteID string

	// Prefix is the topic prefix, e.g. "vrm/cloud".
	Prefix string

	// QoS and Retain apply to every telemetry topic.
	QoS    byte
	Retain bool

	// Interval is the tick interval T. Default: 60s.
	Interval time.Duration

	// MaxBackoff caps the delay after failures. Default: 900s.
	MaxBackoff time.Duration

	// CycleTimeout bounds one cycle's network work. Default: 120s.
	CycleTimeout time.Duration
}

// Deps are the collaborators of a Scheduler. Sinks and Journal are optional.
type Deps struct {
	Store     credential.Store
	Auth      Authenticator
	Poller    Poller
	Publisher Publisher
	Sinks     []Sink
	Journal   Journal
}

// PollState is the scheduler's bookkeeping between cycles.
type PollState struct {
	LastSuccessAt       *time.Time `json:"last_success_at"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	BackoffUntil        *time.Time `json:"backoff_until"`
}

// clone returns a copy that shares no pointers with s.
func (s PollState) clone() PollState {
	out := PollState{ConsecutiveFailures: s.ConsecutiveFailures}
	if s.LastSuccessAt != nil {
		t := *s.LastSuccessAt
		out.LastSuccessAt = &t
	}
	if s.BackoffUntil != nil {
		t := *s.BackoffUntil
		out.BackoffUntil = &t
	}
	return out
}

// Outcome classifies a finished cycle.
type Outcome string

// Cycle outcomes. OutcomePartial means at least one topic reached the
// broker; OutcomePublishFailed means none did.
const (
	OutcomeSuccess       Outcome = "success"
	OutcomePartial       Outcome = "partial"
	OutcomePublishFailed Outcome = "publish_failed"
	OutcomeAuthRejected  Outcome = "auth_rejected"
	OutcomeAuthFailed    Outcome = "auth_failed"
	OutcomeTransient     Outcome = "transient"
	OutcomeFatal         Outcome = "fatal"
)

// CycleReport describes one finished cycle.
type CycleReport struct {
	ID                  string    `json:"id"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	Outcome             Outcome   `json:"outcome"`
	Topics              int       `json:"topics"`
	Failed              int       `json:"failed"`
	Reauthenticated     bool      `json:"reauthenticated"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DelayMS             int64     `json:"delay_ms"`
	Error               string    `json:"error,omitempty"`

	// NextAt is when the following cycle may start.
	NextAt time.Time `json:"-"`

	// Err is the cycle's failure, nil on success.
	Err error `json:"-"`
}

// Scheduler drives the poll loop.
//
// Run and RunCycle must be called from one goroutine at a time. State,
// LastCycle and Fatal are safe to call concurrently with them.
type Scheduler struct {
	cfg  Config
	deps Deps

	// Owned by the loop goroutine.
	cred        *credential.Credential
	forceReauth bool
	accepted    bool
	loaded      bool

	mu    sync.RWMutex
	state PollState
	last  *CycleReport
	fatal error

	now func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewScheduler creates a scheduler. Zero durations in cfg take defaults.
func NewScheduler(cfg Config, deps Deps) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for this scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Scheduler) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// State returns a copy of the current PollState.
func (s *Scheduler) State() PollState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// LastCycle returns the most recent cycle report.
func (s *Scheduler) LastCycle() (CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// Fatal returns the error that stopped the loop, or nil while it can
// still run.
func (s *Scheduler) Fatal() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

// SiteID returns the polled site.
func (s *Scheduler) SiteID() string {
	return s.cfg.SiteID
}

// Run polls until ctx is cancelled or a fatal condition occurs.
//
// Cancellation is only observed between cycles; an in-flight cycle finishes
// or hits its own timeout first.
//
// Returns:
//   - nil: ctx was cancelled
//   - *FatalError: the site is unusable or startup authentication failed
func (s *Scheduler) Run(ctx context.Context) error {
	logger := s.getLogger()
	logger.Info("scheduler started",
		"site_id", s.cfg.SiteID,
		"interval", s.cfg.Interval,
		"max_backoff", s.cfg.MaxBackoff,
	)

	for {
		if ctx.Err() != nil {
			logger.Info("scheduler stopped")
			return nil
		}

		report := s.RunCycle(ctx)
		if report.Outcome == OutcomeFatal {
			return &FatalError{CycleID: report.ID, Err: report.Err}
		}

		if !s.sleepUntil(ctx, report.NextAt) {
			logger.Info("scheduler stopped")
			return nil
		}
	}
}

// sleepUntil waits for t or ctx. It reports false when ctx ended first.
func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) bool {
	d := t.Sub(s.now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunCycle runs exactly one cycle and updates PollState.
//
// The cycle's network work is detached from ctx cancellation and bounded by
// the configured cycle timeout, so a shutdown signal never abandons a
// publish sequence halfway.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CycleTimeout)
	defer cancel()

	report := CycleReport{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
	}

	err := s.cycle(cycleCtx, &report)
	report.FinishedAt = s.now()
	report.Outcome = s.outcomeOf(err)
	if report.Outcome == OutcomeFatal && errors.Is(err, auth.ErrAuthentication) {
		err = fmt.Errorf("%w: %w", ErrStartupAuth, err)
	}
	report.Err = err
	if err != nil {
		report.Error = err.Error()
	}

	s.finish(&report)

	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRecord()
	s.record(recordCtx, report)
	return report
}

func (s *Scheduler) cycle(ctx context.Context, report *CycleReport) error {
	logger := s.getLogger()

	cred, err := s.credential(ctx, report)
	if err != nil {
		return err
	}

	snap, err := s.deps.Poller.Poll(ctx, s.cfg.SiteID, cred)
	if poller.KindOf(err) == poller.KindAuthRejected && !report.Reauthenticated {
		logger.Info("credential rejected, re-authenticating", "cycle_id", report.ID, "error", err)
		s.forceReauth = true
		if cred, err = s.credential(ctx, report); err != nil {
			return err
		}
		snap, err = s.deps.Poller.Poll(ctx, s.cfg.SiteID, cred)
	}
	if err != nil {
		if poller.KindOf(err) == poller.KindAuthRejected {
			s.rejectCredential(ctx)
		}
		return err
	}

	s.accepted = true

	for _, sink := range s.deps.Sinks {
		sink.WriteSnapshot(snap)
	}

	topics := telemetry.Map(snap, s.cfg.Prefix, s.cfg.Retain)
	report.Topics = len(topics)
	report.Failed, err = publishAll(ctx, s.deps.Publisher, topics, s.cfg.QoS)
	return err
}

// credential returns the credential for this cycle, authenticating when
// there is none, it is unusable, or a re-authentication was forced.
func (s *Scheduler) credential(ctx context.Context, report *CycleReport) (credential.Credential, error) {
	if !s.loaded {
		s.loaded = true
		if s.deps.Store != nil {
			if cached, ok := s.deps.Store.Load(ctx); ok {
				s.cred = &cached
			}
		}
	}

	var (
		cred credential.Credential
		err  error
	)
	if s.forceReauth {
		cred, err = s.deps.Auth.Reauthenticate(ctx)
		report.Reauthenticated = true
	} else {
		cred, err = s.deps.Auth.EnsureValid(ctx, s.cred)
		if err == nil && (s.cred == nil || !cred.Equal(*s.cred)) {
			report.Reauthenticated = true
		}
	}
	if err != nil {
		return credential.Credential{}, err
	}

	s.cred = &cred
	s.forceReauth = false
	if report.Reauthenticated {
		s.accepted = true
	}
	return cred, nil
}

// rejectCredential forgets a credential VRM refused even after a fresh
// authentication, so the next cycle starts with a forced login.
func (s *Scheduler) rejectCredential(ctx context.Context) {
	s.cred = nil
	s.forceReauth = true
	if err := s.deps.Auth.Invalidate(ctx); err != nil {
		s.getLogger().Warn("failed to clear rejected credential", "error", err)
	}
}

func (s *Scheduler) outcomeOf(err error) Outcome {
	var publishErr *PublishError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &publishErr):
		if publishErr.Failed >= publishErr.Total {
			return OutcomePublishFailed
		}
		return OutcomePartial
	case errors.Is(err, auth.ErrAuthentication):
		if !s.accepted {
			return OutcomeFatal
		}
		return OutcomeAuthFailed
	}

	switch poller.KindOf(err) {
	case poller.KindAuthRejected:
		return OutcomeAuthRejected
	case poller.KindFatal:
		return OutcomeFatal
	default:
		return OutcomeTransient
	}
}

// finish updates PollState from report and fills in its scheduling fields.
func (s *Scheduler) finish(report *CycleReport) {
	logger := s.getLogger()

	s.mu.Lock()
	switch report.Outcome {
	case OutcomeSuccess:
		finished := report.FinishedAt
		s.state.LastSuccessAt = &finished
		s.state.ConsecutiveFailures = 0
	default:
		s.state.ConsecutiveFailures++
	}

	delay := Delay(s.state, s.cfg.Interval, s.cfg.MaxBackoff)
	report.NextAt = nextStart(report.StartedAt, report.FinishedAt, delay)
	report.DelayMS = delay.Milliseconds()
	report.ConsecutiveFailures = s.state.ConsecutiveFailures

	if s.state.ConsecutiveFailures > 0 {
		next := report.NextAt
		s.state.BackoffUntil = &next
	} else {
		s.state.BackoffUntil = nil
	}

	if report.Outcome == OutcomeFatal {
		s.fatal = report.Err
	}
	last := *report
	s.last = &last
	s.mu.Unlock()

	args := []any{
		"cycle_id", report.ID,
		"outcome", string(report.Outcome),
		"topics", report.Topics,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	}
	switch report.Outcome {
	case OutcomeSuccess:
		logger.Debug("cycle complete", args...)
	case OutcomeFatal:
		logger.Error("cycle failed fatally", append(args, "error", report.Err)...)
	default:
		logger.Warn("cycle failed", append(args,
			"failed", report.Failed,
			"consecutive_failures", report.ConsecutiveFailures,
			"next_in", report.NextAt.Sub(report.FinishedAt),
			"error", report.Err,
		)...)
	}
}

func (s *Scheduler) record(ctx context.Context, report CycleReport) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.Record(ctx, report); err != nil {
		s.getLogger().Warn("failed to record cycle", "cycle_id", report.ID, "error", err)
	}
}
