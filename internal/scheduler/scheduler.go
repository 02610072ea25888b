// Package scheduler fires agenda alerts as their thresholds are crossed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"plazos/internal/domain"
	"plazos/internal/events"
	"plazos/internal/repo"
)

var ErrSweepInProgress = errors.New("sweep already in progress")

const (
	defaultInterval = time.Minute
	defaultWindow   = 72 * time.Hour
	defaultClaimTTL = 5 * time.Minute
)

// Notifier delivers one alert for a record at the given threshold.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event, hours int) error
}

type NotifierFunc func(ctx context.Context, ev domain.Event, hours int) error

func (f NotifierFunc) Notify(ctx context.Context, ev domain.Event, hours int) error {
	return f(ctx, ev, hours)
}

type Options struct {
	Interval time.Duration
	Window   time.Duration
	ClaimTTL time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
	Metrics  *Metrics
}

type Scheduler struct {
	repo     repo.Repo
	events   events.Writer
	notifier Notifier
	interval time.Duration
	window   time.Duration
	claimTTL time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *Metrics

	running sync.Mutex
}

type SweepResult struct {
	RunID   string `json:"run_id"`
	Checked int    `json:"checked"`
	Fired   int    `json:"fired"`
	Errors  int    `json:"errors"`
}

func New(r repo.Repo, n Notifier, opts Options) *Scheduler {
	s := &Scheduler{
		repo:     r,
		events:   events.Writer{DB: r.DB, Now: opts.Now},
		notifier: n,
		interval: opts.Interval,
		window:   opts.Window,
		claimTTL: opts.ClaimTTL,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.window <= 0 {
		s.window = defaultWindow
	}
	if s.claimTTL <= 0 {
		s.claimTTL = defaultClaimTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval), zap.Duration("window", s.window))
	for {
		res, err := s.RunSweepOnce(ctx)
		switch {
		case err == nil:
			if res.Fired > 0 || res.Errors > 0 {
				s.logger.Info("sweep finished",
					zap.String("run_id", res.RunID),
					zap.Int("checked", res.Checked),
					zap.Int("fired", res.Fired),
					zap.Int("errors", res.Errors))
			}
		case ctx.Err() != nil:
		default:
			s.logger.Error("sweep failed", zap.String("run_id", res.RunID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunSweepOnce checks every alertable record once. The context is checked
// after each record; a cancelled sweep returns the partial result and
// ctx.Err(). Concurrent calls on the same Scheduler get ErrSweepInProgress.
func (s *Scheduler) RunSweepOnce(ctx context.Context) (SweepResult, error) {
	if !s.running.TryLock() {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	started := time.Now()
	defer func() { s.metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()
	s.metrics.Sweeps.Inc()

	now := s.now()
	res := SweepResult{RunID: ulid.Make().String()}
	due, err := s.repo.ListAlertable(ctx, now.Unix(), now.Add(s.window).Unix())
	if err != nil {
		return res, fmt.Errorf("list alertable: %w", err)
	}
	for _, ev := range due {
		res.Checked++
		fired, err := s.sweepEvent(ctx, ev, now, res.RunID)
		res.Fired += fired
		if err != nil {
			res.Errors++
			s.metrics.AlertErrors.Inc()
			s.logger.Warn("alert not delivered",
				zap.String("run_id", res.RunID),
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// sweepEvent fires every crossed pending threshold of ev, largest first.
// Each threshold is claimed, notified and confirmed on its own; a failed send
// releases only its own claim.
func (s *Scheduler) sweepEvent(ctx context.Context, ev domain.Event, now time.Time, runID string) (int, error) {
	secondsLeft := ev.EndUnix - now.Unix()
	smallest := 0
	if len(ev.Alerts) > 0 {
		smallest = ev.Alerts[len(ev.Alerts)-1]
	}
	fired := 0
	var errs []error
	for _, h := range ev.Pending() {
		if secondsLeft > int64(h)*3600 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		ok, err := s.fireThreshold(ctx, ev, h, now, runID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%dh: %w", h, err))
			continue
		}
		if !ok {
			continue
		}
		fired++
		if h == smallest {
			if err := s.repo.SetImminent(context.WithoutCancel(ctx), ev.ID, true); err != nil {
				s.logger.Warn("imminent flag not stored", zap.String("event_id", ev.ID), zap.Error(err))
			}
		}
	}
	return fired, errors.Join(errs...)
}

// fireThreshold reports false without error when another sweep holds the
// claim or the threshold was confirmed concurrently.
func (s *Scheduler) fireThreshold(ctx context.Context, ev domain.Event, h int, now time.Time, runID string) (bool, error) {
	ok, err := s.repo.ClaimAlert(ctx, ev.ID, h, runID, now.Unix(), now.Add(-s.claimTTL).Unix())
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.notifier.Notify(ctx, ev, h); err != nil {
		s.release(ev.ID, h, runID)
		return false, err
	}

	// the alert is out; bookkeeping must finish even if the sweep is cancelled
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.ConfirmAlert(ctx, ev.ID, h, runID, s.now().Unix()); err != nil {
		s.logger.Warn("alert confirm failed", zap.String("event_id", ev.ID), zap.Int("hours", h), zap.Error(err))
		return false, nil
	}
	s.metrics.AlertsFired.Inc()
	if err := s.events.AppendDB(ctx, events.AlertSent, ev.OwnerID, "agenda_event", ev.ID, events.EventPayload{
		"run_id": runID,
		"hours":  h,
	}); err != nil {
		s.logger.Warn("alert audit not stored", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return true, nil
}

// release uses a fresh context so a cancelled sweep still frees its claims.
func (s *Scheduler) release(eventID string, hours int, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.ReleaseAlert(ctx, eventID, hours, runID); err != nil {
		s.logger.Warn("alert release failed", zap.String("event_id", eventID), zap.Int("hours", hours), zap.Error(err))
	}
}
