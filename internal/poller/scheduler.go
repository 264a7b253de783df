// Package poller drives the scan cycles of each chain family.
package poller

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/logger"
	"github.com/wnt/chainwatch/internal/metrics"
	"github.com/wnt/chainwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// Cycle is one chain's pass: scan, filter, alert, advance
type Cycle interface {
	Chain() models.Chain
	Run(ctx context.Context, log zerolog.Logger) (Report, error)
}

// Report summarises a finished chain cycle
type Report struct {
	Chain       models.Chain `json:"chain"`
	Entities    int          `json:"entities"`
	Records     int          `json:"records"`
	Matches     int          `json:"matches"`
	Created     int          `json:"created"`
	Delivered   int          `json:"delivered"`
	Undelivered int          `json:"undelivered"`
	Failed      int          `json:"failed_entities,omitempty"`
	From        string       `json:"from,omitempty"`
	To          string       `json:"to,omitempty"`
}

// ChainStats is the backoff state and latest report of one chain
type ChainStats struct {
	Chain               models.Chain `json:"chain"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	NextRun             time.Time    `json:"next_run,omitempty"`
	LastReport          Report       `json:"last_report"`
}

// Stats is a snapshot of a scheduler for the health endpoint.
// ConsecutiveFailures is the worst streak among the chains.
type Stats struct {
	Family              models.Family `json:"family"`
	Interval            time.Duration `json:"interval"`
	CyclesRun           int           `json:"cycles_run"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCycleID         string        `json:"last_cycle_id,omitempty"`
	LastStarted         time.Time     `json:"last_started,omitempty"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	NextRun             time.Time     `json:"next_run,omitempty"`
	Chains              []ChainStats  `json:"chains"`
}

type chainState struct {
	failures  int
	notBefore time.Time
	lastErr   string
	report    Report
}

// Scheduler runs the cycles of one chain family on its own timer. A cycle
// always finishes before the next one starts; families never wait on each
// other. Each chain backs off on its own, so a failing chain does not slow
// down its healthy siblings.
type Scheduler struct {
	family        models.Family
	interval      time.Duration
	maxMultiplier int
	cycles        []Cycle
	jitter        func(limit time.Duration) time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	mutex   sync.RWMutex
	stats   Stats
	chains  map[models.Chain]*chainState
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewScheduler creates a scheduler. maxMultiplier caps the backoff after
// consecutive failed cycles.
func NewScheduler(family models.Family, interval time.Duration, maxMultiplier int, cycles []Cycle, log zerolog.Logger) *Scheduler {
	if maxMultiplier < 1 {
		maxMultiplier = 1
	}
	chains := make(map[models.Chain]*chainState, len(cycles))
	for _, cycle := range cycles {
		chains[cycle.Chain()] = &chainState{}
	}
	return &Scheduler{
		family:        family,
		interval:      interval,
		maxMultiplier: maxMultiplier,
		cycles:        cycles,
		jitter: func(limit time.Duration) time.Duration {
			if limit <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(limit)))
		},
		now:    time.Now,
		logger: log.With().Str("component", "scheduler").Str("family", string(family)).Logger(),
		stats:  Stats{Family: family, Interval: interval},
		chains: chains,
	}
}

// Start runs the first cycle immediately and then keeps the timer going
// until Stop
func (s *Scheduler) Start() {
	s.mutex.Lock()
	if s.started {
		s.mutex.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	s.mutex.Unlock()

	s.logger.Info().
		Dur("interval", s.interval).
		Int("chains", len(s.cycles)).
		Msg("Starting scheduler")

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx)

			wait := s.nextWait()
			s.mutex.Lock()
			s.stats.NextRun = s.now().Add(wait)
			s.mutex.Unlock()
			timer.Reset(wait)
		}
	}
}

// Stop cancels the timer and waits for an in-flight cycle. A cancelled cycle
// fails before its cursor advance, so nothing is left half done.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mutex.Unlock()

	s.logger.Info().Msg("Stopping scheduler...")
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Scheduler shutdown timed out")
	}
	s.logger.Info().Msg("Scheduler stopped")
}

// RunOnce runs one cycle for every chain of the family that is due and
// returns the joined chain errors. A chain in backoff is skipped until its
// wait is over.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	due := s.dueCycles()
	if len(due) == 0 {
		return nil
	}

	cycleID := uuid.NewString()
	log := logger.WithCycle(s.logger, cycleID)
	start := s.now()

	errs := make([]error, len(due))

	var g errgroup.Group
	for i, cycle := range due {
		i, cycle := i, cycle
		g.Go(func() error {
			chainLog := logger.WithChain(log, cycle.Chain().String())
			chainStart := time.Now()

			report, err := cycle.Run(ctx, chainLog)
			report.Chain = cycle.Chain()
			metrics.RecordCycle(cycle.Chain().String(), err == nil, time.Since(chainStart).Seconds())
			s.finish(cycle.Chain(), report, err, chainLog)

			if err != nil {
				errs[i] = err
				chainLog.Error().Err(err).Msg("Cycle failed, cursors unchanged")
				return nil
			}
			chainLog.Info().
				Int("entities", report.Entities).
				Int("records", report.Records).
				Int("created", report.Created).
				Int("delivered", report.Delivered).
				Str("from", report.From).
				Str("to", report.To).
				Dur("duration", time.Since(chainStart)).
				Msg("Cycle completed")
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)

	s.mutex.Lock()
	s.stats.CyclesRun++
	s.stats.LastCycleID = cycleID
	s.stats.LastStarted = start
	s.stats.LastDuration = s.now().Sub(start)
	s.mutex.Unlock()

	return err
}

func (s *Scheduler) dueCycles() []Cycle {
	now := s.now()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var due []Cycle
	for _, cycle := range s.cycles {
		if !now.Before(s.chains[cycle.Chain()].notBefore) {
			due = append(due, cycle)
		}
	}
	return due
}

// finish records a chain outcome and schedules its next run: the interval
// after a success, the interval stretched by 2^k for k consecutive failures
// up to the configured multiplier plus up to 20% jitter after a failure
func (s *Scheduler) finish(chain models.Chain, report Report, err error, log zerolog.Logger) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state := s.chains[chain]
	state.report = report
	if err == nil {
		state.failures = 0
		state.lastErr = ""
		state.notBefore = s.now().Add(s.interval)
		return
	}

	state.failures++
	state.lastErr = err.Error()

	multiplier := s.maxMultiplier
	if state.failures < 31 && 1<<state.failures < multiplier {
		multiplier = 1 << state.failures
	}
	wait := s.interval * time.Duration(multiplier)
	wait += s.jitter(wait / 5)
	state.notBefore = s.now().Add(wait)

	log.Warn().
		Int("consecutive_failures", state.failures).
		Dur("wait", wait).
		Msg("Backing off after failed cycle")
}

// nextWait is the time until the earliest chain is due
func (s *Scheduler) nextWait() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.chains) == 0 {
		return s.interval
	}
	var earliest time.Time
	for _, state := range s.chains {
		if earliest.IsZero() || state.notBefore.Before(earliest) {
			earliest = state.notBefore
		}
	}
	wait := earliest.Sub(s.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// Stats returns a snapshot of the scheduler state
func (s *Scheduler) Stats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := s.stats
	stats.Chains = make([]ChainStats, 0, len(s.cycles))
	var failing []string
	for _, cycle := range s.cycles {
		state := s.chains[cycle.Chain()]
		stats.Chains = append(stats.Chains, ChainStats{
			Chain:               cycle.Chain(),
			ConsecutiveFailures: state.failures,
			LastError:           state.lastErr,
			NextRun:             state.notBefore,
			LastReport:          state.report,
		})
		if state.failures > stats.ConsecutiveFailures {
			stats.ConsecutiveFailures = state.failures
		}
		if state.lastErr != "" {
			failing = append(failing, cycle.Chain().String()+": "+state.lastErr)
		}
	}
	stats.LastError = strings.Join(failing, "; ")
	return stats
}
