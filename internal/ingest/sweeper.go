package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"rulebook/app/internal/games"
	applog "rulebook/app/internal/log"
	"rulebook/app/internal/realtime"
)

const interruptedMessage = "processing interrupted"

// SweeperOptions configures the stale rule sweeper.
type SweeperOptions struct {
	Repository games.Repository
	Publisher  realtime.Publisher
	Logger     *logrus.Logger
	SentryHub  *sentry.Hub
	Schedule   string
	StaleAfter time.Duration
	Now        func() time.Time
}

// Sweeper marks rules stuck in queued or processing as failed. Runs die with
// the process, so rows left behind by a restart would otherwise never settle.
type Sweeper struct {
	repo       games.Repository
	publisher  realtime.Publisher
	recorder   applog.ErrorRecorder
	schedule   string
	staleAfter time.Duration
	now        func() time.Time
	cron       *cron.Cron
}

// NewSweeper validates opts and builds a Sweeper.
func NewSweeper(opts SweeperOptions) (*Sweeper, error) {
	if opts.Repository == nil {
		return nil, eris.New("games repository is required")
	}
	if opts.StaleAfter <= 0 {
		return nil, eris.New("stale threshold must be positive")
	}
	schedule := strings.TrimSpace(opts.Schedule)
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, eris.Wrapf(err, "parsing sweep schedule %q", schedule)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Sweeper{
		repo:       opts.Repository,
		publisher:  opts.Publisher,
		recorder:   applog.NewErrorRecorder(opts.Logger, opts.SentryHub, "ingest.sweeper"),
		schedule:   schedule,
		staleAfter: opts.StaleAfter,
		now:        now,
	}, nil
}

// Start runs Sweep on the configured schedule until Stop is called.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return eris.New("sweeper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.recorder.Record(nil, err, "sweeping stale rules")
		}
	}); err != nil {
		return eris.Wrapf(err, "scheduling sweep %q", s.schedule)
	}
	c.Start()
	s.cron = c

	s.recorder.Entry().WithFields(logrus.Fields{
		"schedule":    s.schedule,
		"stale_after": s.staleAfter.String(),
	}).Info("stale rule sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "waiting for sweeper")
	}
}

// Sweep marks every stale rule as failed and reports how many were touched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	stale, err := s.repo.ListStaleRules(ctx, now.Add(-s.staleAfter), games.ProcessingQueued, games.ProcessingProcessing)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, rule := range stale {
		message := interruptedMessage
		status := games.ProcessingError
		progress := games.RuleProgress{Stage: games.StageError, Error: message, Timestamp: &now}

		if err := s.repo.UpdateRule(ctx, rule.ID, games.RuleUpdate{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &message,
			ProcessedAt:  &now,
		}); err != nil {
			s.recorder.Record(logrus.Fields{"rule_id": rule.ID, "game_id": rule.GameID}, err, "marking stale rule")
			continue
		}
		swept++

		if s.publisher == nil {
			continue
		}
		updated, err := s.repo.GetRule(ctx, rule.ID)
		if err != nil || updated == nil {
			continue
		}
		event := realtime.Event{
			Table:     games.GameRule{}.TableName(),
			Type:      realtime.TypeUpdate,
			Record:    games.NewRuleRecord(updated),
			Timestamp: now,
		}
		if err := s.publisher.Publish(ctx, realtime.RulesTopic(rule.GameID), event); err != nil {
			s.recorder.Entry().WithField("error", err.Error()).Warn("publishing swept rule")
		}
	}

	if swept > 0 {
		s.recorder.Entry().WithField("rules", swept).Info("marked stale rules as failed")
	}
	return swept, nil
}
