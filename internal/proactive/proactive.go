// Package proactive runs the scheduled re-engagement sweep. On each
// tick it pages through profiles that carry a push token and offers
// each one to the cooldown gate; the gate decides who actually gets a
// message.
package proactive

import (
	"context"

	"github.com/robfig/cron/v3"

	"taskping/internal/cooldown"
	"taskping/internal/entity"
	logx "taskping/pkg/logx"
)

const (
	// DefaultSchedule fires once a day at 10:00 server time.
	DefaultSchedule = "0 10 * * *"
	// DefaultPageSize bounds a single profile listing.
	DefaultPageSize = 100
)

type Config struct {
	Enabled  bool
	Schedule string
	PageSize int
}

type lister interface {
	ListPushableProfiles(ctx context.Context, limit int, cursor string) (items []entity.Profile, nextCursor string, err error)
}

// Sweeper walks all pushable profiles and asks the gate to send.
type Sweeper struct {
	store  lister
	gate   *cooldown.Gate
	cfg    Config
	log    logx.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(st lister, gate *cooldown.Gate, cfg Config, log logx.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{store: st, gate: gate, cfg: cfg, log: log}
}

// Start registers the cron entry and begins ticking. It is a no-op when
// the sweep is disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("proactive sweep disabled")
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.Sweep(s.ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("proactive sweep scheduled", logx.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to observe
// cancellation.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep performs one full pass over pushable profiles. It is exported
// so an operator trigger can run it outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) {
	var sent, skipped, failed int
	cursor := ""
	for {
		profiles, next, err := s.store.ListPushableProfiles(ctx, s.cfg.PageSize, cursor)
		if err != nil {
			s.log.Error("proactive sweep: list profiles", logx.Err(err))
			return
		}
		for _, p := range profiles {
			if ctx.Err() != nil {
				s.log.Info("proactive sweep cancelled",
					logx.Int("sent", sent), logx.Int("skipped", skipped))
				return
			}
			ok, err := s.gate.MaybeSend(ctx, p.UserID)
			switch {
			case err != nil:
				failed++
				s.log.Warn("proactive send failed", logx.String("user_id", p.UserID), logx.Err(err))
			case ok:
				sent++
			default:
				skipped++
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	s.log.Info("proactive sweep done",
		logx.Int("sent", sent), logx.Int("skipped", skipped), logx.Int("failed", failed))
}
