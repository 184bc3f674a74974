// Package digest broadcasts a daily gas price summary (min/avg/max over the
// last 24h of recorded samples) on a cron schedule.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gasbot/internal/monitor"
	"gasbot/internal/storage"
	kit "gasbot/internal/transport"
	logx "gasbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string // cron spec, default "0 9 * * *"
	Timezone string // IANA name, default local
}

type Stats interface {
	GasStats(ctx context.Context, since time.Time) (storage.GasStats, error)
}

type Service struct {
	cfg      Config
	registry monitor.Registry
	stats    Stats
	sender   monitor.Sender
	log      logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	runCtx  context.Context
	stopped bool
}

func New(cfg Config, registry monitor.Registry, stats Stats, sender monitor.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "0 9 * * *"
	}
	return &Service{cfg: cfg, registry: registry, stats: stats, sender: sender, log: log}
}

// ValidateSchedule parses a cron spec the way Start will.
func ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	_, err := cron.ParseStandard(spec)
	return err
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.stopped {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(cron.WithLocation(loc))
	s.runCtx = ctx
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.run() }); err != nil {
		return fmt.Errorf("digest schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("digest scheduled", logx.String("spec", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) run() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	st, err := s.stats.GasStats(rctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.log.Error("digest stats failed", logx.Err(err))
		return
	}
	if st.Samples == 0 {
		s.log.Debug("digest skipped (no samples)")
		return
	}

	ids, err := s.registry.ListEnabledSubscribers(rctx)
	if err != nil {
		s.log.Error("digest registry failed", logx.Err(err))
		return
	}

	text := Format(st)
	failed := 0
	for _, id := range ids {
		if rctx.Err() != nil {
			return
		}
		if _, err := s.sender.SendText(rctx, kit.ChatTarget{ChatID: id}, text, nil); err != nil {
			failed++
			s.log.Warn("digest delivery failed", logx.Int64("user_id", id), logx.Err(err))
		}
	}
	s.log.Info("digest sent", logx.Int("subscribers", len(ids)), logx.Int("failed", failed))
}

// Format renders the digest text.
func Format(st storage.GasStats) string {
	return fmt.Sprintf("📊 Gas last 24h: min %.1f / avg %.1f / max %.1f gwei (%d samples)",
		st.Min, st.Avg, st.Max, st.Samples)
}
