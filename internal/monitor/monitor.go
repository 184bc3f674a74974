// Package monitor runs the gas price notification loop: on a fixed cadence
// it fetches the current price and fans it out to every enabled subscriber.
// One subscriber's delivery failure never affects the others, and a failed
// fetch only delays the next cycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"gasbot/internal/gas"
	kit "gasbot/internal/transport"
	logx "gasbot/pkg/logx"
)

type Registry interface {
	ListEnabledSubscribers(ctx context.Context) ([]int64, error)
}

type Source interface {
	Current(ctx context.Context) (gas.Price, error)
}

type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Recorder keeps a sample history for the digest. Optional; errors are not
// allowed to disturb the broadcast.
type Recorder interface {
	RecordGasSample(ctx context.Context, at time.Time, gwei float64) error
}

// Config defaults: 15s cadence, 60s backoff after a failed cycle, 25 sends
// per second.
type Config struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	RatePerSec   int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 60 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	return c
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	registry Registry
	source   Source
	sender   Sender
	recorder Recorder
	log      logx.Logger

	last atomic.Value // gas.Price
}

func New(cfg Config, registry Registry, source Source, sender Sender, recorder Recorder, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		registry: registry,
		source:   source,
		sender:   sender,
		recorder: recorder,
		log:      log,
	}
}

// Apply updates cadence and rate limits. Safe during a running loop; the new
// intervals take effect from the next sleep.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	if cfg.RatePerSec != s.cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Last returns the most recently broadcast price, if any cycle succeeded yet.
func (s *Service) Last() (gas.Price, bool) {
	v := s.last.Load()
	if v == nil {
		return gas.Price{}, false
	}
	p, ok := v.(gas.Price)
	return p, ok
}

// Run loops until ctx is canceled. Intended to run under a supervisor; it
// only returns on cancellation, since cycle failures are absorbed by the
// error backoff.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("monitor started")
	for {
		cfg, _ := s.snapshot()
		wait := cfg.Interval

		if err := s.cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("monitor cycle failed", logx.Err(err), logx.Duration("backoff", cfg.ErrorBackoff))
			wait = cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			s.log.Info("monitor stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// cycle performs one fetch-and-broadcast pass. It returns an error only for
// cycle-level failures (registry or price fetch); per-recipient delivery
// errors are logged and skipped.
func (s *Service) cycle(ctx context.Context) error {
	ids, err := s.registry.ListEnabledSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	price, err := s.source.Current(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	s.last.Store(price)

	if s.recorder != nil {
		if err := s.recorder.RecordGasSample(ctx, price.At, price.Propose); err != nil {
			s.log.Debug("gas sample record failed", logx.Err(err))
		}
	}

	if len(ids) == 0 {
		return nil
	}

	_, lim := s.snapshot()
	text := FormatPrice(price)

	delivered, failed := 0, 0
	for _, id := range ids {
		if err := lim.Wait(ctx); err != nil {
			// Shutdown mid-broadcast: abandoning the rest of the cycle is fine.
			return err
		}
		if _, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: id}, text, nil); err != nil {
			failed++
			s.log.Warn("gas notice delivery failed", logx.Int64("user_id", id), logx.Err(err))
			continue
		}
		delivered++
	}

	s.log.Debug("monitor cycle done",
		logx.Int("subscribers", len(ids)),
		logx.Int("delivered", delivered),
		logx.Int("failed", failed),
		logx.Float64("gwei", price.Propose),
	)
	return nil
}

// FormatPrice renders the subscriber-facing notification text.
func FormatPrice(p gas.Price) string {
	return "⛽ Current gas: " + p.String()
}
