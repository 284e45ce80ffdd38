package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	licensedomain "github.com/omnisonic/coda/internal/license/domain"
	"github.com/omnisonic/coda/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const leaderLockKey = "coda:scheduler:leader"

var ErrInvalidConfig = errors.New("scheduler: missing dependencies")

// Config tunes the background sweep.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// CyclePeriod is how long a cycle stays open before it is sealed.
	CyclePeriod time.Duration
	// LockTTL bounds how long a crashed leader can block the next sweep.
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.CyclePeriod <= 0 {
		c.CyclePeriod = 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * c.Interval
	}
	return c
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	LedgerSvc  ledgerdomain.Service
	LicenseSvc licensedomain.Service
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

// Scheduler seals due accounting cycles and expires lapsed licenses. With
// multiple replicas only the redis lock holder does the work.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	licenseSvc licensedomain.Service
	locker     *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.LedgerSvc == nil || p.LicenseSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		licenseSvc: p.LicenseSvc,
		locker:     p.Locker,
	}, nil
}

// RunOnce performs a single sweep. Without the leader lock it is a no-op.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	release, ok, err := s.acquireLeadership(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("another replica holds the scheduler lock")
		return nil
	}
	defer release()

	if err := s.closeDueCycle(ctx); err != nil {
		return err
	}
	return s.expireLicenses(ctx)
}

func (s *Scheduler) acquireLeadership(ctx context.Context) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	token, ok, err := s.locker.TryLock(ctx, leaderLockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := s.locker.Release(ctx, leaderLockKey, token); err != nil {
			s.log.Warn("failed to release scheduler lock", zap.Error(err))
		}
	}, true, nil
}

// closeDueCycle seals the open cycle once its period has lapsed. An empty
// cycle is left open; there is nothing worth checkpointing yet.
func (s *Scheduler) closeDueCycle(ctx context.Context) error {
	cycle, err := s.ledgerSvc.CurrentCycle(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if now.Sub(cycle.CreatedAt) < s.cfg.CyclePeriod {
		return nil
	}

	entries, err := s.ledgerSvc.ListByCycle(ctx, cycle.ID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.log.Debug("open cycle is due but empty, leaving it open",
			zap.Int64("cycle_number", cycle.CycleNumber),
		)
		return nil
	}

	closed, err := s.ledgerSvc.CloseCycle(ctx, now)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrNoOpenCycle) {
			// Lost a race with a manual close.
			return nil
		}
		return err
	}
	s.log.Info("sealed due cycle",
		zap.Int64("cycle_number", closed.CycleNumber),
		zap.String("total_amount", closed.TotalAmount),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func (s *Scheduler) expireLicenses(ctx context.Context) error {
	count, err := s.licenseSvc.ExpireDue(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if count > 0 {
		s.log.Info("expired lapsed licenses", zap.Int64("count", count))
	}
	return nil
}

// RunForever sweeps on the configured interval until the context ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("scheduler sweep failed", zap.Error(err))
			}
		}
	}
}

// ProvideConfig maps application configuration onto the sweep settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		Interval:    cfg.SchedulerInterval,
		CyclePeriod: cfg.CyclePeriod,
	}.withDefaults()
}
