package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/events"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	ledgerservice "github.com/omnisonic/coda/internal/ledger/service"
	licensedomain "github.com/omnisonic/coda/internal/license/domain"
	licenseservice "github.com/omnisonic/coda/internal/license/service"
	"github.com/omnisonic/coda/internal/ratelimit"
	royaltydomain "github.com/omnisonic/coda/internal/royalty/domain"
	royaltyservice "github.com/omnisonic/coda/internal/royalty/service"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type schedulerFixture struct {
	sched      *Scheduler
	clock      *clock.FakeClock
	db         *gorm.DB
	ledgerSvc  ledgerdomain.Service
	licenseSvc licensedomain.Service
	royaltySvc royaltydomain.Service
	bus        events.Bus
	locker     *ratelimit.Locker
}

func setupScheduler(t *testing.T) *schedulerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.JournalEntry{},
		&ledgerdomain.CycleCheckpoint{},
		&licensedomain.License{},
	))

	mini := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	bus := events.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
		Bus:   bus,
	})
	licenseSvc := licenseservice.NewService(licenseservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
		Bus:   bus,
	})
	royaltySvc := royaltyservice.NewService(royaltyservice.Params{
		Log:       log,
		LedgerSvc: ledgerSvc,
	})
	locker := ratelimit.NewLocker(client)

	sched, err := New(Params{
		Log:        log,
		Clock:      fakeClock,
		LedgerSvc:  ledgerSvc,
		LicenseSvc: licenseSvc,
		Locker:     locker,
		Config: Config{
			Interval:    time.Minute,
			CyclePeriod: 24 * time.Hour,
			LockTTL:     time.Minute,
		},
	})
	require.NoError(t, err)

	return &schedulerFixture{
		sched:      sched,
		clock:      fakeClock,
		db:         db,
		ledgerSvc:  ledgerSvc,
		licenseSvc: licenseSvc,
		royaltySvc: royaltySvc,
		bus:        bus,
		locker:     locker,
	}
}

func ingestEvent(t *testing.T, f *schedulerFixture, eventID string) {
	t.Helper()
	_, err := f.royaltySvc.Ingest(context.Background(), royaltydomain.UsageEvent{
		EventID:     eventID,
		WorkID:      "work-1",
		RecordingID: "rec-1",
		Currency:    "USD",
		GrossAmount: "10",
		OccurredAt:  f.clock.Now(),
		Splits: []royaltydomain.Split{
			{ID: "s1", WorkID: "work-1", ContributorID: "alice", PctShare: 100},
		},
	})
	require.NoError(t, err)
}

func TestRunOnceSealsDueCycle(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	ingestEvent(t, f, "evt-1")

	// Not due yet; the cycle stays open.
	require.NoError(t, f.sched.RunOnce(ctx))
	cycle, err := f.ledgerSvc.CurrentCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cycle.CycleNumber)
	assert.False(t, cycle.Closed())

	sub, err := f.bus.Subscribe(ctx, events.TopicCycleCheckpointAll)
	require.NoError(t, err)
	defer sub.Close()

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))

	var sealed ledgerdomain.CycleCheckpoint
	require.NoError(t, f.db.First(&sealed, "cycle_number = ?", 1).Error)
	assert.True(t, sealed.Closed())
	assert.Equal(t, "10", sealed.TotalAmount)
	assert.NotEmpty(t, sealed.MerkleRoot)

	select {
	case <-sub.Messages():
	case <-time.After(time.Second):
		t.Fatal("expected checkpoint event on the bus")
	}
}

func TestRunOnceLeavesEmptyCycleOpen(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	// Materialize an empty open cycle.
	_, err := f.ledgerSvc.CurrentCycle(ctx)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))

	cycle, err := f.ledgerSvc.CurrentCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cycle.CycleNumber)
	assert.False(t, cycle.Closed())
}

func TestRunOnceExpiresLicenses(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(12 * time.Hour)
	created, err := f.licenseSvc.Create(ctx, licensedomain.CreateRequest{
		WorkID:        "work-1",
		Licensee:      "Harbor Media",
		RightsType:    "performance",
		EffectiveFrom: f.clock.Now(),
		ExpiresOn:     &expires,
		Status:        "active",
	})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))

	var reloaded licensedomain.License
	require.NoError(t, f.db.First(&reloaded, "id = ?", created.ID).Error)
	assert.Equal(t, licensedomain.StatusExpired, reloaded.Status)
}

func TestRunOnceSkipsWithoutLeadership(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	ingestEvent(t, f, "evt-1")
	f.clock.Advance(25 * time.Hour)

	// Another replica holds the lock; this sweep must do nothing.
	_, ok, err := f.locker.TryLock(ctx, leaderLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.sched.RunOnce(ctx))

	cycle, err := f.ledgerSvc.CurrentCycle(ctx)
	require.NoError(t, err)
	assert.False(t, cycle.Closed(), "cycle must stay open while the lock is held elsewhere")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 24*time.Hour, cfg.CyclePeriod)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)
}
