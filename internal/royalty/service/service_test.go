package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/events"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	ledgerservice "github.com/omnisonic/coda/internal/ledger/service"
	royaltydomain "github.com/omnisonic/coda/internal/royalty/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupRoyaltyService(t *testing.T) (royaltydomain.Service, ledgerdomain.Service, events.Bus) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.JournalEntry{}, &ledgerdomain.CycleCheckpoint{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})

	bus := events.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	svc := NewService(Params{
		Log:       zap.NewNop(),
		LedgerSvc: ledgerSvc,
		Bus:       bus,
	})
	return svc, ledgerSvc, bus
}

func TestIngestPersistsAndPublishes(t *testing.T) {
	svc, ledgerSvc, bus := setupRoyaltyService(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, events.TopicLedgerEntryAll)
	require.NoError(t, err)
	defer sub.Close()

	event := usageEvent("99.99", []royaltydomain.Split{
		{ID: "s1", ContributorID: "A", PctShare: 60},
		{ID: "s2", ContributorID: "B", PctShare: 40},
	})

	inserted, err := svc.Ingest(ctx, event)
	require.NoError(t, err)
	require.Len(t, inserted, 3)

	cycle, err := ledgerSvc.CurrentCycle(ctx)
	require.NoError(t, err)
	entries, err := ledgerSvc.ListByCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	received := 0
	timeout := time.After(time.Second)
	for received < 3 {
		select {
		case <-sub.Messages():
			received++
		case <-timeout:
			t.Fatalf("expected 3 published entries, got %d", received)
		}
	}
}

func TestIngestReplayIsSilent(t *testing.T) {
	svc, _, bus := setupRoyaltyService(t)
	ctx := context.Background()

	event := usageEvent("10.00", []royaltydomain.Split{
		{ID: "s1", ContributorID: "A", PctShare: 100},
	})

	first, err := svc.Ingest(ctx, event)
	require.NoError(t, err)
	require.Len(t, first, 2)

	sub, err := bus.Subscribe(ctx, events.TopicLedgerEntryAll)
	require.NoError(t, err)
	defer sub.Close()

	second, err := svc.Ingest(ctx, event)
	require.NoError(t, err)
	assert.Empty(t, second)

	select {
	case raw := <-sub.Messages():
		t.Fatalf("replay must not publish, got %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngestEmptySplitsPersistsNothing(t *testing.T) {
	svc, ledgerSvc, _ := setupRoyaltyService(t)
	ctx := context.Background()

	inserted, err := svc.Ingest(ctx, usageEvent("10.00", nil))
	require.NoError(t, err)
	assert.Empty(t, inserted)

	cycle, err := ledgerSvc.CurrentCycle(ctx)
	require.NoError(t, err)
	entries, err := ledgerSvc.ListByCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngestInvalidSplitTotal(t *testing.T) {
	svc, _, _ := setupRoyaltyService(t)

	_, err := svc.Ingest(context.Background(), usageEvent("10.00", []royaltydomain.Split{
		{ID: "s1", ContributorID: "A", PctShare: -1},
	}))
	assert.ErrorIs(t, err, royaltydomain.ErrInvalidSplitTotal)
}
