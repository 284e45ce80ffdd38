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
	"github.com/omnisonic/coda/internal/license/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLicenseService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock, events.Bus) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.License{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Bus:   bus,
	})
	return svc, db, fakeClock, bus
}

func createReq(workID string) domain.CreateRequest {
	return domain.CreateRequest{
		WorkID:        workID,
		Licensee:      "Meridian Sync",
		Territory:     "US",
		RightsType:    "synchronization",
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:        "active",
	}
}

func TestCreateLicense(t *testing.T) {
	svc, _, _, bus := setupLicenseService(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, events.LicenseUpdated("work-1"))
	require.NoError(t, err)
	defer sub.Close()

	license, err := svc.Create(ctx, createReq("work-1"))
	require.NoError(t, err)

	assert.Equal(t, "work-1", license.WorkID)
	assert.Equal(t, domain.RightsSynchronization, license.RightsType)
	assert.Equal(t, domain.StatusActive, license.Status)
	require.NotNil(t, license.Territory)
	assert.Equal(t, "US", *license.Territory)
	assert.Nil(t, license.ExpiresOn)

	select {
	case <-sub.Messages():
	case <-time.After(time.Second):
		t.Fatal("expected license.updated on the bus")
	}
}

func TestCreateLicenseDefaultsToDraft(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)

	req := createReq("work-1")
	req.Status = ""
	license, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, license.Status)
}

func TestCreateLicenseRejectsUnknownEnums(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	req := createReq("work-1")
	req.RightsType = "broadcast"
	_, err := svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnknownRightsType)

	req = createReq("work-1")
	req.Status = "pending"
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)

	req = createReq("work-1")
	req.Status = "revoked"
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrStatusNotAllowed)
}

func TestCreateLicenseValidatesInput(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	req := createReq("")
	_, err := svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidWorkID)

	req = createReq("work-1")
	req.Licensee = "  "
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidLicensee)

	req = createReq("work-1")
	expires := req.EffectiveFrom.Add(-time.Hour)
	req.ExpiresOn = &expires
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
}

func TestCreateLicenseRejectsOverlappingConflict(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	first := createReq("work-1")
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	first.ExpiresOn = &end
	existing, err := svc.Create(ctx, first)
	require.NoError(t, err)

	second := createReq("work-1")
	second.Licensee = "Harbor Media"
	second.EffectiveFrom = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.Create(ctx, second)
	require.ErrorIs(t, err, domain.ErrLicenseConflict)
	assert.Contains(t, err.Error(), existing.ID.String())
}

func TestCreateLicenseAllowsDisjointRanges(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	first := createReq("work-1")
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	first.ExpiresOn = &end
	_, err := svc.Create(ctx, first)
	require.NoError(t, err)

	second := createReq("work-1")
	second.EffectiveFrom = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.Create(ctx, second)
	require.NoError(t, err)
}

func TestCreateLicenseAllowsDifferentTerritoryOrRights(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, createReq("work-1"))
	require.NoError(t, err)

	other := createReq("work-1")
	other.Territory = "DE"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	other = createReq("work-1")
	other.RightsType = "master"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)
}

func TestCreateLicenseWorldwideConflict(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	worldwide := createReq("work-1")
	worldwide.Territory = ""
	_, err := svc.Create(ctx, worldwide)
	require.NoError(t, err)

	duplicate := createReq("work-1")
	duplicate.Territory = ""
	_, err = svc.Create(ctx, duplicate)
	require.ErrorIs(t, err, domain.ErrLicenseConflict)
	assert.Contains(t, err.Error(), "worldwide")
}

func TestRevokeLicense(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	license, err := svc.Create(ctx, createReq("work-1"))
	require.NoError(t, err)

	revoked, err := svc.Revoke(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, revoked.Status)

	// The slot frees up for a replacement license.
	_, err = svc.Create(ctx, createReq("work-1"))
	require.NoError(t, err)
}

func TestRevokeLicenseNotFound(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	_, err = svc.Revoke(context.Background(), node.Generate())
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)
}

func TestListLicensesFilters(t *testing.T) {
	svc, _, _, _ := setupLicenseService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, createReq("work-1"))
	require.NoError(t, err)

	worldwide := createReq("work-1")
	worldwide.Territory = ""
	worldwide.RightsType = "master"
	_, err = svc.Create(ctx, worldwide)
	require.NoError(t, err)

	_, err = svc.Create(ctx, createReq("work-2"))
	require.NoError(t, err)

	licenses, err := svc.List(ctx, domain.ListRequest{WorkID: "work-1"})
	require.NoError(t, err)
	assert.Len(t, licenses, 2)

	// A territory filter also matches worldwide grants.
	licenses, err = svc.List(ctx, domain.ListRequest{WorkID: "work-1", Territory: "US"})
	require.NoError(t, err)
	assert.Len(t, licenses, 2)

	licenses, err = svc.List(ctx, domain.ListRequest{WorkID: "work-1", RightsType: "master"})
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, domain.RightsMaster, licenses[0].RightsType)

	_, err = svc.List(ctx, domain.ListRequest{RightsType: "broadcast"})
	assert.ErrorIs(t, err, domain.ErrUnknownRightsType)
}

func TestExpireDueFlipsOnlyPastActive(t *testing.T) {
	svc, db, fakeClock, _ := setupLicenseService(t)
	ctx := context.Background()

	due := createReq("work-1")
	end := fakeClock.Now().Add(24 * time.Hour)
	due.ExpiresOn = &end
	created, err := svc.Create(ctx, due)
	require.NoError(t, err)

	open := createReq("work-2")
	_, err = svc.Create(ctx, open)
	require.NoError(t, err)

	count, err := svc.ExpireDue(ctx, fakeClock.Now())
	require.NoError(t, err)
	assert.Zero(t, count)

	fakeClock.Advance(48 * time.Hour)
	count, err = svc.ExpireDue(ctx, fakeClock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var reloaded domain.License
	require.NoError(t, db.First(&reloaded, "id = ?", created.ID).Error)
	assert.Equal(t, domain.StatusExpired, reloaded.Status)

	// Idempotent on a second sweep.
	count, err = svc.ExpireDue(ctx, fakeClock.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
}
