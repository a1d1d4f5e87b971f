package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/reading/domain"
	"github.com/smallbiznis/netmetering/internal/reading/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var receivedAt = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func setupReadingService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&domain.MeterReading{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(receivedAt),
		Repo:  repository.Provide(db),
	})
	return svc, db
}

func newReading(customerID string, ts time.Time, imported, exported float64) domain.NewReading {
	return domain.NewReading{
		CustomerID:   customerID,
		DeviceID:     "meter-1",
		KWhGenerated: 10,
		KWhImported:  imported,
		KWhExported:  exported,
		Timestamp:    ts,
	}
}

func TestCreateAssignsServerFields(t *testing.T) {
	svc, _ := setupReadingService(t)
	ctx := context.Background()

	app := "  app-1 "
	created, err := svc.Create(ctx, domain.NewReading{
		CustomerID:    "cust-1",
		ApplicationID: &app,
		DeviceID:      "meter-1",
		KWhGenerated:  4,
		KWhImported:   2,
		Timestamp:     time.Date(2024, 3, 5, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600)),
	})
	require.NoError(t, err)

	assert.NotZero(t, created.ID)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, receivedAt, created.CreatedAt)
	assert.Equal(t, "app-1", *created.ApplicationID)
	assert.Equal(t, time.UTC, created.Timestamp.Location())
	assert.Nil(t, created.NetUnits)
	assert.Nil(t, created.Month)

	stored, err := svc.Get(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.CustomerID, stored.CustomerID)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, db := setupReadingService(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := svc.Create(ctx, newReading("", ts, 1, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)

	bad := newReading("cust-1", ts, 1, 0)
	bad.KWhGenerated = -1
	_, err = svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidEnergy)

	_, err = svc.Create(ctx, newReading("cust-1", time.Time{}, 1, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)

	var count int64
	require.NoError(t, db.Model(&domain.MeterReading{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestVerifyDerivesPeriodAndNetUnitsOnce(t *testing.T) {
	svc, _ := setupReadingService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, newReading("cust-1", time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC), 40, 55))
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, verified.Status)
	assert.Equal(t, 2, *verified.Month)
	assert.Equal(t, 2024, *verified.Year)
	assert.Equal(t, -15.0, *verified.NetUnits)

	_, err = svc.Verify(ctx, created.ID.String())
	assert.ErrorIs(t, err, domain.ErrAlreadyVerified)

	stored, err := svc.Get(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, -15.0, stored.NetUnitsValue())
}

func TestVerifyConcurrentCallsSucceedOnce(t *testing.T) {
	svc, _ := setupReadingService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, newReading("cust-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 5, 0))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Verify(ctx, created.ID.String()); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestVerifyUnknownAndInvalidID(t *testing.T) {
	svc, _ := setupReadingService(t)

	_, err := svc.Verify(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = svc.Verify(context.Background(), "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListNewestFirstAndFilteredByCustomer(t *testing.T) {
	svc, _ := setupReadingService(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, newReading("cust-1", base.Add(time.Duration(i)*time.Hour), 1, 0))
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, newReading("cust-2", base, 1, 0))
	require.NoError(t, err)

	items, err := svc.List(ctx, domain.ListRequest{CustomerID: "cust-1", Limit: 3})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Timestamp.After(items[1].Timestamp))
	assert.Equal(t, base.Add(4*time.Hour), items[0].Timestamp.UTC())

	all, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestListVerifiedSelectsPeriodOldestFirst(t *testing.T) {
	svc, _ := setupReadingService(t)
	ctx := context.Background()

	late, err := svc.Create(ctx, newReading("cust-1", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), 1, 0))
	require.NoError(t, err)
	early, err := svc.Create(ctx, newReading("cust-2", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), 1, 0))
	require.NoError(t, err)
	_, err = svc.Create(ctx, newReading("cust-3", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), 1, 0))
	require.NoError(t, err)
	april, err := svc.Create(ctx, newReading("cust-1", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 1, 0))
	require.NoError(t, err)

	for _, r := range []*domain.MeterReading{late, early, april} {
		_, err := svc.Verify(ctx, r.ID.String())
		require.NoError(t, err)
	}

	items, err := svc.ListVerified(ctx, 3, 2024)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, early.ID, items[0].ID)
	assert.Equal(t, late.ID, items[1].ID)

	_, err = svc.ListVerified(ctx, 13, 2024)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestSummarize(t *testing.T) {
	svc, _ := setupReadingService(t)
	ctx := context.Background()

	empty, err := svc.Summarize(ctx, "cust-1")
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.Nil(t, empty.LastReadingAt)

	first, err := svc.Create(ctx, newReading("cust-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 7, 2))
	require.NoError(t, err)
	_, err = svc.Create(ctx, newReading("cust-1", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), 1, 4))
	require.NoError(t, err)
	_, err = svc.Create(ctx, newReading("cust-2", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), 100, 0))
	require.NoError(t, err)
	_, err = svc.Verify(ctx, first.ID.String())
	require.NoError(t, err)

	summary, err := svc.Summarize(ctx, "cust-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.Count)
	assert.EqualValues(t, 1, summary.PendingCount)
	assert.EqualValues(t, 1, summary.VerifiedCount)
	assert.Equal(t, 20.0, summary.TotalKWhGenerated)
	assert.Equal(t, 8.0, summary.TotalKWhImported)
	assert.Equal(t, 6.0, summary.TotalKWhExported)
	assert.Equal(t, 2.0, summary.NetKWh())
	require.NotNil(t, summary.LastReadingAt)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), *summary.LastReadingAt)
}
