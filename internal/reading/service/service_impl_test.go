package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/micoriza/internal/clock"
	"github.com/smallbiznis/micoriza/internal/config"
	obscontext "github.com/smallbiznis/micoriza/internal/observability/context"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/liveevents"
	"github.com/smallbiznis/micoriza/internal/reading/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc   readingdomain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	hub   *liveevents.Hub
}

type envOption func(*ServiceParam)

func withReadingsConfig(cfg config.ReadingsConfig) envOption {
	return func(p *ServiceParam) { p.Config = config.NewStaticReadingsConfigHolder(cfg) }
}

func withIDs(ids ...uuid.UUID) envOption {
	return func(p *ServiceParam) {
		next := 0
		p.NewID = func() uuid.UUID {
			id := ids[next%len(ids)]
			next++
			return id
		}
	}
}

func setupReadingService(t *testing.T, opts ...envOption) testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&readingdomain.SensorReading{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	fake := clock.NewFakeClock(baseTime)
	hub := liveevents.NewHub()
	param := ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      fake,
		Repo:       repository.Provide(),
		Config:     config.NewStaticReadingsConfigHolder(config.DefaultReadingsConfig()),
		LiveEvents: hub,
	}
	for _, opt := range opts {
		opt(&param)
	}

	return testEnv{
		svc:   NewService(param),
		db:    db,
		clock: fake,
		hub:   hub,
	}
}

func countReadings(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&readingdomain.SensorReading{}).Count(&count).Error; err != nil {
		t.Fatalf("count readings: %v", err)
	}
	return count
}

func timeAt(t time.Time) *time.Time { return &t }

func boolPtr(v bool) *bool { return &v }

func TestWriteOneAssignsServerFields(t *testing.T) {
	env := setupReadingService(t)

	got, err := env.svc.WriteOne(context.Background(), readingdomain.CreateReadingRequest{
		DeviceName: " greenhouse-1 ",
		SensorName: "temp",
		Value:      21.5,
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, "greenhouse-1", got.DeviceName)
	assert.Equal(t, 21.5, got.Value)
	assert.True(t, got.CreatedAt.Equal(baseTime))
	assert.True(t, got.ReadAt.Equal(got.CreatedAt), "expected read_at to default to created_at")
	assert.Equal(t, int64(1), countReadings(t, env.db))
}

func TestWriteOneRejectsInvalidReading(t *testing.T) {
	env := setupReadingService(t)

	_, err := env.svc.WriteOne(context.Background(), readingdomain.CreateReadingRequest{SensorName: "temp", Value: 1})
	assert.ErrorIs(t, err, readingdomain.ErrInvalidDeviceName)
	assert.Equal(t, int64(0), countReadings(t, env.db))
}

func TestWriteBatchInvalidElementPersistsNothing(t *testing.T) {
	env := setupReadingService(t)

	_, err := env.svc.WriteBatch(context.Background(), []readingdomain.CreateReadingRequest{
		{DeviceName: "d1", SensorName: "temp", Value: 1},
		{DeviceName: "d1", SensorName: "", Value: 2},
	})

	var invalid *readingdomain.InvalidReadingError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, invalid.Index)
	assert.True(t, readingdomain.IsInvalidInput(err))
	assert.Equal(t, int64(0), countReadings(t, env.db))
}

func TestWriteBatchPreservesInputOrder(t *testing.T) {
	env := setupReadingService(t)

	readings, err := env.svc.WriteBatch(context.Background(), []readingdomain.CreateReadingRequest{
		{DeviceName: "d1", SensorName: "temp", Value: 1},
		{DeviceName: "d2", SensorName: "hum", Value: 2},
		{DeviceName: "d1", SensorName: "hum", Value: 3},
	})
	require.NoError(t, err)

	require.Len(t, readings, 3)
	for i, r := range readings {
		assert.Equal(t, float64(i+1), r.Value)
	}
	assert.Equal(t, int64(3), countReadings(t, env.db))
}

func TestWriteBatchEmpty(t *testing.T) {
	env := setupReadingService(t)

	readings, err := env.svc.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, readings)
	assert.Empty(t, readings)
}

func TestWriteBatchTooLarge(t *testing.T) {
	env := setupReadingService(t, withReadingsConfig(config.ReadingsConfig{MaxBatchSize: 2}))

	_, err := env.svc.WriteBatch(context.Background(), []readingdomain.CreateReadingRequest{
		{DeviceName: "d", SensorName: "s", Value: 1},
		{DeviceName: "d", SensorName: "s", Value: 2},
		{DeviceName: "d", SensorName: "s", Value: 3},
	})
	assert.ErrorIs(t, err, readingdomain.ErrBatchTooLarge)
}

func TestWriteBatchAtomicRollsBackOnStorageFailure(t *testing.T) {
	first, dup := uuid.New(), uuid.New()
	env := setupReadingService(t, withIDs(first, dup, dup))

	_, err := env.svc.WriteBatch(context.Background(), []readingdomain.CreateReadingRequest{
		{DeviceName: "d", SensorName: "s", Value: 1},
		{DeviceName: "d", SensorName: "s", Value: 2},
		{DeviceName: "d", SensorName: "s", Value: 3},
	})

	var storageErr *readingdomain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.False(t, readingdomain.IsInvalidInput(err))
	assert.Equal(t, int64(0), countReadings(t, env.db))
}

func TestWriteBatchNonAtomicKeepsEarlierRows(t *testing.T) {
	first, dup := uuid.New(), uuid.New()
	env := setupReadingService(t,
		withIDs(first, dup, dup),
		withReadingsConfig(config.ReadingsConfig{AtomicBatch: boolPtr(false)}),
	)

	_, err := env.svc.WriteBatch(context.Background(), []readingdomain.CreateReadingRequest{
		{DeviceName: "d", SensorName: "s", Value: 1},
		{DeviceName: "d", SensorName: "s", Value: 2},
		{DeviceName: "d", SensorName: "s", Value: 3},
	})

	var storageErr *readingdomain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, int64(2), countReadings(t, env.db))
}

func TestWritePublishesLiveEventsWithSource(t *testing.T) {
	env := setupReadingService(t)
	sub, _, err := env.hub.Subscribe("d1")
	require.NoError(t, err)
	defer sub.Close()

	ctx := obscontext.WithSource(context.Background(), liveevents.SourceMQTT)
	_, err = env.svc.WriteBatch(ctx, []readingdomain.CreateReadingRequest{{DeviceName: "d1", SensorName: "temp", Value: 4}})
	require.NoError(t, err)

	select {
	case event := <-sub.Events():
		assert.Equal(t, liveevents.SourceMQTT, event.Source)
		assert.Equal(t, 4.0, event.Value)
	case <-time.After(time.Second):
		t.Fatalf("expected live event")
	}
}

func TestQueryDefaultWindow(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()

	// Stored at baseTime+offset; readAt defaults to the store time.
	for _, offset := range []time.Duration{-25 * time.Hour, -24 * time.Hour, -time.Hour, 0, time.Minute} {
		env.clock.Set(baseTime.Add(offset))
		_, err := env.svc.WriteOne(ctx, readingdomain.CreateReadingRequest{
			DeviceName: "d1",
			SensorName: "temp",
			Value:      offset.Hours(),
		})
		require.NoError(t, err)
	}
	env.clock.Set(baseTime)

	result, err := env.svc.Query(ctx, readingdomain.QueryRequest{})
	require.NoError(t, err)

	assert.False(t, result.Grouped())
	require.Len(t, result.Readings, 3)
	assert.Equal(t, -24.0, result.Readings[0].Value)
	assert.Equal(t, -1.0, result.Readings[1].Value)
	assert.Equal(t, 0.0, result.Readings[2].Value)
	assert.NotNil(t, result.Buckets)
}

func TestQueryDefaultWindowIncludesBackfilledReadings(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()

	backfilled := baseTime.Add(-48 * time.Hour)
	stored, err := env.svc.WriteOne(ctx, readingdomain.CreateReadingRequest{
		DeviceName: "d1",
		SensorName: "temp",
		Value:      7.5,
		ReadAt:     timeAt(backfilled),
	})
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(baseTime))

	result, err := env.svc.Query(ctx, readingdomain.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, result.Readings, 1)
	assert.Equal(t, stored.ID, result.Readings[0].ID)
	assert.True(t, result.Readings[0].ReadAt.Equal(backfilled))

	// An explicit range still filters on the measurement time.
	result, err = env.svc.Query(ctx, readingdomain.QueryRequest{From: timeAt(baseTime.Add(-time.Hour))})
	require.NoError(t, err)
	assert.Empty(t, result.Readings)
}

func TestQueryWindowFollowsClock(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()

	_, err := env.svc.WriteOne(ctx, readingdomain.CreateReadingRequest{DeviceName: "d", SensorName: "s", Value: 1})
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)
	result, err := env.svc.Query(ctx, readingdomain.QueryRequest{})
	require.NoError(t, err)
	assert.Empty(t, result.Readings)
}

func TestQueryFiltersAndExplicitRange(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()

	_, err := env.svc.WriteBatch(ctx, []readingdomain.CreateReadingRequest{
		{DeviceName: "d1", SensorName: "temp", Value: 1, ReadAt: timeAt(baseTime.Add(-72 * time.Hour))},
		{DeviceName: "d1", SensorName: "hum", Value: 2, ReadAt: timeAt(baseTime.Add(-72 * time.Hour))},
		{DeviceName: "d2", SensorName: "temp", Value: 3, ReadAt: timeAt(baseTime.Add(-72 * time.Hour))},
		{DeviceName: "d1", SensorName: "temp", Value: 4, ReadAt: timeAt(baseTime.Add(-100 * time.Hour))},
	})
	require.NoError(t, err)

	result, err := env.svc.Query(ctx, readingdomain.QueryRequest{
		DeviceName: "d1",
		SensorName: "temp",
		From:       timeAt(baseTime.Add(-80 * time.Hour)),
	})
	require.NoError(t, err)

	require.Len(t, result.Readings, 1)
	assert.Equal(t, 1.0, result.Readings[0].Value)
}

func TestQueryRoundTripsReadAt(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()
	readAt := time.Date(2026, 10, 19, 8, 15, 30, 123456000, time.UTC)

	stored, err := env.svc.WriteOne(ctx, readingdomain.CreateReadingRequest{
		DeviceName: "d1", SensorName: "temp", Value: 7, ReadAt: &readAt,
	})
	require.NoError(t, err)

	result, err := env.svc.Query(ctx, readingdomain.QueryRequest{DeviceName: "d1"})
	require.NoError(t, err)

	require.Len(t, result.Readings, 1)
	assert.Equal(t, stored.ID, result.Readings[0].ID)
	assert.True(t, result.Readings[0].ReadAt.Equal(readAt), "expected %s, got %s", readAt, result.Readings[0].ReadAt)
}

func TestQueryGroupByHourAverages(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()
	hour := baseTime.Add(-3 * time.Hour)

	_, err := env.svc.WriteBatch(ctx, []readingdomain.CreateReadingRequest{
		{DeviceName: "d1", SensorName: "temp", Value: 10, ReadAt: timeAt(hour.Add(5 * time.Minute))},
		{DeviceName: "d1", SensorName: "temp", Value: 20, ReadAt: timeAt(hour.Add(25 * time.Minute))},
		{DeviceName: "d1", SensorName: "temp", Value: 60, ReadAt: timeAt(hour.Add(55 * time.Minute))},
		{DeviceName: "d1", SensorName: "temp", Value: 99, ReadAt: timeAt(hour.Add(65 * time.Minute))},
	})
	require.NoError(t, err)

	result, err := env.svc.Query(ctx, readingdomain.QueryRequest{GroupBy: "hour"})
	require.NoError(t, err)

	assert.True(t, result.Grouped())
	require.Len(t, result.Buckets, 2)
	first := result.Buckets[0]
	assert.True(t, first.Bucket.Equal(hour), "expected bucket %s, got %s", hour, first.Bucket.Time)
	assert.InDelta(t, 30.0, first.AvgValue, 1e-9)
	assert.Equal(t, 10.0, first.MinValue)
	assert.Equal(t, 60.0, first.MaxValue)
	assert.Equal(t, int64(3), first.SampleCount)
	assert.Equal(t, int64(1), result.Buckets[1].SampleCount)
}

func TestQueryGroupByDay(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	_, err := env.svc.WriteBatch(ctx, []readingdomain.CreateReadingRequest{
		{DeviceName: "d1", SensorName: "temp", Value: 1, ReadAt: timeAt(day.Add(2 * time.Hour))},
		{DeviceName: "d1", SensorName: "temp", Value: 3, ReadAt: timeAt(day.Add(20 * time.Hour))},
		{DeviceName: "d2", SensorName: "temp", Value: 5, ReadAt: timeAt(day.Add(21 * time.Hour))},
	})
	require.NoError(t, err)

	result, err := env.svc.Query(ctx, readingdomain.QueryRequest{
		GroupBy: "day",
		From:    timeAt(day),
		To:      timeAt(day.Add(24*time.Hour - time.Nanosecond)),
	})
	require.NoError(t, err)

	require.Len(t, result.Buckets, 2)
	assert.Equal(t, "d1", result.Buckets[0].DeviceName)
	assert.Equal(t, 2.0, result.Buckets[0].AvgValue)
	assert.Equal(t, "d2", result.Buckets[1].DeviceName)
	assert.True(t, result.Buckets[1].Bucket.Equal(day))
}

func TestQueryValidation(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()

	_, err := env.svc.Query(ctx, readingdomain.QueryRequest{GroupBy: "minute"})
	assert.ErrorIs(t, err, readingdomain.ErrInvalidGroupBy)

	_, err = env.svc.Query(ctx, readingdomain.QueryRequest{
		From: timeAt(baseTime),
		To:   timeAt(baseTime.Add(-time.Hour)),
	})
	assert.ErrorIs(t, err, readingdomain.ErrInvalidTimeRange)
}

func TestListLookupsAreSortedAndDistinct(t *testing.T) {
	env := setupReadingService(t)
	ctx := context.Background()

	devices, err := env.svc.ListDevices(ctx)
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)

	_, err = env.svc.WriteBatch(ctx, []readingdomain.CreateReadingRequest{
		{DeviceName: "zeta", SensorName: "temp", Value: 1},
		{DeviceName: "alpha", SensorName: "hum", Value: 1},
		{DeviceName: "zeta", SensorName: "hum", Value: 1},
	})
	require.NoError(t, err)

	devices, err = env.svc.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, devices)

	sensors, err := env.svc.ListSensorNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hum", "temp"}, sensors)
}

func TestStorageFailureIsWrapped(t *testing.T) {
	env := setupReadingService(t)
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = env.svc.ListDevices(context.Background())
	var storageErr *readingdomain.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "list_devices", storageErr.Op)
}
