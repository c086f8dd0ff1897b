package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/micoriza/internal/clock"
	"github.com/smallbiznis/micoriza/internal/config"
	obscontext "github.com/smallbiznis/micoriza/internal/observability/context"
	obsmetrics "github.com/smallbiznis/micoriza/internal/observability/metrics"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/liveevents"
	"github.com/smallbiznis/micoriza/internal/reading/publisher"
	"github.com/smallbiznis/micoriza/internal/reading/query"
	"github.com/smallbiznis/micoriza/internal/reading/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       readingdomain.Repository
	Config     *config.ReadingsConfigHolder
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
	LiveEvents *liveevents.Hub           `optional:"true"`
	Publisher  *publisher.RedisPublisher `optional:"true"`
	NewID      func() uuid.UUID          `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock      clock.Clock
	repo       readingdomain.Repository
	cfg        *config.ReadingsConfigHolder
	obsMetrics *obsmetrics.Metrics
	liveEvents *liveevents.Hub
	publisher  *publisher.RedisPublisher
	newID      func() uuid.UUID
}

func NewService(p ServiceParam) readingdomain.Service {
	newID := p.NewID
	if newID == nil {
		newID = uuid.New
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("reading.service"),

		clock:      c,
		repo:       p.Repo,
		cfg:        p.Config,
		obsMetrics: p.ObsMetrics,
		liveEvents: p.LiveEvents,
		publisher:  p.Publisher,
		newID:      newID,
	}
}

func (s *Service) WriteOne(ctx context.Context, req readingdomain.CreateReadingRequest) (*readingdomain.SensorReading, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	reading := s.newReading(req, readingdomain.NormalizeTime(s.clock.Now()))
	if err := s.repo.Insert(ctx, s.db, &reading); err != nil {
		return nil, s.storageError(ctx, "insert", err)
	}

	s.afterWrite(ctx, []readingdomain.SensorReading{reading})
	return &reading, nil
}

func (s *Service) WriteBatch(ctx context.Context, reqs []readingdomain.CreateReadingRequest) ([]readingdomain.SensorReading, error) {
	cfg := s.cfg.Get()
	if cfg.MaxBatchSize > 0 && len(reqs) > cfg.MaxBatchSize {
		return nil, readingdomain.ErrBatchTooLarge
	}
	if err := validator.ValidateBatch(reqs); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return []readingdomain.SensorReading{}, nil
	}

	now := readingdomain.NormalizeTime(s.clock.Now())
	readings := make([]readingdomain.SensorReading, 0, len(reqs))
	for _, req := range reqs {
		readings = append(readings, s.newReading(req, now))
	}

	var err error
	if cfg.Atomic() {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.insertAll(ctx, tx, readings)
		})
	} else {
		err = s.insertAll(ctx, s.db, readings)
	}
	if err != nil {
		return nil, s.storageError(ctx, "insert_batch", err)
	}

	s.afterWrite(ctx, readings)
	return readings, nil
}

func (s *Service) insertAll(ctx context.Context, db *gorm.DB, readings []readingdomain.SensorReading) error {
	for i := range readings {
		if err := s.repo.Insert(ctx, db, &readings[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Query(ctx context.Context, req readingdomain.QueryRequest) (*readingdomain.QueryResult, error) {
	groupBy, err := query.ParseGroupBy(req.GroupBy)
	if err != nil {
		return nil, readingdomain.ErrInvalidGroupBy
	}
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, readingdomain.ErrInvalidTimeRange
	}

	cfg := s.cfg.Get()
	builder := query.Builder{
		Table:   readingdomain.TableName,
		Dialect: s.db.Dialector.Name(),
		Window:  cfg.QueryWindow,
		Now:     s.clock.Now(),
	}
	stmt, err := builder.Build(query.Filter{
		DeviceName: req.DeviceName,
		SensorName: req.SensorName,
		From:       req.From,
		To:         req.To,
		GroupBy:    groupBy,
	})
	if err != nil {
		return nil, s.storageError(ctx, "build_query", err)
	}

	s.obsMetrics.RecordReadingQuery(ctx, string(groupBy))

	result := &readingdomain.QueryResult{
		GroupBy:  string(groupBy),
		Readings: []readingdomain.SensorReading{},
		Buckets:  []readingdomain.ReadingBucket{},
	}

	if groupBy == query.GroupByNone {
		readings, err := s.repo.FindRaw(ctx, s.db, stmt)
		if err != nil {
			return nil, s.storageError(ctx, "find_readings", err)
		}
		if readings != nil {
			result.Readings = readings
		}
		return result, nil
	}

	buckets, err := s.repo.FindBuckets(ctx, s.db, stmt)
	if err != nil {
		return nil, s.storageError(ctx, "find_buckets", err)
	}
	if buckets != nil {
		result.Buckets = buckets
	}
	return result, nil
}

func (s *Service) ListDevices(ctx context.Context) ([]string, error) {
	names, err := s.repo.DistinctDeviceNames(ctx, s.db)
	if err != nil {
		return nil, s.storageError(ctx, "list_devices", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *Service) ListSensorNames(ctx context.Context) ([]string, error) {
	names, err := s.repo.DistinctSensorNames(ctx, s.db)
	if err != nil {
		return nil, s.storageError(ctx, "list_sensors", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *Service) newReading(req readingdomain.CreateReadingRequest, now time.Time) readingdomain.SensorReading {
	readAt := now
	if req.ReadAt != nil {
		readAt = readingdomain.NormalizeTime(*req.ReadAt)
	}
	return readingdomain.SensorReading{
		ID:         s.newID(),
		DeviceName: strings.TrimSpace(req.DeviceName),
		SensorName: strings.TrimSpace(req.SensorName),
		Value:      req.Value,
		ReadAt:     readAt,
		CreatedAt:  now,
	}
}

func (s *Service) afterWrite(ctx context.Context, readings []readingdomain.SensorReading) {
	source := obscontext.SourceFromContext(ctx)
	if source == "" {
		source = liveevents.SourceAPI
	}

	s.liveEvents.PublishReadings(readings, source)
	s.publisher.Publish(ctx, readings, source)
	s.obsMetrics.RecordReadingsIngested(ctx, source, len(readings))

	s.log.Debug("readings stored",
		zap.String("source", source),
		zap.Int("count", len(readings)),
	)
}

func (s *Service) storageError(ctx context.Context, op string, err error) error {
	s.obsMetrics.RecordStorageError(ctx, op, err)
	if !errors.Is(err, context.Canceled) {
		s.log.Error("storage failure",
			zap.String("op", op),
			zap.String("reason", obsmetrics.ClassifyStorageError(err)),
			zap.Error(err),
		)
	}
	return &readingdomain.StorageError{Op: op, Err: err}
}
