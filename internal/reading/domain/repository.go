package domain

import (
	"context"

	"github.com/smallbiznis/micoriza/internal/reading/query"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, reading *SensorReading) error
	FindRaw(ctx context.Context, db *gorm.DB, stmt query.Statement) ([]SensorReading, error)
	FindBuckets(ctx context.Context, db *gorm.DB, stmt query.Statement) ([]ReadingBucket, error)
	DistinctDeviceNames(ctx context.Context, db *gorm.DB) ([]string, error)
	DistinctSensorNames(ctx context.Context, db *gorm.DB) ([]string, error)
}
