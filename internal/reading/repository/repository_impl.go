package repository

import (
	"context"

	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/query"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() readingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, m *readingdomain.SensorReading) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO sensor_reading (id, device_name, sensor_name, value, read_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.DeviceName,
		m.SensorName,
		m.Value,
		m.ReadAt,
		m.CreatedAt,
	).Error
}

func (r *repo) FindRaw(ctx context.Context, db *gorm.DB, stmt query.Statement) ([]readingdomain.SensorReading, error) {
	readings := []readingdomain.SensorReading{}
	err := db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Scan(&readings).Error
	if err != nil {
		return nil, err
	}
	for i := range readings {
		readings[i].ReadAt = readings[i].ReadAt.UTC()
		readings[i].CreatedAt = readings[i].CreatedAt.UTC()
	}
	return readings, nil
}

func (r *repo) FindBuckets(ctx context.Context, db *gorm.DB, stmt query.Statement) ([]readingdomain.ReadingBucket, error) {
	rows, err := db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := []readingdomain.ReadingBucket{}
	for rows.Next() {
		var b readingdomain.ReadingBucket
		if err := rows.Scan(
			&b.DeviceName,
			&b.SensorName,
			&b.Bucket,
			&b.AvgValue,
			&b.MinValue,
			&b.MaxValue,
			&b.SampleCount,
		); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return buckets, nil
}

func (r *repo) DistinctDeviceNames(ctx context.Context, db *gorm.DB) ([]string, error) {
	names := []string{}
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT device_name FROM sensor_reading ORDER BY device_name ASC`,
	).Scan(&names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (r *repo) DistinctSensorNames(ctx context.Context, db *gorm.DB) ([]string, error) {
	names := []string{}
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT sensor_name FROM sensor_reading ORDER BY sensor_name ASC`,
	).Scan(&names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}
