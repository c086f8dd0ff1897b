// Package domain contains persistence models for sensor readings.
package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const TableName = "sensor_reading"

// SensorReading stores a single measurement reported by a device sensor.
type SensorReading struct {
	ID         uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	DeviceName string    `gorm:"type:varchar(255);not null;index:idx_sensor_reading_device_sensor_read_at,priority:1" json:"device_name"`
	SensorName string    `gorm:"type:varchar(255);not null;index:idx_sensor_reading_device_sensor_read_at,priority:2" json:"sensor_name"`
	Value      float64   `gorm:"not null" json:"value"`
	ReadAt     time.Time `gorm:"not null;precision:6;index:idx_sensor_reading_device_sensor_read_at,priority:3;index:idx_sensor_reading_read_at" json:"read_at"`
	CreatedAt  time.Time `gorm:"not null;precision:6;index:idx_sensor_reading_created_at" json:"created_at"`
}

// TableName sets the database table name.
func (SensorReading) TableName() string { return TableName }

// ReadingBucket is one aggregated row of a grouped query.
type ReadingBucket struct {
	DeviceName  string     `json:"device_name"`
	SensorName  string     `json:"sensor_name"`
	Bucket      BucketTime `json:"bucket"`
	AvgValue    float64    `json:"avg_value"`
	MinValue    float64    `json:"min_value"`
	MaxValue    float64    `json:"max_value"`
	SampleCount int64      `json:"sample_count"`
}

var bucketLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// BucketTime is the start of an aggregation bucket. Dialects return it either as a
// timestamp or as formatted text, so it scans both.
type BucketTime struct {
	time.Time
}

func (b *BucketTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		b.Time = time.Time{}
		return nil
	case time.Time:
		b.Time = v.UTC()
		return nil
	case string:
		return b.parse(v)
	case []byte:
		return b.parse(string(v))
	default:
		return fmt.Errorf("bucket: unsupported type %T", src)
	}
}

func (b BucketTime) Value() (driver.Value, error) {
	return b.Time, nil
}

func (BucketTime) GormDataType() string { return "time" }

func (b *BucketTime) parse(raw string) error {
	for _, layout := range bucketLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			b.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("bucket: unrecognized time %q", raw)
}

// NormalizeTime converts to UTC at microsecond precision, the finest resolution every
// supported dialect stores.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
