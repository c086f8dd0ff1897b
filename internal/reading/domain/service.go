package domain

import (
	"context"
	"time"
)

// CreateReadingRequest is one decoded element of a write request.
type CreateReadingRequest struct {
	DeviceName string     `json:"deviceName"`
	SensorName string     `json:"sensorName"`
	Value      float64    `json:"value"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

type QueryRequest struct {
	DeviceName string
	SensorName string
	From       *time.Time
	To         *time.Time
	GroupBy    string
}

// QueryResult holds raw rows when GroupBy is none and buckets otherwise.
type QueryResult struct {
	GroupBy  string
	Readings []SensorReading
	Buckets  []ReadingBucket
}

// Grouped reports whether the result holds aggregated buckets.
func (r *QueryResult) Grouped() bool {
	return r != nil && r.GroupBy != "" && r.GroupBy != "none"
}

type Service interface {
	WriteOne(context.Context, CreateReadingRequest) (*SensorReading, error)
	WriteBatch(context.Context, []CreateReadingRequest) ([]SensorReading, error)
	Query(context.Context, QueryRequest) (*QueryResult, error)
	ListDevices(context.Context) ([]string, error)
	ListSensorNames(context.Context) ([]string, error)
}
