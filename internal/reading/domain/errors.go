package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrInvalidDeviceName = errors.New("invalid_device_name")
	ErrInvalidSensorName = errors.New("invalid_sensor_name")
	ErrInvalidValue      = errors.New("invalid_value")
	ErrInvalidReadAt     = errors.New("invalid_read_at")
	ErrBatchTooLarge     = errors.New("batch_too_large")
	ErrInvalidGroupBy    = errors.New("invalid_group_by")
	ErrInvalidTimeRange  = errors.New("invalid_time_range")
	ErrInvalidFrom       = errors.New("invalid_from")
	ErrInvalidTo         = errors.New("invalid_to")
)

// InvalidReadingError identifies the element of a write request that failed validation.
type InvalidReadingError struct {
	Index int
	Err   error
}

func (e *InvalidReadingError) Error() string {
	return fmt.Sprintf("readings[%d].%s: %v", e.Index, FieldOf(e.Err), e.Err)
}

func (e *InvalidReadingError) Unwrap() error { return e.Err }

// StorageError wraps a repository failure. Its cause is logged, never returned to clients.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// FieldOf names the request field a validation error refers to.
func FieldOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDeviceName):
		return "deviceName"
	case errors.Is(err, ErrInvalidSensorName):
		return "sensorName"
	case errors.Is(err, ErrInvalidValue):
		return "value"
	case errors.Is(err, ErrInvalidReadAt):
		return "readAt"
	case errors.Is(err, ErrInvalidGroupBy):
		return "groupBy"
	case errors.Is(err, ErrInvalidFrom), errors.Is(err, ErrInvalidTimeRange):
		return "from"
	case errors.Is(err, ErrInvalidTo):
		return "to"
	default:
		return ""
	}
}

// IsInvalidInput reports whether err is a client error.
func IsInvalidInput(err error) bool {
	var invalid *InvalidReadingError
	if errors.As(err, &invalid) {
		return true
	}
	for _, target := range []error{
		ErrInvalidPayload,
		ErrInvalidDeviceName,
		ErrInvalidSensorName,
		ErrInvalidValue,
		ErrInvalidReadAt,
		ErrBatchTooLarge,
		ErrInvalidGroupBy,
		ErrInvalidTimeRange,
		ErrInvalidFrom,
		ErrInvalidTo,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
