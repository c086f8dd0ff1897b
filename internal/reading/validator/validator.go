// Package validator decodes and checks reading write requests before anything is stored.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/micoriza/internal/reading/domain"
)

type rawReading struct {
	DeviceName any `json:"deviceName"`
	SensorName any `json:"sensorName"`
	Value      any `json:"value"`
	ReadAt     any `json:"readAt"`
}

// Decode accepts a JSON array of reading objects or a single reading object.
// The boolean reports whether the body was an array.
func Decode(body []byte) ([]domain.CreateReadingRequest, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, domain.ErrInvalidPayload
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, true, domain.ErrInvalidPayload
		}
		reqs := make([]domain.CreateReadingRequest, 0, len(items))
		for i, item := range items {
			req, err := decodeOne(item)
			if err != nil {
				return nil, true, &domain.InvalidReadingError{Index: i, Err: err}
			}
			reqs = append(reqs, req)
		}
		return reqs, true, nil
	case '{':
		req, err := decodeOne(trimmed)
		if err != nil {
			return nil, false, &domain.InvalidReadingError{Index: 0, Err: err}
		}
		return []domain.CreateReadingRequest{req}, false, nil
	default:
		return nil, false, domain.ErrInvalidPayload
	}
}

func decodeOne(data []byte) (domain.CreateReadingRequest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.CreateReadingRequest{}, domain.ErrInvalidPayload
	}

	var raw rawReading
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return domain.CreateReadingRequest{}, domain.ErrInvalidPayload
	}
	// one object per element; anything after it makes the body malformed
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.CreateReadingRequest{}, domain.ErrInvalidPayload
	}

	var req domain.CreateReadingRequest

	deviceName, ok := raw.DeviceName.(string)
	if !ok {
		return req, domain.ErrInvalidDeviceName
	}
	sensorName, ok := raw.SensorName.(string)
	if !ok {
		return req, domain.ErrInvalidSensorName
	}
	number, ok := raw.Value.(json.Number)
	if !ok {
		return req, domain.ErrInvalidValue
	}
	value, err := number.Float64()
	if err != nil {
		return req, domain.ErrInvalidValue
	}

	req.DeviceName = deviceName
	req.SensorName = sensorName
	req.Value = value

	switch v := raw.ReadAt.(type) {
	case nil:
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return req, domain.ErrInvalidReadAt
		}
		req.ReadAt = &parsed
	default:
		return req, domain.ErrInvalidReadAt
	}

	return req, Validate(req)
}

// Validate checks a typed request. It does not mutate it.
func Validate(req domain.CreateReadingRequest) error {
	if strings.TrimSpace(req.DeviceName) == "" {
		return domain.ErrInvalidDeviceName
	}
	if strings.TrimSpace(req.SensorName) == "" {
		return domain.ErrInvalidSensorName
	}
	if math.IsNaN(req.Value) || math.IsInf(req.Value, 0) {
		return domain.ErrInvalidValue
	}
	if req.ReadAt != nil && req.ReadAt.IsZero() {
		return domain.ErrInvalidReadAt
	}
	return nil
}

// ValidateBatch checks every element and reports the first failure with its index.
func ValidateBatch(reqs []domain.CreateReadingRequest) error {
	for i, req := range reqs {
		if err := Validate(req); err != nil {
			return &domain.InvalidReadingError{Index: i, Err: err}
		}
	}
	return nil
}
