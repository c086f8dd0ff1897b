package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/validator"
)

var ErrInvalidTopic = errors.New("invalid_topic")

// ParseTopic extracts device and sensor names from topics shaped like sensors/<device>/<sensor>.
func ParseTopic(topic string) (deviceName, sensorName string, err error) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 3 {
		return "", "", ErrInvalidTopic
	}
	deviceName = strings.TrimSpace(parts[len(parts)-2])
	sensorName = strings.TrimSpace(parts[len(parts)-1])
	if deviceName == "" || sensorName == "" {
		return "", "", ErrInvalidTopic
	}
	return deviceName, sensorName, nil
}

// ParseMessage turns one MQTT message into a validated write request.
// The payload is a bare number or a reading object; names missing from the object come from the topic.
// Readings without readAt are stamped with the time the message arrived.
func ParseMessage(topic string, payload []byte, receivedAt time.Time) (readingdomain.CreateReadingRequest, error) {
	deviceName, sensorName, err := ParseTopic(topic)
	if err != nil {
		return readingdomain.CreateReadingRequest{}, err
	}

	trimmed := bytes.TrimSpace(payload)
	var req readingdomain.CreateReadingRequest

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]any
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return req, readingdomain.ErrInvalidPayload
		}
		if _, ok := fields["deviceName"]; !ok {
			fields["deviceName"] = deviceName
		}
		if _, ok := fields["sensorName"]; !ok {
			fields["sensorName"] = sensorName
		}
		normalized, err := json.Marshal(fields)
		if err != nil {
			return req, readingdomain.ErrInvalidPayload
		}
		reqs, _, err := validator.Decode(normalized)
		if err != nil {
			var invalid *readingdomain.InvalidReadingError
			if errors.As(err, &invalid) {
				return req, invalid.Err
			}
			return req, err
		}
		req = reqs[0]
	} else {
		value, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return req, readingdomain.ErrInvalidValue
		}
		req = readingdomain.CreateReadingRequest{
			DeviceName: deviceName,
			SensorName: sensorName,
			Value:      value,
		}
	}

	if req.ReadAt == nil {
		at := receivedAt.UTC()
		req.ReadAt = &at
	}
	if err := validator.Validate(req); err != nil {
		return req, err
	}
	return req, nil
}
