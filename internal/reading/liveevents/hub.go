package liveevents

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/micoriza/internal/reading/domain"
)

const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable    = errors.New("hub_unavailable")
	ErrInvalidDeviceName = errors.New("invalid_device_name")
)

type LiveEvent struct {
	ID         string  `json:"id"`
	DeviceName string  `json:"device_name"`
	SensorName string  `json:"sensor_name"`
	Value      float64 `json:"value"`
	ReadAt     string  `json:"read_at"`
	Source     string  `json:"source"`
}

// FromReading converts a stored reading into a stream event.
func FromReading(r domain.SensorReading, source string) LiveEvent {
	return LiveEvent{
		ID:         r.ID.String(),
		DeviceName: r.DeviceName,
		SensorName: r.SensorName,
		Value:      r.Value,
		ReadAt:     r.ReadAt.UTC().Format(time.RFC3339Nano),
		Source:     source,
	}
}

// Hub fans stored readings out to live subscribers, one stream per device.
// Each stream keeps a short backlog that new subscribers receive first.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub        *Hub
	deviceName string
	id         uint64
	ch         chan LiveEvent
	once       sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers the event to current subscribers of the device. Slow subscribers miss events.
func (h *Hub) Publish(deviceName string, event LiveEvent) {
	if h == nil {
		return
	}
	name := strings.TrimSpace(deviceName)
	if name == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[name]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishReadings publishes every reading to its device stream.
func (h *Hub) PublishReadings(readings []domain.SensorReading, source string) {
	if h == nil {
		return
	}
	for _, r := range readings {
		h.Publish(r.DeviceName, FromReading(r, source))
	}
}

func (h *Hub) Subscribe(deviceName string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	name := strings.TrimSpace(deviceName)
	if name == "" {
		return nil, nil, ErrInvalidDeviceName
	}

	stream := h.ensureStream(name)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan LiveEvent)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	backlog := append([]LiveEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:        h,
		deviceName: name,
		id:         id,
		ch:         ch,
	}, backlog, nil
}

// Subscribers returns the number of open subscriptions for the device.
func (h *Hub) Subscribers(deviceName string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	stream := h.streams[strings.TrimSpace(deviceName)]
	h.mu.RUnlock()
	if stream == nil {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}

func (h *Hub) ensureStream(deviceName string) *stream {
	h.mu.RLock()
	current := h.streams[deviceName]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[deviceName]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[deviceName] = current
	}
	return current
}

func (h *Hub) unsubscribe(deviceName string, id uint64) {
	if h == nil {
		return
	}

	h.mu.RLock()
	stream := h.streams[deviceName]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	// drop idle streams so device names do not accumulate
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[deviceName] != stream {
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, deviceName)
	}
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.deviceName, s.id)
	})
}
