package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/smallbiznis/micoriza/internal/clock"
	"github.com/smallbiznis/micoriza/internal/config"
	obscontext "github.com/smallbiznis/micoriza/internal/observability/context"
	"github.com/smallbiznis/micoriza/internal/observability/logger"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/liveevents"
	"github.com/smallbiznis/micoriza/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const (
	queueSize      = 4096
	connectTimeout = 10 * time.Second
)

// Subscriber ingests readings published to the MQTT broker. Valid messages are queued and
// written in batches by a single writer goroutine.
type Subscriber struct {
	cfg      config.MQTTConfig
	readings *config.ReadingsConfigHolder
	svc      readingdomain.Service
	clock    clock.Clock
	log      *zap.Logger

	client paho.Client
	msgCh  chan readingdomain.CreateReadingRequest
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewSubscriber returns nil when no broker is configured.
func NewSubscriber(cfg config.Config, readings *config.ReadingsConfigHolder, svc readingdomain.Service, c clock.Clock, log *zap.Logger) *Subscriber {
	if !cfg.MQTT.Enabled() {
		return nil
	}
	return newSubscriber(cfg.MQTT, readings, svc, c, log)
}

func newSubscriber(cfg config.MQTTConfig, readings *config.ReadingsConfigHolder, svc readingdomain.Service, c clock.Clock, log *zap.Logger) *Subscriber {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = time.Second
	}
	if c == nil {
		c = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		cfg:      cfg,
		readings: readings,
		svc:      svc,
		clock:    c,
		log:      log.Named("mqtt.ingest"),
		msgCh:    make(chan readingdomain.CreateReadingRequest, queueSize),
	}
}

// batchLimit caps the configured MQTT batch size at readings.max_batch_size, which
// WriteBatch enforces. The readings config is re-read so reloads apply to the next batch.
func (s *Subscriber) batchLimit() int {
	limit := s.cfg.BatchSize
	if maxBatch := s.readings.Get().MaxBatchSize; maxBatch > 0 && maxBatch < limit {
		limit = maxBatch
	}
	return limit
}

func (s *Subscriber) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.startWriter(runCtx)

	opts := paho.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Error("mqtt connection lost", zap.Error(err))
	}
	opts.OnConnect = func(c paho.Client) {
		s.log.Info("mqtt connected, subscribing", zap.String("topic", s.cfg.Topic))
		if token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
			s.log.Error("mqtt subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
		}
	}

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		s.log.Warn("mqtt broker not reachable yet, retrying in background", zap.String("broker", s.cfg.BrokerURL))
		return nil
	}
	if err := token.Error(); err != nil {
		cancel()
		return err
	}
	return nil
}

// Stop disconnects from the broker and flushes queued readings.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(500)
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.msgCh)
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Subscriber) IsConnected() bool {
	return s != nil && s.client != nil && s.client.IsConnected()
}

func (s *Subscriber) onMessage(_ paho.Client, m paho.Message) {
	s.enqueue(m.Topic(), m.Payload())
}

func (s *Subscriber) enqueue(topic string, payload []byte) {
	req, err := ParseMessage(topic, payload, s.clock.Now())
	if err != nil {
		s.log.Warn("mqtt reading dropped",
			zap.String("topic", topic),
			zap.String("reason", err.Error()),
		)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.msgCh <- req:
	default:
		s.log.Warn("mqtt queue full, reading dropped", zap.String("topic", topic))
	}
}

func (s *Subscriber) startWriter(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.batchWriter(ctx)
	}()
}

func (s *Subscriber) batchWriter(ctx context.Context) {
	batch := make([]readingdomain.CreateReadingRequest, 0, s.batchLimit())
	timer := time.NewTimer(s.cfg.BatchWindow)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.write(ctx, batch)
		batch = make([]readingdomain.CreateReadingRequest, 0, s.batchLimit())
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case req, ok := <-s.msgCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, req)
			if len(batch) >= s.batchLimit() {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.cfg.BatchWindow)
			}
		case <-timer.C:
			flush()
			timer.Reset(s.cfg.BatchWindow)
		}
	}
}

func (s *Subscriber) write(ctx context.Context, batch []readingdomain.CreateReadingRequest) {
	ctx = obscontext.WithSource(ctx, liveevents.SourceMQTT)
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	log := logger.WithContext(ctx, s.log)

	stored, err := s.svc.WriteBatch(ctx, batch)
	if err != nil {
		log.Error("mqtt batch write failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return
	}
	log.Debug("mqtt batch written", zap.Int("batch_size", len(stored)))
}
