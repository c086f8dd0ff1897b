package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gosimple/slug"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/micoriza/internal/config"
	"github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// RedisPublisher announces stored readings on per-device Redis channels.
// A nil publisher is valid and does nothing.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisPublisher returns nil when no Redis address is configured.
func NewRedisPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*RedisPublisher, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	p := newRedisPublisher(client, cfg.Redis.ChannelPrefix, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				p.log.Warn("redis unreachable, readings will not be published", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return p, nil
}

func newRedisPublisher(client *redis.Client, prefix string, log *zap.Logger) *RedisPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "readings"
	}
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		log:    log.Named("reading.publisher"),
	}
}

func (p *RedisPublisher) Enabled() bool {
	return p != nil && p.client != nil
}

// Channel returns the channel a device's readings are published on.
func Channel(prefix, deviceName string) string {
	return prefix + ":" + slug.Make(deviceName)
}

// Publish sends every reading in one pipeline. Failures are logged and swallowed.
func (p *RedisPublisher) Publish(ctx context.Context, readings []domain.SensorReading, source string) {
	if !p.Enabled() || len(readings) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	for _, r := range readings {
		payload, err := json.Marshal(liveevents.FromReading(r, source))
		if err != nil {
			p.log.Warn("encode reading", zap.Error(err))
			continue
		}
		pipe.Publish(ctx, Channel(p.prefix, r.DeviceName), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("publish readings", zap.Int("count", len(readings)), zap.Error(err))
	}
}
