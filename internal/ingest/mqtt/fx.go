package mqtt

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("mqtt.ingest",
	fx.Provide(NewSubscriber),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, s *Subscriber) {
	if s == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
