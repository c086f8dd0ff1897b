package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/micoriza/internal/config"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(registerWorker),
)

type workerParams struct {
	fx.In

	Lc         fx.Lifecycle
	Cfg        config.Config
	Pusher     Pusher `optional:"true"`
	ReadingSvc readingdomain.Service
	Log        *zap.Logger
}

func registerWorker(p workerParams) {
	if p.Pusher == nil {
		return
	}

	w := newWorker(p.Pusher, p.ReadingSvc, p.Cfg.MetricsPush.Interval, p.Log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.log.Info("starting metrics push worker", zap.Duration("interval", w.interval))
			go func() {
				defer close(done)
				w.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

type worker struct {
	pusher   Pusher
	svc      readingdomain.Service
	interval time.Duration
	log      *zap.Logger

	devices  prometheus.Gauge
	gatherer prometheus.Gatherer
}

func newWorker(pusher Pusher, svc readingdomain.Service, interval time.Duration, log *zap.Logger) *worker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	registry := prometheus.NewRegistry()
	devices := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "micoriza_devices_known",
		Help: "Distinct device names with at least one stored reading.",
	})
	registry.MustRegister(devices)

	return &worker{
		pusher:   pusher,
		svc:      svc,
		interval: interval,
		log:      log.Named("metrics.push"),
		devices:  devices,
		gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, registry},
	}
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			w.log.Info("stopping metrics push worker")
			return
		}
	}
}

func (w *worker) tick(ctx context.Context) {
	w.updateDeviceCount(ctx)

	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := w.pusher.Push(pushCtx, w.gatherer); err != nil {
		w.log.Warn("metrics push failed", zap.Error(err))
	}
}

func (w *worker) updateDeviceCount(ctx context.Context) {
	if w.svc == nil {
		return
	}
	devices, err := w.svc.ListDevices(ctx)
	if err != nil {
		return
	}
	w.devices.Set(float64(len(devices)))
}
