package reading

import (
	"github.com/smallbiznis/micoriza/internal/reading/liveevents"
	"github.com/smallbiznis/micoriza/internal/reading/publisher"
	"github.com/smallbiznis/micoriza/internal/reading/repository"
	"github.com/smallbiznis/micoriza/internal/reading/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reading.service",
	fx.Provide(repository.Provide),
	fx.Provide(liveevents.NewHub),
	fx.Provide(publisher.NewRedisPublisher),
	fx.Provide(service.NewService),
)
