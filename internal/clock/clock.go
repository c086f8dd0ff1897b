package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time to code that stamps or windows readings.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock", fx.Provide(New))
