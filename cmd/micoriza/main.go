package main

import (
	"github.com/smallbiznis/micoriza/internal/clock"
	"github.com/smallbiznis/micoriza/internal/config"
	"github.com/smallbiznis/micoriza/internal/ingest/mqtt"
	"github.com/smallbiznis/micoriza/internal/metricspush"
	"github.com/smallbiznis/micoriza/internal/migration"
	"github.com/smallbiznis/micoriza/internal/observability"
	"github.com/smallbiznis/micoriza/internal/reading"
	"github.com/smallbiznis/micoriza/internal/server"
	"github.com/smallbiznis/micoriza/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		reading.Module,
		mqtt.Module,
		metricspush.Module,

		server.Module,
	)
	app.Run()
}
