package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"gorm.io/gorm"
)

// Strategy names how the reading schema was brought up to date.
type Strategy string

const (
	StrategySQL  Strategy = "sql"
	StrategyAuto Strategy = "auto"
)

var (
	errNilHandle   = errors.New("migration database handle is required")
	ErrDirtySchema = errors.New("sensor_reading schema is dirty")
)

// Run migrates postgres with the embedded SQL files and every other dialect with
// gorm AutoMigrate on the reading model.
func Run(conn *gorm.DB) (Strategy, error) {
	if conn == nil {
		return "", errNilHandle
	}
	if conn.Dialector.Name() != "postgres" {
		return StrategyAuto, AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return StrategySQL, err
	}
	return StrategySQL, RunMigrations(sqlDB)
}

// RunMigrations applies the embedded Postgres migrations and refuses to continue
// from a half-applied version.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errNilHandle
	}
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	// migrator.Close would close the shared *sql.DB.

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}

// AutoMigrate creates the reading table and its indexes from the gorm model.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errNilHandle
	}
	if err := db.AutoMigrate(&readingdomain.SensorReading{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
