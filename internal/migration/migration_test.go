package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/micoriza/internal/config"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	assert.NotZero(t, ups)
	assert.Equal(t, ups, downs)
}

func TestRunAutoMigratesSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:TestRunAutoMigratesSQLite?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	strategy, err := Run(db)
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, strategy)
	_, err = Run(db)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&readingdomain.SensorReading{}))
	assert.True(t, db.Migrator().HasIndex(&readingdomain.SensorReading{}, "idx_sensor_reading_device_sensor_read_at"))
	assert.True(t, db.Migrator().HasIndex(&readingdomain.SensorReading{}, "idx_sensor_reading_read_at"))
	assert.True(t, db.Migrator().HasIndex(&readingdomain.SensorReading{}, "idx_sensor_reading_created_at"))
}

func TestRunRejectsNilHandle(t *testing.T) {
	_, err := Run(nil)
	assert.Error(t, err)
	assert.Error(t, RunMigrations(nil))
	assert.Error(t, AutoMigrate(nil))
}

func TestMigrateOnStartSkipsWhenDisabled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:TestMigrateOnStartSkips?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migrateOnStart(db, config.Config{DBAutoMigrate: false}, zap.NewNop()))
	assert.False(t, db.Migrator().HasTable(&readingdomain.SensorReading{}))

	require.NoError(t, migrateOnStart(db, config.Config{DBAutoMigrate: true}, zap.NewNop()))
	assert.True(t, db.Migrator().HasTable(&readingdomain.SensorReading{}))
}
