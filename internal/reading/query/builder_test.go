package query

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestParseGroupBy(t *testing.T) {
	cases := map[string]GroupBy{
		"":      GroupByNone,
		"none":  GroupByNone,
		"HOUR":  GroupByHour,
		" day ": GroupByDay,
	}
	for in, want := range cases {
		got, err := ParseGroupBy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseGroupBy("week")
	assert.ErrorIs(t, err, ErrUnknownGroupBy)
}

func TestBuildDefaultWindow(t *testing.T) {
	b := Builder{Dialect: "postgres", Now: now}

	stmt, err := b.Build(Filter{})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, device_name, sensor_name, value, read_at, created_at FROM sensor_reading"+
			" WHERE created_at >= ? AND created_at <= ? ORDER BY read_at ASC, created_at ASC",
		stmt.SQL)
	assert.Equal(t, []any{now.Add(-24 * time.Hour), now}, stmt.Args)
	assert.Equal(t, GroupByNone, stmt.GroupBy)
}

func TestBuildUsesConfiguredWindow(t *testing.T) {
	b := Builder{Dialect: "postgres", Now: now, Window: 6 * time.Hour}

	stmt, err := b.Build(Filter{DeviceName: "greenhouse-1"})
	require.NoError(t, err)

	assert.Equal(t, []any{"greenhouse-1", now.Add(-6 * time.Hour), now}, stmt.Args)
}

func TestBuildArgumentOrderMatchesPredicates(t *testing.T) {
	from := now.Add(-2 * time.Hour)
	to := now.Add(-time.Hour)
	b := Builder{Dialect: "postgres", Now: now}

	cases := []struct {
		name      string
		filter    Filter
		fragments []string
		args      []any
	}{
		{
			name:      "device only",
			filter:    Filter{DeviceName: "dev"},
			fragments: []string{"device_name = ?", "created_at >= ?", "created_at <= ?"},
			args:      []any{"dev", now.Add(-DefaultWindow), now},
		},
		{
			name:      "sensor only",
			filter:    Filter{SensorName: "temp"},
			fragments: []string{"sensor_name = ?", "created_at >= ?", "created_at <= ?"},
			args:      []any{"temp", now.Add(-DefaultWindow), now},
		},
		{
			name:      "from only disables the default window",
			filter:    Filter{From: &from},
			fragments: []string{"read_at >= ?"},
			args:      []any{from},
		},
		{
			name:      "to only disables the default window",
			filter:    Filter{To: &to},
			fragments: []string{"read_at <= ?"},
			args:      []any{to},
		},
		{
			name:      "all filters",
			filter:    Filter{DeviceName: "dev", SensorName: "temp", From: &from, To: &to},
			fragments: []string{"device_name = ?", "sensor_name = ?", "read_at >= ?", "read_at <= ?"},
			args:      []any{"dev", "temp", from, to},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := b.Build(tc.filter)
			require.NoError(t, err)

			assert.Contains(t, stmt.SQL, " WHERE "+strings.Join(tc.fragments, " AND ")+" ORDER BY")
			assert.Equal(t, tc.args, stmt.Args)
			assert.Equal(t, strings.Count(stmt.SQL, "?"), len(stmt.Args))
		})
	}
}

func TestBuildTrimsNames(t *testing.T) {
	b := Builder{Dialect: "postgres", Now: now}

	stmt, err := b.Build(Filter{DeviceName: "  ", SensorName: " temp "})
	require.NoError(t, err)

	assert.NotContains(t, stmt.SQL, "device_name = ?")
	assert.Equal(t, "temp", stmt.Args[0])
}

func TestBuildNormalizesTimesToUTC(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	from := time.Date(2026, 10, 19, 9, 0, 0, 0, loc)
	b := Builder{Dialect: "postgres", Now: now}

	stmt, err := b.Build(Filter{From: &from})
	require.NoError(t, err)

	got, ok := stmt.Args[0].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(from))
}

func TestBuildAggregateByDialect(t *testing.T) {
	cases := []struct {
		dialect string
		groupBy GroupBy
		bucket  string
	}{
		{"postgres", GroupByHour, "date_trunc('hour', read_at)"},
		{"postgres", GroupByDay, "date_trunc('day', read_at)"},
		{"mysql", GroupByHour, "DATE_FORMAT(read_at, '%Y-%m-%d %H:00:00')"},
		{"mysql", GroupByDay, "DATE_FORMAT(read_at, '%Y-%m-%d 00:00:00')"},
		{"sqlite", GroupByHour, "strftime('%Y-%m-%dT%H:00:00Z', substr(read_at, 1, 19))"},
		{"sqlite", GroupByDay, "strftime('%Y-%m-%dT00:00:00Z', substr(read_at, 1, 19))"},
	}

	for _, tc := range cases {
		t.Run(tc.dialect+"_"+string(tc.groupBy), func(t *testing.T) {
			b := Builder{Dialect: tc.dialect, Now: now}
			stmt, err := b.Build(Filter{DeviceName: "dev", From: timePtr(now.Add(-time.Hour)), GroupBy: tc.groupBy})
			require.NoError(t, err)

			want := "SELECT device_name, sensor_name, " + tc.bucket +
				" AS bucket, AVG(value) AS avg_value, MIN(value) AS min_value, MAX(value) AS max_value, COUNT(*) AS sample_count" +
				" FROM sensor_reading WHERE device_name = ? AND read_at >= ?" +
				" GROUP BY device_name, sensor_name, " + tc.bucket +
				" ORDER BY bucket ASC, device_name ASC, sensor_name ASC"
			assert.Equal(t, want, stmt.SQL)
			assert.Equal(t, tc.groupBy, stmt.GroupBy)
		})
	}
}

func TestBuildRejectsUnknownDialectForBuckets(t *testing.T) {
	b := Builder{Dialect: "sqlserver", Now: now}

	_, err := b.Build(Filter{GroupBy: GroupByHour})
	if !errors.Is(err, ErrUnsupportedDialect) {
		t.Fatalf("expected ErrUnsupportedDialect, got %v", err)
	}

	_, err = b.Build(Filter{})
	require.NoError(t, err)
}

func TestBuildRejectsUnknownGroupBy(t *testing.T) {
	_, err := Builder{Now: now}.Build(Filter{GroupBy: "week"})
	assert.ErrorIs(t, err, ErrUnknownGroupBy)
}
