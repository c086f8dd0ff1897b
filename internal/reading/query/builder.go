// Package query assembles parameterized SQL for filtered and time-bucketed reading queries.
package query

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type GroupBy string

const (
	GroupByNone GroupBy = "none"
	GroupByHour GroupBy = "hour"
	GroupByDay  GroupBy = "day"
)

const DefaultWindow = 24 * time.Hour

var (
	ErrUnknownGroupBy     = errors.New("unknown_group_by")
	ErrUnsupportedDialect = errors.New("unsupported_dialect")
)

// ParseGroupBy accepts none, hour, day or an empty string, case-insensitively.
func ParseGroupBy(raw string) (GroupBy, error) {
	switch GroupBy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", GroupByNone:
		return GroupByNone, nil
	case GroupByHour:
		return GroupByHour, nil
	case GroupByDay:
		return GroupByDay, nil
	default:
		return "", ErrUnknownGroupBy
	}
}

// Filter carries the optional query filters. Empty names and nil times are absent.
type Filter struct {
	DeviceName string
	SensorName string
	From       *time.Time
	To         *time.Time
	GroupBy    GroupBy
}

// Statement is a complete SQL statement with its positional arguments.
type Statement struct {
	SQL     string
	Args    []any
	GroupBy GroupBy
}

// Builder renders statements against the reading table.
// Now and Window bound the default time range when the filter names neither end.
type Builder struct {
	Table   string
	Dialect string
	Window  time.Duration
	Now     time.Time
}

type predicate struct {
	fragment string
	arg      any
}

type predicates []predicate

func (p *predicates) add(fragment string, arg any) {
	*p = append(*p, predicate{fragment: fragment, arg: arg})
}

func (p predicates) where() string {
	if len(p) == 0 {
		return ""
	}
	fragments := make([]string, 0, len(p))
	for _, pred := range p {
		fragments = append(fragments, pred.fragment)
	}
	return " WHERE " + strings.Join(fragments, " AND ")
}

func (p predicates) args() []any {
	args := make([]any, 0, len(p))
	for _, pred := range p {
		args = append(args, pred.arg)
	}
	return args
}

// Build renders the filter into one statement.
func (b Builder) Build(f Filter) (Statement, error) {
	groupBy := f.GroupBy
	if groupBy == "" {
		groupBy = GroupByNone
	}

	preds := b.predicates(f)
	table := b.Table
	if table == "" {
		table = "sensor_reading"
	}

	var sql strings.Builder
	switch groupBy {
	case GroupByNone:
		sql.WriteString("SELECT id, device_name, sensor_name, value, read_at, created_at FROM ")
		sql.WriteString(table)
		sql.WriteString(preds.where())
		sql.WriteString(" ORDER BY read_at ASC, created_at ASC")
	case GroupByHour, GroupByDay:
		bucket, err := bucketExpr(b.Dialect, groupBy)
		if err != nil {
			return Statement{}, err
		}
		sql.WriteString("SELECT device_name, sensor_name, ")
		sql.WriteString(bucket)
		sql.WriteString(" AS bucket, AVG(value) AS avg_value, MIN(value) AS min_value, MAX(value) AS max_value, COUNT(*) AS sample_count FROM ")
		sql.WriteString(table)
		sql.WriteString(preds.where())
		sql.WriteString(" GROUP BY device_name, sensor_name, ")
		sql.WriteString(bucket)
		sql.WriteString(" ORDER BY bucket ASC, device_name ASC, sensor_name ASC")
	default:
		return Statement{}, ErrUnknownGroupBy
	}

	return Statement{
		SQL:     sql.String(),
		Args:    preds.args(),
		GroupBy: groupBy,
	}, nil
}

func (b Builder) predicates(f Filter) predicates {
	var preds predicates

	if name := strings.TrimSpace(f.DeviceName); name != "" {
		preds.add("device_name = ?", name)
	}
	if name := strings.TrimSpace(f.SensorName); name != "" {
		preds.add("sensor_name = ?", name)
	}

	// Without explicit bounds the window follows ingestion time, so backfilled
	// readings stay visible for a window after they are stored.
	if f.From == nil && f.To == nil {
		window := b.Window
		if window <= 0 {
			window = DefaultWindow
		}
		now := b.Now.UTC()
		preds.add("created_at >= ?", now.Add(-window))
		preds.add("created_at <= ?", now)
		return preds
	}

	if f.From != nil {
		preds.add("read_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		preds.add("read_at <= ?", f.To.UTC())
	}
	return preds
}

func bucketExpr(dialect string, groupBy GroupBy) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "postgres", "":
		return fmt.Sprintf("date_trunc('%s', read_at)", groupBy), nil
	case "mysql":
		if groupBy == GroupByHour {
			return "DATE_FORMAT(read_at, '%Y-%m-%d %H:00:00')", nil
		}
		return "DATE_FORMAT(read_at, '%Y-%m-%d 00:00:00')", nil
	case "sqlite":
		// sqlite drivers differ in how they serialize timestamps after the seconds field
		if groupBy == GroupByHour {
			return "strftime('%Y-%m-%dT%H:00:00Z', substr(read_at, 1, 19))", nil
		}
		return "strftime('%Y-%m-%dT00:00:00Z', substr(read_at, 1, 19))", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}
}
