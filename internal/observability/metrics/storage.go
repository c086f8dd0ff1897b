package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	StorageReasonDeadlineExceeded     = "deadline_exceeded"
	StorageReasonDBLockTimeout        = "db_lock_timeout"
	StorageReasonSerializationFailure = "serialization_failure"
	StorageReasonUniqueViolation      = "unique_violation"
	StorageReasonConnection           = "connection"
	StorageReasonUnknown              = "unknown"
)

// ClassifyStorageError maps reading store errors to low-cardinality reasons across
// the postgres, mysql and sqlite drivers.
func ClassifyStorageError(err error) string {
	if err == nil {
		return StorageReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StorageReasonDeadlineExceeded
	}

	msg := err.Error()
	switch {
	case hasPGCode(err, "55P03"), strings.Contains(msg, "Error 1205"), strings.Contains(msg, "database is locked"):
		return StorageReasonDBLockTimeout
	case hasPGCode(err, "40001"), strings.Contains(msg, "Error 1213"):
		return StorageReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"),
		strings.Contains(msg, "Error 1062"), strings.Contains(msg, "UNIQUE constraint failed"):
		return StorageReasonUniqueViolation
	case errors.Is(err, gorm.ErrInvalidDB), hasPGClass(err, "08"):
		return StorageReasonConnection
	}
	return StorageReasonUnknown
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func hasPGCode(err error, code string) bool {
	return pgCode(err) == code
}

func hasPGClass(err error, class string) bool {
	return strings.HasPrefix(pgCode(err), class)
}
