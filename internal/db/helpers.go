package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrSchemaOutdated marks queries that hit a missing table or column, which
// means the warehouse has not been migrated to this build's schema.
var ErrSchemaOutdated = errors.New("warehouse schema is out of date, run pg-migrator")

func IsUndefinedColumnErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 42703 = undefined_column
		// 42P01 = undefined_table
		return pgErr.Code == "42703" || pgErr.Code == "42P01"
	}
	return false
}

func queryErr(op string, err error) error {
	if IsUndefinedColumnErr(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrSchemaOutdated, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// rowValue converts pgx-specific scan types into plain values that encode
// cleanly as JSON.
func rowValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Interval:
		if !t.Valid {
			return nil
		}
		return (time.Duration(t.Microseconds)*time.Microsecond + time.Duration(t.Days)*24*time.Hour).Seconds()
	case [16]byte:
		return pgtype.UUID{Bytes: t, Valid: true}.String()
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
