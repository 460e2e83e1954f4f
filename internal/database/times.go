package database

import (
	"database/sql"
	"time"
)

// Timestamps are stored as RFC3339 UTC strings on both backends. These
// helpers are the only conversion points; nothing else formats or parses
// stored times.

// FormatTime renders a timestamp for storage
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime reads a stored timestamp. Unparseable values come back zero; a
// zero time in a NOT NULL column means the row predates this schema.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// FormatNullableTime renders an optional timestamp for storage
func FormatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// ParseNullableTime reads an optional stored timestamp
func ParseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := ParseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
