package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// fmtTime formats a timestamp for storage. Both dialects accept RFC 3339
// text; the postgres schema stores it as TIMESTAMPTZ.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fmtTimePtr formats an optional timestamp, passing nil through.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// utcTime scans a timestamp from either dialect: SQLite returns RFC 3339
// text, the pgx driver returns time.Time.
type utcTime struct {
	T     time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (u *utcTime) Scan(src any) error {
	u.Valid = false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		u.T = v.UTC()
		u.Valid = true
		return nil
	case string:
		return u.parse(v)
	case []byte:
		return u.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (u *utcTime) parse(s string) error {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	u.T = t.UTC()
	u.Valid = true
	return nil
}

// Ptr returns the scanned time as a pointer, nil when NULL.
func (u *utcTime) Ptr() *time.Time {
	if !u.Valid {
		return nil
	}
	t := u.T
	return &t
}

var _ sql.Scanner = (*utcTime)(nil)

// mustJSON marshals v, panicking only on unmarshalable engine types,
// which would be a programming error.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal json column: %v", err))
	}
	return string(data)
}

// scanJSON unmarshals a JSON column (text or bytes) into out. NULL and
// empty values leave out untouched.
func scanJSON(src sql.NullString, out any) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), out); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}
