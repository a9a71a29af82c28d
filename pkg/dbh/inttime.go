package dbh

import (
	"database/sql/driver"
	"time"
)

// IntTime is time in milliseconds UTC (aka unix milliseconds).
// It is stored as an INT in SQLite, and marshals to JSON as a number.
// The zero value is stored as NULL, so 1970-01-01 00:00:00.000 cannot be represented.
type IntTime int64

func MakeIntTime(v time.Time) IntTime {
	if v.IsZero() {
		return 0
	}
	return IntTime(v.UnixMilli())
}

func (t IntTime) IsZero() bool {
	return t == 0
}

func (t IntTime) Get() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(t)).UTC()
}

func (t *IntTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = 0
	case int64:
		*t = IntTime(v)
	case int32:
		*t = IntTime(v)
	}
	return nil
}

func (t IntTime) Value() (driver.Value, error) {
	if t == 0 {
		return nil, nil
	}
	return int64(t), nil
}
