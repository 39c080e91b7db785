package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// NullDate is a nullable calendar date column. It is written as an ISO
// "YYYY-MM-DD" string so that sqlite compares stored and incoming values as
// equal text and postgres casts it into its date type.
type NullDate struct {
	Date  civil.Date
	Valid bool
}

func NullDateFrom(d *civil.Date) NullDate {
	if d == nil {
		return NullDate{}
	}
	return NullDate{Date: *d, Valid: true}
}

func (d NullDate) Ptr() *civil.Date {
	if !d.Valid {
		return nil
	}
	out := d.Date
	return &out
}

func (NullDate) GormDataType() string {
	return "date"
}

func (d NullDate) Value() (driver.Value, error) {
	if !d.Valid {
		return nil, nil
	}
	return d.Date.String(), nil
}

func (d *NullDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = NullDate{}
		return nil
	case time.Time:
		*d = NullDate{Date: civil.DateOf(v), Valid: true}
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

func (d *NullDate) parse(raw string) error {
	if len(raw) > len("2006-01-02") {
		raw = raw[:len("2006-01-02")]
	}
	parsed, err := civil.ParseDate(raw)
	if err != nil {
		return fmt.Errorf("scan date: %w", err)
	}
	*d = NullDate{Date: parsed, Valid: true}
	return nil
}
