package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON adapts an arbitrary value to a JSONB column for database/sql scanning.
// The zero value scans NULL as the zero value of T.
type JSON[T any] struct {
	Val T
}

// Scan implements sql.Scanner.
func (j *JSON[T]) Scan(src any) error {
	if src == nil {
		var zero T
		j.Val = zero
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
	return json.Unmarshal(data, &j.Val)
}

// Value implements driver.Valuer.
func (j JSON[T]) Value() (driver.Value, error) {
	data, err := json.Marshal(j.Val)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// MarshalJSON makes the wrapper transparent in API responses.
func (j JSON[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Val)
}

// UnmarshalJSON makes the wrapper transparent when binding requests.
func (j *JSON[T]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &j.Val)
}
