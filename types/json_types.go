package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap represents a JSON object stored in a TEXT column.
// Used for the type-specific payload of a notification (badge id, level, ...).
type JSONMap map[string]interface{}

// Scan implements the sql.Scanner interface for reading from database.
func (j *JSONMap) Scan(val interface{}) error {
	switch v := val.(type) {
	case []byte:
		return j.decode(v)
	case string:
		return j.decode([]byte(v))
	case nil:
		*j = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", v)
	}
}

func (j *JSONMap) decode(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*j = nil
		return nil
	}
	return json.Unmarshal(b, j)
}

// Value implements the driver.Valuer interface for writing to database.
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
