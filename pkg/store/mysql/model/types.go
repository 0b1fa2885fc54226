package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap JSON column holding an object
type JSONMap map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal JSONMap value: %v", value)
	}

	result := make(map[string]interface{})
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	*j = JSONMap(result)
	return nil
}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// StringMapToJSONMap converts map[string]string to JSONMap
func StringMapToJSONMap(m map[string]string) JSONMap {
	if m == nil {
		return nil
	}
	result := make(JSONMap, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// JSONMapToStringMap converts JSONMap to map[string]string, dropping non-string values
func JSONMapToStringMap(m JSONMap) map[string]string {
	if m == nil {
		return nil
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok {
			result[k] = str
		}
	}
	return result
}
