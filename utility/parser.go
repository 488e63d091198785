package utility

import (
	"encoding/json"
)

// ParseJson decodes an OCPP-J frame; anything but a non-empty JSON array is an error
func ParseJson(b []byte) ([]interface{}, error) {
	var array []interface{}
	if err := json.Unmarshal(b, &array); err != nil {
		return nil, err
	}
	if len(array) == 0 {
		return nil, Err("empty message frame")
	}
	return array, nil
}
