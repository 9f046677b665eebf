package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a request id exactly as it appeared on the wire: a JSON string or a
// JSON number. The zero ID marks a notification, and is written as null in
// replies.
type ID json.RawMessage

func StringID(s string) ID {
	raw, _ := json.Marshal(s)
	return ID(raw)
}

func (id ID) IsZero() bool {
	return len(id) == 0
}

// Valid reports whether id is a string or a number.
func (id ID) Valid() bool {
	if id.IsZero() {
		return false
	}

	var v any
	if err := json.Unmarshal(id, &v); err != nil {
		return false
	}

	switch v.(type) {
	case string, float64:
		return true
	default:
		return false
	}
}

// String returns the decoded value of a string id and the literal text of
// a numeric one.
func (id ID) String() string {
	if len(id) > 0 && id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err == nil {
			return s
		}
	}

	return string(id)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}

	return id, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = nil
		return nil
	}

	if !json.Valid(data) {
		return fmt.Errorf("不正な id です: %s", data)
	}

	*id = append((*id)[:0], data...)

	return nil
}
