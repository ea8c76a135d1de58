package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Snapshot is an opaque row image. Fields are decoded on demand.
type Snapshot struct {
	raw    json.RawMessage
	fields map[string]json.RawMessage
}

func newSnapshot(raw json.RawMessage) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	return &Snapshot{raw: append(json.RawMessage(nil), trimmed...), fields: fields}, nil
}

// NewSnapshot builds a snapshot from a JSON object.
func NewSnapshot(raw []byte) (*Snapshot, error) {
	return newSnapshot(raw)
}

// Raw returns the row image exactly as received, unknown fields included.
func (s *Snapshot) Raw() json.RawMessage {
	if s == nil {
		return nil
	}
	return s.raw
}

// Decode projects the whole row into v.
func (s *Snapshot) Decode(v any) error {
	if s == nil {
		return fmt.Errorf("snapshot is empty")
	}
	return json.Unmarshal(s.raw, v)
}

// Has reports whether key is present and not null.
func (s *Snapshot) Has(key string) bool {
	if s == nil {
		return false
	}
	v, ok := s.fields[key]
	return ok && !isNull(v)
}

// String returns a string field. Numbers are rendered in their JSON form.
func (s *Snapshot) String(key string) (string, bool) {
	if !s.Has(key) {
		return "", false
	}
	v := s.fields[key]
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		return str, true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Bool returns a boolean field.
func (s *Snapshot) Bool(key string) (bool, bool) {
	if !s.Has(key) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(s.fields[key], &b); err != nil {
		return false, false
	}
	return b, true
}

// Int returns an integer field, accepting numeric strings.
func (s *Snapshot) Int(key string) (int, error) {
	if !s.Has(key) {
		return 0, fmt.Errorf("field %q missing", key)
	}
	v := s.fields[key]
	var n int
	if err := json.Unmarshal(v, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		return strconv.Atoi(str)
	}
	return 0, fmt.Errorf("field %q is not an integer", key)
}

// Time returns a date or timestamp field; nil when absent or null.
// Accepted forms are YYYY-MM-DD, RFC3339 (with or without zone) and unix seconds.
func (s *Snapshot) Time(key string) (*time.Time, error) {
	if !s.Has(key) {
		return nil, nil
	}
	v := s.fields[key]
	var secs int64
	if err := json.Unmarshal(v, &secs); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return nil, fmt.Errorf("field %q is not a time", key)
	}
	t, err := parseTime(str)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return &t, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
