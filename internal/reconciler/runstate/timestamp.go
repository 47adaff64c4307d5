package runstate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// layouts mirrors the formats the worker and operator CLI are known to
// write; the reconciler must tolerate all of them on read.
var layouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05",
}

// Timestamp is a UTC wall-clock time serialized the way every producer in
// the fleet writes it: "2006-01-02T15:04:05Z".
type Timestamp struct {
	time.Time
}

func Now() Timestamp { return Timestamp{time.Now().UTC()} }

func NewTimestamp(t time.Time) Timestamp { return Timestamp{t.UTC()} }

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC()}, nil
		} else {
			lastErr = err
		}
	}
	return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, lastErr)
}

func (t Timestamp) IsZero() bool { return t.Time.IsZero() }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.Time.UTC().Format(layouts[0]))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// String renders the canonical wire format, used when a raw string
// comparison against a previously observed value is required (the
// two-stage stale protocol compares strings, not parsed times).
func (t Timestamp) String() string {
	if t.Time.IsZero() {
		return ""
	}
	return t.Time.UTC().Format(layouts[0])
}
