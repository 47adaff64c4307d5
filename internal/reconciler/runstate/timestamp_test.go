package runstate

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestampAcceptsAllKnownLayouts(t *testing.T) {
	cases := []string{
		"2026-07-31T12:00:00Z",
		"2026-07-31T12:00:00.123456Z",
		"2026-07-31T12:00:00",
	}
	for _, s := range cases {
		ts, err := ParseTimestamp(s)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", s, err)
		}
		if ts.IsZero() {
			t.Fatalf("ParseTimestamp(%q) produced zero time", s)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	if _, err := ParseTimestamp("not-a-time"); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestTimestampStringIsCanonicalRegardlessOfInputLayout(t *testing.T) {
	ts, err := ParseTimestamp("2026-07-31T12:00:00.500000Z")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if got, want := ts.String(), "2026-07-31T12:00:00Z"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestTimestampRoundTripsThroughJSON(t *testing.T) {
	ts := NewTimestamp(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Timestamp
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.String() != ts.String() {
		t.Fatalf("round trip mismatch: got %q, want %q", out.String(), ts.String())
	}
}

func TestZeroTimestampMarshalsToEmptyString(t *testing.T) {
	var ts Timestamp
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `""` {
		t.Fatalf("Marshal(zero) = %s, want \"\"", data)
	}
}

func TestEmptyStringUnmarshalsToZeroTimestamp(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`""`), &ts); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !ts.IsZero() {
		t.Fatal("expected zero timestamp from empty string")
	}
}

func TestCanonicalStringTruncatesSubSecondPrecision(t *testing.T) {
	a, err := ParseTimestamp("2026-07-31T12:00:00.100000Z")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	b, err := ParseTimestamp("2026-07-31T12:00:00.200000Z")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if a.String() != b.String() {
		t.Fatal("canonical String() truncates to whole seconds, so these collapse to the same epoch string by design")
	}
}
