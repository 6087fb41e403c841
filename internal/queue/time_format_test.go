package queue

import (
	"testing"
	"time"
)

func TestTimeFormatOrdersLexicographically(t *testing.T) {
	// Claim and cutoff queries compare these strings with SQL <, so the
	// rendering must keep time order. RFC3339Nano trims trailing zeros and
	// inverts a whole-second timestamp against a fractional one in the same
	// second ("...05Z" sorts after "...05.5Z").
	base := time.Date(2026, 8, 31, 12, 0, 5, 0, time.UTC)
	later := base.Add(500 * time.Millisecond)

	a := base.Format(timeFormat)
	b := later.Format(timeFormat)
	if len(a) != len(b) {
		t.Fatalf("format is not fixed width: %q vs %q", a, b)
	}
	if !(a < b) {
		t.Fatalf("ordering inverted: %q should sort before %q", a, b)
	}

	for _, raw := range []string{a, b, base.Format(time.RFC3339Nano)} {
		parsed, err := parseTimeString(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !parsed.Equal(base) && !parsed.Equal(later) {
			t.Fatalf("round-trip drifted: %q -> %v", raw, parsed)
		}
	}
}
