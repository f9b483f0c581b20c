package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewWithPrefixSortsByCreation(t *testing.T) {
	a := NewWithPrefix("vta")
	b := NewWithPrefix(PrefixSale)
	if !strings.HasPrefix(a, "VTA-") || !strings.HasPrefix(b, "VTA-") {
		t.Fatalf("unexpected prefixes: %q %q", a, b)
	}
	if a >= b {
		t.Fatalf("ids not monotonic: %q >= %q", a, b)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewWithPrefix(PrefixTransfer)
	ts, ok := Time(id)
	if !ok {
		t.Fatalf("Time(%q) failed", id)
	}
	if ts.Before(before) {
		t.Fatalf("timestamp %v earlier than %v", ts, before)
	}
	if _, ok := Time("TRF-not-a-ulid"); ok {
		t.Fatal("expected parse failure")
	}
}
