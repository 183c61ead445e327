package timeutil

import (
	"testing"
	"time"
)

func TestSetClockRestores(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	restore := SetClock(func() time.Time { return fixed })

	if got := Now(); !got.Equal(fixed) {
		t.Fatalf("expected fixed clock, got %v", got)
	}
	if got := UnixMilli(); got != fixed.UnixMilli() {
		t.Fatalf("expected %d, got %d", fixed.UnixMilli(), got)
	}

	restore()
	if got := Now(); got.Equal(fixed) {
		t.Fatalf("expected real clock after restore")
	}
}
