package stupidmeter

import (
	"testing"
	"time"
)

func TestNextIntervalTick(t *testing.T) {
	// 2026-03-01T10:07:00Z
	base := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC).Unix()

	next := NextIntervalTick(base, 20)
	want := time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("next = %d, want %d", next, want)
	}

	// Exactly on a boundary schedules the following boundary.
	onBoundary := time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC).Unix()
	next = NextIntervalTick(onBoundary, 20)
	want = time.Date(2026, 3, 1, 10, 40, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("boundary next = %d, want %d", next, want)
	}

	// :40 rolls into the next hour.
	late := time.Date(2026, 3, 1, 10, 41, 0, 0, time.UTC).Unix()
	next = NextIntervalTick(late, 20)
	want = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("rollover next = %d, want %d", next, want)
	}
}

func TestNextDailyTick(t *testing.T) {
	// Before 03:00 UTC fires the same day.
	early := time.Date(2026, 3, 1, 1, 30, 0, 0, time.UTC).Unix()
	next := NextDailyTick(early, 3, 0, 0)
	want := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("early next = %d, want %d", next, want)
	}

	// At or after 03:00 fires the next day.
	at := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC).Unix()
	next = NextDailyTick(at, 3, 0, 0)
	want = time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("at-boundary next = %d, want %d", next, want)
	}
}

func TestNextDailyTickTimezoneOffset(t *testing.T) {
	// 03:00 at UTC+7 is 20:00 UTC the previous day.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	next := NextDailyTick(now, 3, 0, 7)
	want := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("tz+7 next = %d, want %d", next, want)
	}

	// Already past 03:00 local: 21:00 UTC = 04:00 at UTC+7.
	now = time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC).Unix()
	next = NextDailyTick(now, 3, 0, 7)
	want = time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("tz+7 past next = %d, want %d", next, want)
	}

	// Minutes are honored.
	now = time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC).Unix()
	next = NextDailyTick(now, 4, 30, 0)
	want = time.Date(2026, 3, 1, 4, 30, 0, 0, time.UTC).Unix()
	if next != want {
		t.Errorf("minute next = %d, want %d", next, want)
	}
}
