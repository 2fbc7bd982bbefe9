package opd

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"WAITING", StatusWaiting, false},
		{"in_progress", StatusInProgress, false},
		{" Completed ", StatusCompleted, false},
		{"cancelled", StatusCancelled, false},
		{"DONE", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseStatus(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseStatus(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}

func TestStatus_CanTransition(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusWaiting, StatusInProgress}:   true,
		{StatusWaiting, StatusCancelled}:    true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusCancelled}: true,
	}
	all := []Status{StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransition(to); got != legal[[2]Status{from, to}] {
				t.Errorf("%s -> %s: got %v", from, to, got)
			}
		}
	}
}

func TestStatus_ActiveTerminal(t *testing.T) {
	if !StatusWaiting.Active() || !StatusInProgress.Active() {
		t.Error("waiting and in progress should be active")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() || StatusWaiting.Terminal() {
		t.Error("unexpected terminal classification")
	}
}

func TestClock_DayOf(t *testing.T) {
	clock := NewClock(ist)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 3, 10, 18, 29, 59, 0, time.UTC), "2026-03-10"},
		{time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC), "2026-03-11"},
		{time.Date(2026, 3, 11, 0, 0, 0, 0, ist), "2026-03-11"},
	}
	for _, tt := range tests {
		if got := clock.DayOf(tt.at).String(); got != tt.want {
			t.Errorf("DayOf(%s) = %s, want %s", tt.at, got, tt.want)
		}
	}
}

func TestClock_DSTKeepsCalendarDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	clock := NewClock(ny)
	day := NewDay(2026, 3, 8) // spring forward, a 23 hour day
	start := time.Date(2026, 3, 8, 0, 0, 0, 0, ny)
	end := time.Date(2026, 3, 9, 0, 0, 0, 0, ny)
	if end.Sub(start) != 23*time.Hour {
		t.Errorf("expected 23h day, got %s", end.Sub(start))
	}
	if got := clock.DayOf(end.Add(-time.Nanosecond)); !got.Equal(day.Time) {
		t.Errorf("last instant belongs to %s", got)
	}
	if got := clock.DayOf(end); !got.Equal(day.AddDays(1).Time) {
		t.Errorf("next midnight belongs to %s", got)
	}
}

func TestClock_Today(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	clock := NewClock(ist).WithNow(func() time.Time { return fixed })
	if got := clock.Today().String(); got != "2026-01-02" {
		t.Errorf("expected 2026-01-02, got %s", got)
	}
	if clock.Now().Location() != ist {
		t.Error("Now should be expressed in the clock's location")
	}
}

func TestDay_JSON(t *testing.T) {
	b, err := json.Marshal(NewDay(2026, 3, 10))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2026-03-10"` {
		t.Errorf("unexpected encoding %s", b)
	}
	var d Day
	if err := json.Unmarshal([]byte(`"2026-12-31"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.String() != "2026-12-31" {
		t.Errorf("unexpected day %s", d)
	}
	if err := json.Unmarshal([]byte(`"31-12-2026"`), &d); err == nil {
		t.Error("expected error for wrong layout")
	}
}
