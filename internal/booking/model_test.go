package booking

import (
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusPending, StatusRejected},
		{StatusConfirmed, StatusInProgress},
		{StatusConfirmed, StatusCancelled},
		{StatusInProgress, StatusCompleted},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusInProgress},
		{StatusConfirmed, StatusRejected},
		{StatusInProgress, StatusCancelled},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusConfirmed},
		{StatusRejected, StatusPending},
		{StatusCompleted, StatusCompleted},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be forbidden", tc.from, tc.to)
		}
	}
}

func TestStatusLiveAndFinal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusInProgress} {
		if !s.IsLive() {
			t.Errorf("expected %s to be live", s)
		}
		if s.IsFinal() {
			t.Errorf("expected %s not to be final", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusRejected} {
		if s.IsLive() {
			t.Errorf("expected %s not to be live", s)
		}
		if !s.IsFinal() {
			t.Errorf("expected %s to be final", s)
		}
	}
}

func TestTimeSlotDurationMinutes(t *testing.T) {
	d, err := TimeSlot{Start: "09:00", End: "10:30"}.DurationMinutes()
	if err != nil {
		t.Fatalf("DurationMinutes: %v", err)
	}
	if d != 90 {
		t.Errorf("expected 90 minutes, got %d", d)
	}

	if _, err := (TimeSlot{Start: "10:00", End: "10:00"}).DurationMinutes(); err == nil {
		t.Error("expected error for zero-length slot")
	}
	if _, err := (TimeSlot{Start: "11:00", End: "10:00"}).DurationMinutes(); err == nil {
		t.Error("expected error for inverted slot")
	}
}

func TestBookingStartAt(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	b := &Booking{
		BookingDate: time.Date(2026, 3, 15, 0, 0, 0, 0, loc),
		Slot:        TimeSlot{Start: "14:30", End: "15:30"},
	}
	startAt, err := b.StartAt(loc)
	if err != nil {
		t.Fatalf("StartAt: %v", err)
	}
	want := time.Date(2026, 3, 15, 14, 30, 0, 0, loc)
	if !startAt.Equal(want) {
		t.Errorf("StartAt = %v, want %v", startAt, want)
	}
}

func TestNewPublicID(t *testing.T) {
	id := NewPublicID()
	if !strings.HasPrefix(id, "BK") {
		t.Errorf("expected BK prefix, got %s", id)
	}
	if len(id) < 12 {
		t.Errorf("public id too short: %s", id)
	}
	if id == NewPublicID() && id == NewPublicID() {
		t.Error("public ids should not repeat")
	}
}
