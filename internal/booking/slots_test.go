package booking

import "testing"

func TestSlotWindowSlots(t *testing.T) {
	slots := DefaultSlotWindow.Slots()
	if len(slots) != 9 {
		t.Fatalf("expected 9 slots from 09:00-18:00, got %d", len(slots))
	}
	if slots[0].Start != "09:00" || slots[0].End != "10:00" {
		t.Errorf("unexpected first slot: %+v", slots[0])
	}
	if slots[8].Start != "17:00" || slots[8].End != "18:00" {
		t.Errorf("unexpected last slot: %+v", slots[8])
	}
}

func TestSlotWindowSlotsHalfHour(t *testing.T) {
	w := SlotWindow{OpenHour: 9, CloseHour: 11, Minutes: 30}
	slots := w.Slots()
	if len(slots) != 4 {
		t.Fatalf("expected 4 half-hour slots, got %d", len(slots))
	}
	if slots[1].Start != "09:30" || slots[1].End != "10:00" {
		t.Errorf("unexpected second slot: %+v", slots[1])
	}
}

func TestSlotWindowContains(t *testing.T) {
	cases := []struct {
		name string
		slot TimeSlot
		want bool
	}{
		{"first slot", TimeSlot{Start: "09:00", End: "10:00"}, true},
		{"last slot", TimeSlot{Start: "17:00", End: "18:00"}, true},
		{"before open", TimeSlot{Start: "08:00", End: "09:00"}, false},
		{"past close", TimeSlot{Start: "18:00", End: "19:00"}, false},
		{"off grid", TimeSlot{Start: "09:30", End: "10:30"}, false},
		{"wrong duration", TimeSlot{Start: "09:00", End: "11:00"}, false},
		{"malformed", TimeSlot{Start: "9am", End: "10am"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultSlotWindow.Contains(tc.slot); got != tc.want {
				t.Errorf("Contains(%+v) = %v, want %v", tc.slot, got, tc.want)
			}
		})
	}
}

func TestSlotWindowAvailable(t *testing.T) {
	free := DefaultSlotWindow.Available([]string{"09:00", "13:00", "17:00"})
	if len(free) != 6 {
		t.Fatalf("expected 6 free slots, got %d", len(free))
	}
	for _, slot := range free {
		if slot.Start == "09:00" || slot.Start == "13:00" || slot.Start == "17:00" {
			t.Errorf("booked slot %s returned as available", slot.Start)
		}
	}
}

func TestSlotWindowAvailableEmptyCalendar(t *testing.T) {
	free := DefaultSlotWindow.Available(nil)
	if len(free) != 9 {
		t.Fatalf("expected full window available, got %d", len(free))
	}
}
