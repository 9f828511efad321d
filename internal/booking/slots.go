package booking

import "fmt"

// SlotWindow describes the bookable hours of a day and the slot width.
type SlotWindow struct {
	OpenHour  int // first bookable hour, inclusive
	CloseHour int // last bookable hour, exclusive
	Minutes   int // slot width
}

// DefaultSlotWindow is 09:00-18:00 in 1-hour slots.
var DefaultSlotWindow = SlotWindow{OpenHour: 9, CloseHour: 18, Minutes: 60}

// Slots generates every slot in the window, in order. The result is
// recomputed per call; nothing is cached.
func (w SlotWindow) Slots() []TimeSlot {
	if w.Minutes <= 0 || w.CloseHour <= w.OpenHour {
		return nil
	}
	var out []TimeSlot
	for m := w.OpenHour * 60; m+w.Minutes <= w.CloseHour*60; m += w.Minutes {
		out = append(out, TimeSlot{
			Start: clockString(m),
			End:   clockString(m + w.Minutes),
		})
	}
	return out
}

// Contains reports whether the slot lies entirely within the window.
func (w SlotWindow) Contains(slot TimeSlot) bool {
	start, err := slot.StartMinutes()
	if err != nil {
		return false
	}
	end, err := parseClock(slot.End)
	if err != nil {
		return false
	}
	return start >= w.OpenHour*60 && end <= w.CloseHour*60 && end > start
}

// Available filters the window's slots down to those whose start time
// is not held by an existing live booking. bookedStarts are "HH:MM"
// start times of live bookings on the service/date in question.
func (w SlotWindow) Available(bookedStarts []string) []TimeSlot {
	taken := make(map[string]struct{}, len(bookedStarts))
	for _, s := range bookedStarts {
		taken[s] = struct{}{}
	}
	all := w.Slots()
	out := make([]TimeSlot, 0, len(all))
	for _, slot := range all {
		if _, held := taken[slot.Start]; !held {
			out = append(out, slot)
		}
	}
	return out
}

func clockString(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
