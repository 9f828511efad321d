package booking

import "testing"

func TestPriceCents(t *testing.T) {
	cases := []struct {
		name string
		rate int64
		slot TimeSlot
		want int64
	}{
		{"one hour", 5000, TimeSlot{Start: "09:00", End: "10:00"}, 5000},
		{"half hour", 5000, TimeSlot{Start: "09:00", End: "09:30"}, 2500},
		{"two hours", 7500, TimeSlot{Start: "09:00", End: "11:00"}, 15000},
		{"rounds half up", 9999, TimeSlot{Start: "09:00", End: "09:30"}, 5000},
		{"ten minute slot", 3333, TimeSlot{Start: "09:00", End: "09:10"}, 556},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PriceCents(tc.rate, tc.slot)
			if err != nil {
				t.Fatalf("PriceCents: %v", err)
			}
			if got != tc.want {
				t.Errorf("PriceCents(%d, %s-%s) = %d, want %d",
					tc.rate, tc.slot.Start, tc.slot.End, got, tc.want)
			}
		})
	}
}

func TestPriceCentsInvalidSlot(t *testing.T) {
	if _, err := PriceCents(5000, TimeSlot{Start: "10:00", End: "09:00"}); err == nil {
		t.Fatal("expected error for negative duration slot")
	}
	if _, err := PriceCents(5000, TimeSlot{Start: "bogus", End: "10:00"}); err == nil {
		t.Fatal("expected error for malformed start time")
	}
}
