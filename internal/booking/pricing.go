package booking

// PriceCents computes the total price for a slot at the given hourly
// rate: rate * duration/60, rounded half-up to the currency's minor
// unit. Computed exactly once at creation; never recomputed on status
// transitions.
func PriceCents(hourlyRateCents int64, slot TimeSlot) (int64, error) {
	duration, err := slot.DurationMinutes()
	if err != nil {
		return 0, err
	}
	return (hourlyRateCents*int64(duration) + 30) / 60, nil
}
