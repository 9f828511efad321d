package events

// Event type names emitted by the booking and payment flows.
const (
	TypeBookingCreated     = "booking.created"
	TypeBookingStatus      = "booking.status_changed"
	TypeBookingCancelled   = "booking.cancelled"
	TypeBookingRescheduled = "booking.rescheduled"
	TypePaymentSucceeded   = "payment.succeeded"
	TypePaymentFailed      = "payment.failed"
	TypePaymentRefunded    = "payment.refunded"
)

// BookingEnvelope is the subset of a booking's JSON form that
// notification rendering needs. Field tags match the booking entity's
// wire representation.
type BookingEnvelope struct {
	PublicID      string `json:"booking_id"`
	ServiceID     string `json:"service_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
	BookingDate   string `json:"booking_date"`
	TimeSlot      struct {
		Start string `json:"start_time"`
		End   string `json:"end_time"`
	} `json:"time_slot"`
	CustomerDetails struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customer_details"`
}
