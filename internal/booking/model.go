package booking

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the booking lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

// LiveStatuses are the statuses that occupy a time slot.
var LiveStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

// IsLive reports whether the status occupies a slot.
func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInProgress
}

// IsFinal reports whether the status is terminal.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// allowedTransitions is the booking state machine. completed, cancelled
// and rejected have no outgoing edges.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusRejected},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus tracks the money side, independent of Status.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodCash PaymentMethod = "cash"
)

// RefundClassification buckets refund eligibility at cancellation time.
type RefundClassification string

const (
	RefundNone    RefundClassification = "no_refund"
	RefundPartial RefundClassification = "partial_refund"
	RefundFull    RefundClassification = "full_refund"
)

// TimeSlot is a start/end pair of times-of-day in "HH:MM" form.
type TimeSlot struct {
	Start string `json:"start_time" validate:"required"`
	End   string `json:"end_time" validate:"required"`
}

// DurationMinutes returns end-start in minutes, or an error for
// malformed times or non-positive durations.
func (t TimeSlot) DurationMinutes() (int, error) {
	start, err := parseClock(t.Start)
	if err != nil {
		return 0, err
	}
	end, err := parseClock(t.End)
	if err != nil {
		return 0, err
	}
	d := end - start
	if d <= 0 {
		return 0, ErrInvalidSlot
	}
	return d, nil
}

// StartMinutes returns the slot start as minutes after midnight.
func (t TimeSlot) StartMinutes() (int, error) {
	return parseClock(t.Start)
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalidSlot, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: bad hour %q", ErrInvalidSlot, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: bad minute %q", ErrInvalidSlot, s)
	}
	return h*60 + m, nil
}

// Address is a postal address supplied by the customer.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// CustomerDetails are the contact details captured at booking time.
type CustomerDetails struct {
	Name    string  `json:"name" validate:"required"`
	Email   string  `json:"email" validate:"required,email"`
	Phone   string  `json:"phone" validate:"required"`
	Address Address `json:"address,omitempty"`
}

// ServiceLocation says where the service happens.
type ServiceLocation struct {
	Type    string  `json:"type,omitempty"` // customer_location, provider_location, online
	Address Address `json:"address,omitempty"`
}

// Rating is a once-only post-completion review.
type Rating struct {
	Score   int       `json:"score"`
	Review  string    `json:"review,omitempty"`
	RatedAt time.Time `json:"rated_at"`
}

// Metadata is the audit trail carried on every booking.
type Metadata struct {
	CreatedBy string `json:"created_by,omitempty"`
	Source    string `json:"source,omitempty"` // web, mobile, admin

	// Payment-provider correlation ids.
	PaymentIntentID    string     `json:"payment_intent_id,omitempty"`
	ProviderCustomerID string     `json:"provider_customer_id,omitempty"`
	ProviderPaymentID  string     `json:"provider_payment_id,omitempty"`
	RefundID           string     `json:"refund_id,omitempty"`
	PaymentCompletedAt *time.Time `json:"payment_completed_at,omitempty"`
	RefundedAt         *time.Time `json:"refunded_at,omitempty"`

	// Cancellation audit.
	CancelledAt          *time.Time           `json:"cancelled_at,omitempty"`
	CancelledBy          string               `json:"cancelled_by,omitempty"`
	RefundClassification RefundClassification `json:"refund_status,omitempty"`

	// Reschedule history.
	OriginalBookingDate *time.Time `json:"original_booking_date,omitempty"`
	OriginalSlot        *TimeSlot  `json:"original_time_slot,omitempty"`
	RescheduledAt       *time.Time `json:"rescheduled_at,omitempty"`
	RescheduleReason    string     `json:"reschedule_reason,omitempty"`
}

// Booking is the central entity: a reservation of a service for a
// customer at a specific date and time slot.
type Booking struct {
	ID       uuid.UUID `json:"id"`
	PublicID string    `json:"booking_id"`

	CustomerID string `json:"customer_id"`
	ServiceID  string `json:"service_id"`
	ProviderID string `json:"provider_id,omitempty"`

	BookingDate     time.Time `json:"booking_date"`
	Slot            TimeSlot  `json:"time_slot"`
	DurationMinutes int       `json:"duration_minutes"`

	TotalCents    int64         `json:"total_cents"`
	Currency      string        `json:"currency"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Status        Status        `json:"status"`

	CustomerDetails    CustomerDetails `json:"customer_details"`
	ServiceLocation    ServiceLocation `json:"service_location,omitempty"`
	SpecialRequests    string          `json:"special_requests,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`

	Rating   *Rating  `json:"rating,omitempty"`
	Metadata Metadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StartAt combines the booking date and slot start into an absolute
// timestamp in loc. Refund-window arithmetic depends on this being a
// structured combination, never string concatenation.
func (b *Booking) StartAt(loc *time.Location) (time.Time, error) {
	mins, err := b.Slot.StartMinutes()
	if err != nil {
		return time.Time{}, err
	}
	d := b.BookingDate.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, mins, 0, 0, loc), nil
}

// NewPublicID generates the human-readable booking reference shown to
// customers, e.g. BK1755862973ABC4F2D1.
func NewPublicID() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("BK%d%s", time.Now().Unix(), strings.ToUpper(hex.EncodeToString(buf[:])))
}
