package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/now"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fixhaven/fixhaven-api/internal/catalog"
	"github.com/fixhaven/fixhaven-api/internal/identity"
	"github.com/fixhaven/fixhaven-api/internal/observability/metrics"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

var bookingTracer = otel.Tracer("fixhaven.internal.booking")

// PaymentIntent is what the gateway hands back for an online payment.
type PaymentIntent struct {
	ClientSecret string `json:"client_secret"`
	IntentID     string `json:"payment_intent_id"`
	CustomerID   string `json:"customer_id"`
}

// intentCreator creates a payment intent for a freshly created booking.
// Implemented by the payments service; failures are non-fatal to
// booking creation.
type intentCreator interface {
	CreateIntentForBooking(ctx context.Context, b *Booking, currency string) (*PaymentIntent, error)
}

// eventPublisher records domain events for notification dispatch.
// Failures are logged, never propagated.
type eventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// repository is the store surface the lifecycle manager consumes.
type repository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByPublicID(ctx context.Context, publicID string) (*Booking, error)
	List(ctx context.Context, f ListFilter) ([]*Booking, int64, error)
	StartTimesOn(ctx context.Context, serviceID string, date time.Time) ([]string, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next Status, reason string) (*Booking, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, reason, actorID string, class RefundClassification, at time.Time) (*Booking, error)
	UpdateSchedule(ctx context.Context, b *Booking, newDate time.Time, newSlot TimeSlot, reason string, at time.Time) (*Booking, error)
	AppendReview(ctx context.Context, id uuid.UUID, score int, review string, at time.Time) (*Booking, error)
	StatsSince(ctx context.Context, cutoff time.Time) (*Stats, error)
}

// Service orchestrates the booking lifecycle: creation, status
// transitions, cancellation, rescheduling and reviews.
type Service struct {
	repo     repository
	catalog  catalog.Lookup
	intents  intentCreator
	events   eventPublisher
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	window   SlotWindow
	location *time.Location
	maxNote  int
	nowFn    func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithSlotWindow overrides the default 09:00-18:00 1-hour window.
func WithSlotWindow(w SlotWindow) ServiceOption {
	return func(s *Service) { s.window = w }
}

// WithLocation sets the timezone used for date and refund-window math.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithIntentCreator wires the payment gateway used for online bookings.
func WithIntentCreator(ic intentCreator) ServiceOption {
	return func(s *Service) { s.intents = ic }
}

// WithEventPublisher wires the notification event sink.
func WithEventPublisher(p eventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithMetrics wires prometheus counters.
func WithMetrics(m *metrics.BookingMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithMaxNoteLength caps the special requests field.
func WithMaxNoteLength(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxNote = n
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(nowFn func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFn = nowFn }
}

// NewService constructs the lifecycle manager.
func NewService(repo repository, lookup catalog.Lookup, logger *logging.Logger, opts ...ServiceOption) *Service {
	if repo == nil {
		panic("booking: repository required")
	}
	if lookup == nil {
		panic("booking: catalog lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:     repo,
		catalog:  lookup,
		logger:   logger,
		window:   DefaultSlotWindow,
		location: time.UTC,
		maxNote:  500,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest is a validated booking request.
type CreateRequest struct {
	ServiceID       string
	BookingDate     time.Time
	Slot            TimeSlot
	CustomerDetails CustomerDetails
	ServiceLocation ServiceLocation
	SpecialRequests string
	PaymentMethod   PaymentMethod
	Currency        string
	Source          string
}

// CreateResult is the outcome of a creation: the booking plus, for
// online payments, the intent details the client needs.
type CreateResult struct {
	Booking         *Booking       `json:"booking"`
	RequiresPayment bool           `json:"requires_payment"`
	PaymentIntent   *PaymentIntent `json:"payment_intent,omitempty"`
}

// Create validates the request, prices the slot, persists the booking
// and, for card payments, requests a payment intent. Intent failure is
// downgraded: the booking stays pending/unpaid and payment can be
// retried via the payments API.
func (s *Service) Create(ctx context.Context, actor identity.Identity, req CreateRequest) (*CreateResult, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("fixhaven.service_id", req.ServiceID),
		attribute.String("fixhaven.payment_method", string(req.PaymentMethod)),
	)

	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrServiceInactive
		}
		return nil, err
	}
	if !svc.Active {
		return nil, ErrServiceInactive
	}

	nowAt := s.nowFn().In(s.location)
	day := dateOnly(req.BookingDate, s.location)
	if day.Before(now.New(nowAt).BeginningOfDay()) {
		return nil, ErrPastDate
	}

	if !s.window.Contains(req.Slot) {
		return nil, ErrInvalidSlot
	}
	duration, err := req.Slot.DurationMinutes()
	if err != nil {
		return nil, err
	}

	if len(req.SpecialRequests) > s.maxNote {
		return nil, fmt.Errorf("%w: special requests exceed %d characters", ErrValidation, s.maxNote)
	}

	// Pre-check against existing live bookings. The store's unique
	// index is the final arbiter for races.
	booked, err := s.repo.StartTimesOn(ctx, req.ServiceID, day)
	if err != nil {
		return nil, err
	}
	for _, start := range booked {
		if start == req.Slot.Start {
			return nil, ErrSlotConflict
		}
	}

	total, err := PriceCents(svc.HourlyRateCents, req.Slot)
	if err != nil {
		return nil, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = MethodCard
	}
	currency := req.Currency
	if currency == "" {
		currency = svc.Currency
	}
	source := req.Source
	if source == "" {
		source = "web"
	}

	b := &Booking{
		ID:              uuid.New(),
		PublicID:        NewPublicID(),
		CustomerID:      actor.ID,
		ServiceID:       svc.ID,
		ProviderID:      svc.ProviderID,
		BookingDate:     day,
		Slot:            req.Slot,
		DurationMinutes: duration,
		TotalCents:      total,
		Currency:        currency,
		PaymentMethod:   method,
		CustomerDetails: req.CustomerDetails,
		ServiceLocation: req.ServiceLocation,
		SpecialRequests: req.SpecialRequests,
		Metadata: Metadata{
			CreatedBy: string(actor.Kind),
			Source:    source,
		},
	}
	if method == MethodCash {
		b.Status = StatusConfirmed
		b.PaymentStatus = PaymentPaid
	} else {
		b.Status = StatusPending
		b.PaymentStatus = PaymentPending
	}

	if err := s.repo.Create(ctx, b); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.metrics.ObserveSlotConflict(req.ServiceID)
		}
		return nil, err
	}
	s.metrics.ObserveCreated(string(method), string(b.Status))
	s.logger.Info("booking created",
		"booking_id", b.PublicID,
		"service_id", b.ServiceID,
		"date", day.Format("2006-01-02"),
		"slot", b.Slot.Start,
		"total_cents", b.TotalCents,
		"payment_method", method,
	)

	result := &CreateResult{
		Booking:         b,
		RequiresPayment: method != MethodCash,
	}

	if method != MethodCash && s.intents != nil {
		intent, err := s.intents.CreateIntentForBooking(ctx, b, currency)
		if err != nil {
			// Non-fatal: the booking exists unpaid; the client retries
			// intent creation through the payments API.
			s.logger.Error("payment intent creation failed",
				"booking_id", b.PublicID, "error", err)
		} else {
			b.Metadata.PaymentIntentID = intent.IntentID
			b.Metadata.ProviderCustomerID = intent.CustomerID
			result.PaymentIntent = intent
		}
	}

	s.publish(ctx, "booking.created", b)
	return result, nil
}

// AvailableSlots returns the free slots for a service on a date, in
// order. Pure query; recomputed per call.
func (s *Service) AvailableSlots(ctx context.Context, serviceID string, date time.Time) ([]TimeSlot, error) {
	if serviceID == "" {
		return nil, fmt.Errorf("%w: service id required", ErrValidation)
	}
	booked, err := s.repo.StartTimesOn(ctx, serviceID, dateOnly(date, s.location))
	if err != nil {
		return nil, err
	}
	return s.window.Available(booked), nil
}

// Get returns a booking if the actor may see it: the owning customer,
// the assigned provider, or an admin.
func (s *Service) Get(ctx context.Context, actor identity.Identity, ref string) (*Booking, error) {
	b, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, b) {
		return nil, ErrUnauthorized
	}
	return b, nil
}

// ListForCustomer pages the actor's own bookings.
func (s *Service) ListForCustomer(ctx context.Context, actor identity.Identity, f ListFilter) ([]*Booking, int64, error) {
	f.CustomerID = actor.ID
	f.ProviderID = ""
	return s.repo.List(ctx, f)
}

// ListForProvider pages the bookings assigned to the acting provider.
func (s *Service) ListForProvider(ctx context.Context, actor identity.Identity, f ListFilter) ([]*Booking, int64, error) {
	if !actor.IsProvider() {
		return nil, 0, ErrUnauthorized
	}
	f.ProviderID = actor.ID
	f.CustomerID = ""
	return s.repo.List(ctx, f)
}

// ListAll pages bookings across all customers; admin only.
func (s *Service) ListAll(ctx context.Context, actor identity.Identity, f ListFilter) ([]*Booking, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, ErrUnauthorized
	}
	return s.repo.List(ctx, f)
}

// StatsSince aggregates bookings for the admin dashboard.
func (s *Service) StatsSince(ctx context.Context, actor identity.Identity, cutoff time.Time) (*Stats, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return s.repo.StatsSince(ctx, cutoff)
}

// UpdateStatus applies a state-machine transition. Providers may only
// move their own bookings; admins may move any. cancelled and rejected
// require a reason.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Identity, ref string, next Status, reason string) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("fixhaven.next_status", string(next)))

	b, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.IsProvider() && actor.ID == b.ProviderID) {
		return nil, ErrUnauthorized
	}
	if !CanTransition(b.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, next)
	}
	if (next == StatusCancelled || next == StatusRejected) && reason == "" {
		return nil, fmt.Errorf("%w: reason required for %s", ErrValidation, next)
	}

	updated, err := s.repo.UpdateStatus(ctx, b.ID, b.Status, next, reason)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(b.Status), string(next))
	s.logger.Info("booking status updated",
		"booking_id", b.PublicID, "from", b.Status, "to", next)
	s.publish(ctx, "booking.status_changed", updated)
	return updated, nil
}

// Cancel cancels a live booking and records refund eligibility derived
// from the time remaining until the slot: >24h full, >2h partial, else
// none. Refund execution is a separate operation keyed off the stored
// classification, so it can be retried independently.
func (s *Service) Cancel(ctx context.Context, actor identity.Identity, ref, reason string) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()

	b, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.IsCustomer() && actor.ID == b.CustomerID) {
		return nil, ErrUnauthorized
	}
	if b.Status.IsFinal() {
		return nil, ErrAlreadyFinal
	}

	class := s.classifyRefund(b)
	updated, err := s.repo.MarkCancelled(ctx, b.ID, reason, actor.ID, class, s.nowFn())
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCancellation(string(class))
	s.logger.Info("booking cancelled",
		"booking_id", b.PublicID, "refund_status", class, "actor", actor.ID)
	s.publish(ctx, "booking.cancelled", updated)
	return updated, nil
}

// Reschedule moves a live booking to a new date/slot, subject to the
// same validation as creation, and resets it to pending for provider
// re-confirmation.
func (s *Service) Reschedule(ctx context.Context, actor identity.Identity, ref string, newDate time.Time, newSlot TimeSlot, reason string) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.reschedule")
	defer span.End()

	b, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.IsCustomer() && actor.ID == b.CustomerID) {
		return nil, ErrUnauthorized
	}
	if b.Status.IsFinal() {
		return nil, ErrAlreadyFinal
	}

	nowAt := s.nowFn().In(s.location)
	day := dateOnly(newDate, s.location)
	if day.Before(now.New(nowAt).BeginningOfDay()) {
		return nil, fmt.Errorf("%w: new booking date cannot be in the past", ErrValidation)
	}
	if !s.window.Contains(newSlot) {
		return nil, ErrInvalidSlot
	}

	// Pre-check for a conflicting live booking other than this one.
	booked, err := s.repo.StartTimesOn(ctx, b.ServiceID, day)
	if err != nil {
		return nil, err
	}
	sameSchedule := day.Equal(dateOnly(b.BookingDate, s.location)) && newSlot.Start == b.Slot.Start
	for _, start := range booked {
		if start == newSlot.Start && !sameSchedule {
			return nil, ErrSlotConflict
		}
	}

	updated, err := s.repo.UpdateSchedule(ctx, b, day, newSlot, reason, s.nowFn())
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.metrics.ObserveSlotConflict(b.ServiceID)
		}
		return nil, err
	}
	s.logger.Info("booking rescheduled",
		"booking_id", b.PublicID,
		"new_date", day.Format("2006-01-02"),
		"new_slot", newSlot.Start,
	)
	s.publish(ctx, "booking.rescheduled", updated)
	return updated, nil
}

// Review attaches a 1-5 rating to a completed booking. Owner only,
// once only.
func (s *Service) Review(ctx context.Context, actor identity.Identity, ref string, score int, review string) (*Booking, error) {
	if score < 1 || score > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	b, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !actor.IsCustomer() || actor.ID != b.CustomerID {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: can only review completed bookings", ErrValidation)
	}
	if b.Rating != nil {
		return nil, ErrAlreadyReviewed
	}

	return s.repo.AppendReview(ctx, b.ID, score, review, s.nowFn())
}

// classifyRefund buckets eligibility by hours remaining until the
// booking start.
func (s *Service) classifyRefund(b *Booking) RefundClassification {
	startAt, err := b.StartAt(s.location)
	if err != nil {
		s.logger.Warn("refund classification fell back to no_refund",
			"booking_id", b.PublicID, "error", err)
		return RefundNone
	}
	hoursUntil := startAt.Sub(s.nowFn()).Hours()
	switch {
	case hoursUntil > 24:
		return RefundFull
	case hoursUntil > 2:
		return RefundPartial
	default:
		return RefundNone
	}
}

func (s *Service) canView(actor identity.Identity, b *Booking) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.IsCustomer():
		return actor.ID == b.CustomerID
	case actor.IsProvider():
		return actor.ID == b.ProviderID
	default:
		return false
	}
}

// load resolves either a public BK reference or an internal UUID.
func (s *Service) load(ctx context.Context, ref string) (*Booking, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.repo.GetByID(ctx, id)
	}
	return s.repo.GetByPublicID(ctx, ref)
}

func (s *Service) publish(ctx context.Context, eventType string, b *Booking) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, eventType, b)
}

// ParseDate interprets a YYYY-MM-DD string as a calendar day in the
// configured booking timezone. Parsing anywhere else (UTC midnight,
// say) shifts the day for zones west of UTC.
func (s *Service) ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, value, s.location)
}

// dateOnly truncates a timestamp to its calendar day in loc.
func dateOnly(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}
