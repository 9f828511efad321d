package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fixhaven/fixhaven-api/internal/booking"
	"github.com/fixhaven/fixhaven-api/internal/events"
	"github.com/fixhaven/fixhaven-api/internal/identity"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

var paymentsTracer = otel.Tracer("fixhaven.internal.payments")

var (
	// ErrAlreadyPaid is returned when creating an intent for a booking
	// that is already settled.
	ErrAlreadyPaid = errors.New("payments: booking already paid")

	// ErrNoIntent is returned when a refund or confirmation references
	// a booking without a recorded payment intent.
	ErrNoIntent = errors.New("payments: no payment intent recorded for booking")

	// ErrNotSucceeded is returned when confirming an intent the
	// provider does not consider succeeded.
	ErrNotSucceeded = errors.New("payments: payment not successful")

	// ErrNotRefundable is returned when refunding a booking whose
	// payment is not in a refundable state.
	ErrNotRefundable = errors.New("payments: payment not refundable")
)

// bookingStore is the booking persistence surface payments consumes.
type bookingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	GetByPublicID(ctx context.Context, publicID string) (*booking.Booking, error)
	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID, customerID string) error
	MarkPaid(ctx context.Context, id uuid.UUID, providerPaymentID string, at time.Time) (bool, *booking.Booking, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundID string, at time.Time, class booking.RefundClassification) (*booking.Booking, error)
}

// gateway abstracts the payment provider.
type gateway interface {
	CreateIntent(ctx context.Context, params IntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	RefundIntent(ctx context.Context, params RefundParams) (*Refund, error)
}

// eventPublisher records domain events; failures never propagate.
type eventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// Service coordinates payment intents, synchronous confirmation and
// refund execution against the booking store.
type Service struct {
	store    bookingStore
	gateway  gateway
	velocity *Velocity
	events   eventPublisher
	logger   *logging.Logger
	currency string
	nowFn    func() time.Time
}

// NewService constructs the payments service.
func NewService(store bookingStore, gw gateway, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("payments: booking store required")
	}
	if gw == nil {
		panic("payments: gateway required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:    store,
		gateway:  gw,
		logger:   logger,
		currency: "usd",
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option customises a Service.
type Option func(*Service)

// WithVelocity wires attempt limits backed by redis.
func WithVelocity(v *Velocity) Option {
	return func(s *Service) { s.velocity = v }
}

// WithEventPublisher wires the notification event sink.
func WithEventPublisher(p eventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithDefaultCurrency sets the fallback currency code.
func WithDefaultCurrency(code string) Option {
	return func(s *Service) {
		if code != "" {
			s.currency = code
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(nowFn func() time.Time) Option {
	return func(s *Service) { s.nowFn = nowFn }
}

// CreateIntentForBooking creates a provider intent for a booking and
// records the correlation ids. Implements the lifecycle manager's
// intent hook.
func (s *Service) CreateIntentForBooking(ctx context.Context, b *booking.Booking, currency string) (*booking.PaymentIntent, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.create_intent")
	defer span.End()
	span.SetAttributes(attribute.String("fixhaven.booking_id", b.PublicID))

	if b.PaymentStatus == booking.PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	if currency == "" {
		currency = s.currency
	}
	if err := s.velocity.AllowIntentAttempt(ctx, b.ID.String()); err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, IntentParams{
		BookingID:   b.ID.String(),
		Email:       b.CustomerDetails.Email,
		Name:        b.CustomerDetails.Name,
		Phone:       b.CustomerDetails.Phone,
		AmountCents: b.TotalCents,
		Currency:    currency,
		Description: fmt.Sprintf("Payment for booking %s", b.PublicID),
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.SetPaymentIntent(ctx, b.ID, intent.ID, intent.CustomerID); err != nil {
		// The provider intent exists but the correlation write failed;
		// surface the error so the client retries intent creation.
		s.logger.Error("failed to record payment intent ids",
			"booking_id", b.PublicID, "intent_id", intent.ID, "error", err)
		return nil, err
	}

	s.logger.Info("payment intent created",
		"booking_id", b.PublicID, "intent_id", intent.ID, "amount_cents", b.TotalCents)
	return &booking.PaymentIntent{
		ClientSecret: intent.ClientSecret,
		IntentID:     intent.ID,
		CustomerID:   intent.CustomerID,
	}, nil
}

// CreateIntentByRef creates (or retries) an intent for an existing
// booking. Only the owning customer or an admin may request it.
func (s *Service) CreateIntentByRef(ctx context.Context, actor identity.Identity, ref, currency string) (*booking.PaymentIntent, error) {
	b, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.IsCustomer() && actor.ID == b.CustomerID) {
		return nil, booking.ErrUnauthorized
	}
	return s.CreateIntentForBooking(ctx, b, currency)
}

// Confirm is the synchronous confirmation path: it pulls the
// authoritative intent state from the provider and, on success,
// reconciles the booking to paid/confirmed. Safe to race with webhook
// delivery: both converge on the same conditional write.
func (s *Service) Confirm(ctx context.Context, intentID string) (*booking.Booking, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("stripe.intent_id", intentID))

	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != "succeeded" {
		return nil, fmt.Errorf("%w: status %s", ErrNotSucceeded, intent.Status)
	}
	if intent.BookingID == "" {
		return nil, ErrNoIntent
	}
	bookingID, err := uuid.Parse(intent.BookingID)
	if err != nil {
		// Permanent data fault on the provider side; retrying the call
		// cannot fix it, so it surfaces as a client error.
		return nil, fmt.Errorf("%w: intent %s carries malformed booking id %q", booking.ErrValidation, intentID, intent.BookingID)
	}

	changed, b, err := s.store.MarkPaid(ctx, bookingID, intent.ID, s.nowFn())
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("payment confirmed", "booking_id", b.PublicID, "intent_id", intent.ID)
		s.publish(ctx, events.TypePaymentSucceeded, b)
	}
	return b, nil
}

// RefundResult reports an executed refund.
type RefundResult struct {
	Booking        *booking.Booking             `json:"booking"`
	RefundID       string                       `json:"refund_id"`
	RefundedCents  int64                        `json:"refunded_cents"`
	Classification booking.RefundClassification `json:"refund_status"`
}

// ExecuteRefund refunds a paid booking, partially when amountCents is
// given. Deliberately separate from cancellation: it keys off the
// stored refund classification and can be retried independently; the
// idempotency key makes provider-side retries single-shot.
func (s *Service) ExecuteRefund(ctx context.Context, actor identity.Identity, ref string, amountCents *int64, reason string) (*RefundResult, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.refund")
	defer span.End()

	if !actor.IsAdmin() {
		return nil, booking.ErrUnauthorized
	}

	b, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if b.Metadata.PaymentIntentID == "" {
		return nil, ErrNoIntent
	}
	if b.PaymentStatus == booking.PaymentRefunded {
		// Retried refunds are a no-op success.
		return &RefundResult{
			Booking:        b,
			RefundID:       b.Metadata.RefundID,
			Classification: b.Metadata.RefundClassification,
		}, nil
	}
	if b.PaymentStatus != booking.PaymentPaid {
		return nil, fmt.Errorf("%w: payment status is %s", ErrNotRefundable, b.PaymentStatus)
	}
	if err := s.velocity.AllowRefundAttempt(ctx, b.ID.String()); err != nil {
		return nil, err
	}

	amount := b.TotalCents
	if amountCents != nil {
		amount = *amountCents
	}
	if amount <= 0 || amount > b.TotalCents {
		return nil, fmt.Errorf("%w: refund amount out of range", booking.ErrValidation)
	}

	refund, err := s.gateway.RefundIntent(ctx, RefundParams{
		IntentID:       b.Metadata.PaymentIntentID,
		AmountCents:    amountCents,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("refund-%s-%d", b.ID, amount),
	})
	if err != nil {
		return nil, err
	}

	class := booking.RefundPartial
	if refund.AmountCents >= b.TotalCents {
		class = booking.RefundFull
	}
	updated, err := s.store.MarkRefunded(ctx, b.ID, refund.ID, s.nowFn(), class)
	if err != nil {
		// The provider refund went through; the store write can be
		// replayed via a retried refund call (idempotent upstream).
		s.logger.Error("failed to record refund",
			"booking_id", b.PublicID, "refund_id", refund.ID, "error", err)
		return nil, err
	}

	s.logger.Info("refund executed",
		"booking_id", b.PublicID, "refund_id", refund.ID,
		"refunded_cents", refund.AmountCents, "refund_status", class)
	s.publish(ctx, events.TypePaymentRefunded, updated)
	return &RefundResult{
		Booking:        updated,
		RefundID:       refund.ID,
		RefundedCents:  refund.AmountCents,
		Classification: class,
	}, nil
}

func (s *Service) load(ctx context.Context, ref string) (*booking.Booking, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetByID(ctx, id)
	}
	return s.store.GetByPublicID(ctx, ref)
}

func (s *Service) publish(ctx context.Context, eventType string, b *booking.Booking) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, eventType, b)
}
