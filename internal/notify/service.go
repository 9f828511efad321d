package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fixhaven/fixhaven-api/internal/events"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

// Service turns recorded booking and payment events into customer and
// operations emails. It is the delivery target of the event outbox.
type Service struct {
	email    EmailSender
	opsEmail string
	logger   *logging.Logger
}

// NewService creates the notification service. opsEmail receives
// operational alerts (failed payments); empty disables them.
func NewService(email EmailSender, opsEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, opsEmail: opsEmail, logger: logger}
}

var _ events.Deliverer = (*Service)(nil)

// Deliver renders and sends the notification for a single outbox
// entry. Unknown event types are delivered successfully as no-ops so
// they do not clog the pending queue.
func (s *Service) Deliver(ctx context.Context, entry events.OutboxEntry) error {
	if s.email == nil {
		return nil
	}

	var env events.BookingEnvelope
	if err := json.Unmarshal(entry.Payload, &env); err != nil {
		return fmt.Errorf("notify: decode event %s payload: %w", entry.ID, err)
	}

	switch entry.Type {
	case events.TypeBookingCreated:
		return s.sendBookingCreated(ctx, env)
	case events.TypeBookingStatus:
		return s.sendStatusChanged(ctx, env)
	case events.TypeBookingCancelled:
		return s.sendCancelled(ctx, env)
	case events.TypeBookingRescheduled:
		return s.sendRescheduled(ctx, env)
	case events.TypePaymentSucceeded:
		return s.sendReceipt(ctx, env)
	case events.TypePaymentFailed:
		return s.sendPaymentFailedAlert(ctx, env)
	case events.TypePaymentRefunded:
		return s.sendRefunded(ctx, env)
	default:
		s.logger.Debug("no notification for event type", "type", entry.Type)
		return nil
	}
}

func (s *Service) sendBookingCreated(ctx context.Context, env events.BookingEnvelope) error {
	body := fmt.Sprintf(`Hi %s,

Your booking %s is in. Here are the details:

When: %s
Total: %s

We'll let you know as soon as the provider confirms.

— FixHaven`, firstName(env.CustomerDetails.Name), env.PublicID, whenLine(env), amount(env))

	return s.sendCustomer(ctx, env, fmt.Sprintf("Booking received - %s", env.PublicID), body)
}

func (s *Service) sendStatusChanged(ctx context.Context, env events.BookingEnvelope) error {
	subject := fmt.Sprintf("Booking %s is now %s", env.PublicID, env.Status)
	body := fmt.Sprintf(`Hi %s,

Your booking %s is now %s.

When: %s

— FixHaven`, firstName(env.CustomerDetails.Name), env.PublicID, env.Status, whenLine(env))

	return s.sendCustomer(ctx, env, subject, body)
}

func (s *Service) sendCancelled(ctx context.Context, env events.BookingEnvelope) error {
	refundLine := ""
	switch env.PaymentStatus {
	case "paid":
		refundLine = "\nYour refund is being reviewed and will be processed shortly."
	case "refunded":
		refundLine = "\nYour refund has been processed."
	}
	body := fmt.Sprintf(`Hi %s,

Your booking %s has been cancelled.%s

— FixHaven`, firstName(env.CustomerDetails.Name), env.PublicID, refundLine)

	return s.sendCustomer(ctx, env, fmt.Sprintf("Booking cancelled - %s", env.PublicID), body)
}

func (s *Service) sendRescheduled(ctx context.Context, env events.BookingEnvelope) error {
	body := fmt.Sprintf(`Hi %s,

Your booking %s has been moved.

New time: %s

The provider will confirm the new slot shortly.

— FixHaven`, firstName(env.CustomerDetails.Name), env.PublicID, whenLine(env))

	return s.sendCustomer(ctx, env, fmt.Sprintf("Booking rescheduled - %s", env.PublicID), body)
}

func (s *Service) sendReceipt(ctx context.Context, env events.BookingEnvelope) error {
	body := fmt.Sprintf(`Hi %s,

We've received your payment of %s for booking %s.

When: %s

See you then!

— FixHaven`, firstName(env.CustomerDetails.Name), amount(env), env.PublicID, whenLine(env))

	return s.sendCustomer(ctx, env, fmt.Sprintf("Payment received - %s", env.PublicID), body)
}

func (s *Service) sendRefunded(ctx context.Context, env events.BookingEnvelope) error {
	body := fmt.Sprintf(`Hi %s,

Your refund for booking %s has been processed. Depending on your bank
it can take 5-10 business days to appear on your statement.

— FixHaven`, firstName(env.CustomerDetails.Name), env.PublicID)

	return s.sendCustomer(ctx, env, fmt.Sprintf("Refund processed - %s", env.PublicID), body)
}

// sendPaymentFailedAlert goes to operations, not the customer: failed
// card payments are followed up manually.
func (s *Service) sendPaymentFailedAlert(ctx context.Context, env events.BookingEnvelope) error {
	if s.opsEmail == "" {
		return nil
	}
	body := fmt.Sprintf(`Payment failed for booking %s.

Customer: %s <%s>
Amount: %s
When: %s

The booking has been cancelled. Reach out to the customer if they want
to rebook.`, env.PublicID, env.CustomerDetails.Name, env.CustomerDetails.Email, amount(env), whenLine(env))

	return s.email.Send(ctx, EmailMessage{
		To:      s.opsEmail,
		Subject: fmt.Sprintf("Payment failed - %s", env.PublicID),
		Body:    body,
	})
}

func (s *Service) sendCustomer(ctx context.Context, env events.BookingEnvelope, subject, body string) error {
	if env.CustomerDetails.Email == "" {
		s.logger.Warn("booking has no customer email, skipping notification", "booking_id", env.PublicID)
		return nil
	}
	return s.email.Send(ctx, EmailMessage{
		To:      env.CustomerDetails.Email,
		ToName:  env.CustomerDetails.Name,
		Subject: subject,
		Body:    body,
	})
}

func whenLine(env events.BookingEnvelope) string {
	dateStr := env.BookingDate
	if t, err := time.Parse("2006-01-02", env.BookingDate); err == nil {
		dateStr = t.Format("Monday, January 2")
	}
	if env.TimeSlot.Start == "" {
		return dateStr
	}
	return fmt.Sprintf("%s, %s-%s", dateStr, env.TimeSlot.Start, env.TimeSlot.End)
}

func amount(env events.BookingEnvelope) string {
	code := strings.ToUpper(env.Currency)
	if code == "" {
		code = "USD"
	}
	return fmt.Sprintf("%.2f %s", float64(env.TotalCents)/100, code)
}

func firstName(full string) string {
	full = strings.TrimSpace(full)
	if full == "" {
		return "there"
	}
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
