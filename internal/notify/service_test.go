package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fixhaven/fixhaven-api/internal/events"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func envelopePayload(t *testing.T, mutate func(*events.BookingEnvelope)) json.RawMessage {
	t.Helper()
	env := events.BookingEnvelope{
		PublicID:      "BK7F3A9C2E",
		ServiceID:     "svc-1",
		Status:        "confirmed",
		PaymentStatus: "paid",
		TotalCents:    6000,
		Currency:      "usd",
		BookingDate:   "2026-06-05",
	}
	env.TimeSlot.Start = "10:00"
	env.TimeSlot.End = "11:00"
	env.CustomerDetails.Name = "Dana West"
	env.CustomerDetails.Email = "dana@example.com"
	if mutate != nil {
		mutate(&env)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func entry(t *testing.T, eventType string, mutate func(*events.BookingEnvelope)) events.OutboxEntry {
	t.Helper()
	return events.OutboxEntry{
		ID:      uuid.New(),
		Type:    eventType,
		Payload: envelopePayload(t, mutate),
	}
}

func TestDeliverBookingCreated(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "", logging.Default())

	if err := svc.Deliver(context.Background(), entry(t, events.TypeBookingCreated, nil)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "dana@example.com" || msg.ToName != "Dana West" {
		t.Errorf("wrong recipient: %+v", msg)
	}
	if msg.Subject != "Booking received - BK7F3A9C2E" {
		t.Errorf("unexpected subject: %q", msg.Subject)
	}
	for _, want := range []string{"Hi Dana,", "Friday, June 5, 10:00-11:00", "60.00 USD"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestDeliverPaymentReceipt(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "", logging.Default())

	if err := svc.Deliver(context.Background(), entry(t, events.TypePaymentSucceeded, nil)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].Body, "payment of 60.00 USD") {
		t.Errorf("receipt missing amount:\n%s", sender.sent[0].Body)
	}
}

func TestDeliverPaymentFailedGoesToOps(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "ops@fixhaven.example", logging.Default())

	if err := svc.Deliver(context.Background(), entry(t, events.TypePaymentFailed, nil)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ops@fixhaven.example" {
		t.Errorf("failure alert should go to ops, went to %s", msg.To)
	}
	if !strings.Contains(msg.Body, "Dana West <dana@example.com>") {
		t.Errorf("alert missing customer reference:\n%s", msg.Body)
	}
}

func TestDeliverPaymentFailedWithoutOpsEmail(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "", logging.Default())

	if err := svc.Deliver(context.Background(), entry(t, events.TypePaymentFailed, nil)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("no ops address configured, expected no email, got %d", len(sender.sent))
	}
}

func TestDeliverCancelledMentionsRefund(t *testing.T) {
	cases := []struct {
		paymentStatus string
		wantLine      string
	}{
		{"paid", "refund is being reviewed"},
		{"refunded", "refund has been processed"},
	}
	for _, tc := range cases {
		t.Run(tc.paymentStatus, func(t *testing.T) {
			sender := &recordingSender{}
			svc := NewService(sender, "", logging.Default())

			e := entry(t, events.TypeBookingCancelled, func(env *events.BookingEnvelope) {
				env.Status = "cancelled"
				env.PaymentStatus = tc.paymentStatus
			})
			if err := svc.Deliver(context.Background(), e); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if len(sender.sent) != 1 {
				t.Fatalf("expected 1 email, got %d", len(sender.sent))
			}
			if !strings.Contains(sender.sent[0].Body, tc.wantLine) {
				t.Errorf("body missing %q:\n%s", tc.wantLine, sender.sent[0].Body)
			}
		})
	}
}

func TestDeliverSkipsMissingCustomerEmail(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "", logging.Default())

	e := entry(t, events.TypeBookingCreated, func(env *events.BookingEnvelope) {
		env.CustomerDetails.Email = ""
	})
	if err := svc.Deliver(context.Background(), e); err != nil {
		t.Fatalf("missing email should not fail delivery: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no email, got %d", len(sender.sent))
	}
}

func TestDeliverUnknownEventTypeIsNoOp(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "", logging.Default())

	if err := svc.Deliver(context.Background(), entry(t, "something.else", nil)); err != nil {
		t.Fatalf("unknown event types must not clog the queue: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no email, got %d", len(sender.sent))
	}
}

func TestDeliverMalformedPayload(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "", logging.Default())

	e := events.OutboxEntry{ID: uuid.New(), Type: events.TypeBookingCreated, Payload: []byte("{not json")}
	if err := svc.Deliver(context.Background(), e); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFirstName(t *testing.T) {
	cases := map[string]string{
		"Dana West":  "Dana",
		"Dana":       "Dana",
		"  ":         "there",
		"":           "there",
		" Dana West": "Dana",
	}
	for in, want := range cases {
		if got := firstName(in); got != want {
			t.Errorf("firstName(%q) = %q, want %q", in, got, want)
		}
	}
}
