package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fixhaven/fixhaven-api/internal/booking"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

const testWebhookSecret = "whsec_test123"

type stubReconciler struct {
	paid        *booking.Booking
	failed      *booking.Booking
	paidChanged bool
	failChanged bool
	paidCalls   int
	failCalls   int
	err         error
}

func (s *stubReconciler) MarkPaid(ctx context.Context, id uuid.UUID, providerPaymentID string, at time.Time) (bool, *booking.Booking, error) {
	s.paidCalls++
	if s.err != nil {
		return false, nil, s.err
	}
	return s.paidChanged, s.paid, nil
}

func (s *stubReconciler) MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, *booking.Booking, error) {
	s.failCalls++
	if s.err != nil {
		return false, nil, s.err
	}
	return s.failChanged, s.failed, nil
}

type stubProcessed struct {
	seen   map[string]bool
	marked []string
}

func (s *stubProcessed) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	return s.seen[eventID], nil
}

func (s *stubProcessed) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	s.marked = append(s.marked, eventID)
	return true, nil
}

type capturedEvent struct {
	eventType string
	payload   any
}

type stubPublisher struct {
	events []capturedEvent
}

func (s *stubPublisher) Publish(ctx context.Context, eventType string, payload any) {
	s.events = append(s.events, capturedEvent{eventType, payload})
}

func buildIntentPayload(t *testing.T, eventID, eventType, intentID string, metadata map[string]string) []byte {
	t.Helper()
	evt := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              intentID,
				"status":          "succeeded",
				"amount":          6000,
				"amount_received": 6000,
				"currency":        "usd",
				"latest_charge":   "ch_123",
				"metadata":        metadata,
			},
		},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal provider event: %v", err)
	}
	return data
}

func stripeSign(payload []byte, secret string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "https://example.com/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", signature)
	rr := httptest.NewRecorder()
	h.Handle(rr, req)
	return rr
}

func TestWebhookIntentSucceeded(t *testing.T) {
	bookingID := uuid.New()
	store := &stubReconciler{
		paidChanged: true,
		paid: &booking.Booking{
			ID: bookingID, PublicID: "BK123", PaymentStatus: booking.PaymentPaid,
		},
	}
	processed := &stubProcessed{seen: map[string]bool{}}
	publisher := &stubPublisher{}
	h := NewWebhookHandler(testWebhookSecret, store, processed, publisher, nil, logging.Default())

	body := buildIntentPayload(t, "evt_1", "payment_intent.succeeded", "pi_1",
		map[string]string{"booking_id": bookingID.String()})
	rr := postWebhook(h, body, stripeSign(body, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.paidCalls != 1 {
		t.Fatalf("expected one MarkPaid call, got %d", store.paidCalls)
	}
	if len(processed.marked) != 1 || processed.marked[0] != "evt_1" {
		t.Errorf("event not recorded as processed: %v", processed.marked)
	}
	if len(publisher.events) != 1 || publisher.events[0].eventType != "payment.succeeded" {
		t.Errorf("expected payment.succeeded event, got %+v", publisher.events)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	store := &stubReconciler{}
	processed := &stubProcessed{seen: map[string]bool{"evt_dup": true}}
	h := NewWebhookHandler(testWebhookSecret, store, processed, nil, nil, logging.Default())

	body := buildIntentPayload(t, "evt_dup", "payment_intent.succeeded", "pi_1",
		map[string]string{"booking_id": uuid.NewString()})
	rr := postWebhook(h, body, stripeSign(body, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("duplicates must be acknowledged, got %d", rr.Code)
	}
	if store.paidCalls != 0 {
		t.Error("duplicate delivery must not touch the store")
	}
}

func TestWebhookReplayAfterPaid(t *testing.T) {
	// Same event content redelivered under a new event id: the
	// conditional write reports no change and the handler acks.
	store := &stubReconciler{
		paidChanged: false,
		paid:        &booking.Booking{PublicID: "BK123", PaymentStatus: booking.PaymentPaid},
	}
	processed := &stubProcessed{seen: map[string]bool{}}
	publisher := &stubPublisher{}
	h := NewWebhookHandler(testWebhookSecret, store, processed, publisher, nil, logging.Default())

	body := buildIntentPayload(t, "evt_replay", "payment_intent.succeeded", "pi_1",
		map[string]string{"booking_id": uuid.NewString()})
	rr := postWebhook(h, body, stripeSign(body, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(publisher.events) != 0 {
		t.Error("no-op reconciliation must not emit events")
	}
}

func TestWebhookFailureAfterSuccessIgnored(t *testing.T) {
	store := &stubReconciler{
		failChanged: false,
		failed:      &booking.Booking{PublicID: "BK123", PaymentStatus: booking.PaymentPaid},
	}
	processed := &stubProcessed{seen: map[string]bool{}}
	publisher := &stubPublisher{}
	h := NewWebhookHandler(testWebhookSecret, store, processed, publisher, nil, logging.Default())

	body := buildIntentPayload(t, "evt_late_fail", "payment_intent.payment_failed", "pi_1",
		map[string]string{"booking_id": uuid.NewString()})
	rr := postWebhook(h, body, stripeSign(body, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("out-of-order failure must be acknowledged, got %d", rr.Code)
	}
	if store.failCalls != 1 {
		t.Fatalf("expected conditional failure write attempt, got %d", store.failCalls)
	}
	if len(publisher.events) != 0 {
		t.Error("ignored failure must not emit payment.failed")
	}
}

func TestWebhookBadSignature(t *testing.T) {
	store := &stubReconciler{}
	h := NewWebhookHandler(testWebhookSecret, store, &stubProcessed{seen: map[string]bool{}}, nil, nil, logging.Default())

	body := buildIntentPayload(t, "evt_bad", "payment_intent.succeeded", "pi_1",
		map[string]string{"booking_id": uuid.NewString()})
	rr := postWebhook(h, body, "t=12345,v1=bad_signature")

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rr.Code)
	}
	if store.paidCalls != 0 {
		t.Error("unverified payloads must never reach the store")
	}
}

func TestWebhookMissingBookingMetadata(t *testing.T) {
	store := &stubReconciler{}
	processed := &stubProcessed{seen: map[string]bool{}}
	h := NewWebhookHandler(testWebhookSecret, store, processed, nil, nil, logging.Default())

	body := buildIntentPayload(t, "evt_nometa", "payment_intent.succeeded", "pi_1", map[string]string{})
	rr := postWebhook(h, body, stripeSign(body, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("uncorrelatable events are acked to stop retries, got %d", rr.Code)
	}
	if store.paidCalls != 0 {
		t.Error("store must not be touched without a booking id")
	}
	if len(processed.marked) != 1 {
		t.Error("acked event should still be marked processed")
	}
}

func TestWebhookUnknownEventType(t *testing.T) {
	store := &stubReconciler{}
	h := NewWebhookHandler(testWebhookSecret, store, &stubProcessed{seen: map[string]bool{}}, nil, nil, logging.Default())

	body := buildIntentPayload(t, "evt_other", "customer.created", "cus_1", nil)
	rr := postWebhook(h, body, stripeSign(body, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("unknown events must be acknowledged, got %d", rr.Code)
	}
}

func TestWebhookDisputeLogged(t *testing.T) {
	h := NewWebhookHandler(testWebhookSecret, &stubReconciler{}, &stubProcessed{seen: map[string]bool{}}, nil, nil, logging.Default())

	evt := map[string]any{
		"id":      "evt_dispute",
		"type":    "charge.dispute.created",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             "dp_1",
				"charge":         "ch_1",
				"payment_intent": "pi_1",
				"amount":         6000,
				"reason":         "fraudulent",
			},
		},
	}
	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}
	rr := postWebhook(h, body, stripeSign(body, testWebhookSecret))
	if rr.Code != http.StatusOK {
		t.Fatalf("disputes are acknowledged for manual review, got %d", rr.Code)
	}
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	if !verifyStripeSignature(testWebhookSecret, payload, stripeSign(payload, testWebhookSecret)) {
		t.Error("valid signature rejected")
	}
	if verifyStripeSignature(testWebhookSecret, payload, stripeSign(payload, "whsec_other")) {
		t.Error("signature from wrong secret accepted")
	}
	if verifyStripeSignature(testWebhookSecret, payload, "") {
		t.Error("empty header accepted")
	}
	if verifyStripeSignature(testWebhookSecret, payload, "t=123,v1=bad") {
		t.Error("stale timestamp accepted")
	}
	// Empty secret bypasses verification in development.
	if !verifyStripeSignature("", payload, "") {
		t.Error("empty secret should bypass verification")
	}

	stale := time.Now().Add(-10 * time.Minute).Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", stale, payload)
	header := fmt.Sprintf("t=%d,v1=%s", stale, hex.EncodeToString(mac.Sum(nil)))
	if verifyStripeSignature(testWebhookSecret, payload, header) {
		t.Error("correctly signed but stale timestamp accepted")
	}
}

func TestWebhookSuccessAfterCancelStaysCancelled(t *testing.T) {
	// The customer cancelled before the capture event arrived. The
	// payment gets recorded but the booking stays cancelled and no
	// receipt event goes out; the money is settled by an admin refund.
	bookingID := uuid.New()
	store := &stubReconciler{
		paidChanged: true,
		paid: &booking.Booking{
			ID:            bookingID,
			PublicID:      "BK123",
			Status:        booking.StatusCancelled,
			PaymentStatus: booking.PaymentPaid,
			Metadata:      booking.Metadata{RefundClassification: booking.RefundFull},
		},
	}
	processed := &stubProcessed{seen: map[string]bool{}}
	publisher := &stubPublisher{}
	h := NewWebhookHandler(testWebhookSecret, store, processed, publisher, nil, logging.Default())

	payload := buildIntentPayload(t, "evt_cancel_race", "payment_intent.succeeded", "pi_123",
		map[string]string{"booking_id": bookingID.String()})
	rr := postWebhook(h, payload, stripeSign(payload, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.paidCalls != 1 {
		t.Errorf("expected 1 MarkPaid call, got %d", store.paidCalls)
	}
	if len(publisher.events) != 0 {
		t.Errorf("cancelled booking must not get a receipt event, got %+v", publisher.events)
	}
	if len(processed.marked) != 1 || processed.marked[0] != "evt_cancel_race" {
		t.Errorf("event should be marked processed, got %v", processed.marked)
	}
}
