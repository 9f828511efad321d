package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fixhaven/fixhaven-api/internal/booking"
	"github.com/fixhaven/fixhaven-api/internal/events"
	"github.com/fixhaven/fixhaven-api/internal/observability/metrics"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

// reconcilerStore is the booking surface webhook reconciliation needs.
type reconcilerStore interface {
	MarkPaid(ctx context.Context, id uuid.UUID, providerPaymentID string, at time.Time) (bool, *booking.Booking, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, *booking.Booking, error)
}

// processedTracker deduplicates provider events across deliveries.
type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler receives asynchronous payment provider events and
// reconciles booking payment state. Deliveries are at-least-once and
// unordered, so every state change is a conditional write and replays
// are acknowledged without effect.
type WebhookHandler struct {
	webhookSecret string
	store         reconcilerStore
	processed     processedTracker
	events        eventPublisher
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
	nowFn         func() time.Time
}

// NewWebhookHandler creates the provider event handler.
func NewWebhookHandler(
	webhookSecret string,
	store reconcilerStore,
	processed processedTracker,
	publisher eventPublisher,
	m *metrics.BookingMetrics,
	logger *logging.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		store:         store,
		processed:     processed,
		events:        publisher,
		metrics:       m,
		logger:        logger,
		nowFn:         time.Now,
	}
}

// Handle processes incoming payment provider webhook events.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := h.nowFn()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifyStripeSignature(h.webhookSecret, payload, sigHeader) {
		h.logger.Warn("webhook signature verification failed")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt providerEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode provider event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if done, err := h.processed.AlreadyProcessed(r.Context(), "stripe", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if done {
		h.logger.Info("duplicate provider event acknowledged", "event_id", evt.ID, "type", evt.Type)
		h.observe(evt.Type, "duplicate", start)
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome := "ok"
	switch evt.Type {
	case "payment_intent.succeeded":
		outcome = h.handleIntentSucceeded(r.Context(), &evt, w)
	case "payment_intent.payment_failed":
		outcome = h.handleIntentFailed(r.Context(), &evt, w)
	case "charge.dispute.created":
		outcome = h.handleDispute(r.Context(), &evt, w)
	default:
		// Unhandled event types are acknowledged so the provider stops
		// retrying them.
		h.logger.Info("ignoring provider event", "event_id", evt.ID, "type", evt.Type)
		outcome = "ignored"
		w.WriteHeader(http.StatusOK)
	}

	if outcome != "error" {
		if _, err := h.processed.MarkProcessed(r.Context(), "stripe", evt.ID); err != nil {
			h.logger.Error("failed to record processed event", "event_id", evt.ID, "error", err)
		}
	}
	h.observe(evt.Type, outcome, start)
}

func (h *WebhookHandler) handleIntentSucceeded(ctx context.Context, evt *providerEvent, w http.ResponseWriter) string {
	obj, bookingID, outcome := h.decodeIntent(evt, w)
	if outcome != "" {
		return outcome
	}

	changed, b, err := h.store.MarkPaid(ctx, bookingID, obj.ID, time.Unix(evt.Created, 0))
	if err != nil {
		if isMissingBooking(err) {
			// The booking this intent references does not exist; retrying
			// will never help, so acknowledge and flag for investigation.
			h.logger.Warn("success event for unknown booking",
				"event_id", evt.ID, "booking_id", bookingID, "intent_id", obj.ID)
			w.WriteHeader(http.StatusOK)
			return "unknown_booking"
		}
		h.logger.Error("failed to mark booking paid", "event_id", evt.ID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return "error"
	}
	if !changed {
		h.logger.Info("success event replay, booking already paid",
			"event_id", evt.ID, "booking_id", b.PublicID)
		w.WriteHeader(http.StatusOK)
		return "replay"
	}
	if b.Status == booking.StatusCancelled {
		// Capture landed after the customer cancelled. The payment is
		// recorded but the booking stays cancelled; no receipt goes out
		// and an admin refund settles the money.
		h.logger.Warn("payment captured for cancelled booking, refund required",
			"event_id", evt.ID, "booking_id", b.PublicID, "intent_id", obj.ID,
			"refund_status", b.Metadata.RefundClassification)
		w.WriteHeader(http.StatusOK)
		return "late_capture"
	}

	h.logger.Info("booking payment reconciled",
		"event_id", evt.ID, "booking_id", b.PublicID, "intent_id", obj.ID)
	if h.events != nil {
		h.events.Publish(ctx, events.TypePaymentSucceeded, b)
	}
	w.WriteHeader(http.StatusOK)
	return "ok"
}

func (h *WebhookHandler) handleIntentFailed(ctx context.Context, evt *providerEvent, w http.ResponseWriter) string {
	obj, bookingID, outcome := h.decodeIntent(evt, w)
	if outcome != "" {
		return outcome
	}

	changed, b, err := h.store.MarkPaymentFailed(ctx, bookingID)
	if err != nil {
		if isMissingBooking(err) {
			h.logger.Warn("failure event for unknown booking",
				"event_id", evt.ID, "booking_id", bookingID, "intent_id", obj.ID)
			w.WriteHeader(http.StatusOK)
			return "unknown_booking"
		}
		h.logger.Error("failed to mark payment failed", "event_id", evt.ID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return "error"
	}
	if !changed {
		// A failure arriving after success is out-of-order delivery;
		// paid state must never regress off it.
		h.logger.Warn("failure event ignored, payment already settled",
			"event_id", evt.ID, "booking_id", b.PublicID, "payment_status", b.PaymentStatus)
		w.WriteHeader(http.StatusOK)
		return "out_of_order"
	}

	h.logger.Info("booking payment marked failed",
		"event_id", evt.ID, "booking_id", b.PublicID, "intent_id", obj.ID)
	if h.events != nil {
		h.events.Publish(ctx, events.TypePaymentFailed, b)
	}
	w.WriteHeader(http.StatusOK)
	return "ok"
}

func (h *WebhookHandler) handleDispute(ctx context.Context, evt *providerEvent, w http.ResponseWriter) string {
	var obj providerDisputeObject
	if err := json.Unmarshal(evt.Data.Object, &obj); err != nil {
		h.logger.Error("failed to decode dispute object", "event_id", evt.ID, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return "error"
	}
	// Disputes need a human; record everything we know and acknowledge.
	h.logger.Warn("charge dispute opened, manual review required",
		"event_id", evt.ID,
		"dispute_id", obj.ID,
		"charge_id", obj.Charge,
		"intent_id", obj.PaymentIntent,
		"amount_cents", obj.Amount,
		"reason", obj.Reason)
	w.WriteHeader(http.StatusOK)
	return "dispute_logged"
}

// decodeIntent extracts the intent object and the correlated booking
// id. A non-empty outcome means the response was already written.
func (h *WebhookHandler) decodeIntent(evt *providerEvent, w http.ResponseWriter) (*providerIntentObject, uuid.UUID, string) {
	var obj providerIntentObject
	if err := json.Unmarshal(evt.Data.Object, &obj); err != nil {
		h.logger.Error("failed to decode intent object", "event_id", evt.ID, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, uuid.Nil, "error"
	}

	ref := obj.Metadata["booking_id"]
	if ref == "" {
		h.logger.Warn("provider event missing booking correlation",
			"event_id", evt.ID, "type", evt.Type, "intent_id", obj.ID)
		w.WriteHeader(http.StatusOK)
		return nil, uuid.Nil, "missing_metadata"
	}
	bookingID, err := uuid.Parse(ref)
	if err != nil {
		h.logger.Warn("provider event carries malformed booking id",
			"event_id", evt.ID, "booking_id", ref)
		w.WriteHeader(http.StatusOK)
		return nil, uuid.Nil, "missing_metadata"
	}
	return &obj, bookingID, ""
}

func (h *WebhookHandler) observe(eventType, outcome string, start time.Time) {
	h.metrics.ObserveWebhook(eventType, outcome)
	h.metrics.ObserveWebhookLatency(eventType, h.nowFn().Sub(start).Seconds())
}

func isMissingBooking(err error) bool {
	return errors.Is(err, booking.ErrNotFound)
}

// providerEvent is the provider's webhook event envelope. The payload
// object is kept raw because its shape depends on the event type.
type providerEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type providerIntentObject struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	LatestCharge   string            `json:"latest_charge"`
	Metadata       map[string]string `json:"metadata"`
}

type providerDisputeObject struct {
	ID            string `json:"id"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
}

// verifyStripeSignature checks the HMAC-SHA256 signature the provider
// sends as: t=<timestamp>,v1=<signature>[,v1=<rotated signature>].
func verifyStripeSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	// Reject stale timestamps (5 minute tolerance).
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
