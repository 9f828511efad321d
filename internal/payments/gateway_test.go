package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

func newTestGateway(t *testing.T, handler http.Handler) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripeGateway("sk_test_123", 5*time.Second, logging.Default()).WithBaseURL(srv.URL)
}

func TestCreateIntentNewCustomer(t *testing.T) {
	var customerForm, intentForm map[string][]string

	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test_123" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
			fmt.Fprint(w, `{"data":[]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			_ = r.ParseForm()
			customerForm = r.PostForm
			fmt.Fprint(w, `{"id":"cus_new"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			_ = r.ParseForm()
			intentForm = r.PostForm
			fmt.Fprint(w, `{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method","amount":6000,"currency":"usd","metadata":{"booking_id":"bk-uuid"}}`)
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	intent, err := gw.CreateIntent(context.Background(), IntentParams{
		BookingID:   "bk-uuid",
		Email:       "dana@example.com",
		Name:        "Dana West",
		AmountCents: 6000,
		Currency:    "usd",
		Description: "Payment for booking BK123",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" || intent.CustomerID != "cus_new" {
		t.Errorf("unexpected intent: %+v", intent)
	}
	if got := customerForm["email"]; len(got) == 0 || got[0] != "dana@example.com" {
		t.Errorf("customer email not sent: %v", customerForm)
	}
	if got := intentForm["metadata[booking_id]"]; len(got) == 0 || got[0] != "bk-uuid" {
		t.Errorf("booking id metadata missing: %v", intentForm)
	}
	if got := intentForm["amount"]; len(got) == 0 || got[0] != "6000" {
		t.Errorf("amount not sent: %v", intentForm)
	}
}

func TestCreateIntentReusesCustomer(t *testing.T) {
	created := false
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
			fmt.Fprint(w, `{"data":[{"id":"cus_existing"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			created = true
			fmt.Fprint(w, `{"id":"cus_should_not_happen"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			fmt.Fprint(w, `{"id":"pi_2","client_secret":"pi_2_secret"}`)
		}
	}))

	intent, err := gw.CreateIntent(context.Background(), IntentParams{
		BookingID: "bk", Email: "dana@example.com", AmountCents: 100, Currency: "usd",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if created {
		t.Error("existing customer should be reused, not recreated")
	}
	if intent.CustomerID != "cus_existing" {
		t.Errorf("expected cus_existing, got %s", intent.CustomerID)
	}
}

func TestRetrieveIntent(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_3" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"pi_3","status":"succeeded","amount":5000,"currency":"usd","customer":"cus_1","latest_charge":"ch_1","metadata":{"booking_id":"bk-3"}}`)
	}))

	intent, err := gw.RetrieveIntent(context.Background(), "pi_3")
	if err != nil {
		t.Fatalf("RetrieveIntent: %v", err)
	}
	if intent.Status != "succeeded" || intent.BookingID != "bk-3" || intent.LatestCharge != "ch_1" {
		t.Errorf("unexpected intent: %+v", intent)
	}
}

func TestRefundIntentSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotReason, gotAmount string
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		_ = r.ParseForm()
		gotReason = r.PostForm.Get("reason")
		gotAmount = r.PostForm.Get("amount")
		fmt.Fprint(w, `{"id":"re_1","amount":3000,"status":"succeeded"}`)
	}))

	amount := int64(3000)
	refund, err := gw.RefundIntent(context.Background(), RefundParams{
		IntentID:       "pi_4",
		AmountCents:    &amount,
		IdempotencyKey: "refund-bk-3000",
	})
	if err != nil {
		t.Fatalf("RefundIntent: %v", err)
	}
	if refund.ID != "re_1" || refund.AmountCents != 3000 {
		t.Errorf("unexpected refund: %+v", refund)
	}
	if gotKey != "refund-bk-3000" {
		t.Errorf("idempotency key not forwarded, got %q", gotKey)
	}
	if gotReason != "requested_by_customer" {
		t.Errorf("expected default reason, got %q", gotReason)
	}
	if gotAmount != "3000" {
		t.Errorf("partial amount not sent, got %q", gotAmount)
	}
}

func TestGatewayErrorWrapsSentinel(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"no such intent"}}`, http.StatusNotFound)
	}))

	_, err := gw.RetrieveIntent(context.Background(), "pi_missing")
	if !errors.Is(err, ErrPaymentProvider) {
		t.Fatalf("expected ErrPaymentProvider, got %v", err)
	}
}
