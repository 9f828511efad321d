package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

var gatewayTracer = otel.Tracer("fixhaven.internal.payments.gateway")

// ErrPaymentProvider wraps transport or validation failures from the
// payment provider. Callers decide whether it is fatal to the
// surrounding operation.
var ErrPaymentProvider = errors.New("payments: provider call failed")

// Intent mirrors the provider-side payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	CustomerID   string
	Status       string
	AmountCents  int64
	Currency     string
	LatestCharge string
	BookingID    string // from metadata, the join key
}

// IntentParams describes the intent to create.
type IntentParams struct {
	BookingID   string // tagged into metadata; join key for reconciliation
	Email       string
	Name        string
	Phone       string
	AmountCents int64
	Currency    string
	Description string
}

// RefundParams describes a refund. Amount nil means full refund.
// IdempotencyKey guards against duplicate refunds on retry.
type RefundParams struct {
	IntentID       string
	AmountCents    *int64
	Reason         string
	IdempotencyKey string
}

// Refund is the provider's view of an executed refund.
type Refund struct {
	ID          string
	AmountCents int64
	Status      string
}

// StripeGateway talks to the Stripe API over raw form-encoded HTTP.
// No internal retries; calls are bounded by the client timeout.
type StripeGateway struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewStripeGateway creates a gateway against api.stripe.com.
func NewStripeGateway(secretKey string, timeout time.Duration, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGateway{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (g *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
	return g
}

// CreateIntent creates or reuses a provider-side customer keyed by the
// contact email, then creates a payment intent tagged with the booking
// id in its metadata.
func (g *StripeGateway) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	ctx, span := gatewayTracer.Start(ctx, "stripe.create_payment_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("fixhaven.booking_id", params.BookingID),
		attribute.Int64("fixhaven.amount_cents", params.AmountCents),
	)

	customerID, err := g.findOrCreateCustomer(ctx, params)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", params.AmountCents))
	form.Set("currency", params.Currency)
	form.Set("customer", customerID)
	form.Set("receipt_email", params.Email)
	form.Set("setup_future_usage", "on_session")
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	form.Set("metadata[booking_id]", params.BookingID)

	var parsed stripeIntent
	if err := g.do(ctx, http.MethodPost, "/v1/payment_intents", form, "", &parsed); err != nil {
		return nil, err
	}
	if parsed.ID == "" || parsed.ClientSecret == "" {
		return nil, fmt.Errorf("%w: intent response missing id or client secret", ErrPaymentProvider)
	}
	return parsed.toIntent(customerID), nil
}

// RetrieveIntent fetches the authoritative intent state.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	ctx, span := gatewayTracer.Start(ctx, "stripe.retrieve_payment_intent")
	defer span.End()
	span.SetAttributes(attribute.String("stripe.intent_id", intentID))

	var parsed stripeIntent
	if err := g.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, "", &parsed); err != nil {
		return nil, err
	}
	return parsed.toIntent(parsed.Customer), nil
}

// RefundIntent refunds a payment intent, partially when an amount is
// given. The idempotency key makes retried refunds single-shot on the
// provider side.
func (g *StripeGateway) RefundIntent(ctx context.Context, params RefundParams) (*Refund, error) {
	ctx, span := gatewayTracer.Start(ctx, "stripe.refund")
	defer span.End()
	span.SetAttributes(attribute.String("stripe.intent_id", params.IntentID))

	form := url.Values{}
	form.Set("payment_intent", params.IntentID)
	if params.AmountCents != nil {
		form.Set("amount", fmt.Sprintf("%d", *params.AmountCents))
	}
	reason := params.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}
	form.Set("reason", reason)

	var parsed struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/refunds", form, params.IdempotencyKey, &parsed); err != nil {
		return nil, err
	}
	g.logger.Info("refund processed",
		"refund_id", parsed.ID, "intent_id", params.IntentID, "amount_cents", parsed.Amount)
	return &Refund{ID: parsed.ID, AmountCents: parsed.Amount, Status: parsed.Status}, nil
}

// findOrCreateCustomer reuses the first customer matching the email,
// creating one when none exists.
func (g *StripeGateway) findOrCreateCustomer(ctx context.Context, params IntentParams) (string, error) {
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	query := "/v1/customers?limit=1&email=" + url.QueryEscape(params.Email)
	if err := g.do(ctx, http.MethodGet, query, nil, "", &list); err != nil {
		return "", err
	}
	if len(list.Data) > 0 && list.Data[0].ID != "" {
		return list.Data[0].ID, nil
	}

	form := url.Values{}
	form.Set("email", params.Email)
	if params.Name != "" {
		form.Set("name", params.Name)
	}
	if params.Phone != "" {
		form.Set("phone", params.Phone)
	}
	form.Set("metadata[booking_id]", params.BookingID)

	var created struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/customers", form, "", &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: customer response missing id", ErrPaymentProvider)
	}
	return created.ID, nil
}

// do performs a Stripe API call and decodes the JSON response into out.
func (g *StripeGateway) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPaymentProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Stripe-Version", g.apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrPaymentProvider, resp.StatusCode, string(detail))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrPaymentProvider, err)
	}
	return nil
}

// stripeIntent is the subset of Stripe's PaymentIntent we need.
type stripeIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Customer     string            `json:"customer"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	LatestCharge string            `json:"latest_charge"`
	Metadata     map[string]string `json:"metadata"`
}

func (i stripeIntent) toIntent(customerID string) *Intent {
	return &Intent{
		ID:           i.ID,
		ClientSecret: i.ClientSecret,
		CustomerID:   customerID,
		Status:       i.Status,
		AmountCents:  i.Amount,
		Currency:     i.Currency,
		LatestCharge: i.LatestCharge,
		BookingID:    i.Metadata["booking_id"],
	}
}
