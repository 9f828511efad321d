package payments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/fixhaven/fixhaven-api/internal/booking"
	"github.com/fixhaven/fixhaven-api/internal/identity"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

// Handler exposes the payment endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandler constructs the payments HTTP handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type createIntentRequest struct {
	BookingID string `json:"bookingId" validate:"required"`
	Currency  string `json:"currency" validate:"omitempty,len=3"`
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

type refundRequest struct {
	BookingID   string `json:"bookingId" validate:"required"`
	AmountCents *int64 `json:"amountCents" validate:"omitempty,gt=0"`
	Reason      string `json:"reason" validate:"omitempty,max=500"`
}

// CreateIntent handles POST /payments/intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	intent, err := h.svc.CreateIntentByRef(r.Context(), actor, req.BookingID, req.Currency)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.IntentID,
		"customerId":      intent.CustomerID,
	})
}

// Confirm handles POST /payments/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.FromContext(r.Context()); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.svc.Confirm(r.Context(), req.PaymentIntentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"booking":        b,
		"payment_status": b.PaymentStatus,
	})
}

// Refund handles POST /payments/refund (admin only).
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.svc.ExecuteRefund(r.Context(), actor, req.BookingID, req.AmountCents, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrValidation), errors.Is(err, ErrNotSucceeded):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, ErrNoIntent):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, booking.ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrNotRefundable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrVelocityExceeded):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, ErrPaymentProvider):
		h.logger.Error("payment provider error", "error", err)
		http.Error(w, "payment provider unavailable", http.StatusBadGateway)
	default:
		h.logger.Error("payment request failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
