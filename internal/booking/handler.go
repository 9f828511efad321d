package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fixhaven/fixhaven-api/internal/identity"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

const dateLayout = "2006-01-02"

// Handler exposes the booking lifecycle over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandler creates a booking handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("booking: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}
}

type createBookingRequest struct {
	ServiceID       string          `json:"service_id" validate:"required"`
	BookingDate     string          `json:"booking_date" validate:"required"`
	TimeSlot        TimeSlot        `json:"time_slot" validate:"required"`
	CustomerDetails CustomerDetails `json:"customer_details" validate:"required"`
	ServiceLocation ServiceLocation `json:"service_location"`
	SpecialRequests string          `json:"special_requests,omitempty" validate:"max=500"`
	PaymentMethod   string          `json:"payment_method,omitempty" validate:"omitempty,oneof=card cash"`
	Currency        string          `json:"currency,omitempty"`
	Source          string          `json:"source,omitempty" validate:"omitempty,oneof=web mobile admin"`
}

// Create handles POST /bookings.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	date, err := h.svc.ParseDate(req.BookingDate)
	if err != nil {
		http.Error(w, "booking_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Create(r.Context(), actor, CreateRequest{
		ServiceID:       req.ServiceID,
		BookingDate:     date,
		Slot:            req.TimeSlot,
		CustomerDetails: req.CustomerDetails,
		ServiceLocation: req.ServiceLocation,
		SpecialRequests: req.SpecialRequests,
		PaymentMethod:   PaymentMethod(req.PaymentMethod),
		Currency:        req.Currency,
		Source:          req.Source,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// AvailableSlots handles GET /bookings/available-slots?serviceId&date.
func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("serviceId")
	dateStr := r.URL.Query().Get("date")
	if serviceID == "" || dateStr == "" {
		http.Error(w, "serviceId and date are required", http.StatusBadRequest)
		return
	}
	date, err := h.svc.ParseDate(dateStr)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	slots, err := h.svc.AvailableSlots(r.Context(), serviceID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": slots})
}

// Mine handles GET /bookings/mine for the acting customer.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	f := h.filterFromQuery(r)
	bookings, total, err := h.svc.ListForCustomer(r.Context(), actor, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writePage(w, bookings, total, f)
}

// ProviderView handles GET /bookings/provider-view.
func (h *Handler) ProviderView(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	f := h.filterFromQuery(r)
	bookings, total, err := h.svc.ListForProvider(r.Context(), actor, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writePage(w, bookings, total, f)
}

// ListAll handles GET /bookings (admin).
func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	f := h.filterFromQuery(r)
	f.CustomerID = r.URL.Query().Get("customerId")
	f.ServiceID = r.URL.Query().Get("serviceId")
	bookings, total, err := h.svc.ListAll(r.Context(), actor, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writePage(w, bookings, total, f)
}

// Stats handles GET /bookings/stats?period=week|month|year (admin).
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	now := time.Now()
	var cutoff time.Time
	switch r.URL.Query().Get("period") {
	case "week":
		cutoff = now.AddDate(0, 0, -7)
	case "year":
		cutoff = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	default: // month
		cutoff = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	}
	stats, err := h.svc.StatsSince(r.Context(), actor, cutoff)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stats})
}

// Get handles GET /bookings/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	b, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": b})
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed in-progress completed cancelled rejected"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// UpdateStatus handles POST /bookings/{id}/status (provider/admin).
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.svc.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), Status(req.Status), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": b})
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Cancel handles POST /bookings/{id}/cancel (customer/admin).
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.svc.Cancel(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          b,
		"refund_status": b.Metadata.RefundClassification,
	})
}

type rescheduleRequest struct {
	NewDate     string   `json:"new_date" validate:"required"`
	NewTimeSlot TimeSlot `json:"new_time_slot" validate:"required"`
	Reason      string   `json:"reason,omitempty" validate:"max=500"`
}

// Reschedule handles POST /bookings/{id}/reschedule (customer/admin).
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	date, err := h.svc.ParseDate(req.NewDate)
	if err != nil {
		http.Error(w, "new_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	b, err := h.svc.Reschedule(r.Context(), actor, chi.URLParam(r, "id"), date, req.NewTimeSlot, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": b})
}

type reviewRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review,omitempty" validate:"max=1000"`
}

// Review handles POST /bookings/{id}/review (customer).
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.svc.Review(r.Context(), actor, chi.URLParam(r, "id"), req.Rating, req.Review)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": b})
}

func (h *Handler) filterFromQuery(r *http.Request) ListFilter {
	q := r.URL.Query()
	f := ListFilter{
		Page:  atoiDefault(q.Get("page"), 1),
		Limit: atoiDefault(q.Get("limit"), 10),
	}
	if status := q.Get("status"); status != "" && status != "all" {
		f.Status = Status(status)
	}
	if dateStr := q.Get("date"); dateStr != "" {
		if d, err := h.svc.ParseDate(dateStr); err == nil {
			f.Date = &d
		}
	}
	return f
}

func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func writePage(w http.ResponseWriter, bookings []*Booking, total int64, f ListFilter) {
	totalPages := (total + int64(f.Limit) - 1) / int64(f.Limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": bookings,
		"pagination": map[string]any{
			"current_page":  f.Page,
			"total_pages":   totalPages,
			"total":         total,
			"has_next_page": int64(f.Page) < totalPages,
			"has_prev_page": f.Page > 1,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the booking error taxonomy to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSlot), errors.Is(err, ErrPastDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrServiceInactive):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyFinal), errors.Is(err, ErrAlreadyReviewed):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
