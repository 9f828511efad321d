package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// liveStatusList is inlined into WHERE clauses guarding slot occupancy.
const liveStatusList = `('pending', 'confirmed', 'in-progress')`

const bookingColumns = `
	id, public_id, customer_id, service_id, provider_id,
	booking_date, start_time, end_time, duration_minutes,
	total_cents, currency, payment_method, payment_status, status,
	customer_details, service_location, special_requests, cancellation_reason,
	rating_score, rating_review, rating_at,
	metadata, created_at, updated_at`

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists bookings. The partial unique index over
// (service_id, booking_date, start_time) among live statuses is the
// final arbiter for double-booking; application pre-checks are an
// optimization on top of it.
type Repository struct {
	db dbConn
}

// NewRepository creates a repository backed by pgxpool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &Repository{db: pool}
}

// newRepositoryWithDB allows injecting a mock connection for tests.
func newRepositoryWithDB(db dbConn) *Repository {
	return &Repository{db: db}
}

// Create inserts a new booking. A conflicting live booking on the same
// service/date/start surfaces as ErrSlotConflict.
func (r *Repository) Create(ctx context.Context, b *Booking) error {
	details, err := json.Marshal(b.CustomerDetails)
	if err != nil {
		return fmt.Errorf("booking: marshal customer details: %w", err)
	}
	location, err := json.Marshal(b.ServiceLocation)
	if err != nil {
		return fmt.Errorf("booking: marshal service location: %w", err)
	}
	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("booking: marshal metadata: %w", err)
	}

	query := `
		INSERT INTO bookings (
			id, public_id, customer_id, service_id, provider_id,
			booking_date, start_time, end_time, duration_minutes,
			total_cents, currency, payment_method, payment_status, status,
			customer_details, service_location, special_requests, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		b.ID,
		b.PublicID,
		b.CustomerID,
		b.ServiceID,
		nullable(b.ProviderID),
		b.BookingDate,
		b.Slot.Start,
		b.Slot.End,
		b.DurationMinutes,
		b.TotalCents,
		b.Currency,
		string(b.PaymentMethod),
		string(b.PaymentStatus),
		string(b.Status),
		details,
		location,
		nullable(b.SpecialRequests),
		meta,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("booking: insert: %w", err)
	}
	return nil
}

// GetByID fetches a booking by its internal identifier.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByPublicID fetches a booking by its customer-facing reference.
func (r *Repository) GetByPublicID(ctx context.Context, publicID string) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE public_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, publicID))
}

// ListFilter narrows and pages booking queries.
type ListFilter struct {
	CustomerID string
	ProviderID string
	ServiceID  string
	Status     Status
	Date       *time.Time
	Page       int
	Limit      int
}

// List returns matching bookings plus the unpaged total.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Booking, int64, error) {
	where := []string{"1=1"}
	args := []any{}

	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.ProviderID != "" {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.ServiceID != "" {
		add("service_id = $%d", f.ServiceID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Date != nil {
		add("booking_date = $%d", *f.Date)
	}

	cond := strings.Join(where, " AND ")

	var total int64
	countQuery := `SELECT COUNT(*) FROM bookings WHERE ` + cond
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("booking: count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(
		`SELECT %s FROM bookings WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		bookingColumns, cond, len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("booking: list: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// StartTimesOn returns the start times of live bookings for a service
// on a calendar day, for slot-availability computation.
func (r *Repository) StartTimesOn(ctx context.Context, serviceID string, date time.Time) ([]string, error) {
	query := `
		SELECT start_time FROM bookings
		WHERE service_id = $1 AND booking_date = $2 AND status IN ` + liveStatusList
	rows, err := r.db.Query(ctx, query, serviceID, date)
	if err != nil {
		return nil, fmt.Errorf("booking: start times: %w", err)
	}
	defer rows.Close()

	var starts []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("booking: scan start time: %w", err)
		}
		starts = append(starts, s)
	}
	return starts, rows.Err()
}

// UpdateStatus applies a status transition conditionally on the
// expected current status, so concurrent transitions cannot lose
// updates. A zero-row update is re-read to distinguish not-found from
// a transition raced away.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next Status, reason string) (*Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3,
		    cancellation_reason = COALESCE($4, cancellation_reason),
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + bookingColumns
	b, err := r.scanOne(r.db.QueryRow(ctx, query, id, string(expected), string(next), nullable(reason)))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}

// MarkCancelled cancels a live booking, recording reason, actor,
// timestamp and refund classification in one conditional write.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID, reason, actorID string, class RefundClassification, at time.Time) (*Booking, error) {
	patch, err := json.Marshal(map[string]any{
		"cancelled_at":  at.UTC().Format(time.RFC3339),
		"cancelled_by":  actorID,
		"refund_status": string(class),
	})
	if err != nil {
		return nil, fmt.Errorf("booking: marshal cancel metadata: %w", err)
	}
	query := `
		UPDATE bookings
		SET status = 'cancelled',
		    cancellation_reason = $2,
		    metadata = metadata || $3::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status IN ` + liveStatusList + `
		RETURNING ` + bookingColumns
	b, err := r.scanOne(r.db.QueryRow(ctx, query, id, reason, patch))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadyFinal
}

// UpdateSchedule moves a live booking to a new date/slot, archiving the
// prior schedule into metadata and resetting status to pending for
// provider re-confirmation. The WHERE clause pins the schedule being
// replaced, so a concurrent reschedule loses cleanly; a unique-index
// violation on the new slot surfaces as ErrSlotConflict.
func (r *Repository) UpdateSchedule(ctx context.Context, b *Booking, newDate time.Time, newSlot TimeSlot, reason string, at time.Time) (*Booking, error) {
	duration, err := newSlot.DurationMinutes()
	if err != nil {
		return nil, err
	}
	patch, err := json.Marshal(map[string]any{
		"original_booking_date": b.BookingDate.UTC().Format(time.RFC3339),
		"original_time_slot":    b.Slot,
		"rescheduled_at":        at.UTC().Format(time.RFC3339),
		"reschedule_reason":     reason,
	})
	if err != nil {
		return nil, fmt.Errorf("booking: marshal reschedule metadata: %w", err)
	}
	query := `
		UPDATE bookings
		SET booking_date = $4,
		    start_time = $5,
		    end_time = $6,
		    duration_minutes = $7,
		    status = 'pending',
		    metadata = metadata || $8::jsonb,
		    updated_at = now()
		WHERE id = $1 AND booking_date = $2 AND start_time = $3
		  AND status IN ` + liveStatusList + `
		RETURNING ` + bookingColumns
	updated, err := r.scanOne(r.db.QueryRow(ctx, query,
		b.ID, b.BookingDate, b.Slot.Start,
		newDate, newSlot.Start, newSlot.End, duration, patch,
	))
	if err == nil {
		return updated, nil
	}
	if isUniqueViolation(err) {
		return nil, ErrSlotConflict
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, b.ID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadyFinal
}

// AppendReview attaches a once-only rating to a completed booking.
func (r *Repository) AppendReview(ctx context.Context, id uuid.UUID, score int, review string, at time.Time) (*Booking, error) {
	query := `
		UPDATE bookings
		SET rating_score = $2,
		    rating_review = $3,
		    rating_at = $4,
		    updated_at = now()
		WHERE id = $1 AND status = 'completed' AND rating_score IS NULL
		RETURNING ` + bookingColumns
	b, err := r.scanOne(r.db.QueryRow(ctx, query, id, score, nullable(review), at))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadyReviewed
}

// SetPaymentIntent records payment-provider correlation ids after
// intent creation.
func (r *Repository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID, customerID string) error {
	patch, err := json.Marshal(map[string]string{
		"payment_intent_id":    intentID,
		"provider_customer_id": customerID,
	})
	if err != nil {
		return fmt.Errorf("booking: marshal intent metadata: %w", err)
	}
	query := `
		UPDATE bookings
		SET metadata = metadata || $2::jsonb, payment_method = 'card', updated_at = now()
		WHERE id = $1
	`
	ct, err := r.db.Exec(ctx, query, id, patch)
	if err != nil {
		return fmt.Errorf("booking: set payment intent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid settles a booking after a successful payment. The write is
// conditional on payment_status so replayed webhook deliveries and the
// synchronous confirmation path converge without double-applying:
// changed=false with a nil error means the booking was already paid.
// The status promotion only applies to live bookings: a capture landing
// after cancellation records the payment (so it can be refunded) but
// never resurrects the booking, which would also collide with the live
// slot index if the slot was rebooked.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID, providerPaymentID string, at time.Time) (bool, *Booking, error) {
	patch, err := json.Marshal(map[string]string{
		"provider_payment_id":  providerPaymentID,
		"payment_completed_at": at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, nil, fmt.Errorf("booking: marshal paid metadata: %w", err)
	}
	query := `
		UPDATE bookings
		SET payment_status = 'paid',
		    status = CASE WHEN status IN ('pending', 'confirmed', 'in-progress') THEN 'confirmed' ELSE status END,
		    metadata = metadata || $2::jsonb,
		    updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'
		RETURNING ` + bookingColumns
	b, err := r.scanOne(r.db.QueryRow(ctx, query, id, patch))
	if err == nil {
		return true, b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, nil, err
	}
	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return false, nil, getErr
	}
	return false, existing, nil
}

// MarkPaymentFailed records a failed payment and cancels the booking.
// Payment status is monotonic: a failure event never regresses a paid
// or refunded booking; changed=false signals the anomaly to the caller.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, *Booking, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'failed',
		    status = 'cancelled',
		    updated_at = now()
		WHERE id = $1 AND payment_status NOT IN ('paid', 'refunded')
		RETURNING ` + bookingColumns
	b, err := r.scanOne(r.db.QueryRow(ctx, query, id))
	if err == nil {
		return true, b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, nil, err
	}
	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return false, nil, getErr
	}
	return false, existing, nil
}

// MarkRefunded records a completed refund.
func (r *Repository) MarkRefunded(ctx context.Context, id uuid.UUID, refundID string, at time.Time, class RefundClassification) (*Booking, error) {
	patch, err := json.Marshal(map[string]string{
		"refund_id":     refundID,
		"refunded_at":   at.UTC().Format(time.RFC3339),
		"refund_status": string(class),
	})
	if err != nil {
		return nil, fmt.Errorf("booking: marshal refund metadata: %w", err)
	}
	query := `
		UPDATE bookings
		SET payment_status = 'refunded',
		    status = 'cancelled',
		    metadata = metadata || $2::jsonb,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	return r.scanOne(r.db.QueryRow(ctx, query, id, patch))
}

// Stats aggregates bookings by status since a cutoff.
type Stats struct {
	TotalBookings int64            `json:"total_bookings"`
	ByStatus      map[string]int64 `json:"by_status"`
	RevenueCents  int64            `json:"revenue_cents"`
}

// StatsSince returns booking counts and realized revenue (confirmed or
// completed) created at or after the cutoff.
func (r *Repository) StatsSince(ctx context.Context, cutoff time.Time) (*Stats, error) {
	query := `
		SELECT status, COUNT(*),
		       COALESCE(SUM(total_cents) FILTER (WHERE status IN ('confirmed', 'completed')), 0)
		FROM bookings
		WHERE created_at >= $1
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("booking: stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: map[string]int64{}}
	for rows.Next() {
		var status string
		var count, revenue int64
		if err := rows.Scan(&status, &count, &revenue); err != nil {
			return nil, fmt.Errorf("booking: scan stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.TotalBookings += count
		stats.RevenueCents += revenue
	}
	return stats, rows.Err()
}

func (r *Repository) scanOne(row pgx.Row) (*Booking, error) {
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b           Booking
		providerID  *string
		special     *string
		cancelWhy   *string
		details     []byte
		location    []byte
		meta        []byte
		ratingScore *int
		ratingText  *string
		ratingAt    *time.Time
	)
	err := row.Scan(
		&b.ID, &b.PublicID, &b.CustomerID, &b.ServiceID, &providerID,
		&b.BookingDate, &b.Slot.Start, &b.Slot.End, &b.DurationMinutes,
		&b.TotalCents, &b.Currency, &b.PaymentMethod, &b.PaymentStatus, &b.Status,
		&details, &location, &special, &cancelWhy,
		&ratingScore, &ratingText, &ratingAt,
		&meta, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("booking: scan: %w", err)
	}
	if providerID != nil {
		b.ProviderID = *providerID
	}
	if special != nil {
		b.SpecialRequests = *special
	}
	if cancelWhy != nil {
		b.CancellationReason = *cancelWhy
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &b.CustomerDetails); err != nil {
			return nil, fmt.Errorf("booking: decode customer details: %w", err)
		}
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &b.ServiceLocation); err != nil {
			return nil, fmt.Errorf("booking: decode service location: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &b.Metadata); err != nil {
			return nil, fmt.Errorf("booking: decode metadata: %w", err)
		}
	}
	if ratingScore != nil {
		b.Rating = &Rating{Score: *ratingScore}
		if ratingText != nil {
			b.Rating.Review = *ratingText
		}
		if ratingAt != nil {
			b.Rating.RatedAt = *ratingAt
		}
	}
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
