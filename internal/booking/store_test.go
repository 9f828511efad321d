package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newRepositoryWithDB(mock), mock
}

// anyArgs builds a matcher list for expectations that do not care about
// argument values; pgxmock only matches when the arg counts agree.
func anyArgs(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func sampleBooking() *Booking {
	return &Booking{
		ID:              uuid.New(),
		PublicID:        NewPublicID(),
		CustomerID:      "cust-1",
		ServiceID:       "svc-1",
		ProviderID:      "prov-1",
		BookingDate:     time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC),
		Slot:            TimeSlot{Start: "10:00", End: "11:00"},
		DurationMinutes: 60,
		TotalCents:      6000,
		Currency:        "usd",
		PaymentMethod:   MethodCard,
		PaymentStatus:   PaymentPending,
		Status:          StatusPending,
		CustomerDetails: CustomerDetails{Name: "Dana West", Email: "dana@example.com", Phone: "+15550001111"},
	}
}

func bookingRow(b *Booking) *pgxmock.Rows {
	providerID := b.ProviderID
	return pgxmock.NewRows([]string{
		"id", "public_id", "customer_id", "service_id", "provider_id",
		"booking_date", "start_time", "end_time", "duration_minutes",
		"total_cents", "currency", "payment_method", "payment_status", "status",
		"customer_details", "service_location", "special_requests", "cancellation_reason",
		"rating_score", "rating_review", "rating_at",
		"metadata", "created_at", "updated_at",
	}).AddRow(
		b.ID, b.PublicID, b.CustomerID, b.ServiceID, &providerID,
		b.BookingDate, b.Slot.Start, b.Slot.End, b.DurationMinutes,
		b.TotalCents, b.Currency, string(b.PaymentMethod), string(b.PaymentStatus), string(b.Status),
		[]byte(`{"name":"Dana West","email":"dana@example.com","phone":"+15550001111"}`),
		[]byte(`{}`), (*string)(nil), (*string)(nil),
		(*int)(nil), (*string)(nil), (*time.Time)(nil),
		[]byte(`{}`), time.Now(), time.Now(),
	)
}

func TestCreateSlotConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO bookings`).
		WithArgs(anyArgs(18)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_live_slot_idx"})

	err := repo.Create(context.Background(), sampleBooking())
	require.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReturnsTimestamps(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	created := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO bookings`).
		WithArgs(anyArgs(18)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))

	require.NoError(t, repo.Create(context.Background(), b))
	require.Equal(t, created, b.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidChangesOnce(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.PaymentStatus = PaymentPaid
	b.Status = StatusConfirmed

	mock.ExpectQuery(`UPDATE bookings`).
		WithArgs(anyArgs(2)...).
		WillReturnRows(bookingRow(b))

	changed, got, err := repo.MarkPaid(context.Background(), b.ID, "pi_123", time.Now())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidReplayIsNoOp(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.PaymentStatus = PaymentPaid
	b.Status = StatusConfirmed

	// Conditional UPDATE matches nothing; the refetch shows the booking
	// already settled.
	mock.ExpectQuery(`UPDATE bookings`).WithArgs(anyArgs(2)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT(.|\s)+FROM bookings`).WithArgs(pgxmock.AnyArg()).WillReturnRows(bookingRow(b))

	changed, got, err := repo.MarkPaid(context.Background(), b.ID, "pi_123", time.Now())
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidAfterCancelKeepsCancelled(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.PaymentStatus = PaymentPaid
	b.Status = StatusCancelled

	// The status promotion is gated on a live prior status, so a capture
	// landing after cancellation records the payment without putting the
	// booking back into the live slot index.
	mock.ExpectQuery(`UPDATE bookings(.|\s)+CASE WHEN status IN \('pending', 'confirmed', 'in-progress'\)`).
		WithArgs(anyArgs(2)...).
		WillReturnRows(bookingRow(b))

	changed, got, err := repo.MarkPaid(context.Background(), b.ID, "pi_123", time.Now())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.Equal(t, StatusCancelled, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaymentFailedNeverRegressesPaid(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.PaymentStatus = PaymentPaid
	b.Status = StatusConfirmed

	mock.ExpectQuery(`UPDATE bookings`).WithArgs(pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT(.|\s)+FROM bookings`).WithArgs(pgxmock.AnyArg()).WillReturnRows(bookingRow(b))

	changed, got, err := repo.MarkPaymentFailed(context.Background(), b.ID)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, PaymentPaid, got.PaymentStatus, "paid state must survive late failure events")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCancelledAlreadyFinal(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.Status = StatusCompleted

	mock.ExpectQuery(`UPDATE bookings`).WithArgs(anyArgs(3)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT(.|\s)+FROM bookings`).WithArgs(pgxmock.AnyArg()).WillReturnRows(bookingRow(b))

	_, err := repo.MarkCancelled(context.Background(), b.ID, "too late", "cust-1", RefundNone, time.Now())
	require.ErrorIs(t, err, ErrAlreadyFinal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusStaleExpectation(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.Status = StatusConfirmed

	// Conditional UPDATE misses because another writer got there first;
	// the refetch explains which state won.
	mock.ExpectQuery(`UPDATE bookings`).WithArgs(anyArgs(4)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT(.|\s)+FROM bookings`).WithArgs(pgxmock.AnyArg()).WillReturnRows(bookingRow(b))

	_, err := repo.UpdateStatus(context.Background(), b.ID, StatusPending, StatusConfirmed, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendReviewOnceOnly(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.Status = StatusCompleted

	mock.ExpectQuery(`UPDATE bookings`).WithArgs(anyArgs(4)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT(.|\s)+FROM bookings`).WithArgs(pgxmock.AnyArg()).WillReturnRows(bookingRow(b))

	_, err := repo.AppendReview(context.Background(), b.ID, 5, "great", time.Now())
	require.ErrorIs(t, err, ErrAlreadyReviewed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT(.|\s)+FROM bookings`).WithArgs(pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScheduleSlotConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()

	mock.ExpectQuery(`UPDATE bookings`).
		WithArgs(anyArgs(8)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_live_slot_idx"})

	_, err := repo.UpdateSchedule(context.Background(), b,
		b.BookingDate.AddDate(0, 0, 1), TimeSlot{Start: "11:00", End: "12:00"}, "move", time.Now())
	require.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "40001"}))
	require.False(t, isUniqueViolation(errors.New("plain error")))
}
