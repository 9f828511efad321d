package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no service matches the given id.
var ErrNotFound = errors.New("catalog: service not found")

// Service is the subset of the catalog the booking core depends on.
type Service struct {
	ID              string
	Name            string
	ProviderID      string
	HourlyRateCents int64
	Currency        string
	Active          bool
}

// Lookup resolves services for the booking core. The full catalog CRUD
// surface lives elsewhere; bookings only ever read.
type Lookup interface {
	GetService(ctx context.Context, id string) (*Service, error)
}

// Store reads services from the relational database.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore initializes a catalog store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &Store{pool: pool}
}

// GetService fetches a single service by id.
func (s *Store) GetService(ctx context.Context, id string) (*Service, error) {
	query := `
		SELECT id, name, provider_id, hourly_rate_cents, currency, active
		FROM services
		WHERE id = $1
	`
	var svc Service
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&svc.ID,
		&svc.Name,
		&svc.ProviderID,
		&svc.HourlyRateCents,
		&svc.Currency,
		&svc.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: load service: %w", err)
	}
	return &svc, nil
}
