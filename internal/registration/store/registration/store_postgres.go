package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roster/internal/registration/models"
	"roster/pkg/domain"
	"roster/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

const selectColumns = `
	id, volunteer_id, event_id, shift_id, status, created_at, updated_at,
	confirmed_at, cancelled_at, cancelled_by, version
`

// PostgresStore persists registrations. Updates use the version column as an
// optimistic lock; the partial unique index enforces one active registration
// per volunteer and event.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Registration) error {
	if r.Version == 0 {
		r.Version = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registrations (id, volunteer_id, event_id, shift_id, status, created_at, updated_at,
			confirmed_at, cancelled_at, cancelled_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID.String(), r.VolunteerID.String(), r.EventID.String(), r.ShiftID.String(), string(r.Status),
		r.CreatedAt, r.UpdatedAt, r.ConfirmedAt, r.CancelledAt, r.CancelledBy, r.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create registration: %w", sentinel.ErrAlreadyExists)
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.RegistrationID) (*models.Registration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM registrations WHERE id = $1`, id.String())
	return scanOne(row)
}

func (s *PostgresStore) FindActive(ctx context.Context, volunteerID domain.VolunteerID, eventID domain.EventID) (*models.Registration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+selectColumns+` FROM registrations
		WHERE volunteer_id = $1 AND event_id = $2 AND status <> 'cancelled'
	`, volunteerID.String(), eventID.String())
	return scanOne(row)
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID domain.EventID) ([]*models.Registration, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM registrations WHERE event_id = $1 ORDER BY created_at, id`, eventID.String())
}

func (s *PostgresStore) ListByVolunteer(ctx context.Context, volunteerID domain.VolunteerID) ([]*models.Registration, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM registrations WHERE volunteer_id = $1 ORDER BY created_at, id`, volunteerID.String())
}

// Execute reads the registration, runs validate and mutate, and writes it back
// guarded by the version it read. A lost race reloads and retries.
func (s *PostgresStore) Execute(ctx context.Context, id domain.RegistrationID, validate func(*models.Registration) error, mutate func(*models.Registration)) (*models.Registration, error) {
	for range maxExecuteAttempts {
		current, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := validate(current); err != nil {
			return current, err
		}
		readVersion := current.Version
		mutate(current)
		current.Version = readVersion + 1

		tag, err := s.pool.Exec(ctx, `
			UPDATE registrations
			SET status = $3, updated_at = $4, confirmed_at = $5, cancelled_at = $6, cancelled_by = $7,
				shift_id = $8, version = $9
			WHERE id = $1 AND version = $2
		`, id.String(), readVersion, string(current.Status), current.UpdatedAt, current.ConfirmedAt,
			current.CancelledAt, current.CancelledBy, current.ShiftID.String(), current.Version)
		if err != nil {
			return nil, fmt.Errorf("update registration: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return current, nil
		}
	}
	return nil, fmt.Errorf("update registration %s: %w", id, sentinel.ErrStaleVersion)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*models.Registration, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()
	var out []*models.Registration
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return out, nil
}

func scanOne(row pgx.Row) (*models.Registration, error) {
	r, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("registration not found: %w", sentinel.ErrNotFound)
	}
	return r, err
}

func scan(row pgx.Row) (*models.Registration, error) {
	var (
		r                                 models.Registration
		id, volunteerID, eventID, shiftID string
		status                            string
	)
	err := row.Scan(&id, &volunteerID, &eventID, &shiftID, &status, &r.CreatedAt, &r.UpdatedAt,
		&r.ConfirmedAt, &r.CancelledAt, &r.CancelledBy, &r.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	if r.ID, err = domain.ParseRegistrationID(id); err != nil {
		return nil, err
	}
	if r.VolunteerID, err = domain.ParseVolunteerID(volunteerID); err != nil {
		return nil, err
	}
	if r.EventID, err = domain.ParseEventID(eventID); err != nil {
		return nil, err
	}
	if r.ShiftID, err = domain.ParseShiftID(shiftID); err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	return &r, nil
}
