package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roster/internal/attendance/models"
	"roster/pkg/domain"
	"roster/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore keeps one row per revision. The record itself is stored as
// JSONB; identifying columns are duplicated for indexing.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Record) error {
	if r.Revision == 0 {
		r.Revision = 1
	}
	// a registration only ever gets one first revision
	err := insert(ctx, s.pool, r)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("attendance record: %w", sentinel.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, id domain.RegistrationID) (*models.Record, error) {
	return latest(ctx, s.pool, id, "")
}

func (s *PostgresStore) History(ctx context.Context, id domain.RegistrationID) ([]*models.Record, error) {
	out, err := s.list(ctx, `
		SELECT body FROM attendance_records WHERE registration_id = $1 ORDER BY revision
	`, id.String())
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("attendance record not found: %w", sentinel.ErrNotFound)
	}
	return out, nil
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID domain.EventID) ([]*models.Record, error) {
	return s.list(ctx, `
		SELECT DISTINCT ON (registration_id) body
		FROM attendance_records
		WHERE event_id = $1
		ORDER BY registration_id, revision DESC
	`, eventID.String())
}

// Execute locks the latest revision for the duration of the change so
// concurrent corrections serialize.
func (s *PostgresStore) Execute(ctx context.Context, id domain.RegistrationID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin attendance update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := latest(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return working, err
	}
	mutate(working)

	switch working.Revision {
	case current.Revision:
		if current.Finalized {
			return nil, ErrFinalized
		}
		body, err := json.Marshal(working)
		if err != nil {
			return nil, fmt.Errorf("encode attendance record: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE attendance_records SET body = $3, finalized = $4, updated_at = $5
			WHERE registration_id = $1 AND revision = $2
		`, id.String(), working.Revision, body, working.Finalized, working.UpdatedAt); err != nil {
			return nil, fmt.Errorf("update attendance record: %w", err)
		}
	case current.Revision + 1:
		if err := insert(ctx, tx, working); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("revision %d after %d: %w", working.Revision, current.Revision, sentinel.ErrStaleVersion)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit attendance update: %w", err)
	}
	return working, nil
}

func insert(ctx context.Context, q querier, r *models.Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode attendance record: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO attendance_records (registration_id, revision, event_id, shift_id, volunteer_id,
			body, finalized, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.RegistrationID.String(), r.Revision, r.EventID.String(), r.ShiftID.String(), r.VolunteerID.String(),
		body, r.Finalized, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

func latest(ctx context.Context, q querier, id domain.RegistrationID, lock string) (*models.Record, error) {
	var body []byte
	err := q.QueryRow(ctx, `
		SELECT body FROM attendance_records
		WHERE registration_id = $1
		ORDER BY revision DESC
		LIMIT 1 `+lock, id.String()).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attendance record not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load attendance record: %w", err)
	}
	return decode(body)
}

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]*models.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		r, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return out, nil
}

func decode(body []byte) (*models.Record, error) {
	var r models.Record
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode attendance record: %w", err)
	}
	return &r, nil
}
