package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/db"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/model"
)

// blockMargin widens each stored session so that the exclusion constraint
// rejects any two scheduled sessions closer than availability.Gap.
const blockMargin = availability.Gap / 2

// blockedRange is the span stored in blocked_from/blocked_until. Two sessions
// conflict under availability.Gap exactly when their blocked ranges overlap
// as half-open tstzranges.
func blockedRange(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-blockMargin), end.Add(blockMargin)
}

type SessionRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	CoachID         string
	IdempotencyKey  string
	SessionID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewSessionRepository(pool *db.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockCoach serializes writers for one coach until the transaction ends.
func (r *SessionRepository) LockCoach(ctx context.Context, tx pgx.Tx, coachID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, coachID); err != nil {
		return fmt.Errorf("lock coach %s: %w", coachID, err)
	}
	return nil
}

func (r *SessionRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, coachID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, coachID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (coach_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (coach_id, idempotency_key) DO NOTHING
	`, coachID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, coachID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *SessionRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, coachID, key, sessionID string, statusCode int, response []byte) error {
	var sid any
	if sessionID != "" {
		sid = sessionID
	}
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET session_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE coach_id = $1 AND idempotency_key = $2
	`, coachID, key, sid, statusCode, response)
	return err
}

func (r *SessionRepository) Create(ctx context.Context, tx pgx.Tx, s *model.Session) (string, error) {
	end := s.EndsAt()
	from, until := blockedRange(s.ScheduledAt, end)
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO coaching_sessions
			(coach_id, student_id, scheduled_at, duration_minutes, ends_at, blocked_from, blocked_until, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id::text
	`, s.CoachID, s.StudentID, s.ScheduledAt, s.DurationMinutes, end,
		from, until, s.Status, s.Notes).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetSessionForUpdate returns pgx.ErrNoRows for ids that are not UUIDs, since
// no row can carry one.
func (r *SessionRepository) GetSessionForUpdate(ctx context.Context, tx pgx.Tx, sessionID string) (model.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return model.Session{}, pgx.ErrNoRows
	}
	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM coaching_sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionID)
	return scanSession(row)
}

func (r *SessionRepository) Reschedule(ctx context.Context, tx pgx.Tx, sessionID string, start time.Time, durationMinutes int) error {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	from, until := blockedRange(start, end)
	tag, err := tx.Exec(ctx, `
		UPDATE coaching_sessions
		SET scheduled_at = $2,
			duration_minutes = $3,
			ends_at = $4,
			blocked_from = $5,
			blocked_until = $6,
			updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
	`, sessionID, start, durationMinutes, end, from, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *SessionRepository) Cancel(ctx context.Context, tx pgx.Tx, sessionID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE coaching_sessions
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING cancelled_at
	`, sessionID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ListScheduled returns the coach's scheduled sessions overlapping [from, to).
func (r *SessionRepository) ListScheduled(ctx context.Context, coachID string, from, to time.Time) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx, listScheduledQuery, coachID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListScheduledTx is ListScheduled inside the caller's transaction, after LockCoach.
func (r *SessionRepository) ListScheduledTx(ctx context.Context, tx pgx.Tx, coachID string, from, to time.Time) ([]model.Session, error) {
	rows, err := tx.Query(ctx, listScheduledQuery, coachID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepository) ListByCoach(ctx context.Context, coachID string, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM coaching_sessions
		WHERE coach_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, coachID, limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const sessionColumns = `id::text, coach_id, student_id, scheduled_at, duration_minutes, status, notes,
			cancelled_at, COALESCE(cancellation_reason, ''), created_at, updated_at`

const listScheduledQuery = `
		SELECT ` + sessionColumns + `
		FROM coaching_sessions
		WHERE coach_id = $1
			AND status = 'scheduled'
			AND scheduled_at < $3
			AND ends_at > $2
		ORDER BY scheduled_at ASC
	`

func scanSession(row pgx.Row) (model.Session, error) {
	var s model.Session
	var cancelledAt *time.Time
	if err := row.Scan(
		&s.ID,
		&s.CoachID,
		&s.StudentID,
		&s.ScheduledAt,
		&s.DurationMinutes,
		&s.Status,
		&s.Notes,
		&cancelledAt,
		&s.CancelReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return model.Session{}, err
	}
	s.CancelledAt = cancelledAt
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]model.Session, error) {
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sessions, nil
}

func (r *SessionRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, coachID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT coach_id,
			idempotency_key,
			COALESCE(session_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE coach_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, coachID, key).Scan(
		&rec.CoachID,
		&rec.IdempotencyKey,
		&rec.SessionID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
