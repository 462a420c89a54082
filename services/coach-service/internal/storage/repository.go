package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Profile struct {
	CoachID     string
	DisplayName string
	Timezone    string
	UpdatedAt   time.Time
}

// Window is a stored availability window.
type Window struct {
	ID string
	availability.Window
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) GetProfile(ctx context.Context, coachID string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT coach_id, display_name, timezone, updated_at
		FROM coach_profiles
		WHERE coach_id = $1
	`, coachID).Scan(&p.CoachID, &p.DisplayName, &p.Timezone, &p.UpdatedAt)
	return p, err
}

// LockProfile loads the profile row FOR UPDATE so concurrent edits of one
// coach's schedule produce events in commit order.
func (r *Repository) LockProfile(ctx context.Context, tx pgx.Tx, coachID string) (Profile, error) {
	var p Profile
	err := tx.QueryRow(ctx, `
		SELECT coach_id, display_name, timezone, updated_at
		FROM coach_profiles
		WHERE coach_id = $1
		FOR UPDATE
	`, coachID).Scan(&p.CoachID, &p.DisplayName, &p.Timezone, &p.UpdatedAt)
	return p, err
}

func (r *Repository) UpsertProfile(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error) {
	out := p
	err := tx.QueryRow(ctx, `
		INSERT INTO coach_profiles (coach_id, display_name, timezone)
		VALUES ($1, $2, $3)
		ON CONFLICT (coach_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			timezone = EXCLUDED.timezone,
			updated_at = now()
		RETURNING updated_at
	`, p.CoachID, p.DisplayName, p.Timezone).Scan(&out.UpdatedAt)
	return out, err
}

func (r *Repository) ListWindows(ctx context.Context, coachID string) ([]Window, error) {
	return listWindows(ctx, r.pool, coachID)
}

func (r *Repository) ListWindowsTx(ctx context.Context, tx pgx.Tx, coachID string) ([]Window, error) {
	return listWindows(ctx, tx, coachID)
}

// ReplaceWindows swaps the coach's whole window set.
func (r *Repository) ReplaceWindows(ctx context.Context, tx pgx.Tx, coachID string, windows []availability.Window) ([]Window, error) {
	if _, err := tx.Exec(ctx, `DELETE FROM coach_availability_windows WHERE coach_id = $1`, coachID); err != nil {
		return nil, err
	}
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		id := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO coach_availability_windows (id, coach_id, weekday, start_time, end_time)
			VALUES ($1, $2, $3, $4, $5)
		`, id, coachID, string(w.Weekday), w.StartTime, w.EndTime); err != nil {
			return nil, err
		}
		out = append(out, Window{ID: id, Window: w})
	}
	return out, nil
}

// GetSchedule returns the coach's timezone and windows. found is false when
// the coach has no profile.
func (r *Repository) GetSchedule(ctx context.Context, coachID string) (availability.Schedule, bool, error) {
	p, err := r.GetProfile(ctx, coachID)
	if err != nil {
		if IsNotFound(err) {
			return availability.Schedule{}, false, nil
		}
		return availability.Schedule{}, false, err
	}
	windows, err := r.ListWindows(ctx, coachID)
	if err != nil {
		return availability.Schedule{}, false, err
	}
	return BuildSchedule(p, windows), true, nil
}

// BuildSchedule assembles the schedule shape booking-service consumes.
func BuildSchedule(p Profile, windows []Window) availability.Schedule {
	s := availability.Schedule{
		CoachID:  p.CoachID,
		Timezone: p.Timezone,
		Windows:  make([]availability.Window, 0, len(windows)),
	}
	for _, w := range windows {
		s.Windows = append(s.Windows, w.Window)
	}
	return s
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listWindows(ctx context.Context, q querier, coachID string) ([]Window, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, weekday, start_time, end_time
		FROM coach_availability_windows
		WHERE coach_id = $1
		ORDER BY array_position(ARRAY['mon','tue','wed','thu','fri','sat','sun'], weekday), start_time
	`, coachID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		var w Window
		var weekday string
		if err := rows.Scan(&w.ID, &weekday, &w.StartTime, &w.EndTime); err != nil {
			return nil, err
		}
		w.Weekday = availability.Weekday(weekday)
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
