package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/db"
)

// Repository remembers consumed event ids in inbox_events.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Seen reports whether eventID was already recorded.
func (r *Repository) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inbox_events WHERE event_id = $1)`, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("lookup inbox event %s: %w", eventID, err)
	}
	return seen, nil
}

// Record stores eventID and reports whether it was new.
func (r *Repository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("record inbox event %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteBefore forgets ids received before cutoff. Redeliveries older than
// that are no longer recognized as duplicates.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
