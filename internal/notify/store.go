package notify

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// Store persists user notifications written by the worker.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes one notification for a user.
func (s *Store) Insert(ctx context.Context, userID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), userID, message)
	return err
}

// PurgeOlderThan deletes notifications created more than the retention
// period ago and reports how many were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, retentionDays float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE created_at < NOW() - ($1 * interval '1 day')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
