package store

import (
	"context"
	"fmt"

	"github.com/avantifellows/curiosity-coach/internal/visit"
)

// InsertVisit appends a visit row. The visits table carries a unique
// constraint on (user_id, visit_number); a conflict means a concurrent
// conversation creation claimed the number first, reported as
// visit.ErrDuplicateNumber so the selector can recompute and retry.
func (s *Store) InsertVisit(ctx context.Context, userID, conversationID string, number int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO visits (user_id, conversation_id, visit_number)
		VALUES ($1, $2, $3)`,
		userID, conversationID, number,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("visit %d for user %s: %w", number, userID, visit.ErrDuplicateNumber)
		}
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// GetVisit retrieves the visit recorded for a conversation.
func (s *Store) GetVisit(ctx context.Context, conversationID string) (visit.Visit, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, conversation_id, visit_number
		FROM visits WHERE conversation_id = $1`, conversationID)

	var v visit.Visit
	if err := row.Scan(&v.UserID, &v.ConversationID, &v.Number); err != nil {
		if isNoRows(err) {
			return visit.Visit{}, ErrNotFound
		}
		return visit.Visit{}, fmt.Errorf("get visit for %s: %w", conversationID, err)
	}
	v.Purpose = visit.PurposeFor(v.Number)
	return v, nil
}
