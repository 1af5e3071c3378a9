package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avantifellows/curiosity-coach/internal/record"
)

// GetRecord retrieves a structured record by kind. Conversation memories are
// keyed by conversation ID, personas by user ID. A missing record returns
// (nil, nil): from the injector's point of view "never generated" and "not
// fetched" are the same non-fatal condition.
func (s *Store) GetRecord(ctx context.Context, kind record.Kind, id string) (*record.Record, error) {
	var query string
	switch kind {
	case record.ConversationMemory:
		query = `SELECT data FROM conversation_memories WHERE conversation_id = $1`
	case record.UserPersona:
		query = `SELECT data FROM user_personas WHERE user_id = $1`
	default:
		return nil, fmt.Errorf("get record: unknown kind %q", kind)
	}

	var data []byte
	if err := s.db.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s record for %s: %w", kind, id, err)
	}
	return record.Decode(kind, data)
}

// LatestMemory returns the most recently generated conversation memory for a
// user, or (nil, nil) when none has been generated yet. Onboarding prompts
// reference the previous conversation through this accessor.
func (s *Store) LatestMemory(ctx context.Context, userID string) (*record.Record, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `
		SELECT data FROM conversation_memories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, userID).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest memory for %s: %w", userID, err)
	}
	return record.Decode(record.ConversationMemory, data)
}

// SaveConversationMemory upserts the memory summary generated for a
// conversation by the external generation step.
func (s *Store) SaveConversationMemory(ctx context.Context, conversationID, userID string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversation_memories (conversation_id, user_id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE SET data = EXCLUDED.data`,
		conversationID, userID, data,
	)
	if err != nil {
		return fmt.Errorf("save conversation memory: %w", err)
	}
	return nil
}

// SaveUserPersona upserts a user's generated persona.
func (s *Store) SaveUserPersona(ctx context.Context, userID string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO user_personas (user_id, data)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data`,
		userID, data,
	)
	if err != nil {
		return fmt.Errorf("save user persona: %w", err)
	}
	return nil
}

// CountMemories returns how many of a user's conversations have a generated
// memory. The pipeline gates steady-state persona behavior on this count.
func (s *Store) CountMemories(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_memories WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return count, nil
}
