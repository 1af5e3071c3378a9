package store

import (
	"context"
	"fmt"

	"github.com/avantifellows/curiosity-coach/internal/visit"
)

// Prompt is a stored template variant. Templates may embed placeholder tokens
// resolved at send time; the text itself is immutable from this service's
// perspective (editing happens in an external admin surface).
type Prompt struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Purpose  visit.Purpose `json:"purpose"`
	Template string        `json:"template"`
}

// GetPromptByPurpose retrieves the active prompt for a purpose tag.
func (s *Store) GetPromptByPurpose(ctx context.Context, purpose visit.Purpose) (*Prompt, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, purpose, template
		FROM prompts WHERE purpose = $1 AND active
		ORDER BY name LIMIT 1`, string(purpose))
	return scanPrompt(row, string(purpose))
}

// GetPromptByName retrieves a prompt by its unique name. Pipeline stages
// (intent analysis, knowledge retrieval, enhancement) look their templates up
// this way.
func (s *Store) GetPromptByName(ctx context.Context, name string) (*Prompt, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, purpose, template
		FROM prompts WHERE name = $1 AND active`, name)
	return scanPrompt(row, name)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner, key string) (*Prompt, error) {
	var p Prompt
	var purpose string
	if err := row.Scan(&p.ID, &p.Name, &purpose, &p.Template); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt %s: %w", key, err)
	}
	parsed, err := visit.ParsePurpose(purpose)
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", key, err)
	}
	p.Purpose = parsed
	return &p, nil
}
