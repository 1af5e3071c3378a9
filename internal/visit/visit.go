// Package visit assigns per-user visit numbers to new conversations and maps
// them to prompt purposes. Visit numbers for a user are strictly increasing and
// never reused: assignment inserts under a (user_id, visit_number) uniqueness
// constraint and retries with a recomputed count when a concurrent creation
// wins the slot. No locks are taken; the constraint closes the race window.
package visit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Purpose tags which stored prompt variant applies to a conversation.
type Purpose string

const (
	PurposeVisit1      Purpose = "visit_1"
	PurposeVisit2      Purpose = "visit_2"
	PurposeVisit3      Purpose = "visit_3"
	PurposeSteadyState Purpose = "steady_state"
	PurposeGeneral     Purpose = "general"
)

// MemoryFloor is the minimum number of prior conversations with a generated
// memory required before steady-state persona behavior may be used. The
// selector only reports the visit number; callers enforce this gate before
// acting on PurposeSteadyState.
const MemoryFloor = 3

// ParsePurpose validates a stored purpose tag.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case PurposeVisit1, PurposeVisit2, PurposeVisit3, PurposeSteadyState, PurposeGeneral:
		return p, nil
	}
	return "", fmt.Errorf("unknown prompt purpose %q", s)
}

// PurposeFor maps a visit number to its prompt purpose. Visits past the
// onboarding window all use the steady-state prompt.
func PurposeFor(number int) Purpose {
	switch number {
	case 1:
		return PurposeVisit1
	case 2:
		return PurposeVisit2
	case 3:
		return PurposeVisit3
	default:
		return PurposeSteadyState
	}
}

// Visit is the immutable association between a conversation and its per-user
// sequence position. Once recorded it is never renumbered, even if the
// conversation is later deleted; gaps in the sequence are expected.
type Visit struct {
	UserID         string  `json:"user_id"`
	ConversationID string  `json:"conversation_id"`
	Number         int     `json:"visit_number"`
	Purpose        Purpose `json:"prompt_purpose"`
}

// ErrDuplicateNumber is returned by stores when an insert loses the
// (user_id, visit_number) uniqueness race.
var ErrDuplicateNumber = errors.New("visit number already assigned")

// ErrConcurrencyExhausted is returned when assignment keeps losing the
// uniqueness race past the retry ceiling. Callers should treat it as
// transient and let the end user retry.
var ErrConcurrencyExhausted = errors.New("visit assignment retries exhausted")

// Store is the persistence surface the selector needs. Implementations count
// a user's existing conversations and append visit rows under the uniqueness
// constraint, reporting ErrDuplicateNumber on conflict.
type Store interface {
	CountConversations(ctx context.Context, userID string) (int, error)
	InsertVisit(ctx context.Context, userID, conversationID string, number int) error
}

// Selector computes and records visit numbers.
type Selector struct {
	store       Store
	logger      *zap.Logger
	maxAttempts int
}

// NewSelector creates a Selector with the default retry ceiling.
func NewSelector(store Store, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{store: store, logger: logger, maxAttempts: 3}
}

// SetMaxAttempts overrides the retry ceiling. Values below 1 are ignored.
func (s *Selector) SetMaxAttempts(n int) {
	if n >= 1 {
		s.maxAttempts = n
	}
}

// Select assigns the next visit number for userID to conversationID and
// returns the recorded visit with its prompt purpose. The number is the count
// of the user's prior conversations plus one; on a uniqueness conflict the
// count is recomputed and the insert retried with a number strictly past the
// one that lost, since the winner's conversation row may not be visible yet.
// Past the ceiling Select returns ErrConcurrencyExhausted.
//
// Call Select before persisting the conversation row itself, so the count of
// existing conversations is exactly the count of prior ones.
func (s *Selector) Select(ctx context.Context, userID, conversationID string) (Visit, error) {
	lost := 0
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		count, err := s.store.CountConversations(ctx, userID)
		if err != nil {
			return Visit{}, fmt.Errorf("count conversations: %w", err)
		}
		number := count + 1
		if number <= lost {
			number = lost + 1
		}

		err = s.store.InsertVisit(ctx, userID, conversationID, number)
		if errors.Is(err, ErrDuplicateNumber) {
			lost = number
			s.logger.Warn("visit number taken by concurrent creation, retrying",
				zap.String("user_id", userID),
				zap.Int("visit_number", number),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Visit{}, fmt.Errorf("insert visit: %w", err)
		}

		return Visit{
			UserID:         userID,
			ConversationID: conversationID,
			Number:         number,
			Purpose:        PurposeFor(number),
		}, nil
	}
	return Visit{}, ErrConcurrencyExhausted
}
