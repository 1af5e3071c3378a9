package visit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeStore enforces the (user_id, visit_number) uniqueness constraint in
// memory, mirroring the database behavior the selector relies on.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]int
	assigned      map[string]map[int]string // userID -> number -> conversationID
	countErr      error
	alwaysClash   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]int),
		assigned:      make(map[string]map[int]string),
	}
}

func (f *fakeStore) CountConversations(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.conversations[userID], nil
}

func (f *fakeStore) InsertVisit(_ context.Context, userID, conversationID string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysClash {
		return ErrDuplicateNumber
	}
	byNum := f.assigned[userID]
	if byNum == nil {
		byNum = make(map[int]string)
		f.assigned[userID] = byNum
	}
	if _, taken := byNum[number]; taken {
		return ErrDuplicateNumber
	}
	byNum[number] = conversationID
	f.conversations[userID]++ // the caller persists the conversation next
	return nil
}

func TestPurposeFor(t *testing.T) {
	tests := []struct {
		number int
		want   Purpose
	}{
		{1, PurposeVisit1},
		{2, PurposeVisit2},
		{3, PurposeVisit3},
		{4, PurposeSteadyState},
		{100, PurposeSteadyState},
	}
	for _, tt := range tests {
		if got := PurposeFor(tt.number); got != tt.want {
			t.Errorf("PurposeFor(%d) = %q, want %q", tt.number, got, tt.want)
		}
	}
}

func TestParsePurpose(t *testing.T) {
	for _, s := range []string{"visit_1", "visit_2", "visit_3", "steady_state", "general"} {
		if _, err := ParsePurpose(s); err != nil {
			t.Errorf("ParsePurpose(%q): %v", s, err)
		}
	}
	if _, err := ParsePurpose("visit_4"); err == nil {
		t.Error("ParsePurpose(visit_4) should fail")
	}
}

func TestSelectSequentialNumbering(t *testing.T) {
	store := newFakeStore()
	sel := NewSelector(store, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		v, err := sel.Select(ctx, "user-1", fmt.Sprintf("conv-%d", i))
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		if v.Number != i {
			t.Errorf("visit %d assigned number %d", i, v.Number)
		}
	}

	// A different user starts from 1 again.
	v, err := sel.Select(ctx, "user-2", "conv-a")
	if err != nil {
		t.Fatalf("select for user-2: %v", err)
	}
	if v.Number != 1 {
		t.Errorf("user-2 first visit = %d, want 1", v.Number)
	}
}

func TestSelectPurposeProgression(t *testing.T) {
	store := newFakeStore()
	sel := NewSelector(store, nil)
	ctx := context.Background()

	want := []Purpose{PurposeVisit1, PurposeVisit2, PurposeVisit3, PurposeSteadyState, PurposeSteadyState}
	for i, wantPurpose := range want {
		v, err := sel.Select(ctx, "user-1", fmt.Sprintf("conv-%d", i))
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		if v.Purpose != wantPurpose {
			t.Errorf("visit %d purpose = %q, want %q", v.Number, v.Purpose, wantPurpose)
		}
	}
}

func TestSelectConcurrentCreations(t *testing.T) {
	store := newFakeStore()
	store.conversations["user-1"] = 2 // prior count k=2
	store.assigned["user-1"] = map[int]string{1: "old-1", 2: "old-2"}
	sel := NewSelector(store, nil)

	const writers = 2
	results := make(chan Visit, writers)
	errs := make(chan error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := sel.Select(context.Background(), "user-1", fmt.Sprintf("conv-%d", i))
			if err != nil {
				errs <- err
				return
			}
			results <- v
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent select failed: %v", err)
	}

	numbers := make(map[int]bool)
	for v := range results {
		if numbers[v.Number] {
			t.Fatalf("visit number %d assigned twice", v.Number)
		}
		numbers[v.Number] = true
	}
	if !numbers[3] || !numbers[4] {
		t.Errorf("got numbers %v, want {3, 4}", numbers)
	}
}

func TestSelectAdvancesPastStaleCount(t *testing.T) {
	// Number 3 is claimed but the winner's conversation row is not yet
	// visible, so the recomputed count would produce 3 again.
	store := newFakeStore()
	store.conversations["user-1"] = 2
	store.assigned["user-1"] = map[int]string{1: "old-1", 2: "old-2", 3: "winner"}
	sel := NewSelector(store, nil)

	v, err := sel.Select(context.Background(), "user-1", "conv-late")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if v.Number != 4 {
		t.Errorf("got number %d, want 4", v.Number)
	}
}

func TestSelectExhaustsRetries(t *testing.T) {
	store := newFakeStore()
	store.alwaysClash = true
	sel := NewSelector(store, nil)

	_, err := sel.Select(context.Background(), "user-1", "conv-1")
	if !errors.Is(err, ErrConcurrencyExhausted) {
		t.Fatalf("got %v, want ErrConcurrencyExhausted", err)
	}
}

func TestSelectPropagatesCountError(t *testing.T) {
	store := newFakeStore()
	store.countErr = errors.New("connection reset")
	sel := NewSelector(store, nil)

	_, err := sel.Select(context.Background(), "user-1", "conv-1")
	if err == nil || errors.Is(err, ErrConcurrencyExhausted) {
		t.Fatalf("got %v, want wrapped count error", err)
	}
}
