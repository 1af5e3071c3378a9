package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/avantifellows/curiosity-coach/internal/pipeline"
	"github.com/avantifellows/curiosity-coach/internal/provider"
	"github.com/avantifellows/curiosity-coach/internal/record"
	"github.com/avantifellows/curiosity-coach/internal/store"
	"github.com/avantifellows/curiosity-coach/internal/visit"
)

// memStorage is a minimal in-memory pipeline.Storage + visit.Store for
// handler tests.
type memStorage struct {
	mu            sync.Mutex
	conversations map[string]*store.Conversation
	messages      []store.Message
	visits        map[string]visit.Visit
	taken         map[string]map[int]bool
	clashAlways   bool
}

func newMemStorage() *memStorage {
	return &memStorage{
		conversations: make(map[string]*store.Conversation),
		visits:        make(map[string]visit.Visit),
		taken:         make(map[string]map[int]bool),
	}
}

func (m *memStorage) CountConversations(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.conversations {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStorage) InsertVisit(_ context.Context, userID, conversationID string, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clashAlways {
		return visit.ErrDuplicateNumber
	}
	byNum := m.taken[userID]
	if byNum == nil {
		byNum = make(map[int]bool)
		m.taken[userID] = byNum
	}
	if byNum[number] {
		return visit.ErrDuplicateNumber
	}
	byNum[number] = true
	m.visits[conversationID] = visit.Visit{
		UserID: userID, ConversationID: conversationID,
		Number: number, Purpose: visit.PurposeFor(number),
	}
	return nil
}

func (m *memStorage) CreateConversation(_ context.Context, c *store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

func (m *memStorage) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *memStorage) AppendMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStorage) GetMessages(_ context.Context, conversationID string, _ int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStorage) GetVisit(_ context.Context, conversationID string) (visit.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[conversationID]
	if !ok {
		return visit.Visit{}, store.ErrNotFound
	}
	return v, nil
}

func (m *memStorage) GetPromptByPurpose(_ context.Context, purpose visit.Purpose) (*store.Prompt, error) {
	return &store.Prompt{Name: string(purpose), Purpose: purpose, Template: "You are a tutor."}, nil
}

func (m *memStorage) GetPromptByName(_ context.Context, name string) (*store.Prompt, error) {
	return nil, store.ErrNotFound
}

func (m *memStorage) GetRecord(_ context.Context, _ record.Kind, _ string) (*record.Record, error) {
	return nil, nil
}

func (m *memStorage) LatestMemory(_ context.Context, _ string) (*record.Record, error) {
	return nil, nil
}

func (m *memStorage) CountMemories(_ context.Context, _ string) (int, error) {
	return 0, nil
}

type echoLLM struct{}

func (echoLLM) Complete(_ context.Context, req *provider.Request) (*provider.Response, error) {
	return &provider.Response{Content: "answer"}, nil
}

func newTestHandler(t *testing.T) (*memStorage, http.Handler) {
	t.Helper()
	logger := zap.NewNop()
	storage := newMemStorage()
	selector := visit.NewSelector(storage, logger)
	engine := pipeline.NewEngine(storage, nil, selector, echoLLM{}, logger)
	h := NewHandler(engine, storage, logger)
	return storage, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestCreateConversation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/conversations", map[string]string{
		"user_id": "student-1",
		"title":   "volcanoes",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var res pipeline.StartResult
	decodeJSON(t, resp, &res)
	if res.Visit.Number != 1 {
		t.Errorf("visit number = %d, want 1", res.Visit.Number)
	}
	if res.Visit.Purpose != visit.PurposeVisit1 {
		t.Errorf("purpose = %q, want visit_1", res.Visit.Purpose)
	}
	if res.Conversation.ID == "" {
		t.Error("missing conversation id")
	}

	// Second creation for the same user advances the visit number.
	resp = postJSON(t, ts, "/api/conversations", map[string]string{"user_id": "student-1"})
	decodeJSON(t, resp, &res)
	if res.Visit.Number != 2 || res.Visit.Purpose != visit.PurposeVisit2 {
		t.Errorf("second visit = %d/%q", res.Visit.Number, res.Visit.Purpose)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/conversations", map[string]string{"title": "no user"})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateConversationRetryableConflict(t *testing.T) {
	storage, router := newTestHandler(t)
	storage.clashAlways = true
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/conversations", map[string]string{"user_id": "student-1"})
	if resp.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["retryable"] != true {
		t.Errorf("conflict response should be marked retryable: %v", body)
	}
}

func TestPostMessage(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/conversations", map[string]string{"user_id": "student-1"})
	var res pipeline.StartResult
	decodeJSON(t, resp, &res)

	resp = postJSON(t, ts, "/api/conversations/"+res.Conversation.ID+"/messages",
		map[string]string{"content": "why is lava hot?"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var turn pipeline.Turn
	decodeJSON(t, resp, &turn)
	if turn.Content != "answer" {
		t.Errorf("content = %q", turn.Content)
	}

	// History now holds the exchange.
	resp = getJSON(t, ts, "/api/conversations/"+res.Conversation.ID+"/messages")
	var msgs []store.Message
	decodeJSON(t, resp, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
}

func TestPostMessageUnknownConversation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/conversations/nope/messages",
		map[string]string{"content": "hi"})
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetConversation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/conversations", map[string]string{"user_id": "student-1"})
	var res pipeline.StartResult
	decodeJSON(t, resp, &res)

	resp = getJSON(t, ts, "/api/conversations/"+res.Conversation.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/conversations/missing")
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for missing conversation, got %d", resp.StatusCode)
	}
}
