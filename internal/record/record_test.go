package record

import "testing"

func TestSchemaFor(t *testing.T) {
	s := SchemaFor(ConversationMemory)
	if s == nil {
		t.Fatal("no schema for CONVERSATION_MEMORY")
	}
	want := []string{"main_topics", "action", "typical_observation"}
	got := s.Keys()
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if SchemaFor(Kind("WEATHER")) != nil {
		t.Error("unknown kind should have no schema")
	}
}

func TestPermits(t *testing.T) {
	s := SchemaFor(UserPersona)
	if !s.Permits("persona") {
		t.Error("persona should be permitted")
	}
	if s.Permits("main_topics") {
		t.Error("keys are qualified per kind, main_topics is not a persona key")
	}
}

func TestDecode(t *testing.T) {
	rec, err := Decode(ConversationMemory, []byte(`{"main_topics":["stars"],"extra":"ignored"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := rec.Get("main_topics"); !ok {
		t.Error("decoded key missing")
	}
	if _, err := Decode(Kind("WEATHER"), []byte(`{}`)); err == nil {
		t.Error("decoding an unknown kind should fail")
	}
	if _, err := Decode(UserPersona, []byte(`not json`)); err == nil {
		t.Error("decoding malformed JSON should fail")
	}
}
