package history

import (
	"context"
	"testing"
)

// storeUnderTest exercises the Store contract shared by backends that run
// without external services.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	turns := []TurnRecord{
		{SessionID: "s1", Role: RoleUser, Content: "hello", Voiced: true},
		{SessionID: "s1", Role: RoleAssistant, Content: "hi there"},
		{SessionID: "s1", Role: RoleUser, Content: "what time is it"},
		{SessionID: "s2", Role: RoleUser, Content: "other session"},
	}
	for i, turn := range turns {
		if err := s.SaveTurn(ctx, turn); err != nil {
			t.Fatalf("SaveTurn() #%d error = %v", i, err)
		}
	}

	got, err := s.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("History(s1) len = %d, want 3", len(got))
	}
	if got[0].Content != "hello" || !got[0].Voiced {
		t.Fatalf("first turn = %+v, want the voiced hello", got[0])
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("turn missing generated id or timestamp: %+v", got[0])
	}

	limited, err := s.History(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 2 || limited[1].Content != "what time is it" {
		t.Fatalf("History(s1, 2) = %+v, want the two latest turns", limited)
	}

	if err := s.ClearSession(ctx, "s1"); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	got, err = s.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("History() after clear error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("History(s1) after clear = %+v, want empty", got)
	}
	// Clearing again (or a session that never existed) stays quiet.
	if err := s.ClearSession(ctx, "s1"); err != nil {
		t.Fatalf("repeated ClearSession() error = %v", err)
	}

	other, err := s.History(ctx, "s2", 0)
	if err != nil {
		t.Fatalf("History(s2) error = %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("History(s2) len = %d, want 1 (untouched by s1 clear)", len(other))
	}
}

func TestInMemoryStore(t *testing.T) {
	storeUnderTest(t, NewInMemoryStore())
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	storeUnderTest(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "persist", Role: RoleUser, Content: "remember me"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore(reopen) error = %v", err)
	}
	got, err := reopened.History(ctx, "persist", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "remember me" {
		t.Fatalf("History() after reopen = %+v, want the saved turn", got)
	}
}

func TestFactoryDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "", "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\", \"\") = %T, want *InMemoryStore", s)
	}
}

func TestFactoryPicksFileStore(t *testing.T) {
	s, err := NewStore(context.Background(), "", t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("NewStore(dir) = %T, want *FileStore", s)
	}
}
