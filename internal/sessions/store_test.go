package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weber8thomas/claude-hands-free/internal/bridge"
)

type nopLauncher struct{}

func (nopLauncher) Launch(context.Context) (bridge.Process, error) {
	return nil, errors.New("no subprocess in tests")
}

func testFactory(string) *bridge.Bridge {
	return bridge.New(nopLauncher{}, bridge.CompletionPolicy{})
}

func newTestStore(opts Options) *Store {
	return NewStore(opts, testFactory)
}

func TestGetOrCreateMintsAndReuses(t *testing.T) {
	s := newTestStore(Options{})

	sess, br, created, err := s.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !created || sess.ID == "" || br == nil {
		t.Fatalf("GetOrCreate() = (%+v, %v, %v), want a fresh session", sess, br, created)
	}

	again, br2, created2, err := s.GetOrCreate(sess.ID)
	if err != nil {
		t.Fatalf("GetOrCreate(existing) error = %v", err)
	}
	if created2 {
		t.Fatal("created = true for an existing session")
	}
	if again.ID != sess.ID || br2 != br {
		t.Fatalf("GetOrCreate(existing) returned a different session or bridge")
	}
}

func TestGetOrCreateWithUnknownIDAdoptsIt(t *testing.T) {
	s := newTestStore(Options{})
	sess, _, created, err := s.GetOrCreate("my-session")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !created || sess.ID != "my-session" {
		t.Fatalf("GetOrCreate(unknown id) = (%+v, created=%v), want adopted id", sess, created)
	}
}

func TestCapacityExceeded(t *testing.T) {
	s := newTestStore(Options{MaxSessions: 2})
	for i := 0; i < 2; i++ {
		if _, _, _, err := s.GetOrCreate(""); err != nil {
			t.Fatalf("GetOrCreate() #%d error = %v", i, err)
		}
	}
	if _, _, _, err := s.GetOrCreate(""); !errors.Is(err, ErrCapacity) {
		t.Fatalf("GetOrCreate() over cap error = %v, want ErrCapacity", err)
	}
	// An existing session is still reachable at the cap.
	id := s.List()[0].ID
	if _, _, _, err := s.GetOrCreate(id); err != nil {
		t.Fatalf("GetOrCreate(existing) at cap error = %v", err)
	}
}

func TestClearSwapsBridgeAndIsIdempotent(t *testing.T) {
	s := newTestStore(Options{})
	sess, br, _, err := s.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	s.RecordTurn(sess.ID)

	if err := s.Clear(sess.ID); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	meta, br2, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() after clear error = %v", err)
	}
	if br2 == br {
		t.Fatal("bridge not replaced by Clear()")
	}
	if meta.Turns != 0 {
		t.Fatalf("Turns after clear = %d, want 0", meta.Turns)
	}

	if err := s.Clear(sess.ID); err != nil {
		t.Fatalf("repeated Clear() error = %v", err)
	}
	if err := s.Clear("never-existed"); err != nil {
		t.Fatalf("Clear(unknown) error = %v, want nil", err)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(Options{})
	sess, _, _, err := s.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := s.Remove(sess.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, _, err := s.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after remove error = %v, want ErrNotFound", err)
	}
	if err := s.Remove(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove() error = %v, want ErrNotFound", err)
	}
}

func TestJanitorEvictsIdleSessions(t *testing.T) {
	s := newTestStore(Options{IdleTimeout: 30 * time.Millisecond})
	evicted := make(chan Session, 1)
	s.SetEvictHook(func(sess Session) { evicted <- sess })

	sess, _, _, err := s.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case got := <-evicted:
		if got.ID != sess.ID {
			t.Fatalf("evicted %s, want %s", got.ID, sess.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor never evicted the idle session")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after eviction", s.Len())
	}
}

func TestRecordTurnKeepsSessionAlive(t *testing.T) {
	s := newTestStore(Options{IdleTimeout: 60 * time.Millisecond})
	sess, _, _, err := s.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx, 15*time.Millisecond)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.RecordTurn(sess.ID)
		time.Sleep(10 * time.Millisecond)
	}
	if _, _, err := s.Get(sess.ID); err != nil {
		t.Fatalf("active session evicted: %v", err)
	}
}
