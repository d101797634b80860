package tradeparams

import (
	"log/slog"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradeparams.json")
	return NewStore(path, slog.Default()), path
}

func TestSetGetDelete(t *testing.T) {
	s, _ := newTestStore(t)

	s.Set("strat-1", "stop_loss", 0.95)
	s.Set("strat-1", "target_weight", 0.25)
	s.Set("strat-2", "stop_loss", 0.90)

	got := s.ForStrategy("strat-1")
	if got["stop_loss"] != 0.95 || got["target_weight"] != 0.25 {
		t.Errorf("ForStrategy(strat-1) = %v", got)
	}
	if got := s.ForStrategy("missing"); len(got) != 0 {
		t.Errorf("missing strategy = %v, want empty map", got)
	}

	s.Delete("strat-1", "stop_loss")
	if got := s.ForStrategy("strat-1"); len(got) != 1 {
		t.Errorf("after delete = %v, want only target_weight", got)
	}

	// Deleting the last key drops the strategy entirely.
	s.Delete("strat-2", "stop_loss")
	if snap := s.Snapshot(); len(snap) != 1 {
		t.Errorf("snapshot = %v, want one strategy", snap)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	s, path := newTestStore(t)
	s.Set("strat-1", "stop_loss", 0.95)

	reloaded := NewStore(path, slog.Default())
	if got := reloaded.ForStrategy("strat-1"); got["stop_loss"] != 0.95 {
		t.Errorf("reloaded = %v, want stop_loss 0.95", got)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s, _ := newTestStore(t)
	id, ch := s.Subscribe(4)
	defer s.Unsubscribe(id)

	s.Set("strat-1", "stop_loss", 0.95)
	s.Delete("strat-1", "stop_loss")

	e := <-ch
	if e.Type != "set" || e.StrategyID != "strat-1" || e.Value != 0.95 {
		t.Errorf("first event = %+v", e)
	}
	e = <-ch
	if e.Type != "delete" || e.Key != "stop_loss" {
		t.Errorf("second event = %+v", e)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	s.Set("strat-1", "stop_loss", 0.95)

	snap := s.Snapshot()
	snap["strat-1"]["stop_loss"] = 0
	if got := s.ForStrategy("strat-1"); got["stop_loss"] != 0.95 {
		t.Errorf("mutating snapshot leaked into store: %v", got)
	}
}
