package knowledge

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ensemble.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	type record struct {
		Agent   string `json:"agent"`
		Success bool   `json:"success"`
	}

	if err := s.Set("record:security-auditor:1", record{Agent: "security-auditor", Success: true}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got record
	found, err := s.Get("record:security-auditor:1", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("Get should find the key")
	}
	if got.Agent != "security-auditor" || !got.Success {
		t.Errorf("Get = %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	found, err := s.Get("absent", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("missing key should be reported absent")
	}
}

func TestExpiredKeyIsAbsentAndDeleted(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("short", "v", time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	found, err := s.Get("short", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("expired key should be absent")
	}

	n, err := s.Count("")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("expired row should be deleted, Count = %d", n)
	}
}

func TestSetReplacesExisting(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("key", "old", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("key", "new", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got string
	found, err := s.Get("key", &got)
	if err != nil || !found {
		t.Fatalf("Get = %v, %v", found, err)
	}
	if got != "new" {
		t.Errorf("Get = %q, want %q", got, "new")
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("stale", 1, time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("fresh", 2, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	removed, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}

	var v int
	found, err := s.Get("fresh", &v)
	if err != nil || !found || v != 2 {
		t.Errorf("fresh entry should survive sweep: found=%v v=%d err=%v", found, v, err)
	}
}

func TestCountByPrefix(t *testing.T) {
	s := openTestStore(t)

	for _, key := range []string{"message:1", "message:2", "pattern:1"} {
		if err := s.Set(key, key, 0); err != nil {
			t.Fatalf("Set %q: %v", key, err)
		}
	}

	n, err := s.Count("message:")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count(message:) = %d, want 2", n)
	}

	all, err := s.Count("")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if all != 3 {
		t.Errorf("Count(\"\") = %d, want 3", all)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("key", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete("key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	found, err := s.Get("key", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("deleted key should be absent")
	}
}
