package store

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	s := New()
	s.Set("key", "value", 0)

	got, ok := s.Get("key")
	if !ok {
		t.Fatal("Get should find the key")
	}
	if got != "value" {
		t.Errorf("Get = %v, want %q", got, "value")
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New()
	if _, ok := s.Get("nope"); ok {
		t.Error("Get should report absent for a missing key")
	}
}

func TestExpiredEntryIsEvictedOnRead(t *testing.T) {
	s := New()
	s.Set("short", 42, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := s.Get("short"); ok {
		t.Error("expired entry should be absent")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry should be evicted on read, Len = %d", s.Len())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	s := New()
	s.Set("forever", "v", 0)
	time.Sleep(2 * time.Millisecond)

	if _, ok := s.Get("forever"); !ok {
		t.Error("zero-TTL entry should never expire")
	}
}

func TestOverwriteReplacesValueAndTTL(t *testing.T) {
	s := New()
	s.Set("key", "old", time.Millisecond)
	s.Set("key", "new", time.Minute)
	time.Sleep(5 * time.Millisecond)

	got, ok := s.Get("key")
	if !ok || got != "new" {
		t.Errorf("Get = %v, %v; want %q, true", got, ok, "new")
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := New()
	s.Set("a", 1, 0)
	s.Set("b", 2, 0)

	s.Delete("a")
	if _, ok := s.Get("a"); ok {
		t.Error("deleted key should be absent")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Clear should empty the store, Len = %d", s.Len())
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	s := New()
	s.Set("stale", 1, time.Millisecond)
	s.Set("fresh", 2, time.Minute)
	time.Sleep(5 * time.Millisecond)

	removed := s.Sweep()
	if removed != 1 {
		t.Errorf("Sweep removed %d entries, want 1", removed)
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("Sweep should keep unexpired entries")
	}
}

func TestToolResultRoundTrip(t *testing.T) {
	s := New()
	s.SetToolResult("security-auditor", "semgrep", map[string]any{"findings": 3})

	got, ok := s.GetToolResult("security-auditor", "semgrep")
	if !ok {
		t.Fatal("GetToolResult should find the cached result")
	}
	m, ok := got.(map[string]any)
	if !ok || m["findings"] != 3 {
		t.Errorf("GetToolResult = %v", got)
	}

	if _, ok := s.GetToolResult("security-auditor", "other"); ok {
		t.Error("different tool name should miss")
	}
	if _, ok := s.GetToolResult("other-agent", "semgrep"); ok {
		t.Error("different agent should miss")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				s.Set("shared", n*100+j, time.Minute)
				s.Get("shared")
				s.Len()
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if _, ok := s.Get("shared"); !ok {
		t.Error("shared key should survive concurrent writes")
	}
}
