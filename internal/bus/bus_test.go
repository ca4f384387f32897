package bus

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tmajors/ensemble/internal/knowledge"
	"github.com/tmajors/ensemble/internal/store"
	"github.com/tmajors/ensemble/pkg/protocol"
)

func newTestBus() *Bus {
	return New(Options{})
}

func TestRegisterIsIdempotent(t *testing.T) {
	b := newTestBus()

	first := b.Register("security-auditor", []string{"security"})
	first.MessagesSent = 0

	// Simulate activity, then re-register with new capabilities.
	if _, err := b.Send("security-auditor", "security-auditor", &protocol.Message{Type: protocol.TypeProgressUpdate}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	second := b.Register("security-auditor", []string{"security", "compliance"})

	if len(b.Agents()) != 1 {
		t.Errorf("re-registering should not add a second entry, got %d", len(b.Agents()))
	}
	if second.MessagesSent != 1 {
		t.Errorf("re-registering should preserve counters, sent = %d", second.MessagesSent)
	}
	if len(second.Capabilities) != 2 {
		t.Errorf("re-registering should update capabilities, got %v", second.Capabilities)
	}
}

func TestSendIncrementsCountersByExactlyOne(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)

	if _, err := b.Send("a", "b", &protocol.Message{Type: protocol.TypeFindingReport}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sender, _ := b.Agent("a")
	receiver, _ := b.Agent("b")
	if sender.MessagesSent != 1 {
		t.Errorf("sender sent counter = %d, want 1", sender.MessagesSent)
	}
	if sender.MessagesReceived != 0 {
		t.Errorf("sender received counter = %d, want 0", sender.MessagesReceived)
	}
	if receiver.MessagesReceived != 1 {
		t.Errorf("receiver received counter = %d, want 1", receiver.MessagesReceived)
	}
	if receiver.MessagesSent != 0 {
		t.Errorf("receiver sent counter = %d, want 0", receiver.MessagesSent)
	}
}

func TestSendEnrichesMessage(t *testing.T) {
	b := newTestBus()
	b.Register("a", []string{"analysis"})
	b.Register("b", nil)

	sent, err := b.Send("a", "b", &protocol.Message{Type: protocol.TypeFindingReport})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if sent.ID == "" {
		t.Error("Send should assign an id")
	}
	if sent.Timestamp.IsZero() {
		t.Error("Send should assign a timestamp")
	}
	if sent.Priority != protocol.PriorityNormal {
		t.Errorf("default priority = %q, want normal", sent.Priority)
	}
	if sent.Sender == nil || sent.Sender.Name != "a" {
		t.Errorf("Send should snapshot the sender registration, got %+v", sent.Sender)
	}
}

func TestSendInvalidMessageChangesNothing(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)

	tests := []struct {
		name     string
		from, to string
		msg      *protocol.Message
	}{
		{"missing from", "", "b", &protocol.Message{Type: protocol.TypeFindingReport}},
		{"missing to", "a", "", &protocol.Message{Type: protocol.TypeFindingReport}},
		{"unknown type", "a", "b", &protocol.Message{Type: protocol.MessageType("bogus")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Send(tt.from, tt.to, tt.msg)
			if err == nil {
				t.Fatal("Send should fail validation")
			}
			var verr *protocol.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("error should be *protocol.ValidationError, got %T", err)
			}
		})
	}

	a, _ := b.Agent("a")
	bb, _ := b.Agent("b")
	if a.MessagesSent != 0 || bb.MessagesReceived != 0 {
		t.Errorf("failed sends must not change counters: sent=%d received=%d", a.MessagesSent, bb.MessagesReceived)
	}
	if len(b.History(0)) != 0 {
		t.Errorf("failed sends must not enter history, got %d entries", len(b.History(0)))
	}
}

func TestSubscriberReceivesMessageAndPanicIsContained(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)

	var mu sync.Mutex
	var got []*protocol.Message
	b.Subscribe("b", func(msg *protocol.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	b.Subscribe("b", func(msg *protocol.Message) {
		panic("subscriber bug")
	})

	if _, err := b.Send("a", "b", &protocol.Message{Type: protocol.TypeWarning}); err != nil {
		t.Fatalf("Send should succeed despite panicking subscriber: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("subscriber should have received 1 message, got %d", len(got))
	}
}

func TestBroadcastExcludesSenderAndIsolatesFailures(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)
	b.Register("c", nil)

	delivered := b.Broadcast("a", &protocol.Message{Type: protocol.TypePatternDiscovered})

	if len(delivered) != 2 {
		t.Fatalf("broadcast should reach 2 recipients, got %d", len(delivered))
	}
	for _, msg := range delivered {
		if msg.To == "a" {
			t.Error("broadcast should not deliver to the sender")
		}
	}

	a, _ := b.Agent("a")
	if a.MessagesSent != 2 {
		t.Errorf("sender sent counter = %d, want 2", a.MessagesSent)
	}
}

func TestBroadcastMessagesGetDistinctIDs(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)
	b.Register("c", nil)

	delivered := b.Broadcast("a", &protocol.Message{Type: protocol.TypeOptimizationTip})
	if len(delivered) != 2 {
		t.Fatalf("want 2 deliveries, got %d", len(delivered))
	}
	if delivered[0].ID == delivered[1].ID {
		t.Error("each broadcast delivery should carry its own id")
	}
}

func TestSendToBroadcastSentinelFansOut(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)
	b.Register("c", nil)

	var mu sync.Mutex
	got := make(map[string]int)
	for _, agent := range []string{"b", "c"} {
		agent := agent
		b.Subscribe(agent, func(msg *protocol.Message) {
			mu.Lock()
			got[agent]++
			mu.Unlock()
		})
	}

	sent, err := b.Send("a", protocol.Broadcast, &protocol.Message{Type: protocol.TypeWarning})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent == nil || sent.To != "b" {
		t.Fatalf("Send to sentinel returned %+v, want first delivery addressed to b", sent)
	}

	mu.Lock()
	defer mu.Unlock()
	if got["b"] != 1 || got["c"] != 1 {
		t.Errorf("deliveries = %v, want one per other agent", got)
	}
}

func TestSendToBroadcastSentinelStillValidates(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)

	_, err := b.Send("a", protocol.Broadcast, &protocol.Message{Type: "bogus"})
	var verr *protocol.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Send = %v, want *protocol.ValidationError", err)
	}
}

func TestRequestAssistancePicksFirstCapableDeterministically(t *testing.T) {
	b := newTestBus()
	b.Register("requester", nil)
	b.Register("helper-2", []string{"database"})
	b.Register("helper-1", []string{"database"})

	for i := 0; i < 5; i++ {
		msg, err := b.RequestAssistance("requester", "database", map[string]any{"attempt": i}, protocol.PriorityHigh)
		if err != nil {
			t.Fatalf("RequestAssistance: %v", err)
		}
		if msg == nil {
			t.Fatal("RequestAssistance should find a capable agent")
		}
		// helper-2 registered first, so it is always the deterministic choice.
		if msg.To != "helper-2" {
			t.Errorf("assistance went to %q, want helper-2", msg.To)
		}
		if msg.Type != protocol.TypeAssistanceRequest {
			t.Errorf("message type = %q", msg.Type)
		}
		if msg.Priority != protocol.PriorityHigh {
			t.Errorf("priority = %q, want high", msg.Priority)
		}
	}
}

func TestRequestAssistanceNoCapableAgent(t *testing.T) {
	b := newTestBus()
	b.Register("requester", nil)

	msg, err := b.RequestAssistance("requester", "quantum-computing", nil, protocol.PriorityNormal)
	if err != nil {
		t.Fatalf("no capable agent should not be an error, got %v", err)
	}
	if msg != nil {
		t.Errorf("no capable agent should yield nil, got %+v", msg)
	}
}

func TestFindAgentsByCapability(t *testing.T) {
	b := newTestBus()
	b.Register("x", []string{"security", "audit"})
	b.Register("y", []string{"database"})
	b.Register("z", []string{"security"})

	got := b.FindAgentsByCapability("security")
	if len(got) != 2 || got[0] != "x" || got[1] != "z" {
		t.Errorf("FindAgentsByCapability = %v, want [x z]", got)
	}
	if got := b.FindAgentsByCapability("frontend"); len(got) != 0 {
		t.Errorf("unknown capability should match nothing, got %v", got)
	}
}

func TestActiveAgentsWindow(t *testing.T) {
	b := newTestBus()
	b.Register("fresh", nil)

	// Backdate one agent past the window.
	b.mu.Lock()
	b.agents["fresh"].LastActive = time.Now()
	b.agents["stale"] = &Registration{Name: "stale", LastActive: time.Now().Add(-10 * time.Minute)}
	b.order = append(b.order, "stale")
	b.mu.Unlock()

	active := b.ActiveAgents(0) // default 5 minute window
	if len(active) != 1 || active[0] != "fresh" {
		t.Errorf("ActiveAgents = %v, want [fresh]", active)
	}

	active = b.ActiveAgents(time.Hour)
	if len(active) != 2 {
		t.Errorf("hour-wide window should include both agents, got %v", active)
	}
}

func TestHistoryRingEvictsOldest(t *testing.T) {
	b := New(Options{HistorySize: 3})
	b.Register("a", nil)
	b.Register("b", nil)

	for i := 0; i < 5; i++ {
		msg := &protocol.Message{
			Type:    protocol.TypeProgressUpdate,
			Payload: map[string]any{"seq": i},
		}
		if _, err := b.Send("a", "b", msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	history := b.History(0)
	if len(history) != 3 {
		t.Fatalf("history size = %d, want 3", len(history))
	}
	if history[0].Payload["seq"] != 2 {
		t.Errorf("oldest retained message seq = %v, want 2", history[0].Payload["seq"])
	}
	if history[2].Payload["seq"] != 4 {
		t.Errorf("newest message seq = %v, want 4", history[2].Payload["seq"])
	}
}

func TestSingleSenderOrderingObservedBySubscriber(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)

	var mu sync.Mutex
	var seen []int
	b.Subscribe("b", func(msg *protocol.Message) {
		mu.Lock()
		seen = append(seen, msg.Payload["seq"].(int))
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		if _, err := b.Send("a", "b", &protocol.Message{
			Type:    protocol.TypeProgressUpdate,
			Payload: map[string]any{"seq": i},
		}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range seen {
		if seq != i {
			t.Fatalf("messages observed out of order: %v", seen)
		}
	}
}

func TestSendPersistsToKnowledgeStore(t *testing.T) {
	ks, err := knowledge.Open(filepath.Join(t.TempDir(), "ensemble.db"))
	if err != nil {
		t.Fatalf("knowledge.Open: %v", err)
	}
	defer ks.Close()

	b := New(Options{Knowledge: ks})
	b.Register("a", nil)
	b.Register("b", nil)

	sent, err := b.Send("a", "b", &protocol.Message{Type: protocol.TypeFindingReport})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	var stored protocol.Message
	found, err := ks.Get(fmt.Sprintf("message:%s", sent.ID), &stored)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("sent message should be persisted durably")
	}
	if stored.From != "a" || stored.To != "b" {
		t.Errorf("persisted message = %+v", stored)
	}
}

func TestStatistics(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)

	for i := 0; i < 3; i++ {
		if _, err := b.Send("a", "b", &protocol.Message{Type: protocol.TypeFindingReport}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if _, err := b.Send("b", "a", &protocol.Message{Type: protocol.TypeWarning}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	stats := b.Statistics()
	if stats.TotalAgents != 2 {
		t.Errorf("TotalAgents = %d, want 2", stats.TotalAgents)
	}
	if stats.ActiveAgents != 2 {
		t.Errorf("ActiveAgents = %d, want 2", stats.ActiveAgents)
	}
	if stats.TotalMessages != 4 {
		t.Errorf("TotalMessages = %d, want 4", stats.TotalMessages)
	}
	if stats.MessagesByType[protocol.TypeFindingReport] != 3 {
		t.Errorf("finding_report count = %d, want 3", stats.MessagesByType[protocol.TypeFindingReport])
	}
	if stats.MessagesByType[protocol.TypeWarning] != 1 {
		t.Errorf("warning count = %d, want 1", stats.MessagesByType[protocol.TypeWarning])
	}
}

func TestConcurrentSends(t *testing.T) {
	b := newTestBus()
	b.Register("a", nil)
	b.Register("b", nil)

	const senders = 8
	const perSender = 50

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				if _, err := b.Send("a", "b", &protocol.Message{Type: protocol.TypeProgressUpdate}); err != nil {
					t.Errorf("Send: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	a, _ := b.Agent("a")
	bb, _ := b.Agent("b")
	if a.MessagesSent != senders*perSender {
		t.Errorf("sent counter = %d, want %d", a.MessagesSent, senders*perSender)
	}
	if bb.MessagesReceived != senders*perSender {
		t.Errorf("received counter = %d, want %d", bb.MessagesReceived, senders*perSender)
	}
}

func TestSendCachesAttachedToolResults(t *testing.T) {
	shared := store.New()
	b := New(Options{Shared: shared})
	b.Register("security-auditor", nil)
	b.Register("backend-api-developer", nil)

	_, err := b.Send("security-auditor", "backend-api-developer", &protocol.Message{
		Type:     protocol.TypeFindingReport,
		ToolData: map[string]any{"semgrep": map[string]any{"findings": 3}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	cached, ok := shared.GetToolResult("security-auditor", "semgrep")
	if !ok {
		t.Fatal("tool result should be cached in the shared store")
	}
	if m, _ := cached.(map[string]any); m["findings"] != 3 {
		t.Errorf("cached tool result = %v, want findings 3", cached)
	}
}
