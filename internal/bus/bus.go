// Package bus implements the inter-agent communication bus: the agent
// registry, message routing, broadcast, capability lookup, and the
// bounded in-memory message history. All operations are safe for
// concurrent use from multiple agent-execution goroutines.
package bus

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmajors/ensemble/internal/knowledge"
	"github.com/tmajors/ensemble/internal/sink"
	"github.com/tmajors/ensemble/internal/store"
	"github.com/tmajors/ensemble/pkg/protocol"
)

const (
	// defaultHistorySize bounds the in-memory message history ring.
	defaultHistorySize = 200
	// defaultMessageTTL is how long sent messages persist durably.
	defaultMessageTTL = 24 * time.Hour
	// defaultActiveWindow is the lookback used by ActiveAgents.
	defaultActiveWindow = 5 * time.Minute
)

// Registration tracks one agent's registry entry. Counters only ever
// increase; registrations live for the process lifetime.
type Registration struct {
	// Name is the agent's unique name.
	Name string `json:"name"`
	// Capabilities is the set of capabilities the agent offers.
	Capabilities []string `json:"capabilities"`
	// RegisteredAt is when the agent first registered.
	RegisteredAt time.Time `json:"registered_at"`
	// MessagesSent counts messages sent by this agent.
	MessagesSent int64 `json:"messages_sent"`
	// MessagesReceived counts messages delivered to this agent.
	MessagesReceived int64 `json:"messages_received"`
	// LastActive is the last time the agent sent or received.
	LastActive time.Time `json:"last_active"`
}

// Handler is a subscriber callback invoked for messages addressed to an
// agent. Handler panics and errors are contained by the bus and never
// propagate to the sender.
type Handler func(msg *protocol.Message)

// Options configures a Bus. Zero values select defaults; nil sinks and
// stores disable the corresponding side effect.
type Options struct {
	// HistorySize bounds the in-memory message ring (default 200).
	HistorySize int
	// MessageTTL is the durable persistence TTL (default 24h).
	MessageTTL time.Duration
	// Shared is the cache used for cross-component ephemeral state.
	Shared *store.Store
	// Knowledge persists sent messages durably when non-nil.
	Knowledge *knowledge.Store
	// Log receives every sent message when non-nil (best-effort).
	Log *sink.CommLog
}

// Bus owns the agent registry and routes messages between agents.
type Bus struct {
	mu          sync.RWMutex
	agents      map[string]*Registration
	order       []string // registration order, for deterministic capability lookup
	subscribers map[string][]Handler
	history     []*protocol.Message
	historySize int
	messageTTL  time.Duration
	byType      map[protocol.MessageType]int64
	totalSent   int64

	shared    *store.Store
	knowledge *knowledge.Store
	commLog   *sink.CommLog
}

// New creates a Bus with the given options.
func New(opts Options) *Bus {
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.MessageTTL <= 0 {
		opts.MessageTTL = defaultMessageTTL
	}
	return &Bus{
		agents:      make(map[string]*Registration),
		subscribers: make(map[string][]Handler),
		historySize: opts.HistorySize,
		messageTTL:  opts.MessageTTL,
		byType:      make(map[protocol.MessageType]int64),
		shared:      opts.Shared,
		knowledge:   opts.Knowledge,
		commLog:     opts.Log,
	}
}

// Register upserts an agent registration. Re-registering an existing
// agent updates its capability set and preserves its counters.
func (b *Bus) Register(name string, capabilities []string) *Registration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.agents[name]; ok {
		existing.Capabilities = append([]string(nil), capabilities...)
		return existing
	}

	reg := &Registration{
		Name:         name,
		Capabilities: append([]string(nil), capabilities...),
		RegisteredAt: time.Now(),
		LastActive:   time.Now(),
	}
	b.agents[name] = reg
	b.order = append(b.order, name)
	if _, ok := b.subscribers[name]; !ok {
		b.subscribers[name] = nil
	}
	return reg
}

// Subscribe registers a callback for messages addressed to agent.
func (b *Bus) Subscribe(agent string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[agent] = append(b.subscribers[agent], h)
}

// Send routes a message from one agent to another. The message is
// validated, enriched with an id, timestamp, and sender snapshot, and
// then delivered: counters update, the history ring and durable sinks
// record it, and any subscriber callbacks for the recipient fire.
// A message addressed to protocol.Broadcast fans out to every other
// registered agent and returns the first delivered copy, in
// registration order, or nil when no other agent is registered.
// Validation failure returns *protocol.ValidationError and changes
// nothing. Sink failures never fail the send.
func (b *Bus) Send(from, to string, msg *protocol.Message) (*protocol.Message, error) {
	if msg == nil {
		msg = &protocol.Message{}
	}
	enriched := *msg
	enriched.From = from
	enriched.To = to
	if enriched.Priority == "" {
		enriched.Priority = protocol.PriorityNormal
	}

	if err := protocol.Validate(&enriched); err != nil {
		return nil, err
	}

	if to == protocol.Broadcast {
		delivered := b.Broadcast(from, msg)
		if len(delivered) == 0 {
			return nil, nil
		}
		return delivered[0], nil
	}

	if enriched.ID == "" {
		enriched.ID = uuid.NewString()
	}
	if enriched.Timestamp.IsZero() {
		enriched.Timestamp = time.Now()
	}

	handlers := b.deliver(&enriched)

	// Subscriber errors are contained: a panicking handler must never
	// fail the send.
	for _, h := range handlers {
		b.invoke(h, &enriched)
	}

	b.persist(&enriched)

	return &enriched, nil
}

// deliver applies the registry and history side effects under lock and
// returns the recipient's handlers for invocation outside the lock.
func (b *Bus) deliver(msg *protocol.Message) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if sender, ok := b.agents[msg.From]; ok {
		msg.Sender = &protocol.SenderSnapshot{
			Name:             sender.Name,
			Capabilities:     append([]string(nil), sender.Capabilities...),
			MessagesSent:     sender.MessagesSent,
			MessagesReceived: sender.MessagesReceived,
			LastActive:       sender.LastActive,
		}
		sender.MessagesSent++
		sender.LastActive = now
	}
	if receiver, ok := b.agents[msg.To]; ok {
		receiver.MessagesReceived++
		receiver.LastActive = now
	}

	b.history = append(b.history, msg)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
	b.byType[msg.Type]++
	b.totalSent++

	return append([]Handler(nil), b.subscribers[msg.To]...)
}

// invoke runs one subscriber callback, containing panics.
func (b *Bus) invoke(h Handler, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] warning: subscriber for %s panicked: %v", msg.To, r)
		}
	}()
	h(msg)
}

// persist records the message to the comm log and durable store.
// Both are best-effort.
func (b *Bus) persist(msg *protocol.Message) {
	if b.shared != nil {
		// Attached tool results stay available to other agents for the
		// cache window without refetching.
		for tool, data := range msg.ToolData {
			b.shared.SetToolResult(msg.From, tool, data)
		}
	}
	if b.commLog != nil {
		b.commLog.Append(msg)
	}
	if b.knowledge != nil {
		key := fmt.Sprintf("message:%s", msg.ID)
		if err := b.knowledge.Set(key, msg, b.messageTTL); err != nil {
			log.Printf("[bus] warning: failed to persist message %s: %v", msg.ID, err)
		}
	}
}

// Broadcast sends msg independently to every registered agent except
// the sender. Per-recipient failures are excluded from the returned
// list; broadcast is best-effort, not all-or-nothing.
func (b *Bus) Broadcast(from string, msg *protocol.Message) []*protocol.Message {
	b.mu.RLock()
	recipients := make([]string, 0, len(b.order))
	for _, name := range b.order {
		if name != from && name != protocol.Broadcast {
			recipients = append(recipients, name)
		}
	}
	b.mu.RUnlock()

	var delivered []*protocol.Message
	for _, to := range recipients {
		sent, err := b.Send(from, to, msg)
		if err != nil {
			log.Printf("[bus] warning: broadcast from %s to %s failed: %v", from, to, err)
			continue
		}
		delivered = append(delivered, sent)
	}
	return delivered
}

// RequestAssistance sends an assistance request to the first registered
// agent offering the capability. The choice is deterministic: agents are
// considered in registration order. Returns (nil, nil) when no capable
// agent exists; that is a signal, not an error.
func (b *Bus) RequestAssistance(from, capability string, context map[string]any, urgency protocol.Priority) (*protocol.Message, error) {
	candidates := b.FindAgentsByCapability(capability)

	var target string
	for _, name := range candidates {
		if name != from {
			target = name
			break
		}
	}
	if target == "" {
		return nil, nil
	}

	msg := &protocol.Message{
		Type:     protocol.TypeAssistanceRequest,
		Priority: urgency,
		Payload: map[string]any{
			"capability": capability,
			"context":    context,
		},
	}
	return b.Send(from, target, msg)
}

// FindAgentsByCapability returns the names of agents offering the
// capability, in registration order.
func (b *Bus) FindAgentsByCapability(capability string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var names []string
	for _, name := range b.order {
		for _, c := range b.agents[name].Capabilities {
			if c == capability {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// ActiveAgents returns agents whose last-active timestamp falls within
// window. A non-positive window selects the 5 minute default.
func (b *Bus) ActiveAgents(window time.Duration) []string {
	if window <= 0 {
		window = defaultActiveWindow
	}
	cutoff := time.Now().Add(-window)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var names []string
	for _, name := range b.order {
		if b.agents[name].LastActive.After(cutoff) {
			names = append(names, name)
		}
	}
	return names
}

// Agent returns a copy of the registration for name.
func (b *Bus) Agent(name string) (Registration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	reg, ok := b.agents[name]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Agents returns copies of all registrations in registration order.
func (b *Bus) Agents() []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Registration, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.agents[name])
	}
	return out
}

// History returns the most recent messages, newest last. A non-positive
// limit returns the full ring.
func (b *Bus) History(limit int) []*protocol.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]*protocol.Message, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
