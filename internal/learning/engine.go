// Package learning records execution outcomes, maintains the global
// pattern library, and synthesizes recommendations from past executions
// via context similarity. It is safe for concurrent use from multiple
// agent-execution goroutines.
package learning

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tmajors/ensemble/internal/bus"
	"github.com/tmajors/ensemble/internal/knowledge"
	"github.com/tmajors/ensemble/pkg/protocol"
)

const (
	// defaultRecordCap bounds each agent's execution-record ring.
	defaultRecordCap = 100
	// defaultCacheTTL is how long a learnings query result stays cached.
	defaultCacheTTL = 1 * time.Hour
	// defaultRecordTTL is the durable persistence TTL for records.
	defaultRecordTTL = 30 * 24 * time.Hour
	// defaultPatternTTL is the durable persistence TTL for patterns.
	defaultPatternTTL = 90 * 24 * time.Hour
	// defaultTopK is how many best-matching records inform a query.
	defaultTopK = 10
)

// TaskContext describes the context an execution happened in, used for
// similarity scoring between past and future work.
type TaskContext struct {
	// TaskType labels the kind of task (security, database, ...).
	TaskType string `json:"task_type"`
	// Complexity is a coarse label (low, medium, high).
	Complexity string `json:"complexity,omitempty"`
	// Files lists files involved.
	Files []string `json:"files,omitempty"`
	// Technologies lists technologies involved.
	Technologies []string `json:"technologies,omitempty"`
}

// Discovery is a newly observed pattern reported by an execution.
type Discovery struct {
	// ID deduplicates the pattern; derived from Name when empty.
	ID string `json:"id"`
	// Name is a short human-readable pattern name.
	Name string `json:"name"`
	// Description explains the pattern.
	Description string `json:"description,omitempty"`
}

// Record is one execution outcome reported to the engine.
type Record struct {
	// Agent is the agent that executed.
	Agent string `json:"agent"`
	// Timestamp is when the execution finished.
	Timestamp time.Time `json:"timestamp"`
	// SessionID ties the record to a coordinator run.
	SessionID string `json:"session_id,omitempty"`
	// ToolSequence is the ordered tools the agent used.
	ToolSequence []string `json:"tool_sequence,omitempty"`
	// ParallelGroups lists tools the agent ran concurrently.
	ParallelGroups [][]string `json:"parallel_groups,omitempty"`
	// ToolUsage maps external tool names to invocation counts.
	ToolUsage map[string]int `json:"tool_usage,omitempty"`
	// Duration is the measured execution time.
	Duration time.Duration `json:"duration"`
	// FilesTouched lists files the execution modified or read.
	FilesTouched []string `json:"files_touched,omitempty"`
	// Errors lists failures encountered.
	Errors []string `json:"errors,omitempty"`
	// Bottlenecks lists slow spots observed.
	Bottlenecks []string `json:"bottlenecks,omitempty"`
	// Discoveries lists newly observed patterns.
	Discoveries []Discovery `json:"discoveries,omitempty"`
	// Collaborations counts interactions per collaborating agent.
	Collaborations map[string]int `json:"collaborations,omitempty"`
	// Context describes the task this execution served.
	Context TaskContext `json:"context"`
	// Success reports whether the execution succeeded.
	Success bool `json:"success"`
	// Quality is an optional quality score for the outcome.
	Quality float64 `json:"quality,omitempty"`
}

// Pattern is a recorded, reusable observation about agent behavior,
// deduplicated by id. Patterns are never deleted during the process
// lifetime and persist durably with a long TTL.
type Pattern struct {
	// ID deduplicates the pattern.
	ID string `json:"id"`
	// Name is a short human-readable name.
	Name string `json:"name"`
	// Description explains the pattern.
	Description string `json:"description,omitempty"`
	// DiscoveredBy is the agent that first observed the pattern.
	DiscoveredBy string `json:"discovered_by"`
	// DiscoveredAt is when the pattern was first observed.
	DiscoveredAt time.Time `json:"discovered_at"`
	// UsageCount counts how many times the pattern was observed.
	UsageCount int `json:"usage_count"`
	// LastUsed is the most recent observation time.
	LastUsed time.Time `json:"last_used"`
}

// Options configures an Engine. Zero values select defaults; a nil bus
// or knowledge store disables the corresponding side effect.
type Options struct {
	// RecordCap bounds each agent's record ring (default 100).
	RecordCap int
	// CacheTTL is the learnings query cache expiry (default 1h).
	CacheTTL time.Duration
	// RecordTTL is the durable record persistence TTL (default 30d).
	RecordTTL time.Duration
	// PatternTTL is the durable pattern persistence TTL (default 90d).
	PatternTTL time.Duration
	// TopK is how many best matches inform a query (default 10).
	TopK int
	// Bus broadcasts discoveries when non-nil.
	Bus *bus.Bus
	// Knowledge persists records and patterns when non-nil.
	Knowledge *knowledge.Store
}

// cacheEntry pairs a cached query result with its expiry deadline.
type cacheEntry struct {
	learnings *Learnings
	expiresAt time.Time
}

// Engine is the learning engine. It owns the per-agent execution-record
// rings, the global pattern library, and the learnings query cache.
type Engine struct {
	mu       sync.RWMutex
	records  map[string][]*Record
	patterns map[string]*Pattern
	cache    map[string]cacheEntry

	recordCap    int
	cacheTTL     time.Duration
	recordTTL    time.Duration
	patternTTL   time.Duration
	topK         int
	totalRecords int64

	bus       *bus.Bus
	knowledge *knowledge.Store
}

// New creates an Engine with the given options.
func New(opts Options) *Engine {
	if opts.RecordCap <= 0 {
		opts.RecordCap = defaultRecordCap
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = defaultRecordTTL
	}
	if opts.PatternTTL <= 0 {
		opts.PatternTTL = defaultPatternTTL
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	return &Engine{
		records:    make(map[string][]*Record),
		patterns:   make(map[string]*Pattern),
		cache:      make(map[string]cacheEntry),
		recordCap:  opts.RecordCap,
		cacheTTL:   opts.CacheTTL,
		recordTTL:  opts.RecordTTL,
		patternTTL: opts.PatternTTL,
		topK:       opts.TopK,
		bus:        opts.Bus,
		knowledge:  opts.Knowledge,
	}
}

// RecordExecution appends a record to the agent's bounded history,
// folds its discoveries into the pattern library, broadcasts
// significant discoveries, and persists the record durably.
func (e *Engine) RecordExecution(agent string, rec *Record) {
	if rec == nil {
		return
	}
	if rec.Agent == "" {
		rec.Agent = agent
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	e.mu.Lock()
	ring := append(e.records[agent], rec)
	if len(ring) > e.recordCap {
		ring = ring[len(ring)-e.recordCap:]
	}
	e.records[agent] = ring
	e.totalRecords++

	for _, d := range rec.Discoveries {
		e.upsertPatternLocked(d, agent)
	}
	e.mu.Unlock()

	if len(rec.Discoveries) > 0 && e.bus != nil {
		names := make([]string, len(rec.Discoveries))
		for i, d := range rec.Discoveries {
			names[i] = d.Name
		}
		e.bus.Broadcast(agent, &protocol.Message{
			Type: protocol.TypePatternDiscovered,
			Payload: map[string]any{
				"patterns": names,
				"agent":    agent,
			},
		})
	}

	e.persistRecord(agent, rec)
}

// ShareDiscovery broadcasts a pattern-discovered message and stores the
// pattern with usage-count semantics: a new id starts at 1, an existing
// id increments and refreshes last-used.
func (e *Engine) ShareDiscovery(agent string, d Discovery) *Pattern {
	e.mu.Lock()
	pat := e.upsertPatternLocked(d, agent)
	snapshot := *pat
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Broadcast(agent, &protocol.Message{
			Type: protocol.TypePatternDiscovered,
			Payload: map[string]any{
				"pattern_id":  snapshot.ID,
				"pattern":     snapshot.Name,
				"description": snapshot.Description,
				"agent":       agent,
			},
		})
	}

	e.persistPattern(&snapshot)
	return &snapshot
}

// ObserveHandoff records a (from -> to, task type) handoff pair as a
// pattern observation. It satisfies the handoff package's Observer.
func (e *Engine) ObserveHandoff(from, to, taskType string) {
	id := fmt.Sprintf("handoff:%s->%s:%s", from, to, taskType)

	e.mu.Lock()
	pat := e.upsertPatternLocked(Discovery{
		ID:   id,
		Name: fmt.Sprintf("handoff %s -> %s (%s)", from, to, taskType),
	}, from)
	snapshot := *pat
	e.mu.Unlock()

	e.persistPattern(&snapshot)
}

// upsertPatternLocked applies usage-count semantics to one discovery.
// Callers must hold e.mu.
func (e *Engine) upsertPatternLocked(d Discovery, agent string) *Pattern {
	id := d.ID
	if id == "" {
		id = d.Name
	}
	now := time.Now()

	if existing, ok := e.patterns[id]; ok {
		existing.UsageCount++
		existing.LastUsed = now
		return existing
	}

	pat := &Pattern{
		ID:           id,
		Name:         d.Name,
		Description:  d.Description,
		DiscoveredBy: agent,
		DiscoveredAt: now,
		UsageCount:   1,
		LastUsed:     now,
	}
	e.patterns[id] = pat
	return pat
}

// persistRecord stores a record durably, best-effort.
func (e *Engine) persistRecord(agent string, rec *Record) {
	if e.knowledge == nil {
		return
	}
	key := fmt.Sprintf("record:%s:%d", agent, rec.Timestamp.UnixNano())
	if err := e.knowledge.Set(key, rec, e.recordTTL); err != nil {
		log.Printf("[learning] warning: failed to persist record for %s: %v", agent, err)
	}
}

// persistPattern stores a pattern durably, best-effort.
func (e *Engine) persistPattern(pat *Pattern) {
	if e.knowledge == nil {
		return
	}
	key := fmt.Sprintf("pattern:%s", pat.ID)
	if err := e.knowledge.Set(key, pat, e.patternTTL); err != nil {
		log.Printf("[learning] warning: failed to persist pattern %s: %v", pat.ID, err)
	}
}

// Pattern returns a copy of the pattern with the given id.
func (e *Engine) Pattern(id string) (Pattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pat, ok := e.patterns[id]
	if !ok {
		return Pattern{}, false
	}
	return *pat, true
}

// Patterns returns copies of every pattern in the library.
func (e *Engine) Patterns() []Pattern {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Pattern, 0, len(e.patterns))
	for _, pat := range e.patterns {
		out = append(out, *pat)
	}
	return out
}

// Records returns copies of the agent's retained execution records,
// oldest first.
func (e *Engine) Records(agent string) []Record {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ring := e.records[agent]
	out := make([]Record, 0, len(ring))
	for _, rec := range ring {
		out = append(out, *rec)
	}
	return out
}
