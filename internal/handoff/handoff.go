// Package handoff implements point-to-point execution-context transfer
// between agents on top of the bus. At most one pending handoff exists
// per destination agent; initiating another overwrites it.
package handoff

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmajors/ensemble/internal/bus"
	"github.com/tmajors/ensemble/pkg/protocol"
)

// Context is the execution context carried by a handoff.
type Context struct {
	// Task describes what the receiving agent should do.
	Task string `json:"task"`
	// ModifiedFiles lists files the sender changed.
	ModifiedFiles []string `json:"modified_files,omitempty"`
	// ReadFiles lists files the sender consulted.
	ReadFiles []string `json:"read_files,omitempty"`
	// Decisions lists decisions the sender made.
	Decisions []string `json:"decisions,omitempty"`
	// Warnings lists risks the sender flagged.
	Warnings []string `json:"warnings,omitempty"`
	// Discoveries lists patterns the sender observed.
	Discoveries []string `json:"discoveries,omitempty"`
}

// Recommendations is the sender's advice for the receiving agent.
type Recommendations struct {
	// NextActions lists concrete actions the receiver should take.
	NextActions []string `json:"next_actions,omitempty"`
	// Risks lists risks the receiver should account for.
	Risks []string `json:"risks,omitempty"`
	// MustValidate lists results that require validation before reuse.
	MustValidate []string `json:"must_validate,omitempty"`
}

// Package is one complete handoff from one agent to another.
type Package struct {
	// SessionID uniquely identifies this handoff.
	SessionID string `json:"session_id"`
	// Timestamp is when the handoff was initiated.
	Timestamp time.Time `json:"timestamp"`
	// From is the sending agent.
	From string `json:"from"`
	// To is the destination agent.
	To string `json:"to"`
	// Context is the execution context being transferred.
	Context Context `json:"context"`
	// Recommendations is the sender's advice.
	Recommendations Recommendations `json:"recommendations"`
	// Urgency indicates how quickly the receiver should act.
	Urgency protocol.Priority `json:"urgency"`
	// BlockingIssues lists problems preventing the receiver from proceeding.
	BlockingIssues []string `json:"blocking_issues,omitempty"`
	// Dependencies lists work the receiver depends on.
	Dependencies []string `json:"dependencies,omitempty"`
	// TaskType labels the kind of task, for pattern observation.
	TaskType string `json:"task_type,omitempty"`
}

// Transfer is the caller-supplied input to Initiate.
type Transfer struct {
	Context         Context
	Recommendations Recommendations
	Urgency         protocol.Priority
	BlockingIssues  []string
	Dependencies    []string
	TaskType        string
}

// Inherited is the context a receiving agent inherits from a valid
// handoff: the merged execution context, recommendations, and
// dependencies, tagged with the sender and original timestamp.
type Inherited struct {
	From            string          `json:"from"`
	Timestamp       time.Time       `json:"timestamp"`
	Task            string          `json:"task"`
	Context         Context         `json:"context"`
	Recommendations Recommendations `json:"recommendations"`
	Dependencies    []string        `json:"dependencies,omitempty"`
}

// InvalidHandoffError reports every rule a handoff package violated.
type InvalidHandoffError struct {
	Violations []string
}

// Error implements the error interface.
func (e *InvalidHandoffError) Error() string {
	return fmt.Sprintf("invalid handoff: %s", strings.Join(e.Violations, "; "))
}

// Observer is notified of successfully validated handoffs so the
// learning engine can record them as pattern observations.
type Observer interface {
	ObserveHandoff(from, to, taskType string)
}

// Protocol coordinates handoffs between agents. It owns the pending
// slot per destination, the failed-receive slots kept for clarification
// retries, and the immutable handoff history.
type Protocol struct {
	mu       sync.RWMutex
	bus      *bus.Bus
	observer Observer
	pending  map[string]*Package
	failed   map[string]*Package
	history  []*Package

	initiated   int64
	received    int64
	failedCount int64
}

// New creates a handoff Protocol on top of the given bus. The observer
// may be nil.
func New(b *bus.Bus, observer Observer) *Protocol {
	return &Protocol{
		bus:      b,
		observer: observer,
		pending:  make(map[string]*Package),
		failed:   make(map[string]*Package),
	}
}

// Initiate builds and validates a handoff package, records it, and
// sends it to the destination via the bus. An existing pending handoff
// for the same destination is overwritten (last writer wins). The
// (from, to, task type) pair is recorded asynchronously as a pattern
// observation. Validation failure returns *InvalidHandoffError and
// sends nothing.
func (p *Protocol) Initiate(from, to string, t Transfer) (*Package, error) {
	urgency := t.Urgency
	if urgency == "" {
		urgency = protocol.PriorityNormal
	}

	pkg := &Package{
		SessionID:       uuid.NewString(),
		Timestamp:       time.Now(),
		From:            from,
		To:              to,
		Context:         t.Context,
		Recommendations: t.Recommendations,
		Urgency:         urgency,
		BlockingIssues:  append([]string(nil), t.BlockingIssues...),
		Dependencies:    append([]string(nil), t.Dependencies...),
		TaskType:        t.TaskType,
	}

	if err := validate(pkg); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.history = append(p.history, pkg)
	p.pending[to] = pkg
	p.initiated++
	p.mu.Unlock()

	msg := &protocol.Message{
		Type:     protocol.TypeHandoff,
		Priority: urgency,
		Payload:  payload(pkg),
	}
	if _, err := p.bus.Send(from, to, msg); err != nil {
		return nil, fmt.Errorf("send handoff message: %w", err)
	}

	if p.observer != nil {
		go p.observer.ObserveHandoff(from, to, pkg.TaskType)
	}

	return pkg, nil
}

// Receive consumes a handoff addressed to an agent. The pending slot is
// cleared atomically before validation, so a package is consumed at
// most once. On validation failure the package is retained in a failed
// slot (never silently dropped), exactly one clarification request is
// sent back to the sender, and no inherited context is returned. On
// success, a high-priority warning is sent back first when the package
// carries blocking issues.
func (p *Protocol) Receive(to string, pkg *Package) (*Inherited, error) {
	if pkg == nil {
		return nil, nil
	}

	p.mu.Lock()
	delete(p.pending, to)
	p.mu.Unlock()

	if err := validate(pkg); err != nil {
		p.mu.Lock()
		p.failed[to] = pkg
		p.failedCount++
		p.mu.Unlock()

		_, sendErr := p.bus.Send(to, pkg.From, &protocol.Message{
			Type:     protocol.TypeAssistanceRequest,
			Priority: protocol.PriorityHigh,
			Payload: map[string]any{
				"capability": "clarification",
				"reason":     "handoff validation failed",
				"session_id": pkg.SessionID,
				"violations": err.(*InvalidHandoffError).Violations,
			},
		})
		if sendErr != nil {
			return nil, fmt.Errorf("send clarification request: %w", sendErr)
		}
		return nil, nil
	}

	if len(pkg.BlockingIssues) > 0 {
		_, err := p.bus.Send(to, pkg.From, &protocol.Message{
			Type:     protocol.TypeWarning,
			Priority: protocol.PriorityHigh,
			Payload: map[string]any{
				"session_id":      pkg.SessionID,
				"blocking_issues": pkg.BlockingIssues,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("send blocking-issue warning: %w", err)
		}
	}

	p.mu.Lock()
	p.received++
	p.mu.Unlock()

	return &Inherited{
		From:            pkg.From,
		Timestamp:       pkg.Timestamp,
		Task:            pkg.Context.Task,
		Context:         pkg.Context,
		Recommendations: pkg.Recommendations,
		Dependencies:    pkg.Dependencies,
	}, nil
}

// Pending returns the pending handoff for an agent without consuming it.
func (p *Protocol) Pending(agent string) *Package {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pending[agent]
}

// Failed returns the most recent failed-receive package for an agent,
// kept so the sender's clarification can be acted on without data loss.
func (p *Protocol) Failed(agent string) *Package {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failed[agent]
}

// History returns a copy of the handoff history, oldest first.
func (p *Protocol) History() []*Package {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Package(nil), p.history...)
}

// validate applies the structural rules to a handoff package, returning
// an *InvalidHandoffError listing all violations.
func validate(pkg *Package) error {
	var violations []string
	if pkg.From == "" {
		violations = append(violations, "from is required")
	}
	if pkg.To == "" {
		violations = append(violations, "to is required")
	}
	if strings.TrimSpace(pkg.Context.Task) == "" {
		violations = append(violations, "execution context requires a non-empty task")
	}
	if len(violations) > 0 {
		return &InvalidHandoffError{Violations: violations}
	}
	return nil
}

// payload flattens a package into a message payload. The task is
// duplicated at the top level so handoff messages validate on their own.
func payload(pkg *Package) map[string]any {
	return map[string]any{
		"session_id": pkg.SessionID,
		"task":       pkg.Context.Task,
		"task_type":  pkg.TaskType,
		"context": map[string]any{
			"task":           pkg.Context.Task,
			"modified_files": pkg.Context.ModifiedFiles,
			"read_files":     pkg.Context.ReadFiles,
			"decisions":      pkg.Context.Decisions,
			"warnings":       pkg.Context.Warnings,
			"discoveries":    pkg.Context.Discoveries,
		},
		"recommendations": map[string]any{
			"next_actions":  pkg.Recommendations.NextActions,
			"risks":         pkg.Recommendations.Risks,
			"must_validate": pkg.Recommendations.MustValidate,
		},
		"urgency":         string(pkg.Urgency),
		"blocking_issues": pkg.BlockingIssues,
		"dependencies":    pkg.Dependencies,
	}
}
