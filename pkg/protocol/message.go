// Package protocol defines the message shapes exchanged between agents:
// message types, priorities, and the structural validation rules applied
// before a message enters the bus. It is pure data and carries no state.
package protocol

import "time"

// Broadcast is the sentinel recipient meaning "every registered agent".
const Broadcast = "broadcast"

// MessageType identifies the kind of inter-agent message.
type MessageType string

const (
	// TypeFindingReport carries a finding discovered during execution.
	TypeFindingReport MessageType = "finding_report"
	// TypeAssistanceRequest asks another agent for help with a capability.
	TypeAssistanceRequest MessageType = "assistance_request"
	// TypeValidationRequest asks another agent to validate work.
	TypeValidationRequest MessageType = "validation_request"
	// TypeValidationResult carries the outcome of a validation request.
	TypeValidationResult MessageType = "validation_result"
	// TypeHandoff transfers execution context to another agent.
	TypeHandoff MessageType = "handoff"
	// TypeProgressUpdate reports intermediate progress.
	TypeProgressUpdate MessageType = "progress_update"
	// TypePatternDiscovered announces a newly observed pattern.
	TypePatternDiscovered MessageType = "pattern_discovered"
	// TypeOptimizationTip shares an optimization another agent can apply.
	TypeOptimizationTip MessageType = "optimization_tip"
	// TypeWarning flags a risk or blocking issue.
	TypeWarning MessageType = "warning"
	// TypeErrorReport reports an error encountered during execution.
	TypeErrorReport MessageType = "error_report"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case TypeFindingReport, TypeAssistanceRequest, TypeValidationRequest,
		TypeValidationResult, TypeHandoff, TypeProgressUpdate,
		TypePatternDiscovered, TypeOptimizationTip, TypeWarning, TypeErrorReport:
		return true
	default:
		return false
	}
}

// Priority indicates how urgently a message should be handled.
type Priority string

const (
	// PriorityLow marks informational messages.
	PriorityLow Priority = "low"
	// PriorityNormal is the default priority.
	PriorityNormal Priority = "normal"
	// PriorityHigh marks messages that need immediate attention.
	PriorityHigh Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

// SenderSnapshot captures the sender's registration state at send time.
type SenderSnapshot struct {
	// Name is the sender's registered agent name.
	Name string `json:"name"`
	// Capabilities is the sender's capability set.
	Capabilities []string `json:"capabilities,omitempty"`
	// MessagesSent is the sender's sent counter at send time.
	MessagesSent int64 `json:"messages_sent"`
	// MessagesReceived is the sender's received counter at send time.
	MessagesReceived int64 `json:"messages_received"`
	// LastActive is the sender's last-active timestamp at send time.
	LastActive time.Time `json:"last_active"`
}

// Message is a single communication unit between agents. Messages are
// immutable once sent; the bus assigns ID and Timestamp if absent.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`
	// Timestamp is when the message was sent.
	Timestamp time.Time `json:"timestamp"`
	// From is the sending agent's name.
	From string `json:"from"`
	// To is the receiving agent's name, or the Broadcast sentinel.
	To string `json:"to"`
	// Type is the kind of message.
	Type MessageType `json:"type"`
	// Priority indicates handling urgency.
	Priority Priority `json:"priority"`
	// Payload holds the message body as opaque structured data.
	Payload map[string]any `json:"payload,omitempty"`
	// Sender is a snapshot of the sender's registration at send time.
	Sender *SenderSnapshot `json:"sender,omitempty"`
	// ToolData holds attached external-tool results, if any.
	ToolData map[string]any `json:"tool_data,omitempty"`
}
