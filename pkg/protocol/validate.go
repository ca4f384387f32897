package protocol

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports every structural rule a message violated,
// not just the first one encountered.
type ValidationError struct {
	// Violations lists each violated rule in check order.
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s", strings.Join(e.Violations, "; "))
}

// Validate checks a message against the structural rules. It returns a
// *ValidationError listing all violations, or nil if the message is valid.
func Validate(msg *Message) error {
	var violations []string

	if msg == nil {
		return &ValidationError{Violations: []string{"message is nil"}}
	}
	if msg.From == "" {
		violations = append(violations, "from is required")
	}
	if msg.To == "" {
		violations = append(violations, "to is required")
	}
	if !msg.Type.Valid() {
		violations = append(violations, fmt.Sprintf("unknown message type %q", msg.Type))
	}

	if msg.Type == TypeHandoff {
		violations = append(violations, validateHandoffPayload(msg.Payload)...)
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// validateHandoffPayload applies the extra rules for handoff messages:
// the payload must carry a non-empty task description, and if the
// recommendations block includes next actions they must be list-typed.
func validateHandoffPayload(payload map[string]any) []string {
	var violations []string

	if handoffTask(payload) == "" {
		violations = append(violations, "handoff payload requires a non-empty task description")
	}

	if recs, ok := payload["recommendations"].(map[string]any); ok {
		if next, present := recs["next_actions"]; present && next != nil {
			if reflect.ValueOf(next).Kind() != reflect.Slice {
				violations = append(violations, "recommendations.next_actions must be a list")
			}
		}
	}

	return violations
}

// handoffTask extracts the task description from a handoff payload.
// The task may appear at the top level or nested under the context block.
func handoffTask(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if task, ok := payload["task"].(string); ok && task != "" {
		return task
	}
	if ctx, ok := payload["context"].(map[string]any); ok {
		if task, ok := ctx["task"].(string); ok {
			return task
		}
	}
	return ""
}
