package bus

import (
	"time"

	"github.com/tmajors/ensemble/pkg/protocol"
)

// Statistics summarizes bus activity for the aggregated report.
type Statistics struct {
	// TotalAgents is the number of registered agents.
	TotalAgents int `json:"total_agents"`
	// ActiveAgents is the number of agents active in the default window.
	ActiveAgents int `json:"active_agents"`
	// TotalMessages counts every message sent through the bus.
	TotalMessages int64 `json:"total_messages"`
	// MessagesByType is the message-type histogram.
	MessagesByType map[protocol.MessageType]int64 `json:"messages_by_type"`
	// HistorySize is the number of messages currently in the ring.
	HistorySize int `json:"history_size"`
}

// Statistics returns a snapshot of bus activity.
func (b *Bus) Statistics() Statistics {
	cutoff := time.Now().Add(-defaultActiveWindow)

	b.mu.RLock()
	defer b.mu.RUnlock()

	active := 0
	for _, reg := range b.agents {
		if reg.LastActive.After(cutoff) {
			active++
		}
	}

	byType := make(map[protocol.MessageType]int64, len(b.byType))
	for t, n := range b.byType {
		byType[t] = n
	}

	return Statistics{
		TotalAgents:    len(b.agents),
		ActiveAgents:   active,
		TotalMessages:  b.totalSent,
		MessagesByType: byType,
		HistorySize:    len(b.history),
	}
}
