package coordinator

import (
	"time"

	"github.com/tmajors/ensemble/internal/bus"
	"github.com/tmajors/ensemble/internal/handoff"
	"github.com/tmajors/ensemble/internal/learning"
	"github.com/tmajors/ensemble/internal/sink"
)

// Statistics aggregates activity counters from every subsystem.
type Statistics struct {
	Bus      bus.Statistics      `json:"bus"`
	Handoffs handoff.Statistics  `json:"handoffs"`
	Learning learning.Statistics `json:"learning"`
}

// Statistics returns the aggregated subsystem counters.
func (c *Coordinator) Statistics() Statistics {
	return Statistics{
		Bus:      c.bus.Statistics(),
		Handoffs: c.handoff.Statistics(),
		Learning: c.learning.Statistics(),
	}
}

// writeStatus rewrites the status document with a fresh snapshot of
// agents, messages, metrics, and patterns. No-op without a status sink.
func (c *Coordinator) writeStatus(phase sink.PhaseProgress) {
	if c.status == nil {
		return
	}

	st := sink.Status{
		Phase:     phase,
		UpdatedAt: time.Now(),
	}

	for _, reg := range c.bus.Agents() {
		st.Agents = append(st.Agents, sink.AgentRow{
			Name:         reg.Name,
			Capabilities: reg.Capabilities,
			Sent:         reg.MessagesSent,
			Received:     reg.MessagesReceived,
			LastActive:   reg.LastActive,
		})
	}

	for _, msg := range c.bus.History(10) {
		st.RecentMessages = append(st.RecentMessages, sink.MessageRow{
			Timestamp: msg.Timestamp,
			From:      msg.From,
			To:        msg.To,
			Type:      string(msg.Type),
		})
	}

	for _, pat := range c.learning.Patterns() {
		st.Patterns = append(st.Patterns, sink.PatternRow{
			Name:         pat.Name,
			DiscoveredBy: pat.DiscoveredBy,
			UsageCount:   pat.UsageCount,
		})
	}

	stats := c.Statistics()
	st.Metrics = sink.Metrics{
		MessagesSent:       stats.Bus.TotalMessages,
		HandoffsInitiated:  stats.Handoffs.Initiated,
		HandoffSuccessRate: stats.Handoffs.SuccessRate,
		PatternsLearned:    stats.Learning.Patterns,
		RecordsRetained:    stats.Learning.RecordsRetained,
	}

	c.status.Write(st)
}
