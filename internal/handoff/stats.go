package handoff

// Statistics summarizes handoff activity for the aggregated report.
type Statistics struct {
	// Initiated counts successfully validated handoffs sent.
	Initiated int64 `json:"initiated"`
	// Received counts handoffs consumed with a valid package.
	Received int64 `json:"received"`
	// FailedReceives counts receives rejected by validation.
	FailedReceives int64 `json:"failed_receives"`
	// Pending is the number of destinations with an unconsumed handoff.
	Pending int `json:"pending"`
	// SuccessRate is received / (received + failed receives), 0 when
	// nothing has been received yet.
	SuccessRate float64 `json:"success_rate"`
}

// Statistics returns a snapshot of handoff activity.
func (p *Protocol) Statistics() Statistics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var rate float64
	if total := p.received + p.failedCount; total > 0 {
		rate = float64(p.received) / float64(total)
	}

	return Statistics{
		Initiated:      p.initiated,
		Received:       p.received,
		FailedReceives: p.failedCount,
		Pending:        len(p.pending),
		SuccessRate:    rate,
	}
}
