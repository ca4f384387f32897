package learning

// Statistics summarizes learning-engine state for the aggregated report.
type Statistics struct {
	// AgentsTracked is the number of agents with retained records.
	AgentsTracked int `json:"agents_tracked"`
	// RecordsRetained is the number of records currently held across
	// all per-agent rings.
	RecordsRetained int `json:"records_retained"`
	// RecordsTotal counts every record ever reported, including ones
	// the rings have since evicted.
	RecordsTotal int64 `json:"records_total"`
	// Patterns is the size of the pattern library.
	Patterns int `json:"patterns"`
	// CachedQueries is the number of cached learnings results.
	CachedQueries int `json:"cached_queries"`
}

// Statistics returns a snapshot of engine state.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	retained := 0
	for _, ring := range e.records {
		retained += len(ring)
	}

	return Statistics{
		AgentsTracked:   len(e.records),
		RecordsRetained: retained,
		RecordsTotal:    e.totalRecords,
		Patterns:        len(e.patterns),
		CachedQueries:   len(e.cache),
	}
}
