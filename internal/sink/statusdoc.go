package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AgentRow is one line of the agent table in the status document.
type AgentRow struct {
	Name         string
	Capabilities []string
	Sent         int64
	Received     int64
	LastActive   time.Time
}

// MessageRow is one line of the recent-message list.
type MessageRow struct {
	Timestamp time.Time
	From      string
	To        string
	Type      string
}

// PatternRow is one line of the learned-pattern list.
type PatternRow struct {
	Name         string
	DiscoveredBy string
	UsageCount   int
}

// PhaseProgress tracks how far plan execution has advanced.
type PhaseProgress struct {
	Current int
	Total   int
	Agents  []string
}

// Metrics holds the aggregate counters shown in the status document.
type Metrics struct {
	MessagesSent       int64
	HandoffsInitiated  int64
	HandoffSuccessRate float64
	PatternsLearned    int
	RecordsRetained    int
}

// Status is a full snapshot of coordinator state for the status document.
type Status struct {
	Agents         []AgentRow
	Phase          PhaseProgress
	RecentMessages []MessageRow
	Metrics        Metrics
	Patterns       []PatternRow
	UpdatedAt      time.Time
}

// StatusDoc rewrites a markdown status document on every significant
// event. The document is a pure sink: it is never read back.
type StatusDoc struct {
	mu   sync.Mutex
	path string
	errs chan error
}

// NewStatusDoc creates a status document writer for the given path.
// An empty path yields a no-op writer.
func NewStatusDoc(path string) *StatusDoc {
	return &StatusDoc{path: path, errs: make(chan error, errBufferSize)}
}

// Path returns the path of the status document.
func (d *StatusDoc) Path() string {
	return d.path
}

// Errors returns the error side-channel for failed rewrites.
func (d *StatusDoc) Errors() <-chan error {
	return d.errs
}

// Write rewrites the full status document from the snapshot. Failures
// are pushed to the error channel and otherwise ignored.
func (d *StatusDoc) Write(st Status) {
	if d == nil || d.path == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(st); err != nil {
		select {
		case d.errs <- err:
		default:
		}
	}
}

// write renders and atomically replaces the document.
func (d *StatusDoc) write(st Status) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(render(st)), 0644); err != nil {
		return fmt.Errorf("write status document: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("replace status document: %w", err)
	}
	return nil
}

// render produces the markdown document from a status snapshot.
func render(st Status) string {
	var b strings.Builder

	b.WriteString("# Ensemble Status\n\n")
	fmt.Fprintf(&b, "Last updated: %s\n\n", st.UpdatedAt.Format(time.RFC3339))

	b.WriteString("## Agents\n\n")
	if len(st.Agents) == 0 {
		b.WriteString("_No agents registered._\n\n")
	} else {
		b.WriteString("| Agent | Capabilities | Sent | Received | Last Active |\n")
		b.WriteString("|-------|--------------|------|----------|-------------|\n")
		for _, a := range st.Agents {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %s |\n",
				a.Name, strings.Join(a.Capabilities, ", "), a.Sent, a.Received,
				a.LastActive.Format(time.RFC3339))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Execution\n\n")
	if st.Phase.Total == 0 {
		b.WriteString("_Idle._\n\n")
	} else {
		fmt.Fprintf(&b, "Phase %d of %d", st.Phase.Current, st.Phase.Total)
		if len(st.Phase.Agents) > 0 {
			fmt.Fprintf(&b, " (running: %s)", strings.Join(st.Phase.Agents, ", "))
		}
		b.WriteString("\n\n")
	}

	b.WriteString("## Recent Messages\n\n")
	if len(st.RecentMessages) == 0 {
		b.WriteString("_No messages yet._\n\n")
	} else {
		for _, m := range st.RecentMessages {
			fmt.Fprintf(&b, "- `%s` %s -> %s: %s\n",
				m.Timestamp.Format("15:04:05"), m.From, m.To, m.Type)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Metrics\n\n")
	fmt.Fprintf(&b, "- Messages sent: %d\n", st.Metrics.MessagesSent)
	fmt.Fprintf(&b, "- Handoffs initiated: %d\n", st.Metrics.HandoffsInitiated)
	fmt.Fprintf(&b, "- Handoff success rate: %.0f%%\n", st.Metrics.HandoffSuccessRate*100)
	fmt.Fprintf(&b, "- Patterns learned: %d\n", st.Metrics.PatternsLearned)
	fmt.Fprintf(&b, "- Execution records retained: %d\n\n", st.Metrics.RecordsRetained)

	b.WriteString("## Learned Patterns\n\n")
	if len(st.Patterns) == 0 {
		b.WriteString("_No patterns discovered yet._\n")
	} else {
		for _, p := range st.Patterns {
			fmt.Fprintf(&b, "- %s (discovered by %s, used %d times)\n",
				p.Name, p.DiscoveredBy, p.UsageCount)
		}
	}

	return b.String()
}
