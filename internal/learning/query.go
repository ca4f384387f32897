package learning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Similarity weights. Task-type agreement dominates; file and
// technology overlap contribute proportionally up to a ceiling.
const (
	weightTaskType   = 40.0
	weightComplexity = 20.0
	weightPerFile    = 2.0
	fileOverlapCap   = 20.0
	weightPerTech    = 4.0
	techOverlapCap   = 20.0

	// maxConfidence is the saturation bound for the confidence score.
	maxConfidence = 95.0
)

// Approach is the recommended way to execute a task.
type Approach struct {
	// ToolSequence is the most frequent successful tool sequence.
	ToolSequence []string `json:"tool_sequence,omitempty"`
	// ExternalTools is the union of externally used tools across
	// successful matching records.
	ExternalTools []string `json:"external_tools,omitempty"`
}

// DurationEstimate is mean ± one standard deviation of successful
// execution durations.
type DurationEstimate struct {
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"std_dev"`
}

// Learnings is the synthesized answer to a learnings query. All fields
// are empty and Confidence is 0 when no historical record matches; the
// caller must treat that as "no prior knowledge", not an error.
type Learnings struct {
	RecommendedApproach   Approach         `json:"recommended_approach"`
	CommonPitfalls        []string         `json:"common_pitfalls,omitempty"`
	OptimizationTips      []string         `json:"optimization_tips,omitempty"`
	CollaborationPatterns []string         `json:"collaboration_patterns,omitempty"`
	EstimatedDuration     DurationEstimate `json:"estimated_duration"`
	// Confidence grows with matching sample count and saturates at 95.
	Confidence float64 `json:"confidence"`
	// Matches is how many historical records informed the answer.
	Matches int `json:"matches"`
}

// QueryLearnings synthesizes recommendations for an agent about to run
// a task. Results are cached per (agent, task type, complexity,
// previous-results flag) with a fixed expiry.
func (e *Engine) QueryLearnings(agent string, qctx TaskContext, hasPrevious bool) *Learnings {
	key := cacheKey(agent, qctx, hasPrevious)

	e.mu.RLock()
	if entry, ok := e.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		e.mu.RUnlock()
		return entry.learnings
	}
	history := append([]*Record(nil), e.records[agent]...)
	e.mu.RUnlock()

	learnings := e.synthesize(history, qctx)

	e.mu.Lock()
	e.cache[key] = cacheEntry{learnings: learnings, expiresAt: time.Now().Add(e.cacheTTL)}
	e.mu.Unlock()

	return learnings
}

// cacheKey builds the learnings cache key.
func cacheKey(agent string, qctx TaskContext, hasPrevious bool) string {
	return fmt.Sprintf("%s|%s|%s|%t", agent, qctx.TaskType, qctx.Complexity, hasPrevious)
}

// scored pairs a record with its similarity score against the query.
type scored struct {
	rec   *Record
	score float64
}

// synthesize scores history against the query context, keeps the top-K
// matches, and derives the recommendation fields from them.
func (e *Engine) synthesize(history []*Record, qctx TaskContext) *Learnings {
	var matches []scored
	for _, rec := range history {
		if s := similarity(rec.Context, qctx); s > 0 {
			matches = append(matches, scored{rec: rec, score: s})
		}
	}

	if len(matches) == 0 {
		return &Learnings{}
	}

	// Highest score first; newer records win ties.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].rec.Timestamp.After(matches[j].rec.Timestamp)
	})
	if len(matches) > e.topK {
		matches = matches[:e.topK]
	}

	top := make([]*Record, len(matches))
	for i, m := range matches {
		top[i] = m.rec
	}

	return &Learnings{
		RecommendedApproach: Approach{
			ToolSequence:  mostFrequentSequence(top),
			ExternalTools: externalToolUnion(top),
		},
		CommonPitfalls:        pitfalls(top),
		OptimizationTips:      optimizationTips(top),
		CollaborationPatterns: collaborationPatterns(top),
		EstimatedDuration:     estimateDuration(top),
		Confidence:            confidence(len(matches)),
		Matches:               len(matches),
	}
}

// similarity computes the weighted similarity between a historical
// record's context and the query context.
func similarity(rec, q TaskContext) float64 {
	var score float64

	if q.TaskType != "" && rec.TaskType == q.TaskType {
		score += weightTaskType
	}
	if q.Complexity != "" && rec.Complexity == q.Complexity {
		score += weightComplexity
	}
	score += math.Min(float64(overlap(rec.Files, q.Files))*weightPerFile, fileOverlapCap)
	score += math.Min(float64(overlap(rec.Technologies, q.Technologies))*weightPerTech, techOverlapCap)

	return score
}

// overlap counts elements present in both sets.
func overlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	n := 0
	for _, s := range b {
		if _, ok := set[s]; ok {
			n++
		}
	}
	return n
}

// mostFrequentSequence returns the successful tool sequence observed
// most often, by exact structural equality over a serialized form.
// Ties break toward the sequence seen first.
func mostFrequentSequence(records []*Record) []string {
	counts := make(map[string]int)
	var order []string
	sequences := make(map[string][]string)

	for _, rec := range records {
		if !rec.Success || len(rec.ToolSequence) == 0 {
			continue
		}
		key := strings.Join(rec.ToolSequence, "\x1f")
		if _, seen := counts[key]; !seen {
			order = append(order, key)
			sequences[key] = rec.ToolSequence
		}
		counts[key]++
	}

	var bestKey string
	bestCount := 0
	for _, key := range order {
		if counts[key] > bestCount {
			bestKey, bestCount = key, counts[key]
		}
	}
	if bestKey == "" {
		return nil
	}
	return append([]string(nil), sequences[bestKey]...)
}

// externalToolUnion returns the union of external tools used across
// successful records, in first-seen order.
func externalToolUnion(records []*Record) []string {
	seen := make(map[string]struct{})
	var tools []string
	for _, rec := range records {
		if !rec.Success {
			continue
		}
		names := make([]string, 0, len(rec.ToolUsage))
		for tool := range rec.ToolUsage {
			names = append(names, tool)
		}
		sort.Strings(names)
		for _, tool := range names {
			if _, ok := seen[tool]; !ok {
				seen[tool] = struct{}{}
				tools = append(tools, tool)
			}
		}
	}
	return tools
}

// pitfalls collects deduplicated errors and bottlenecks from the
// matching records.
func pitfalls(records []*Record) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, rec := range records {
		for _, e := range rec.Errors {
			add(e)
		}
		for _, b := range rec.Bottlenecks {
			add(b)
		}
	}
	return out
}

// optimizationTips surfaces discovery names from successful records.
func optimizationTips(records []*Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range records {
		if !rec.Success {
			continue
		}
		for _, d := range rec.Discoveries {
			if _, ok := seen[d.Name]; !ok && d.Name != "" {
				seen[d.Name] = struct{}{}
				out = append(out, d.Name)
			}
		}
	}
	return out
}

// collaborationPatterns summarizes which agents past executions
// collaborated with, most frequent first.
func collaborationPatterns(records []*Record) []string {
	totals := make(map[string]int)
	for _, rec := range records {
		for agent, n := range rec.Collaborations {
			totals[agent] += n
		}
	}
	if len(totals) == 0 {
		return nil
	}

	agents := make([]string, 0, len(totals))
	for agent := range totals {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool {
		if totals[agents[i]] != totals[agents[j]] {
			return totals[agents[i]] > totals[agents[j]]
		}
		return agents[i] < agents[j]
	})

	out := make([]string, len(agents))
	for i, agent := range agents {
		out[i] = fmt.Sprintf("collaborates with %s (%d interactions)", agent, totals[agent])
	}
	return out
}

// estimateDuration returns mean ± one standard deviation over
// successful durations.
func estimateDuration(records []*Record) DurationEstimate {
	var durations []float64
	for _, rec := range records {
		if rec.Success {
			durations = append(durations, float64(rec.Duration))
		}
	}
	if len(durations) == 0 {
		return DurationEstimate{}
	}

	var sum float64
	for _, d := range durations {
		sum += d
	}
	mean := sum / float64(len(durations))

	var variance float64
	for _, d := range durations {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(durations))

	return DurationEstimate{
		Mean:   time.Duration(mean),
		StdDev: time.Duration(math.Sqrt(variance)),
	}
}

// confidence grows with the number of matching samples and saturates.
func confidence(matches int) float64 {
	return math.Min(maxConfidence, float64(matches)*9.5)
}
