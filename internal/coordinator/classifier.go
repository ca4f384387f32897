// Package coordinator turns a request into an execution plan, runs its
// phases with a barrier between them, triggers handoffs between phases,
// and feeds every completed execution to the learning engine.
package coordinator

import "strings"

// memoryMCPServer is the long-term-memory tool every analysis depends on.
const memoryMCPServer = "memory"

// Analysis is the classifier's answer: which agents a request needs.
type Analysis struct {
	// Agents lists required agent names, deduplicated, in match order.
	Agents []string
	// TaskType labels the dominant kind of work.
	TaskType string
	// MCPServers lists external tool servers the request depends on.
	MCPServers []string
}

// Classifier maps free-text requests to required agents. The keyword
// rule table is one pluggable implementation.
type Classifier interface {
	Classify(text string) (*Analysis, error)
}

// Rule maps request keywords to an agent and its task type.
type Rule struct {
	// Keywords trigger the rule when any appears in the request.
	Keywords []string
	// Agent is the agent the rule requires.
	Agent string
	// TaskType labels the work the rule represents.
	TaskType string
	// MCPServers lists tool servers the agent depends on.
	MCPServers []string
}

// DefaultRules is the built-in keyword rule table.
var DefaultRules = []Rule{
	{
		Keywords:   []string{"security", "vulnerability", "auth", "rbac", "audit"},
		Agent:      "security-auditor",
		TaskType:   "security",
		MCPServers: []string{"security-scanner"},
	},
	{
		Keywords:   []string{"database", "query", "queries", "index", "schema", "migration"},
		Agent:      "database-optimizer",
		TaskType:   "database",
		MCPServers: []string{"postgres"},
	},
	{
		Keywords:   []string{"api", "endpoint", "backend", "service", "handler"},
		Agent:      "backend-api-developer",
		TaskType:   "backend",
		MCPServers: nil,
	},
	{
		Keywords:   []string{"frontend", "ui", "component", "page"},
		Agent:      "frontend-developer",
		TaskType:   "frontend",
		MCPServers: nil,
	},
	{
		Keywords:   []string{"test", "coverage", "regression"},
		Agent:      "test-engineer",
		TaskType:   "testing",
		MCPServers: nil,
	},
	{
		Keywords:   []string{"docs", "documentation", "readme"},
		Agent:      "documentation-writer",
		TaskType:   "documentation",
		MCPServers: nil,
	},
}

// KeywordClassifier selects agents by keyword rule matching.
type KeywordClassifier struct {
	rules []Rule
	// fallback is the agent used when no rule matches.
	fallback string
}

// NewKeywordClassifier creates a classifier over the given rule table.
// An empty table selects DefaultRules.
func NewKeywordClassifier(rules []Rule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &KeywordClassifier{
		rules:    rules,
		fallback: "backend-api-developer",
	}
}

// Classify matches the request against the rule table. Agents are
// deduplicated in match order, and the long-term-memory tool is always
// appended as a dependency.
func (c *KeywordClassifier) Classify(text string) (*Analysis, error) {
	lower := strings.ToLower(text)

	analysis := &Analysis{TaskType: "general"}
	seenAgent := make(map[string]struct{})
	seenServer := make(map[string]struct{})

	for _, rule := range c.rules {
		if !rule.matches(lower) {
			continue
		}
		if _, ok := seenAgent[rule.Agent]; !ok {
			seenAgent[rule.Agent] = struct{}{}
			analysis.Agents = append(analysis.Agents, rule.Agent)
		}
		if analysis.TaskType == "general" {
			analysis.TaskType = rule.TaskType
		}
		for _, server := range rule.MCPServers {
			if _, ok := seenServer[server]; !ok {
				seenServer[server] = struct{}{}
				analysis.MCPServers = append(analysis.MCPServers, server)
			}
		}
	}

	if len(analysis.Agents) == 0 {
		analysis.Agents = []string{c.fallback}
	}

	// Long-term memory is always a dependency.
	if _, ok := seenServer[memoryMCPServer]; !ok {
		analysis.MCPServers = append(analysis.MCPServers, memoryMCPServer)
	}

	return analysis, nil
}

// matches reports whether any rule keyword appears in the request.
func (r Rule) matches(lower string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
