package coordinator

import "fmt"

// Task is one agent's assignment within a phase.
type Task struct {
	// Agent is the agent to execute.
	Agent string
	// Description is the task handed to the executor.
	Description string
	// TaskType labels the kind of work.
	TaskType string
	// CoAgents lists other agents running in the same phase.
	CoAgents []string
}

// Phase is a set of tasks scheduled to run concurrently. Phases execute
// strictly in order; a phase never starts before the previous phase's
// agents have all returned.
type Phase struct {
	Tasks    []Task
	Parallel bool
}

// Plan is an ordered list of phases built once per request. It is
// immutable once execution begins.
type Plan struct {
	Request  string
	TaskType string
	Phases   []Phase
	// MCPServers is carried from the analysis for executor input.
	MCPServers []string
}

// Agents returns every agent in the plan, phase order first.
func (p *Plan) Agents() []string {
	var agents []string
	for _, phase := range p.Phases {
		for _, task := range phase.Tasks {
			agents = append(agents, task.Agent)
		}
	}
	return agents
}

// defaultCoSchedulable lists agent groups with no write conflicts that
// are safe to run in one phase. Audit-style and data-optimization-style
// agents read disjoint surfaces.
var defaultCoSchedulable = [][]string{
	{"security-auditor", "database-optimizer"},
}

// Planner partitions required agents into phases using a fixed
// compatibility table. It is a deterministic rule-table partition, not
// a general dependency solver: agents that do not co-schedule keep
// their original request order, each in its own phase.
type Planner struct {
	groups [][]string
}

// NewPlanner creates a planner over the given co-schedulable groups.
// An empty table selects the default.
func NewPlanner(groups [][]string) *Planner {
	if len(groups) == 0 {
		groups = defaultCoSchedulable
	}
	return &Planner{groups: groups}
}

// Build partitions the analysis into phases. All agents belonging to
// one co-schedulable group form a single parallel phase positioned
// where the group's first member appeared; every other agent becomes a
// single-agent phase in original order.
func (p *Planner) Build(analysis *Analysis, request string) (*Plan, error) {
	if analysis == nil || len(analysis.Agents) == 0 {
		return nil, fmt.Errorf("analysis names no agents")
	}

	plan := &Plan{
		Request:    request,
		TaskType:   analysis.TaskType,
		MCPServers: append([]string(nil), analysis.MCPServers...),
	}

	consumed := make(map[string]bool)
	for _, agent := range analysis.Agents {
		if consumed[agent] {
			continue
		}

		group := p.groupMembers(agent, analysis.Agents)
		if len(group) > 1 {
			phase := Phase{Parallel: true}
			for _, member := range group {
				consumed[member] = true
				phase.Tasks = append(phase.Tasks, Task{
					Agent:       member,
					Description: request,
					TaskType:    analysis.TaskType,
					CoAgents:    others(group, member),
				})
			}
			plan.Phases = append(plan.Phases, phase)
			continue
		}

		consumed[agent] = true
		plan.Phases = append(plan.Phases, Phase{
			Tasks: []Task{{
				Agent:       agent,
				Description: request,
				TaskType:    analysis.TaskType,
			}},
		})
	}

	return plan, nil
}

// groupMembers returns the agents from required that share a
// co-schedulable group with agent, in required order. If agent belongs
// to no group, or is the group's only required member, the result is
// just the agent itself.
func (p *Planner) groupMembers(agent string, required []string) []string {
	for _, group := range p.groups {
		if !contains(group, agent) {
			continue
		}
		var members []string
		for _, name := range required {
			if contains(group, name) {
				members = append(members, name)
			}
		}
		return members
	}
	return []string{agent}
}

// others returns group members excluding self.
func others(group []string, self string) []string {
	var out []string
	for _, name := range group {
		if name != self {
			out = append(out, name)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
