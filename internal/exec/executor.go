package exec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmajors/ensemble/internal/coordinator"
	"github.com/tmajors/ensemble/internal/handoff"
	"github.com/tmajors/ensemble/internal/learning"
)

// taskEnvelope is the JSON document written to the subprocess's stdin.
type taskEnvelope struct {
	Agent       string                    `json:"agent"`
	Task        string                    `json:"task"`
	TaskType    string                    `json:"task_type"`
	CoAgents    []string                  `json:"co_agents,omitempty"`
	MCPServers  []string                  `json:"mcp_servers,omitempty"`
	Inherited   *handoff.Inherited        `json:"inherited,omitempty"`
	Learnings   *learning.Learnings       `json:"learnings,omitempty"`
	PriorOutput map[string]map[string]any `json:"prior_output,omitempty"`
}

// Subprocess runs each agent task as one invocation of an external
// command. The task envelope goes to stdin as JSON; the result is read
// from stdout as JSON. The agent name is appended as the final argument.
type Subprocess struct {
	runner  CommandRunner
	command string
	args    []string
	workDir string
}

// NewSubprocess creates a subprocess executor for the given command.
func NewSubprocess(command string, args []string) *Subprocess {
	return &Subprocess{
		runner:  NewRunner(),
		command: command,
		args:    args,
	}
}

// WithRunner substitutes the command runner (for tests).
func (s *Subprocess) WithRunner(r CommandRunner) *Subprocess {
	s.runner = r
	return s
}

// WithWorkDir sets the subprocess working directory.
func (s *Subprocess) WithWorkDir(dir string) *Subprocess {
	s.workDir = dir
	return s
}

// Execute implements coordinator.Executor.
func (s *Subprocess) Execute(ctx context.Context, task coordinator.Task, in coordinator.Input) (*coordinator.Result, error) {
	if s.command == "" {
		return nil, fmt.Errorf("no executor command configured")
	}

	env := taskEnvelope{
		Agent:      task.Agent,
		Task:       task.Description,
		TaskType:   task.TaskType,
		CoAgents:   task.CoAgents,
		MCPServers: in.MCPServers,
		Inherited:  in.Inherited,
		Learnings:  in.Learnings,
	}
	if len(in.PreviousResults) > 0 {
		env.PriorOutput = make(map[string]map[string]any, len(in.PreviousResults))
		for agent, res := range in.PreviousResults {
			env.PriorOutput[agent] = res.Outputs
		}
	}

	stdin, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode task for %s: %w", task.Agent, err)
	}

	args := append(append([]string(nil), s.args...), task.Agent)
	stdout, err := s.runner.Run(ctx, s.workDir, stdin, s.command, args...)
	if err != nil {
		return nil, fmt.Errorf("run agent %s: %w", task.Agent, err)
	}

	var res coordinator.Result
	if err := json.Unmarshal(stdout, &res); err != nil {
		return nil, fmt.Errorf("decode result from %s: %w", task.Agent, err)
	}
	return &res, nil
}

// Verify Subprocess implements the coordinator's executor contract.
var _ coordinator.Executor = (*Subprocess)(nil)
