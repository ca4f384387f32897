package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tmajors/ensemble/internal/bus"
	"github.com/tmajors/ensemble/internal/handoff"
	"github.com/tmajors/ensemble/internal/learning"
	"github.com/tmajors/ensemble/internal/sink"
)

// Recommendations is an executor's advice after completing a task.
type Recommendations struct {
	// NextAgents names agents that should run next.
	NextAgents []string `json:"next_agents,omitempty"`
	// Optimizations lists improvements worth applying.
	Optimizations []string `json:"optimizations,omitempty"`
	// Warnings lists risks downstream agents should know about.
	Warnings []string `json:"warnings,omitempty"`
}

// Result is what an agent executor returns for one task.
type Result struct {
	// Outputs is the executor's opaque output data.
	Outputs map[string]any `json:"outputs,omitempty"`
	// Recommendations is the executor's advice.
	Recommendations Recommendations `json:"recommendations"`
	// ToolSequence is the ordered tools the executor used.
	ToolSequence []string `json:"tool_sequence,omitempty"`
	// ToolUsage maps external tool names to invocation counts.
	ToolUsage map[string]int `json:"tool_usage,omitempty"`
	// FilesTouched lists files the executor modified or read.
	FilesTouched []string `json:"files_touched,omitempty"`
	// Discoveries lists newly observed patterns.
	Discoveries []learning.Discovery `json:"discoveries,omitempty"`
	// Quality is an optional self-reported quality score.
	Quality float64 `json:"quality,omitempty"`
}

// Input carries everything an executor gets besides the task itself.
type Input struct {
	// PreviousResults holds results from earlier phases, by agent.
	PreviousResults map[string]*Result
	// Inherited is the consumed pending handoff, if any.
	Inherited *handoff.Inherited
	// Learnings is the learning engine's advice for this task.
	Learnings *learning.Learnings
	// MCPServers lists external tool servers available to the agent.
	MCPServers []string
}

// Executor runs one agent's task. Implementations are opaque to the
// coordinator; failures are caught and recorded, never re-raised.
type Executor interface {
	Execute(ctx context.Context, task Task, in Input) (*Result, error)
}

// AgentResult is the per-agent outcome kept in the final report.
type AgentResult struct {
	Agent    string        `json:"agent"`
	Result   *Result       `json:"result,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`

	// inherited is the handoff the agent consumed, carried to the
	// barrier where the execution record is written.
	inherited *handoff.Inherited
}

// Report is the final execution report. It always includes the
// per-agent breakdown and recommendations, even when phases partially
// failed.
type Report struct {
	Request         string                  `json:"request"`
	TaskType        string                  `json:"task_type"`
	Succeeded       []string                `json:"succeeded"`
	Failed          []string                `json:"failed"`
	Results         map[string]*AgentResult `json:"results"`
	Recommendations []string                `json:"recommendations,omitempty"`
	Duration        time.Duration           `json:"duration"`
	Statistics      Statistics              `json:"statistics"`
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	Bus        *bus.Bus
	Handoff    *handoff.Protocol
	Learning   *learning.Engine
	Classifier Classifier
	Planner    *Planner
	Executor   Executor
	// Status rewrites the status document on significant events. May be nil.
	Status *sink.StatusDoc
	// Timeout bounds a whole plan's execution; zero means unbounded.
	Timeout time.Duration
	// SessionID labels this coordinator run. Generated when empty.
	SessionID string
}

// Coordinator is the root component: it builds plans and runs them.
// It is the only component that fans out concurrent work.
type Coordinator struct {
	bus        *bus.Bus
	handoff    *handoff.Protocol
	learning   *learning.Engine
	classifier Classifier
	planner    *Planner
	executor   Executor
	status     *sink.StatusDoc
	timeout    time.Duration
	sessionID  string
}

// New creates a Coordinator. Bus, Handoff, Learning, and Executor are
// required; Classifier and Planner default to the keyword classifier
// and the default compatibility table.
func New(opts Options) (*Coordinator, error) {
	if opts.Bus == nil || opts.Handoff == nil || opts.Learning == nil {
		return nil, fmt.Errorf("coordinator requires bus, handoff, and learning")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("coordinator requires an executor")
	}
	if opts.Classifier == nil {
		opts.Classifier = NewKeywordClassifier(nil)
	}
	if opts.Planner == nil {
		opts.Planner = NewPlanner(nil)
	}
	if opts.SessionID == "" {
		opts.SessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return &Coordinator{
		bus:        opts.Bus,
		handoff:    opts.Handoff,
		learning:   opts.Learning,
		classifier: opts.Classifier,
		planner:    opts.Planner,
		executor:   opts.Executor,
		status:     opts.Status,
		timeout:    opts.Timeout,
		sessionID:  opts.SessionID,
	}, nil
}

// Run classifies a request, builds the plan, and executes it. A
// classifier or planner failure is total: it returns an error and no
// partial report.
func (c *Coordinator) Run(ctx context.Context, request string) (*Report, error) {
	analysis, err := c.classifier.Classify(request)
	if err != nil {
		return nil, fmt.Errorf("classify request: %w", err)
	}

	plan, err := c.planner.Build(analysis, request)
	if err != nil {
		return nil, fmt.Errorf("build execution plan: %w", err)
	}

	return c.ExecutePlan(ctx, plan), nil
}

// ExecutePlan runs the plan's phases strictly in order. Agents within a
// phase run concurrently; a phase never starts before every agent in
// the previous phase has returned or the request deadline has passed.
// Agent failures are isolated: they are recorded, never re-raised, and
// never abort the phase or plan.
func (c *Coordinator) ExecutePlan(ctx context.Context, plan *Plan) *Report {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	report := &Report{
		Request:  plan.Request,
		TaskType: plan.TaskType,
		Results:  make(map[string]*AgentResult),
	}

	previous := make(map[string]*Result)
	timedOut := false

	for i, phase := range plan.Phases {
		c.writeStatus(sink.PhaseProgress{
			Current: i + 1,
			Total:   len(plan.Phases),
			Agents:  phaseAgents(phase),
		})

		if timedOut || ctx.Err() != nil {
			// The request deadline has passed: later phases are
			// reported as failed without being invoked. Each skipped
			// agent still gets a failed execution record.
			for _, task := range phase.Tasks {
				res := &AgentResult{
					Agent:    task.Agent,
					Err:      ctx.Err(),
					Error:    ctx.Err().Error(),
					TimedOut: true,
				}
				c.recordOutcome(task, res, nil)
				report.Results[task.Agent] = res
			}
			continue
		}

		// Each phase reads its own snapshot. A straggler from an
		// abandoned barrier keeps its view while later phases write
		// to the live map.
		results := c.executePhase(ctx, phase, snapshotResults(previous), plan.MCPServers)
		for _, res := range results {
			report.Results[res.Agent] = res
			if res.Err == nil && res.Result != nil {
				previous[res.Agent] = res.Result
			}
			if res.TimedOut {
				timedOut = true
			}
		}

		if i+1 < len(plan.Phases) {
			c.initiateInterPhaseHandoffs(results, plan.Phases[i+1], plan.TaskType)
		}
	}

	report.Duration = time.Since(started)
	for _, agent := range plan.Agents() {
		res, ok := report.Results[agent]
		if ok && res.Err == nil && !res.TimedOut {
			report.Succeeded = append(report.Succeeded, agent)
		} else {
			report.Failed = append(report.Failed, agent)
		}
	}
	report.Recommendations = collectRecommendations(report)
	report.Statistics = c.Statistics()

	c.writeStatus(sink.PhaseProgress{Current: len(plan.Phases), Total: len(plan.Phases)})

	return report
}

// executePhase launches every task in the phase concurrently and waits
// for all of them to return, or for the request deadline. Results from
// agents that finished before a timeout are retained; the rest are
// marked timed out. The barrier is the single point that decides each
// agent's outcome and writes its execution record: a straggler that
// returns after an abandoned barrier was already recorded as failed,
// and its late result is discarded.
func (c *Coordinator) executePhase(ctx context.Context, phase Phase, previous map[string]*Result, mcpServers []string) []*AgentResult {
	resultCh := make(chan *AgentResult, len(phase.Tasks))

	var wg sync.WaitGroup
	for _, task := range phase.Tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			resultCh <- c.executeAgent(ctx, task, previous, mcpServers)
		}(task)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	byAgent := make(map[string]*AgentResult, len(phase.Tasks))
	collect := func() {
		for {
			select {
			case res := <-resultCh:
				byAgent[res.Agent] = res
			default:
				return
			}
		}
	}

	select {
	case <-done:
		collect()
	case <-ctx.Done():
		// Abandon the barrier: keep whatever finished, mark the rest.
		collect()
	}

	results := make([]*AgentResult, 0, len(phase.Tasks))
	for _, task := range phase.Tasks {
		res, ok := byAgent[task.Agent]
		if !ok {
			res = &AgentResult{
				Agent:    task.Agent,
				Err:      ctx.Err(),
				Error:    fmt.Sprintf("agent %s did not finish before the request deadline", task.Agent),
				TimedOut: true,
			}
		}
		c.recordOutcome(task, res, res.inherited)
		results = append(results, res)
	}
	return results
}

// snapshotResults copies the accumulated phase results for hand-out to
// agent goroutines.
func snapshotResults(m map[string]*Result) map[string]*Result {
	out := make(map[string]*Result, len(m))
	for agent, res := range m {
		out[agent] = res
	}
	return out
}

// executeAgent runs one task: it queries the learning engine, consumes
// any pending handoff for the agent, and invokes the executor. Executor
// panics and errors are captured in the AgentResult; the outcome is
// recorded by the phase barrier, not here.
func (c *Coordinator) executeAgent(ctx context.Context, task Task, previous map[string]*Result, mcpServers []string) (out *AgentResult) {
	started := time.Now()
	out = &AgentResult{Agent: task.Agent}

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("agent executor panicked: %v", r)
			out.Error = out.Err.Error()
			out.Duration = time.Since(started)
		}
	}()

	learnings := c.learning.QueryLearnings(task.Agent, learning.TaskContext{
		TaskType: task.TaskType,
	}, len(previous) > 0)

	in := Input{
		PreviousResults: previous,
		Learnings:       learnings,
		MCPServers:      mcpServers,
	}

	if pending := c.handoff.Pending(task.Agent); pending != nil {
		inherited, err := c.handoff.Receive(task.Agent, pending)
		if err != nil {
			log.Printf("[coordinator] warning: receive handoff for %s: %v", task.Agent, err)
		}
		in.Inherited = inherited
	}
	out.inherited = in.Inherited

	res, err := c.executor.Execute(ctx, task, in)
	out.Duration = time.Since(started)
	out.Result = res
	if err != nil {
		out.Err = err
		out.Error = err.Error()
	}
	return out
}

// recordOutcome reports an execution record to the learning engine.
func (c *Coordinator) recordOutcome(task Task, res *AgentResult, inherited *handoff.Inherited) {
	rec := &learning.Record{
		Agent:     task.Agent,
		Timestamp: time.Now(),
		SessionID: c.sessionID,
		Duration:  res.Duration,
		Context: learning.TaskContext{
			TaskType: task.TaskType,
		},
		Success: res.Err == nil && !res.TimedOut,
	}
	if res.Err != nil {
		rec.Errors = []string{res.Err.Error()}
	}
	if res.Result != nil {
		rec.ToolSequence = res.Result.ToolSequence
		rec.ToolUsage = res.Result.ToolUsage
		rec.FilesTouched = res.Result.FilesTouched
		rec.Discoveries = res.Result.Discoveries
		rec.Quality = res.Result.Quality
		rec.Context.Files = res.Result.FilesTouched
	}
	if inherited != nil {
		rec.Collaborations = map[string]int{inherited.From: 1}
	}
	c.learning.RecordExecution(task.Agent, rec)
}

// initiateInterPhaseHandoffs sends a handoff from every completed agent
// whose recommended next agents intersect the following phase. Handoffs
// are guaranteed initiated before the next phase begins because this
// runs between the phase barrier and the next phase's launch.
func (c *Coordinator) initiateInterPhaseHandoffs(results []*AgentResult, next Phase, taskType string) {
	nextAgents := make(map[string]Task, len(next.Tasks))
	for _, task := range next.Tasks {
		nextAgents[task.Agent] = task
	}

	for _, res := range results {
		if res.Err != nil || res.Result == nil {
			continue
		}
		for _, candidate := range res.Result.Recommendations.NextAgents {
			task, ok := nextAgents[candidate]
			if !ok {
				continue
			}
			_, err := c.handoff.Initiate(res.Agent, candidate, handoff.Transfer{
				Context: handoff.Context{
					Task:          task.Description,
					ModifiedFiles: res.Result.FilesTouched,
					Warnings:      res.Result.Recommendations.Warnings,
				},
				Recommendations: handoff.Recommendations{
					NextActions: res.Result.Recommendations.Optimizations,
				},
				TaskType: taskType,
			})
			if err != nil {
				log.Printf("[coordinator] warning: handoff %s -> %s failed: %v", res.Agent, candidate, err)
			}
		}
	}
}

// collectRecommendations gathers deduplicated recommendations from
// every successful agent result.
func collectRecommendations(report *Report) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, agent := range report.Succeeded {
		res := report.Results[agent]
		if res == nil || res.Result == nil {
			continue
		}
		for _, opt := range res.Result.Recommendations.Optimizations {
			if _, ok := seen[opt]; !ok {
				seen[opt] = struct{}{}
				out = append(out, opt)
			}
		}
	}
	return out
}

// phaseAgents lists the agents of one phase.
func phaseAgents(phase Phase) []string {
	agents := make([]string, len(phase.Tasks))
	for i, task := range phase.Tasks {
		agents[i] = task.Agent
	}
	return agents
}
