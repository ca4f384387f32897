package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tmajors/ensemble/internal/bus"
	"github.com/tmajors/ensemble/internal/config"
	"github.com/tmajors/ensemble/internal/coordinator"
	"github.com/tmajors/ensemble/internal/exec"
	"github.com/tmajors/ensemble/internal/handoff"
	"github.com/tmajors/ensemble/internal/knowledge"
	"github.com/tmajors/ensemble/internal/learning"
	"github.com/tmajors/ensemble/internal/sink"
	"github.com/tmajors/ensemble/internal/store"
)

var (
	runTimeout   time.Duration
	runExecutor  string
	runDryRun    bool
	runDB        string
	runLog       string
	runStatusDoc string
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Coordinate agents on a request",
	Long: `Classify a request, build an execution plan, and run it.

Agents run in sequential phases; compatible agents share a phase and
run in parallel. Each agent task is executed by the configured
executor command, which receives the task as JSON on stdin and must
print a result as JSON on stdout.

Examples:
  ensemble run "review the auth flow for security issues"
  ensemble run --dry-run "optimize slow database queries"
  ensemble run --timeout 5m "add an api endpoint and tests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Override the configured request timeout")
	runCmd.Flags().StringVar(&runExecutor, "executor", "", "Override the configured executor command")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print the execution plan without running it")
	runCmd.Flags().StringVar(&runDB, "db", "", "Override the database path")
	runCmd.Flags().StringVar(&runLog, "log", "", "Override the communication log path")
	runCmd.Flags().StringVar(&runStatusDoc, "status-doc", "", "Override the status document path")
}

func runRun(cmd *cobra.Command, args []string) error {
	request := args[0]
	for _, arg := range args[1:] {
		request += " " + arg
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runTimeout > 0 {
		cfg.Coordinator.Timeout = runTimeout
	}
	if runExecutor != "" {
		cfg.Executor.Command = runExecutor
	}
	if runDB != "" {
		cfg.Paths.Database = runDB
	}
	if runLog != "" {
		cfg.Paths.CommLog = runLog
	}
	if runStatusDoc != "" {
		cfg.Paths.StatusDoc = runStatusDoc
	}

	classifier := coordinator.NewKeywordClassifier(nil)
	planner := coordinator.NewPlanner(cfg.Coordinator.CoSchedulable)

	if runDryRun {
		analysis, err := classifier.Classify(request)
		if err != nil {
			return fmt.Errorf("classify request: %w", err)
		}
		plan, err := planner.Build(analysis, request)
		if err != nil {
			return fmt.Errorf("build execution plan: %w", err)
		}
		printPlan(plan)
		return nil
	}

	if cfg.Executor.Command == "" {
		return fmt.Errorf("no executor configured: set executor.command in %s or pass --executor", config.GetUserConfigPath())
	}

	dbPath := cfg.Paths.Database
	if dbPath == "" {
		dbPath = knowledge.DefaultDBPath()
	}
	kn, err := knowledge.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer kn.Close()

	commLog, err := sink.NewCommLog(cfg.Paths.CommLog)
	if err != nil {
		return fmt.Errorf("open communication log: %w", err)
	}
	defer commLog.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := store.New()
	shared.StartSweep(ctx, time.Minute)
	b := bus.New(bus.Options{
		HistorySize: cfg.Bus.HistorySize,
		MessageTTL:  cfg.Bus.MessageTTL,
		Shared:      shared,
		Knowledge:   kn,
		Log:         commLog,
	})

	engine := learning.New(learning.Options{
		RecordCap:  cfg.Learning.RecordCap,
		CacheTTL:   cfg.Learning.CacheTTL,
		RecordTTL:  cfg.Learning.RecordTTL,
		PatternTTL: cfg.Learning.PatternTTL,
		TopK:       cfg.Learning.TopK,
		Bus:        b,
		Knowledge:  kn,
	})
	handoffs := handoff.New(b, engine)

	for _, rule := range coordinator.DefaultRules {
		b.Register(rule.Agent, []string{rule.TaskType, "clarification"})
	}

	executor := exec.NewSubprocess(cfg.Executor.Command, cfg.Executor.Args)

	coord, err := coordinator.New(coordinator.Options{
		Bus:        b,
		Handoff:    handoffs,
		Learning:   engine,
		Classifier: classifier,
		Planner:    planner,
		Executor:   executor,
		Status:     sink.NewStatusDoc(cfg.Paths.StatusDoc),
		Timeout:    cfg.Coordinator.Timeout,
	})
	if err != nil {
		return err
	}

	report, err := coord.Run(ctx, request)
	if err != nil {
		return err
	}

	printReport(report)
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
	return nil
}

// printPlan renders a plan without executing it.
func printPlan(plan *coordinator.Plan) {
	bold := color.New(color.Bold)
	bold.Printf("Plan for: %s\n", plan.Request)
	fmt.Printf("Task type: %s\n", plan.TaskType)
	fmt.Printf("Tool servers: %v\n\n", plan.MCPServers)

	for i, phase := range plan.Phases {
		mode := "sequential"
		if phase.Parallel {
			mode = "parallel"
		}
		fmt.Printf("Phase %d (%s):\n", i+1, mode)
		for _, task := range phase.Tasks {
			fmt.Printf("  - %s\n", task.Agent)
		}
	}
}

// printReport renders the execution report with per-agent outcomes.
func printReport(report *coordinator.Report) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	bold := color.New(color.Bold)

	bold.Printf("\nRequest: %s\n", report.Request)
	fmt.Printf("Task type: %s\n", report.TaskType)
	fmt.Printf("Duration: %s\n\n", report.Duration.Round(time.Millisecond))

	agents := make([]string, 0, len(report.Results))
	for agent := range report.Results {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	for _, agent := range agents {
		res := report.Results[agent]
		switch {
		case res.TimedOut:
			yellow.Printf("  ⚠ %s", agent)
			fmt.Println(" (timed out)")
		case res.Err != nil:
			red.Printf("  ✗ %s", agent)
			fmt.Printf(" (%s)\n", res.Error)
		default:
			green.Printf("  ✓ %s", agent)
			fmt.Printf(" (%s)\n", res.Duration.Round(time.Millisecond))
		}
	}

	if len(report.Recommendations) > 0 {
		bold.Println("\nRecommendations:")
		for _, rec := range report.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}

	stats := report.Statistics
	bold.Println("\nSession:")
	fmt.Printf("  Messages sent: %d\n", stats.Bus.TotalMessages)
	fmt.Printf("  Handoffs: %d initiated, %d received\n", stats.Handoffs.Initiated, stats.Handoffs.Received)
	fmt.Printf("  Patterns known: %d\n", stats.Learning.Patterns)
}
