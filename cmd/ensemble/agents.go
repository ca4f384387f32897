package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tmajors/ensemble/internal/coordinator"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List known agent roles",
	Long: `Display the agent roles the classifier can require, the keywords
that select them, and how many execution records each has accumulated
in the local database.`,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	bold := color.New(color.Bold)
	bold.Println("Known agents:")

	kn, knErr := openKnowledge()
	if knErr == nil {
		defer kn.Close()
	}

	for _, rule := range coordinator.DefaultRules {
		fmt.Printf("\n  %s\n", rule.Agent)
		fmt.Printf("    task type: %s\n", rule.TaskType)
		fmt.Printf("    keywords:  %v\n", rule.Keywords)
		if len(rule.MCPServers) > 0 {
			fmt.Printf("    tools:     %v\n", rule.MCPServers)
		}
		if knErr == nil {
			n, err := kn.Count("record:" + rule.Agent + ":")
			if err == nil {
				fmt.Printf("    records:   %d\n", n)
			}
		}
	}
	return nil
}
