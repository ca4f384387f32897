package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tmajors/ensemble/internal/knowledge"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show durable store statistics",
	Long: `Display counts of persisted messages, execution records, and
learned patterns from the local database.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	kn, err := openKnowledge()
	if err != nil {
		return err
	}
	defer kn.Close()

	messages, err := kn.Count("message:")
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	records, err := kn.Count("record:")
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	patterns, err := kn.Count("pattern:")
	if err != nil {
		return fmt.Errorf("count patterns: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("Knowledge store: %s\n\n", kn.Path())
	fmt.Printf("  Messages:          %d\n", messages)
	fmt.Printf("  Execution records: %d\n", records)
	fmt.Printf("  Learned patterns:  %d\n", patterns)
	return nil
}

// openKnowledge opens the configured database, falling back to the XDG
// default path.
func openKnowledge() (*knowledge.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dbPath := cfg.Paths.Database
	if dbPath == "" {
		dbPath = knowledge.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no database at %s: run 'ensemble run <request>' first", dbPath)
	}
	kn, err := knowledge.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	return kn, nil
}
