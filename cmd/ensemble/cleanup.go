package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired entries from the durable store",
	Long: `Delete expired messages, execution records, and patterns from the
local database.

Expired entries are also removed lazily on read; this command reclaims
space for entries that are never read again.

Examples:
  ensemble cleanup`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	kn, err := openKnowledge()
	if err != nil {
		return err
	}
	defer kn.Close()

	removed, err := kn.Sweep()
	if err != nil {
		return fmt.Errorf("sweep expired entries: %w", err)
	}

	fmt.Printf("Removed %d expired entries from %s\n", removed, kn.Path())
	return nil
}
