package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the coordinator status document",
	Long: `Print the status document written during plan execution.

The document shows registered agents, phase progress, recent messages,
and learned patterns. With --watch, the command keeps running and
reprints the document whenever the coordinator rewrites it.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Reprint on every status rewrite")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	path := cfg.Paths.StatusDoc
	if path == "" {
		fmt.Println("No status document configured. Set paths.status_doc in config.")
		return nil
	}

	if err := printStatusDoc(path); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}
	return watchStatusDoc(path)
}

// printStatusDoc prints the document, tolerating its absence.
func printStatusDoc(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Println("No status document yet. Run 'ensemble run <request>' to start.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read status document: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// watchStatusDoc reprints the document on every rewrite until interrupted.
// The coordinator replaces the file atomically, so the watch covers the
// directory and filters on the document name.
func watchStatusDoc(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			fmt.Print("\033[H\033[2J") // clear screen
			if err := printStatusDoc(path); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case <-interrupt:
			return nil
		}
	}
}
