// Package exec runs agent tasks as external subprocesses.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command with the given stdin payload and returns
	// its stdout. The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, stdin []byte, name string, args ...string) (stdout []byte, err error)
}
