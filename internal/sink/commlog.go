// Package sink provides the durable output surfaces of the coordinator:
// an append-only communication log and a periodically rewritten status
// document. Writes are best-effort; failures are surfaced on a bounded
// error side-channel instead of propagating to the caller.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tmajors/ensemble/pkg/protocol"
)

// errBufferSize bounds the error side-channel. Once full, further write
// failures are dropped rather than blocking the sender.
const errBufferSize = 64

// CommLog appends inter-agent messages to a durable text log.
// It wraps file-based logging with thread-safe access.
type CommLog struct {
	mu   sync.Mutex
	file *os.File
	errs chan error
}

// NewCommLog creates a log writing to the given path.
// If the path is empty, returns a no-op log.
// Creates parent directories if they don't exist.
func NewCommLog(path string) (*CommLog, error) {
	l := &CommLog{errs: make(chan error, errBufferSize)}
	if path == "" {
		return l, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l.file = f
	return l, nil
}

// NopCommLog returns a no-op log for testing or when logging is disabled.
func NopCommLog() *CommLog {
	return &CommLog{errs: make(chan error, errBufferSize)}
}

// Append writes one message to the log as a header line followed by the
// serialized message. Failures never propagate: they are pushed to the
// error channel and otherwise ignored.
func (l *CommLog) Append(msg *protocol.Message) {
	if l == nil || l.file == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		l.reportError(fmt.Errorf("marshal message %s: %w", msg.ID, err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = fmt.Fprintf(l.file, "[%s] %s -> %s: %s\n%s\n",
		msg.Timestamp.Format(time.RFC3339), msg.From, msg.To, msg.Type, data)
	if err != nil {
		l.reportError(fmt.Errorf("append to comm log: %w", err))
	}
}

// Errors returns the error side-channel. Consumers may drain it to
// observe sink write failures; leaving it undrained is safe.
func (l *CommLog) Errors() <-chan error {
	return l.errs
}

// reportError pushes an error to the side-channel without blocking.
func (l *CommLog) reportError(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Close closes the log file. Safe to call on a no-op log.
func (l *CommLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
