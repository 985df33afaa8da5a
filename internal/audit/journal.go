package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/process"
)

// writeTimeout bounds one repository write.
const writeTimeout = 2 * time.Second

// queueSize is the number of entries buffered for the writer. Entries beyond
// it are dropped.
const queueSize = 256

// source tags every entry written by the bridge.
const source = "mqtt"

// Logger defines the logging interface for the journal.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Journal turns command events into audit entries.
//
// The event methods only enqueue; a single writer goroutine started by Start
// performs the repository writes in order. A full queue drops the entry and
// write failures are logged, so command handling never waits on SQLite.
type Journal struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	mu      sync.Mutex
	queue   chan *Entry
	started bool
	closed  bool
	done    chan struct{}
}

// NewJournal creates a journal writing to repo. Call Start to begin writing.
func NewJournal(repo Repository) *Journal {
	return newJournal(repo, queueSize)
}

func newJournal(repo Repository, size int) *Journal {
	return &Journal{
		repo:   repo,
		logger: noopLogger{},
		now:    time.Now,
		queue:  make(chan *Entry, size),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the journal. Call before Start.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// Start launches the writer goroutine. Calling it again is a no-op.
func (j *Journal) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started || j.closed {
		return
	}
	j.started = true
	go func() {
		defer close(j.done)
		j.drain()
	}()
}

// Close stops accepting entries and returns once every queued entry has
// been written. Without Start the queue is written inline.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.queue)
	started := j.started
	j.mu.Unlock()

	if started {
		<-j.done
		return
	}
	j.drain()
}

// CommandReceived records an accepted command.
func (j *Journal) CommandReceived(t *process.Task, raw []byte) {
	var cmd struct {
		Cmd string `json:"cmd"`
	}
	_ = json.Unmarshal(raw, &cmd) //nolint:errcheck // validated by the router

	j.post(&Entry{
		Action: ActionCommandReceived,
		TaskID: t.ID(),
		Details: map[string]any{
			"cmd": cmd.Cmd,
			"raw": string(raw),
		},
	})
}

// CommandRejected records a command that was dropped.
func (j *Journal) CommandRejected(raw []byte, reason error) {
	j.post(&Entry{
		Action: ActionCommandRejected,
		Details: map[string]any{
			"reason": reason.Error(),
			"raw":    string(raw),
		},
	})
}

// CommandCompleted records the outcome of a command run.
func (j *Journal) CommandCompleted(t *process.Task, path string, r process.Result) {
	details := map[string]any{
		"file":        path,
		"state":       string(r.State),
		"exit_code":   r.ExitCode,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		details["error"] = r.Err.Error()
	}

	j.post(&Entry{
		Action:  ActionCommandCompleted,
		TaskID:  t.ID(),
		Details: details,
	})
}

// post stamps e and hands it to the writer without blocking.
func (j *Journal) post(e *Entry) {
	e.Source = source
	e.CreatedAt = j.now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.logger.Warn("audit journal closed, dropping entry", "action", e.Action)
		return
	}
	select {
	case j.queue <- e:
	default:
		j.logger.Warn("audit queue full, dropping entry", "action", e.Action, "capacity", cap(j.queue))
	}
}

// drain writes entries until the queue is closed and empty.
func (j *Journal) drain() {
	for e := range j.queue {
		j.write(e)
	}
}

func (j *Journal) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.repo.Create(ctx, e); err != nil {
		j.logger.Warn("failed to write audit entry", "action", e.Action, "error", err)
		return
	}
	j.logger.Debug("audit entry written", "action", e.Action, "id", e.ID)
}
