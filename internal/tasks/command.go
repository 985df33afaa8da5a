package tasks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/process"
)

// scratchAttempts bounds the search for an unused scratch file name.
const scratchAttempts = 16

// CommandAuditor records accepted commands and their outcome. For a given
// task CommandReceived is always called before CommandCompleted.
type CommandAuditor interface {
	CommandReceived(t *process.Task, raw []byte)
	CommandCompleted(t *process.Task, path string, r process.Result)
}

// CommandConfig configures the command adapter.
type CommandConfig struct {
	// Dir is where scratch files are created.
	Dir string

	// Timeout bounds one handler run.
	Timeout time.Duration

	// Launch returns the launch function that runs the handler on the
	// scratch file at path.
	Launch func(path string) process.LaunchFunc
}

// ExecCommand returns a CommandConfig.Launch that runs program with the
// scratch file path as its only argument.
func ExecCommand(program string, logger process.Logger) func(path string) process.LaunchFunc {
	return func(path string) process.LaunchFunc {
		return process.Exec(process.ExecConfig{
			Name:   "command",
			Binary: program,
			Args:   []string{path},
			Logger: logger,
		})
	}
}

// Command runs the command handler for validated remote commands.
type Command struct {
	queue   Submitter
	cfg     CommandConfig
	logger  Logger
	auditor CommandAuditor
	now     func() time.Time
}

// NewCommand creates the command adapter.
func NewCommand(queue Submitter, cfg CommandConfig) *Command {
	return &Command{
		queue:  queue,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the adapter.
func (c *Command) SetLogger(logger Logger) {
	c.logger = logger
}

// SetAuditor sets the recorder for accepted commands. Pass nil to remove it.
func (c *Command) SetAuditor(a CommandAuditor) {
	c.auditor = a
}

// Run writes raw to a new scratch file and queues the handler on it.
// The returned task completes asynchronously.
func (c *Command) Run(raw []byte) (*process.Task, error) {
	path, err := c.writeScratch(raw)
	if err != nil {
		return nil, err
	}

	t := &process.Task{
		Kind:    process.KindCommand,
		Name:    "command",
		Timeout: c.cfg.Timeout,
		Payload: raw,
		Launch:  c.cfg.Launch(path),
		OnQueued: func(t *process.Task) {
			if c.auditor != nil {
				c.auditor.CommandReceived(t, raw)
			}
		},
		OnComplete: func(t *process.Task, r process.Result) {
			c.complete(t, path, r)
		},
	}

	if err := c.queue.Submit(t, false); err != nil {
		return nil, fmt.Errorf("queueing command: %w", err)
	}

	c.logger.Info("command queued", "task", t.ID(), "file", path)
	return t, nil
}

func (c *Command) complete(t *process.Task, path string, r process.Result) {
	if r.Success() {
		c.logger.Info("command completed",
			"task", t.ID(),
			"file", path,
			"duration", r.Duration,
		)
	} else {
		c.logger.Warn("command failed",
			"task", t.ID(),
			"file", path,
			"state", r.State,
			"exit_code", r.ExitCode,
			"error", r.Err,
		)
	}

	if c.auditor != nil {
		c.auditor.CommandCompleted(t, path, r)
	}
}

// writeScratch creates <dir>/usync.cmd.<unix-nanos> exclusively and writes
// raw into it.
func (c *Command) writeScratch(raw []byte) (string, error) {
	stamp := c.now().UnixNano()

	for i := 0; i < scratchAttempts; i++ {
		path := filepath.Join(c.cfg.Dir, "usync.cmd."+strconv.FormatInt(stamp+int64(i), 10))

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) //nolint:gosec // path built from configured directory
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrScratchFile, err)
		}

		_, werr := f.Write(raw)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			os.Remove(path) //nolint:errcheck // best effort after a failed write
			return "", fmt.Errorf("%w: %w", ErrScratchFile, errors.Join(werr, cerr))
		}
		return path, nil
	}

	return "", fmt.Errorf("%w: no free name after %d attempts", ErrScratchFile, scratchAttempts)
}
