package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait keeps copying helper output after the
// helper itself has exited. Grandchildren that inherit the pipes would
// otherwise hold Wait open.
const waitDelay = 2 * time.Second

// Process is a started child process.
type Process interface {
	// Pid returns the process ID.
	Pid() int

	// Signal delivers sig to the process and its process group.
	// Signalling a process that has already exited is not an error.
	Signal(sig syscall.Signal) error

	// Wait blocks until the process exits. It is called exactly once, from
	// a goroutine owned by the queue.
	Wait() Exit
}

// Exit describes how a process ended.
type Exit struct {
	// Code is the exit status, or -1 when the process was killed by a signal.
	Code int

	// Signal is the terminating signal, or 0.
	Signal syscall.Signal

	// Err is set when the exit status could not be collected.
	Err error
}

// Success reports whether the process exited 0.
func (e Exit) Success() bool {
	return e.Err == nil && e.Signal == 0 && e.Code == 0
}

// ExecConfig describes a helper program.
type ExecConfig struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// Logger receives the helper's stdout and stderr at debug level.
	Logger Logger
}

// Exec returns a LaunchFunc that starts cfg.Binary in its own process group.
func Exec(cfg ExecConfig) LaunchFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return func(t *Task) (Process, error) {
		cmd := exec.Command(cfg.Binary, cfg.Args...) //nolint:gosec // Binary path comes from validated config

		// New process group so termination reaches helpers the script forks.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if cfg.Env != nil {
			cmd.Env = append(os.Environ(), cfg.Env...)
		}
		if cfg.WorkDir != "" {
			cmd.Dir = cfg.WorkDir
		}

		cmd.Stdout = &outputWriter{logger: logger, name: cfg.Name, stream: "stdout"}
		cmd.Stderr = &outputWriter{logger: logger, name: cfg.Name, stream: "stderr"}
		cmd.WaitDelay = waitDelay

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("starting %s: %w", cfg.Name, err)
		}

		logger.Debug("helper started",
			"name", cfg.Name,
			"task", t.ID(),
			"pid", cmd.Process.Pid,
		)

		return &osProcess{cmd: cmd}, nil
	}
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Signal(sig syscall.Signal) error {
	// Negative PID addresses the process group created via Setpgid.
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signalling process group %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

func (p *osProcess) Wait() Exit {
	err := p.cmd.Wait()

	state := p.cmd.ProcessState
	if state == nil {
		return Exit{Code: -1, Err: err}
	}

	exit := Exit{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		exit.Code = -1
		exit.Signal = ws.Signal()
	}

	// Exit statuses are already captured above. Anything else (an I/O copy
	// error, ErrWaitDelay) is only worth a log line, not a failed result.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		exit.Err = err
	}
	return exit
}

// outputWriter forwards helper output to the logger, one line per record.
type outputWriter struct {
	logger Logger
	name   string
	stream string
}

func (w *outputWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.logger.Debug("process output",
			"name", w.name,
			"stream", w.stream,
			"output", line,
		)
	}
	return len(p), nil
}
