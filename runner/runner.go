package runner

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/guseggert/cmdhub/internal/shell"
	"go.uber.org/zap"
)

const readBufSize = 32768

type EventKind int

const (
	EventStart EventKind = iota
	EventOutput
	EventExit
	EventSpawnError
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventOutput:
		return "output"
	case EventExit:
		return "exit"
	case EventSpawnError:
		return "spawn_error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Stream int

const (
	Stdout Stream = iota + 1
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	}
	return ""
}

// Event is one step of an invocation. Which fields are set depends on Kind:
// Command for EventStart, Stream and Text for EventOutput, ExitCode and TimeMS for EventExit, Err for EventSpawnError.
type Event struct {
	Kind EventKind

	Command string

	Stream Stream
	Text   string

	ExitCode int
	TimeMS   int64

	Err error
}

// Terminal reports whether e is the last event of its invocation.
func (e Event) Terminal() bool {
	return e.Kind == EventExit || e.Kind == EventSpawnError
}

// Executor is the part of Runner that other packages depend on.
type Executor interface {
	Execute(commandLine string) <-chan Event
}

type Runner struct {
	Log *zap.SugaredLogger
	// Shell interprets command lines, see shell.Resolve.
	Shell string
	// Dir is the working directory for commands, empty for the current one.
	Dir string
	Env []string
}

func New(log *zap.SugaredLogger, shellPath, dir string) *Runner {
	return &Runner{
		Log:   log.Named("runner"),
		Shell: shell.Resolve(shellPath),
		Dir:   dir,
	}
}

// Execute starts commandLine through the shell and returns its event stream.
// The returned channel is unbuffered and closed after the terminal event.
func (r *Runner) Execute(commandLine string) <-chan Event {
	events := make(chan Event)
	go r.run(commandLine, events)
	return events
}

func (r *Runner) run(commandLine string, events chan<- Event) {
	defer close(events)

	events <- Event{Kind: EventStart, Command: commandLine}

	cmd := exec.Command(r.Shell, "-c", commandLine)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		events <- Event{Kind: EventSpawnError, Err: fmt.Errorf("creating stdout pipe: %w", err)}
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		events <- Event{Kind: EventSpawnError, Err: fmt.Errorf("creating stderr pipe: %w", err)}
		return
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.Log.Debugw("spawn failed", "Command", commandLine, "Error", err)
		events <- Event{Kind: EventSpawnError, Err: err}
		return
	}
	r.Log.Debugw("process started", "Command", commandLine, "PID", cmd.Process.Pid)

	// Wait closes the pipes, so both readers have to hit EOF first.
	var wg sync.WaitGroup
	wg.Add(2)
	go r.pump(&wg, stdout, Stdout, events)
	go r.pump(&wg, stderr, Stderr, events)
	wg.Wait()

	err = cmd.Wait()
	timeMS := time.Since(start).Milliseconds()
	exitCode := cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		r.Log.Debugf("unexpected wait error: %s", err)
	}

	r.Log.Debugf("process %d exited with code %d", cmd.Process.Pid, exitCode)
	events <- Event{Kind: EventExit, ExitCode: exitCode, TimeMS: timeMS}
}

func (r *Runner) pump(wg *sync.WaitGroup, rd io.Reader, stream Stream, events chan<- Event) {
	defer wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			events <- Event{Kind: EventOutput, Stream: stream, Text: string(buf[:n])}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.Log.Debugf("%s reader got error: %s", stream, err)
			}
			return
		}
	}
}

// CommandError is returned by Capture when the command exits non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("Command failed: %s", e.Command)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

// Capture runs commandLine to completion and returns its stdout.
// A non-zero exit yields a *CommandError, a failed spawn yields the spawn error.
func Capture(x Executor, commandLine string) (string, error) {
	var stdout, stderr strings.Builder
	var result error
	for ev := range x.Execute(commandLine) {
		switch ev.Kind {
		case EventOutput:
			if ev.Stream == Stderr {
				stderr.WriteString(ev.Text)
			} else {
				stdout.WriteString(ev.Text)
			}
		case EventExit:
			if ev.ExitCode != 0 {
				result = &CommandError{Command: commandLine, ExitCode: ev.ExitCode, Stderr: stderr.String()}
			}
		case EventSpawnError:
			result = fmt.Errorf("starting command: %w", ev.Err)
		}
	}
	return stdout.String(), result
}
