// Package registry talks to the external process supervisor (PM2) that owns the long-running processes.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/guseggert/cmdhub/internal/shell"
	"go.uber.org/zap"
)

var ErrUnknownAction = errors.New("unknown process action")

// listWaitDelay bounds how long List waits for pipes held open by children of a killed pm2.
const listWaitDelay = 250 * time.Millisecond

type Status string

const (
	StatusOnline    Status = "online"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusLaunching Status = "launching"
	StatusErrored   Status = "errored"
)

// ProcessEnv and Monit mirror the nested objects of `pm2 jlist`.
type ProcessEnv struct {
	Status   Status `json:"status"`
	Uptime   int64  `json:"pm_uptime"`
	Restarts int    `json:"restart_time"`
}

type Monit struct {
	Memory uint64  `json:"memory"`
	CPU    float64 `json:"cpu"`
}

// Process is a point-in-time view of one supervised process.
type Process struct {
	Name  string     `json:"name"`
	PID   int        `json:"pid"`
	Env   ProcessEnv `json:"pm2_env"`
	Monit Monit      `json:"monit"`
}

func (p Process) Status() Status { return p.Env.Status }
func (p Process) Online() bool { return p.Env.Status == StatusOnline }
func (p Process) CPU() float64 { return p.Monit.CPU }
func (p Process) Memory() uint64 { return p.Monit.Memory }
func (p Process) Restarts() int { return p.Env.Restarts }
func (p Process) Uptime() int64 { return p.Env.Uptime }
func (p Process) String() string { return fmt.Sprintf("%s (%s)", p.Name, p.Env.Status) }

// Lister returns the current process list.
type Lister interface {
	List(ctx context.Context) ([]Process, error)
}

// Actions are the lifecycle verbs accepted by ActionCommand.
var Actions = map[string]bool{
	"start":   true,
	"stop":    true,
	"restart": true,
	"reload":  true,
	"delete":  true,
	"reset":   true,
}

// PM2 runs the pm2 CLI.
type PM2 struct {
	Log *zap.SugaredLogger
	Bin string
	// Timeout bounds List. Zero means no bound.
	Timeout time.Duration
}

func NewPM2(log *zap.SugaredLogger, bin string, timeout time.Duration) *PM2 {
	return &PM2{Log: log.Named("pm2"), Bin: bin, Timeout: timeout}
}

func (p *PM2) List(ctx context.Context) ([]Process, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Bin, "jlist")
	cmd.WaitDelay = listWaitDelay
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("running %s jlist: %w: %s", p.Bin, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("running %s jlist: %w", p.Bin, err)
	}
	procs, err := ParseList(out)
	if err != nil {
		return nil, err
	}
	p.Log.Debugw("listed processes", "Count", len(procs))
	return procs, nil
}

// ParseList decodes `pm2 jlist` output. pm2 sometimes prints banner lines such as
// "[PM2] Spawning PM2 daemon" before the JSON array, so decoding starts at the first
// line that begins with '[' and holds a valid array.
func ParseList(b []byte) ([]Process, error) {
	s := string(b)
	if strings.TrimSpace(s) == "" {
		return []Process{}, nil
	}

	var lastErr error
	offset := 0
	for _, line := range strings.SplitAfter(s, "\n") {
		start := offset
		offset += len(line)
		if !strings.HasPrefix(strings.TrimSpace(line), "[") {
			continue
		}
		var procs []Process
		if err := json.Unmarshal([]byte(s[start:]), &procs); err != nil {
			lastErr = err
			continue
		}
		if procs == nil {
			procs = []Process{}
		}
		return procs, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("decoding process list: %w", lastErr)
	}
	return nil, fmt.Errorf("process list is not a JSON array: %q", truncate(s, 80))
}

// ActionCommand builds the shell command line performing action on the named process.
func (p *PM2) ActionCommand(action, name string) (string, error) {
	if !Actions[action] {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if name == "" {
		return "", errors.New("process name is required")
	}
	return fmt.Sprintf("%s %s %s", shell.Word(p.Bin), action, shell.Word(name)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
