package hub

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/cmdhub/config"
	inet "github.com/guseggert/cmdhub/internal/net"
	"github.com/guseggert/cmdhub/probe"
	"github.com/guseggert/cmdhub/registry"
	"github.com/guseggert/cmdhub/runner"
	"github.com/guseggert/cmdhub/session"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var log = zap.NewNop().Sugar()

const fakePM2Script = `#!/bin/sh
case "$1" in
jlist)
	echo '[{"name": "api", "pid": 7, "pm2_env": {"status": "online"}}]'
	;;
stop)
	echo "[PM2][ERROR] Process $2 not found" >&2
	exit 1
	;;
*)
	echo "$1 $2 done"
	;;
esac
`

// testConfig returns a config whose data files live in a temp dir, with a fake pm2 binary
// and one service listening on an ephemeral port.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	bin := filepath.Join(dir, "pm2")
	require.NoError(t, os.WriteFile(bin, []byte(fakePM2Script), 0755))

	l, port, err := inet.ListenEphemeral()
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	services := fmt.Sprintf(`{%q: {"name": "API", "icon": "server", "pm2Name": "api"}}`, strconv.Itoa(port))
	servicesPath := filepath.Join(dir, "services.json")
	require.NoError(t, os.WriteFile(servicesPath, []byte(services), 0644))

	cfg := config.Defaults()
	cfg.CatalogPath = filepath.Join(dir, "commands_db.json")
	cfg.ServicesPath = servicesPath
	cfg.RegistryBin = bin
	cfg.ProbeTimeout = time.Second
	return cfg
}

func newTestHub(t *testing.T, cfg config.Config, opts ...Option) (*Hub, *Client) {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop()), WithHostStats(false)}, opts...)
	h, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { h.Stop() })

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(log, srv.URL, WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 2
	}))
	require.NoError(t, err)
	return h, client
}

func TestDashboard(t *testing.T) {
	_, client := newTestHub(t, testConfig(t))
	ctx := context.Background()

	_, err := client.AddCommand(ctx, "Build", "make", "")
	require.NoError(t, err)

	snap, err := client.Dashboard(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "System Ready.", snap.LastOut)
	assert.Equal(t, "make", snap.Commands["build"].Cmd)
	require.Len(t, snap.Processes, 1)
	assert.True(t, snap.Processes[0].Online())
	require.Len(t, snap.Ports, 1)
	assert.Equal(t, "API", snap.Ports[0].Name)
	assert.True(t, snap.Ports[0].IsOpen)
	assert.True(t, snap.Ports[0].IsProcessLive)
	assert.Nil(t, snap.Host)

	snap, err = client.Dashboard(ctx, "deployed!")
	require.NoError(t, err)
	assert.Equal(t, "deployed!", snap.LastOut)
}

func TestDashboardWithoutRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistryBin = filepath.Join(t.TempDir(), "missing-pm2")
	_, client := newTestHub(t, cfg)

	resp, err := client.HTTPClient.Get(client.baseURL + "/api/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"pm2_procs":[]`)
}

func TestCommandLifecycle(t *testing.T) {
	_, client := newTestHub(t, testConfig(t))
	ctx := context.Background()

	cid, err := client.AddCommand(ctx, "Say Hi", "echo hi", "greets")
	require.NoError(t, err)
	assert.Equal(t, "sayhi", cid)

	res, err := client.RunCommand(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, &RunCommandResponse{Message: "Executed Say Hi", Output: "hi\n"}, res)

	_, err = client.AddCommand(ctx, "Fail", "echo bad >&2; exit 4", "")
	require.NoError(t, err)
	res, err = client.RunCommand(ctx, "fail")
	require.NoError(t, err)
	assert.Equal(t, "Executed Fail", res.Message)
	assert.Equal(t, "Command failed: echo bad >&2; exit 4\nbad\n", res.Output)

	_, err = client.RunCommand(ctx, "nope")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, "Command not found", statusErr.Message)

	_, err = client.AddCommand(ctx, "!!!", "ls", "")
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)

	require.NoError(t, client.DeleteCommand(ctx, cid))
	require.NoError(t, client.DeleteCommand(ctx, cid))
	snap, err := client.Dashboard(ctx, "")
	require.NoError(t, err)
	assert.NotContains(t, snap.Commands, cid)
}

func TestProcessAction(t *testing.T) {
	_, client := newTestHub(t, testConfig(t))
	ctx := context.Background()

	out, err := client.ProcessAction(ctx, "restart", "api")
	require.NoError(t, err)
	assert.Equal(t, "restart api done\n", out)

	out, err = client.ProcessAction(ctx, "stop", "ghost")
	require.NoError(t, err)
	assert.Contains(t, out, "Command failed: ")
	assert.Contains(t, out, "Process ghost not found")

	_, err = client.ProcessAction(ctx, "explode", "api")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
}

func TestCORS(t *testing.T) {
	cases := []struct {
		name      string
		allowed   []string
		origin    string
		expHeader string
	}{
		{name: "wildcard", allowed: []string{"*"}, origin: "http://localhost:5173", expHeader: "*"},
		{name: "listed origin", allowed: []string{"http://localhost:5173"}, origin: "http://localhost:5173", expHeader: "http://localhost:5173"},
		{name: "unlisted origin", allowed: []string{"http://localhost:5173"}, origin: "http://evil.example", expHeader: ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.AllowedOrigins = c.allowed
			h, _ := newTestHub(t, cfg)

			req := httptest.NewRequest(http.MethodOptions, "/api/add", nil)
			req.Header.Set("Origin", c.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")
			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, req)
			assert.Equal(t, c.expHeader, rec.Header().Get("Access-Control-Allow-Origin"))
			if c.expHeader != "" {
				assert.Equal(t, http.StatusNoContent, rec.Code)
			}

			req = httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", c.origin)
			rec = httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, c.expHeader, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns([]string{"http://a.example", "*"}))
	assert.Equal(t, []string{"localhost:5173", "b.example"}, originPatterns([]string{"http://localhost:5173", "b.example"}))
	assert.Nil(t, originPatterns(nil))
}

func TestLiveChannel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, client := newTestHub(t, testConfig(t))
	_, err := client.AddCommand(ctx, "Count", "printf 1; printf 2 >&2", "")
	require.NoError(t, err)

	conn, err := client.Live().Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	watcher, err := client.Live().Dial(ctx)
	require.NoError(t, err)
	defer watcher.Close()
	require.Eventually(t, func() bool { return h.Broker().Sessions() == 2 }, 5*time.Second, 10*time.Millisecond)

	id, err := conn.RunLive(ctx, "count")
	require.NoError(t, err)
	var out bytes.Buffer
	code, err := conn.Follow(ctx, id, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "> Starting: Count...\n")
	assert.Contains(t, out.String(), "1")
	assert.Contains(t, out.String(), "[ERROR] 2")
	assert.Contains(t, out.String(), "\n> Process exited with code 0\n")

	id, err = conn.ProcessAction(ctx, "api", "restart")
	require.NoError(t, err)
	out.Reset()
	code, err = conn.Follow(ctx, id, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "restart api done\n")
	assert.Contains(t, out.String(), "> PM2 action finished (code 0)\n")

	select {
	case msg := <-watcher.Messages():
		assert.Equal(t, session.EventRefreshData, msg.Event)
	case <-ctx.Done():
		t.Fatal("watcher never got refresh-data")
	}
}

func TestRunAndWaitForServer(t *testing.T) {
	port, err := inet.FreePort()
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.CatalogDriver = config.CatalogSQLite
	cfg.CatalogPath = filepath.Join(t.TempDir(), "catalog.db")

	h, err := New(cfg, WithLogger(zap.NewNop()), WithListenAddr(fmt.Sprintf("127.0.0.1:%d", port)))
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run() }()

	client, err := NewClient(
		log,
		fmt.Sprintf("http://127.0.0.1:%d", port),
		WithClientLogger(zap.NewNop()),
		WithClientWaitInterval(20*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))

	cid, err := client.AddCommand(ctx, "Stored In SQLite", "true", "")
	require.NoError(t, err)
	snap, err := client.Dashboard(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, snap.Commands, cid)

	require.NoError(t, h.Stop())
	require.NoError(t, <-errCh)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "staging"
	_, err := New(cfg)
	assert.ErrorContains(t, err, "invalid mode")

	_, err = NewClient(log, "ftp://example.com")
	assert.Error(t, err)
}

type fakeRegistry struct {
	procs []registry.Process
}

func (r *fakeRegistry) List(ctx context.Context) ([]registry.Process, error) {
	return r.procs, nil
}

func (r *fakeRegistry) ActionCommand(action, name string) (string, error) {
	return "supervisor " + action + " " + name, nil
}

type memServiceStore struct {
	services []probe.Service
}

func (s *memServiceStore) Load() ([]probe.Service, error) { return s.services, nil }

func (s *memServiceStore) Save(services []probe.Service) error {
	s.services = services
	return nil
}

// recordingExecutor answers every command with "ok" and remembers the command lines.
type recordingExecutor struct {
	m     sync.Mutex
	lines []string
}

func (x *recordingExecutor) Execute(commandLine string) <-chan runner.Event {
	x.m.Lock()
	x.lines = append(x.lines, commandLine)
	x.m.Unlock()

	events := make(chan runner.Event, 3)
	events <- runner.Event{Kind: runner.EventStart, Command: commandLine}
	events <- runner.Event{Kind: runner.EventOutput, Stream: runner.Stdout, Text: "ok\n"}
	events <- runner.Event{Kind: runner.EventExit}
	close(events)
	return events
}

func (x *recordingExecutor) commandLines() []string {
	x.m.Lock()
	defer x.m.Unlock()
	return append([]string(nil), x.lines...)
}

func TestInjectedComponents(t *testing.T) {
	port, err := inet.FreePort()
	require.NoError(t, err)

	reg := &fakeRegistry{procs: []registry.Process{{
		Name: "worker",
		PID:  42,
		Env:  registry.ProcessEnv{Status: registry.StatusStopped, Uptime: 1700000000000, Restarts: 3},
	}}}
	services := &memServiceStore{services: []probe.Service{{Port: strconv.Itoa(port), Name: "Worker", PM2Name: "worker"}}}
	x := &recordingExecutor{}

	_, client := newTestHub(t, testConfig(t), WithRegistry(reg), WithServiceStore(services), WithExecutor(x))
	ctx := context.Background()

	snap, err := client.Dashboard(ctx, "")
	require.NoError(t, err)
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, "worker", snap.Processes[0].Name)
	assert.Equal(t, int64(1700000000000), snap.Processes[0].Uptime())
	assert.Equal(t, 3, snap.Processes[0].Restarts())
	require.Len(t, snap.Ports, 1)
	assert.Equal(t, "Worker", snap.Ports[0].Name)
	assert.False(t, snap.Ports[0].IsOpen)
	assert.False(t, snap.Ports[0].IsProcessLive)

	out, err := client.ProcessAction(ctx, "restart", "worker")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
	assert.Equal(t, []string{"supervisor restart worker"}, x.commandLines())
}

func TestWithLogLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h, err := New(testConfig(t), WithLogger(zap.New(core)), WithLogLevel(zapcore.WarnLevel))
	require.NoError(t, err)
	t.Cleanup(func() { h.Stop() })

	h.logger.Info("hidden")
	h.logger.Warn("shown")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
}
