package session

const (
	EventRunLive     = "run-live"
	EventPM2Live     = "pm2-live"
	EventCmdOutput   = "cmd-output"
	EventRefreshData = "refresh-data"
)

// Kinds of cmd-output chunks.
const (
	KindStart      = "start"
	KindStdout     = "stdout"
	KindStderr     = "stderr"
	KindExit       = "exit"
	KindSpawnError = "spawn_error"
	KindError      = "error"
)

// requestMessage is a client->server message.
type requestMessage struct {
	Event string `json:"event"`
	// ID optionally names the invocation, and is echoed back on every chunk it produces.
	ID string `json:"id,omitempty"`

	CID string `json:"cid,omitempty"`

	Name   string `json:"name,omitempty"`
	Action string `json:"action,omitempty"`
}

// Message is a server->client message.
type Message struct {
	Event string `json:"event"`
	Chunk string `json:"chunk,omitempty"`

	Kind     string `json:"kind,omitempty"`
	ID       string `json:"id,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// Final reports whether m is the last chunk of an invocation.
func (m Message) Final() bool {
	if m.Event != EventCmdOutput {
		return false
	}
	switch m.Kind {
	case KindExit, KindSpawnError, KindError:
		return true
	}
	return false
}
