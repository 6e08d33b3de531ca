package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/cmdhub/catalog"
	"github.com/guseggert/cmdhub/runner"
	"go.uber.org/zap"
)

// Sink delivers messages to one connected client.
type Sink interface {
	Send(msg Message) error
}

// Session is one connected client.
type Session struct {
	ID string

	log  *zap.SugaredLogger
	sink Sink

	m      sync.Mutex
	closed bool
}

// send delivers msg unless the session has gone away. Delivery failures are dropped.
func (s *Session) send(msg Message) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return
	}
	if err := s.sink.Send(msg); err != nil {
		s.log.Debugw("dropping message", "Event", msg.Event, "Error", err)
	}
}

func (s *Session) close() {
	s.m.Lock()
	s.closed = true
	s.m.Unlock()
}

// CommandLookup finds stored commands by id.
type CommandLookup interface {
	Get(id string) (catalog.Command, error)
}

// ActionBuilder turns a lifecycle action into a command line.
type ActionBuilder interface {
	ActionCommand(action, name string) (string, error)
}

// ActionResult describes a finished lifecycle action.
type ActionResult struct {
	SessionID string
	Name      string
	Action    string
	ExitCode  int
}

type Broker struct {
	Log      *zap.SugaredLogger
	Commands CommandLookup
	Actions  ActionBuilder
	Runner   runner.Executor

	// ActionDone is called after a lifecycle action's process exits and its last chunk was sent to the requester.
	ActionDone func(ActionResult)

	m        sync.Mutex
	sessions map[string]*Session

	inflight sync.WaitGroup
}

func NewBroker(log *zap.SugaredLogger, commands CommandLookup, actions ActionBuilder, x runner.Executor) *Broker {
	return &Broker{
		Log:      log.Named("broker"),
		Commands: commands,
		Actions:  actions,
		Runner:   x,
		sessions: map[string]*Session{},
	}
}

// Connect registers a new session that delivers to sink.
func (b *Broker) Connect(sink Sink) *Session {
	sess := &Session{
		ID:   uuid.NewString(),
		sink: sink,
	}
	sess.log = b.Log.With("Session", sess.ID)

	b.m.Lock()
	if b.sessions == nil {
		b.sessions = map[string]*Session{}
	}
	b.sessions[sess.ID] = sess
	n := len(b.sessions)
	b.m.Unlock()

	sess.log.Debugw("session connected", "Sessions", n)
	return sess
}

// Disconnect forgets sess. Invocations it started keep running, their remaining output is dropped.
func (b *Broker) Disconnect(sess *Session) {
	sess.close()

	b.m.Lock()
	delete(b.sessions, sess.ID)
	n := len(b.sessions)
	b.m.Unlock()

	sess.log.Debugw("session disconnected", "Sessions", n)
}

// Sessions returns the number of connected sessions.
func (b *Broker) Sessions() int {
	b.m.Lock()
	defer b.m.Unlock()
	return len(b.sessions)
}

// Broadcast sends msg to every connected session and returns once each send finished.
// Sessions are written concurrently, so a slow client only delays itself.
func (b *Broker) Broadcast(msg Message) {
	b.m.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.m.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.send(msg)
		}(s)
	}
	wg.Wait()
}

// Wait blocks until every invocation started through the broker has finished.
func (b *Broker) Wait() {
	b.inflight.Wait()
}

// RunStored streams the stored command cid to sess.
// An unknown cid produces a single error chunk and spawns nothing.
func (b *Broker) RunStored(sess *Session, reqID, cid string) error {
	if reqID == "" {
		reqID = uuid.NewString()
	}
	cmd, err := b.Commands.Get(cid)
	if err != nil {
		chunk := fmt.Sprintf("Error: Command %s not found.\n", cid)
		if !errors.Is(err, catalog.ErrCommandNotFound) {
			chunk = fmt.Sprintf("Error: unable to load command %s: %s\n", cid, err)
		}
		sess.send(Message{Event: EventCmdOutput, Kind: KindError, ID: reqID, Chunk: chunk})
		return fmt.Errorf("running %q: %w", cid, err)
	}

	sess.log.Debugw("running stored command", "CID", cid, "Command", cmd.Cmd)
	b.stream(sess, reqID, cmd.Cmd, storedText(cmd.Name), nil)
	return nil
}

// RunAction streams a lifecycle action on the named process to sess.
// Once the process exits, ActionDone is called.
func (b *Broker) RunAction(sess *Session, reqID, name, action string) error {
	if reqID == "" {
		reqID = uuid.NewString()
	}
	cmdLine, err := b.Actions.ActionCommand(action, name)
	if err != nil {
		sess.send(Message{
			Event: EventCmdOutput,
			Kind:  KindError,
			ID:    reqID,
			Chunk: fmt.Sprintf("Error: %s\n", err),
		})
		return err
	}

	sess.log.Debugw("running action", "Name", name, "Action", action, "Command", cmdLine)
	b.stream(sess, reqID, cmdLine, actionText(cmdLine), func(code int) {
		if b.ActionDone != nil {
			b.ActionDone(ActionResult{SessionID: sess.ID, Name: name, Action: action, ExitCode: code})
		}
	})
	return nil
}

// stream forwards an invocation's events to sess in order. The events are always drained, even after sess is gone,
// so the process never blocks on its output.
func (b *Broker) stream(sess *Session, reqID, cmdLine string, text textEncoding, onExit func(code int)) {
	events := b.Runner.Execute(cmdLine)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		for ev := range events {
			sess.send(text.message(reqID, ev))
			if ev.Kind == runner.EventExit && onExit != nil {
				onExit(ev.ExitCode)
			}
		}
	}()
}

// textEncoding renders events as the text the dashboard terminal shows.
type textEncoding struct {
	banner       string
	stderrPrefix string
	exitFormat   string
}

func storedText(name string) textEncoding {
	return textEncoding{
		banner:       fmt.Sprintf("> Starting: %s...\n", name),
		stderrPrefix: "[ERROR] ",
		exitFormat:   "\n> Process exited with code %d\n",
	}
}

func actionText(cmdLine string) textEncoding {
	return textEncoding{
		banner:       fmt.Sprintf("> Executing: %s\n", cmdLine),
		stderrPrefix: "[PM2 ERROR] ",
		exitFormat:   "> PM2 action finished (code %d)\n",
	}
}

func (t textEncoding) message(reqID string, ev runner.Event) Message {
	msg := Message{Event: EventCmdOutput, ID: reqID}
	switch ev.Kind {
	case runner.EventStart:
		msg.Kind = KindStart
		msg.Chunk = t.banner
	case runner.EventOutput:
		msg.Kind = ev.Stream.String()
		msg.Chunk = ev.Text
		if ev.Stream == runner.Stderr {
			msg.Chunk = t.stderrPrefix + ev.Text
		}
	case runner.EventExit:
		code := ev.ExitCode
		msg.Kind = KindExit
		msg.ExitCode = &code
		msg.Chunk = fmt.Sprintf(t.exitFormat, code)
	case runner.EventSpawnError:
		msg.Kind = KindSpawnError
		msg.Chunk = fmt.Sprintf("> Failed to start: %s\n", ev.Err)
	}
	return msg
}
