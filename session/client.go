package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client dials the live push channel.
type Client struct {
	HTTPClient *http.Client
	// URL of the live endpoint, ws(s):// or http(s)://.
	URL    string
	Logger *zap.SugaredLogger
}

// Conn is an open push channel. Incoming messages are delivered on Messages until the conn closes.
type Conn struct {
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	messages chan Message
	err      error

	closeConnOnce sync.Once
}

func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Debugw("dialing WebSocket", "URL", c.URL)
	wsConn, _, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		log:      log.Named("live_client"),
		conn:     wsConn,
		ctx:      connCtx,
		cancel:   cancel,
		messages: make(chan Message),
	}
	go conn.readMessages()
	return conn, nil
}

// Messages returns the incoming messages. The channel is closed when the conn is closed or fails, see Err.
func (c *Conn) Messages() <-chan Message {
	return c.messages
}

// Err returns the error that ended the message stream, if any. It is only valid after Messages is closed.
func (c *Conn) Err() error {
	return c.err
}

func (c *Conn) readMessages() {
	defer close(c.messages)
	for {
		var msg Message
		err := wsjson.Read(c.ctx, c.conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && c.ctx.Err() == nil {
				c.err = err
			}
			c.log.Debugf("message reader done: %s", err)
			return
		}
		select {
		case c.messages <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// RunLive asks the server to stream the stored command cid. It returns the request id echoed on each chunk.
func (c *Conn) RunLive(ctx context.Context, cid string) (string, error) {
	id := uuid.NewString()
	return id, wsjson.Write(ctx, c.conn, requestMessage{Event: EventRunLive, ID: id, CID: cid})
}

// ProcessAction asks the server to stream a lifecycle action on the named process.
func (c *Conn) ProcessAction(ctx context.Context, name, action string) (string, error) {
	id := uuid.NewString()
	return id, wsjson.Write(ctx, c.conn, requestMessage{Event: EventPM2Live, ID: id, Name: name, Action: action})
}

// Follow copies the chunks of request id to w until its final chunk, and returns the exit code.
// Invocations that never started report -1.
func (c *Conn) Follow(ctx context.Context, id string, w io.Writer) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case msg, ok := <-c.messages:
			if !ok {
				if c.err != nil {
					return -1, fmt.Errorf("conn closed before the command finished: %w", c.err)
				}
				return -1, fmt.Errorf("conn closed before the command finished")
			}
			if msg.Event != EventCmdOutput || msg.ID != id {
				continue
			}
			if _, err := io.WriteString(w, msg.Chunk); err != nil {
				return -1, err
			}
			if !msg.Final() {
				continue
			}
			if msg.ExitCode != nil {
				return *msg.ExitCode, nil
			}
			return -1, nil
		}
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeConnOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return err
}
