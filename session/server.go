package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	// readLimit bounds incoming messages. Outgoing chunks can be up to the runner's read buffer plus JSON escaping.
	readLimit = 1 << 20

	writeTimeout = 10 * time.Second
)

// Server accepts WebSocket connections and attaches each one to the Broker as a session.
type Server struct {
	Log    *zap.SugaredLogger
	Broker *Broker
	// OriginPatterns are the cross-origin hosts allowed to connect, see websocket.AcceptOptions.
	OriginPatterns []string
}

// NewServer returns a Server that notifies every session with "refresh-data" when a lifecycle action finishes.
func NewServer(log *zap.SugaredLogger, broker *Broker, originPatterns []string) *Server {
	s := &Server{
		Log:            log.Named("live"),
		Broker:         broker,
		OriginPatterns: originPatterns,
	}
	broker.ActionDone = func(res ActionResult) {
		s.Log.Debugw("action finished, refreshing sessions", "Name", res.Name, "Action", res.Action, "ExitCode", res.ExitCode)
		broker.Broadcast(Message{Event: EventRefreshData})
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  s.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error response
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &serverConn{
		log:  s.Log,
		ctx:  ctx,
		conn: wsConn,
	}
	sess := s.Broker.Connect(conn)
	conn.log = s.Log.With("Session", sess.ID)
	defer s.Broker.Disconnect(sess)

	conn.readMessages(s.Broker, sess)
}

// serverConn is the Sink for one WebSocket connection.
type serverConn struct {
	log  *zap.SugaredLogger
	ctx  context.Context
	conn *websocket.Conn

	closeConnOnce sync.Once
}

func (c *serverConn) Send(msg Message) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *serverConn) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeConnOnce.Do(func() {
		err := c.conn.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (c *serverConn) readMessages(broker *Broker, sess *Session) {
	for {
		// read the raw frame so a malformed message doesn't close the conn, as wsjson.Read would
		_, b, err := c.conn.Read(c.ctx)
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			c.log.Debug("client closed the conn")
			return
		}
		if err != nil {
			c.log.Debugf("message reader got error: %s", err)
			c.close(websocket.StatusInternalError, err.Error())
			return
		}

		var req requestMessage
		if err := json.Unmarshal(b, &req); err != nil {
			c.log.Debugf("ignoring malformed message: %s", err)
			continue
		}
		c.log.Debugw("got message", "Message", req)
		switch req.Event {
		case EventRunLive:
			err = broker.RunStored(sess, req.ID, req.CID)
		case EventPM2Live:
			err = broker.RunAction(sess, req.ID, req.Name, req.Action)
		default:
			c.log.Debugf("ignoring unknown event %q", req.Event)
			continue
		}
		if err != nil {
			c.log.Debugw("request failed", "Event", req.Event, "Error", err)
		}
	}
}
