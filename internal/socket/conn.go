// Package socket implements the realtime side of the transport: a
// bidirectional event socket over a websocket connection, with named events
// and emit/listen semantics, plus the process-wide connection manager.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"chatclient-go/internal/config"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of one delivered event.
type Handler func(data json.RawMessage)

// Conn is one live event-socket connection. Emit is fire-and-forget; On/Off
// register and remove named event listeners. All methods are safe for
// concurrent use.
type Conn struct {
	conn *websocket.Conn
	cfg  config.WebSocketConfig

	// Buffered channel of outbound frames, drained by the write pump.
	send chan []byte

	mu        sync.Mutex
	handlers  map[string]map[int]Handler
	nextID    int
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects the event socket, authenticating with the given token. The
// read and write pumps are started before returning.
func Dial(ctx context.Context, rawURL, token string, cfg config.WebSocketConfig) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial socket: %w", err)
	}

	c := &Conn{
		conn:     wsConn,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendBufferSize),
		handlers: make(map[string]map[int]Handler),
		done:     make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()
	return c, nil
}

// On registers a handler for a named event and returns an id for Off.
func (c *Conn) On(event string, h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = h
	return id
}

// Off removes a handler previously registered with On. Unknown ids are
// ignored, so teardown paths can call it unconditionally.
func (c *Conn) Off(event string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hs, ok := c.handlers[event]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(c.handlers, event)
		}
	}
}

// Emit queues a named event for sending. No acknowledgment is awaited; when
// the connection is closed or the outbound buffer is full the frame is
// dropped.
func (c *Conn) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event, err)
	}

	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.send <- frame:
	default:
		log.Printf("socket: send buffer full, dropping %s", event)
	}
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Closed reports whether Close has been called or the read pump has exited.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// dispatch invokes the registered handlers for one delivered event. Handlers
// run on the read pump goroutine, so deliveries for one connection never
// interleave.
func (c *Conn) dispatch(env Envelope) {
	c.mu.Lock()
	hs := c.handlers[env.Event]
	snapshot := make([]Handler, 0, len(hs))
	for _, h := range hs {
		snapshot = append(snapshot, h)
	}
	c.mu.Unlock()

	for _, h := range snapshot {
		h(env.Data)
	}
}

// readPump pumps frames from the websocket to the registered handlers.
func (c *Conn) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(int64(c.cfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(c.cfg.PongWaitSeconds) * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(c.cfg.PongWaitSeconds) * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("socket: read error: %v", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("socket: dropping undecodable frame: %v", err)
			continue
		}
		if env.Event == "" {
			continue
		}
		c.dispatch(env)
	}
}

// writePump pumps queued frames to the websocket and keeps the connection
// alive with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(time.Duration(c.cfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	writeWait := time.Duration(c.cfg.WriteWaitSeconds) * time.Second
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
