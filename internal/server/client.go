package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"chatclient-go/internal/config"
	"chatclient-go/internal/models"
	appsocket "chatclient-go/internal/socket"

	"github.com/gorilla/websocket"
)

// client is a middleman between one websocket connection and the hub.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	user   *models.User
}

// readPump pumps frames from the websocket connection into the hub.
func (c *client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error (user %s): %v", c.userID, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env appsocket.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("undecodable frame from user %s: %v", c.userID, err)
			continue
		}
		c.hub.handleEvent(c.user, env)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an authenticated request to a websocket connection and
// registers it with the hub.
func ServeWS(hub *Hub, user *models.User, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The demo server accepts any origin.
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, wsCfg.SendBufferSize),
		userID: user.ID,
		user:   user,
	}
	select {
	case c.hub.register <- c:
	case <-hub.done:
		conn.Close()
		return
	}

	go c.writePump(wsCfg)
	go c.readPump(wsCfg)

	log.Printf("user %s connected", user.ID)
}
