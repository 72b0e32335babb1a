// Websocket clients and status notifications
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package operator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"modax-cnc/pkg/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	sendQueue      = 64
)

// wsClient is one websocket connection.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *log.Entry
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *Server) newWSClient(conn *websocket.Conn) *wsClient {
	id := uuid.NewString()
	return &wsClient{
		id:     id,
		conn:   conn,
		server: s,
		logger: s.logger.WithField("client", id),
		sendCh: make(chan []byte, sendQueue),
		done:   make(chan struct{}),
	}
}

// Send queues msg; it is dropped when the client is too slow.
func (c *wsClient) Send(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.logger.Warn("dropping message, send queue full")
	}
}

func (c *wsClient) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Error("encode message failed")
		return
	}
	c.Send(data)
}

// Close closes the connection once.
func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("websocket read failed")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendJSON(parseErrorResponse())
		return
	}
	c.sendJSON(c.server.call(&req, "websocket"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := s.newWSClient(conn)
	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	client.logger.WithField("remote", r.RemoteAddr).Info("websocket client connected")

	go client.writePump()

	// new clients see the current status without waiting for a change
	if msg, err := s.statusNotification(); err == nil {
		client.Send(msg)
	}
	client.readPump()
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	s.clientsMu.Unlock()
	if ok {
		c.logger.Info("websocket client disconnected")
	}
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

func (s *Server) statusNotification() ([]byte, error) {
	eventtime := time.Since(s.startTime).Seconds()
	return json.Marshal(notification{
		JSONRPC: "2.0",
		Method:  "notify_status_update",
		Params:  []any{s.machine.Status(), eventtime},
	})
}

// statusBroadcastLoop pushes the status to every client whenever it
// changes, checked once per interval.
func (s *Server) statusBroadcastLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		if s.clientCount() == 0 {
			last = nil
			continue
		}
		status, err := json.Marshal(s.machine.Status())
		if err != nil {
			s.logger.WithError(err).Error("encode status failed")
			continue
		}
		if bytes.Equal(status, last) {
			continue
		}
		last = status
		msg, err := s.statusNotification()
		if err != nil {
			continue
		}
		s.broadcast(msg)
	}
}

func (s *Server) broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Send(msg)
	}
}
