// Package client implements the peer side of the signaling protocol: a
// reconnecting WebSocket connection to the broker, sending JSON-encoded
// SignalingMessage frames and delivering received ones on a channel.
package client

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/protocol"
)

var log = logging.L("signaling-client")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// Client is a single signaling connection to the broker. Incoming
// messages are delivered on Messages(); call Send to post outgoing ones.
type Client struct {
	serverURL string

	connMu sync.RWMutex
	conn   *websocket.Conn

	sendChan chan protocol.SignalingMessage
	messages chan protocol.SignalingMessage
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Client that will dial serverURL's /ws endpoint once
// Run is called. serverURL's scheme may be ws(s) or http(s).
func New(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		sendChan:  make(chan protocol.SignalingMessage, 32),
		messages:  make(chan protocol.SignalingMessage, 32),
		done:      make(chan struct{}),
	}
}

// Messages returns the channel of messages received from the broker.
func (c *Client) Messages() <-chan protocol.SignalingMessage {
	return c.messages
}

// Send enqueues a message for delivery. It does not block on the network;
// Send only blocks if the internal send buffer is full.
func (c *Client) Send(msg protocol.SignalingMessage) error {
	select {
	case c.sendChan <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling client: closed")
	}
}

// Run drives the reconnect loop until Close is called.
// It is meant to run in its own goroutine.
func (c *Client) Run() {
	backoff := initialBackoff

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Warn("connect failed", "error", err)
			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}
			select {
			case <-c.done:
				return
			case <-time.After(sleep):
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		pumpDone := make(chan struct{})
		go c.writePump(pumpDone)
		c.readPump()
		close(pumpDone)

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// Close stops the reconnect loop and tears down the current connection.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
}

func (c *Client) connect() error {
	wsURL, err := toWebSocketURL(c.serverURL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	log.Info("connected to broker", "url", wsURL)
	return nil
}

func toWebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func (c *Client) readPump() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", "error", err)
			}
			return
		}

		var msg protocol.SignalingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("dropping malformed signaling message", "error", err)
			continue
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.done:
			return

		case msg := <-c.sendChan:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error("failed to marshal outgoing message", "error", err)
				continue
			}
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn("write error", "error", err)
				return
			}

		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
