// Package transport carries messages between agents over websockets. A
// Client connects an agent to a hub; the Hub accepts those connections,
// maintains the peer directory, and routes frames by receiver ID.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ykute07/agentconnect/pkg/logger"
	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/registry"
)

const (
	writeWait = 10 * time.Second
	// agentIDHeader identifies the connecting agent during the handshake.
	agentIDHeader = "X-Agent-ID"
)

// Client is an agent-side hub connection. Implements the collaboration
// Transport interface.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// Dial connects to a hub and identifies as agentID.
func Dial(ctx context.Context, hubURL, agentID string) (*Client, error) {
	header := http.Header{agentIDHeader: []string{agentID}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, hubURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", hubURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Send(ctx context.Context, msg *message.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Listen reads frames until the connection drops or ctx is cancelled,
// invoking handler for each decoded message. Malformed frames are logged
// and skipped.
func (c *Client) Listen(ctx context.Context, handler func(*message.Message)) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		msg, err := message.Unmarshal(data)
		if err != nil {
			logger.WarnCF("transport", "Dropping malformed frame", map[string]any{"error": err.Error()})
			continue
		}
		handler(msg)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Hub accepts agent connections and routes messages by receiver ID. The
// embedded directory doubles as the registry agents query through it.
type Hub struct {
	directory *registry.Hub
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*hubConn
}

type hubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewHub(directory *registry.Hub) *Hub {
	if directory == nil {
		directory = registry.NewHub()
	}
	return &Hub{
		directory: directory,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:     make(map[string]*hubConn),
	}
}

// Directory exposes the hub's peer registry.
func (h *Hub) Directory() *registry.Hub { return h.directory }

// ServeHTTP upgrades a connection and pumps its frames until it drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get(agentIDHeader)
	if agentID == "" {
		http.Error(w, "missing "+agentIDHeader, http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("hub", "Upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	hc := &hubConn{conn: conn}
	h.mu.Lock()
	h.conns[agentID] = hc
	h.mu.Unlock()
	logger.InfoCF("hub", "Agent connected", map[string]any{"agent_id": agentID})

	defer func() {
		h.mu.Lock()
		if h.conns[agentID] == hc {
			delete(h.conns, agentID)
		}
		h.mu.Unlock()
		h.directory.Unregister(agentID)
		conn.Close()
		logger.InfoCF("hub", "Agent disconnected", map[string]any{"agent_id": agentID})
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := message.Unmarshal(data)
		if err != nil {
			logger.WarnCF("hub", "Dropping malformed frame", map[string]any{
				"agent_id": agentID, "error": err.Error(),
			})
			continue
		}
		if msg.Sender == "" {
			msg.Sender = agentID
		}
		h.route(msg)
	}
}

func (h *Hub) route(msg *message.Message) {
	h.mu.Lock()
	target, ok := h.conns[msg.Receiver]
	h.mu.Unlock()
	if !ok {
		logger.WarnCF("hub", "No route to receiver", map[string]any{
			"sender": msg.Sender, "receiver": msg.Receiver,
		})
		return
	}

	data, err := msg.Marshal()
	if err != nil {
		return
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	target.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := target.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.WarnCF("hub", "Delivery failed", map[string]any{
			"receiver": msg.Receiver, "error": err.Error(),
		})
	}
}
