package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// keepaliveInterval is how often idle connections receive a keepalive event.
const keepaliveInterval = 30 * time.Second

// wsEnvelope is the wire shape of one WebSocket message, mirroring the SSE
// event/data split.
type wsEnvelope struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data"`
}

// ConnectionManager tracks WebSocket connections that mirror job event
// subscriptions. One instance per process.
type ConnectionManager struct {
	broker       *Broker
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*wsConnection

	log *slog.Logger
}

type wsConnection struct {
	id    string
	jobID string
	conn  *websocket.Conn
}

// NewConnectionManager creates a manager delivering events from the broker.
func NewConnectionManager(broker *Broker, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		broker:       broker,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*wsConnection),
		log:          slog.With("component", "ws_manager"),
	}
}

// ActiveConnections returns the count of open WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection subscribes the connection to one job's event stream and
// forwards events until the client disconnects or the stream ends. Called
// by the WebSocket HTTP handler after upgrade; blocks until done.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, jobID string) {
	c := &wsConnection{
		id:    uuid.New().String(),
		jobID: jobID,
		conn:  conn,
	}
	m.register(c)
	defer m.unregister(c)

	// No client messages are expected; CloseRead drains the connection and
	// cancels the context when the peer goes away.
	ctx := conn.CloseRead(parentCtx)

	sub := m.broker.Subscribe(jobID)
	defer m.broker.Unsubscribe(sub)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := m.send(ctx, c, e); err != nil {
				m.log.Warn("Failed to send to WebSocket client",
					"connection_id", c.id, "job_id", jobID, "error", err)
				return
			}
		case <-keepalive.C:
			if err := m.send(ctx, c, Keepalive()); err != nil {
				return
			}
		}
	}
}

func (m *ConnectionManager) register(c *wsConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *ConnectionManager) unregister(c *wsConnection) {
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// send writes one event as a JSON envelope with a bounded write deadline.
func (m *ConnectionManager) send(ctx context.Context, c *wsConnection, e Event) error {
	data, err := json.Marshal(wsEnvelope{Event: e.Name, ID: e.ID, Data: e.Data})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
