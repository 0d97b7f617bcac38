package handlers

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofiber/websocket/v2"

	"github.com/shellmux/shellmux/internal/models"
)

// wsClient wraps one websocket connection as a router Subscriber.
// Websocket writes are not concurrency-safe, so every send goes through the
// write mutex: the pump goroutines and the connection's own read loop may
// emit to the same socket at the same time.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	connID  string
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:   conn,
		connID: fmt.Sprintf("%p", conn),
	}
}

// SendEvent marshals and writes one envelope to the client.
func (c *wsClient) SendEvent(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(models.Envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
