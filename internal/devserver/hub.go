// Package devserver — realtime fan-out.
//
// The hub keeps the set of websocket clients per room topic and pushes one
// "insert" frame to each of them when a message row lands, mirroring what the
// production feed does server-side. Clients join and leave via the same JSON
// frames the SDK's realtime package speaks.
package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeWait bounds how long a single client write may take before the client
// is considered dead.
const writeWait = 10 * time.Second

// clientBuffer is the per-client outbound queue; a client that falls this far
// behind is dropped to keep backpressure bounded.
const clientBuffer = 64

// feedFrame mirrors the frame shape of the SDK's realtime package.
type feedFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// client is one websocket connection joined to a topic.
type client struct {
	topic string
	conn  *websocket.Conn
	send  chan feedFrame
	once  sync.Once
}

// close shuts the outbound queue exactly once.
func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// writeLoop drains the outbound queue onto the socket.
func (c *client) writeLoop() {
	defer c.conn.Close()
	for fr := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(fr); err != nil {
			return
		}
	}
}

// Hub tracks joined clients per room topic and broadcasts inserts.
type Hub struct {
	log zerolog.Logger

	mu     sync.Mutex
	topics map[string]map[*client]bool
}

// NewHub constructs an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:    log,
		topics: make(map[string]map[*client]bool),
	}
}

// join registers a connection under a topic and starts its write loop.
func (h *Hub) join(topic string, conn *websocket.Conn) *client {
	c := &client{topic: topic, conn: conn, send: make(chan feedFrame, clientBuffer)}
	// Queue the ack before the client is visible to broadcasts, so nothing
	// can close the channel underneath this send.
	c.send <- feedFrame{Topic: topic, Event: "joined"}

	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*client]bool)
	}
	h.topics[topic][c] = true
	n := len(h.topics[topic])
	h.mu.Unlock()

	go c.writeLoop()
	h.log.Debug().Str("topic", topic).Int("clients", n).Msg("client joined")
	return c
}

// leave removes a connection from its topic and closes its queue.
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	if clients, ok := h.topics[c.topic]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.topics, c.topic)
		}
	}
	h.mu.Unlock()

	c.close()
	h.log.Debug().Str("topic", c.topic).Msg("client left")
}

// BroadcastInsert pushes a freshly persisted message row to every client
// joined to the room's topic. Slow clients are dropped rather than blocking
// the rest.
func (h *Hub) BroadcastInsert(roomID string, row MessageRow) {
	payload, err := json.Marshal(row)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal insert payload")
		return
	}
	topic := "room:" + roomID
	fr := feedFrame{Topic: topic, Event: "insert", Payload: payload}

	h.mu.Lock()
	var slow []*client
	for c := range h.topics[topic] {
		select {
		case c.send <- fr:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Warn().Str("topic", topic).Msg("dropping slow realtime client")
		h.leave(c)
	}
}

// clientCount reports how many clients are joined to a room topic.
func (h *Hub) clientCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics["room:"+roomID])
}
