// Package realtime subscribes to the chat service's live event channel and
// delivers newly inserted messages for a single room. The wire protocol is a
// small JSON frame exchange over a websocket: the client joins a per-room
// topic ("room:<id>") with its bearer credential, and the server pushes one
// "insert" frame per new message row, filtered to that room.
//
// A Feed holds at most one live subscription. Opening a subscription for a
// new room always tears down the previous one first, and teardown failures
// are swallowed: closing is a best-effort obligation, never a reported error.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clioworks/engagechat/internal/domain"
	"github.com/clioworks/engagechat/internal/wire"
)

// Frame event kinds.
const (
	eventJoin   = "join"
	eventJoined = "joined"
	eventInsert = "insert"
	eventLeave  = "leave"
	eventError  = "error"
)

// closeGrace bounds how long Close waits to flush the leave frame.
const closeGrace = 2 * time.Second

// TokenSource supplies the current bearer credential. It is consulted anew on
// every subscribe so that a refreshed login is honored by row-level access
// checks on the server.
type TokenSource interface {
	Token() string
}

// Frame is the JSON envelope exchanged on the feed socket.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Topic returns the channel name for a room.
func Topic(roomID string) string {
	return "room:" + roomID
}

// Feed manages the live subscription lifecycle against the realtime endpoint.
type Feed struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Tokens supplies the bearer credential per subscribe.
	Tokens TokenSource
	// Dialer performs the websocket handshake.
	Dialer *websocket.Dialer
	// Logger receives feed-level diagnostics.
	Logger zerolog.Logger

	mu      sync.Mutex
	current *Subscription
}

// NewFeed constructs a Feed for the realtime endpoint at url.
func NewFeed(url string, tokens TokenSource, logger zerolog.Logger) *Feed {
	return &Feed{
		URL:    url,
		Tokens: tokens,
		Dialer: websocket.DefaultDialer,
		Logger: logger,
	}
}

// Subscribe opens the live channel for roomID and invokes onInsert for every
// new message, already normalized. Any previously open subscription on this
// Feed is closed first, keeping the one-live-subscription invariant. The
// returned Subscription must be closed by the caller when the room is
// unbound.
//
// onInsert is invoked from the feed's read goroutine; callers serialize their
// own state (the session controller does).
func (f *Feed) Subscribe(ctx context.Context, roomID string, onInsert func(domain.Message)) (*Subscription, error) {
	f.mu.Lock()
	if f.current != nil {
		f.current.Close()
		f.current = nil
	}
	f.mu.Unlock()

	// Re-read the credential so the join carries the session's current
	// bearer token, not the one from some earlier subscribe.
	token := f.Tokens.Token()

	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic(roomID), err)
	}
	if err := conn.WriteJSON(Frame{Topic: Topic(roomID), Event: eventJoin, Token: token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: join: %w", Topic(roomID), err)
	}

	sub := &Subscription{
		topic: Topic(roomID),
		conn:  conn,
		log:   f.Logger.With().Str("topic", Topic(roomID)).Logger(),
	}

	f.mu.Lock()
	f.current = sub
	f.mu.Unlock()

	go sub.readLoop(onInsert)
	return sub, nil
}

// Subscription is one live per-room channel.
type Subscription struct {
	topic string
	conn  *websocket.Conn
	log   zerolog.Logger
	once  sync.Once
}

// readLoop pumps frames off the socket until it closes. Insert payloads are
// normalized before delivery; frames for other topics or unknown events are
// dropped.
func (s *Subscription) readLoop(onInsert func(domain.Message)) {
	defer s.Close()
	for {
		var fr Frame
		if err := s.conn.ReadJSON(&fr); err != nil {
			s.log.Debug().Err(err).Msg("feed read loop ended")
			return
		}
		if fr.Topic != "" && fr.Topic != s.topic {
			continue
		}
		switch fr.Event {
		case eventInsert:
			var rec wire.RawRecord
			if err := json.Unmarshal(fr.Payload, &rec); err != nil {
				s.log.Warn().Err(err).Msg("undecodable insert payload")
				continue
			}
			onInsert(wire.Normalize(rec))
		case eventJoined:
			s.log.Debug().Msg("channel joined")
		case eventError:
			s.log.Warn().RawJSON("payload", payloadOrNull(fr.Payload)).Msg("feed error event")
		}
	}
}

// Close tears the subscription down. It is idempotent and never reports an
// error; a leave frame is flushed on a best-effort basis before the socket
// drops.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.conn.SetWriteDeadline(time.Now().Add(closeGrace))
		_ = s.conn.WriteJSON(Frame{Topic: s.topic, Event: eventLeave})
		_ = s.conn.Close()
	})
	return nil
}

// payloadOrNull keeps zerolog's RawJSON happy when a frame has no payload.
func payloadOrNull(p json.RawMessage) []byte {
	if len(p) == 0 {
		return []byte("null")
	}
	return p
}
