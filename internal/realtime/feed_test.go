package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clioworks/engagechat/internal/domain"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

// feedServer is a minimal realtime endpoint for tests. It records join and
// leave frames and lets tests push frames to the most recent connection.
type feedServer struct {
	t      *testing.T
	srv    *httptest.Server
	joins  chan Frame
	leaves chan Frame
	conns  chan *websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		t:      t,
		joins:  make(chan Frame, 8),
		leaves: make(chan Frame, 8),
		conns:  make(chan *websocket.Conn, 8),
	}
	up := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fs.conns <- conn
		go func() {
			for {
				var fr Frame
				if err := conn.ReadJSON(&fr); err != nil {
					return
				}
				switch fr.Event {
				case "join":
					fs.joins <- fr
				case "leave":
					fs.leaves <- fr
				}
			}
		}()
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func waitFrame(t *testing.T, ch chan Frame, what string) Frame {
	t.Helper()
	select {
	case fr := <-ch:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return Frame{}
	}
}

func waitConn(t *testing.T, ch chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func TestSubscribe_JoinCarriesTokenAndTopic(t *testing.T) {
	fs := newFeedServer(t)
	feed := NewFeed(fs.url(), staticTokens("jwt-1"), zerolog.Nop())

	sub, err := feed.Subscribe(context.Background(), "room-7", func(domain.Message) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	join := waitFrame(t, fs.joins, "join frame")
	if join.Topic != "room:room-7" {
		t.Errorf("topic = %q", join.Topic)
	}
	if join.Token != "jwt-1" {
		t.Errorf("token = %q, want current bearer credential", join.Token)
	}
}

func TestSubscribe_DeliversNormalizedInserts(t *testing.T) {
	fs := newFeedServer(t)
	feed := NewFeed(fs.url(), staticTokens("jwt"), zerolog.Nop())

	got := make(chan domain.Message, 4)
	sub, err := feed.Subscribe(context.Background(), "room-1", func(m domain.Message) { got <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	conn := waitConn(t, fs.conns)
	waitFrame(t, fs.joins, "join frame")

	err = conn.WriteJSON(map[string]any{
		"topic": "room:room-1",
		"event": "insert",
		"payload": map[string]any{
			"id":        "m1",
			"sender_id": "u2",
			"content":   "numbers look fine",
			"type":      "TEXT",
			"sent_at":   "2024-02-02T02:02:02",
		},
	})
	if err != nil {
		t.Fatalf("push insert: %v", err)
	}

	select {
	case m := <-got:
		if m.ID != "m1" || m.SenderID != "u2" || m.Text != "numbers look fine" {
			t.Errorf("message = %+v", m)
		}
		if m.SentAt.Location() != time.UTC || m.SentAt.Hour() != 2 {
			t.Errorf("timestamp not normalized: %v", m.SentAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("insert never delivered")
	}
}

func TestSubscribe_ReplacesPriorSubscription(t *testing.T) {
	fs := newFeedServer(t)
	feed := NewFeed(fs.url(), staticTokens("jwt"), zerolog.Nop())

	subX, err := feed.Subscribe(context.Background(), "room-x", func(domain.Message) {})
	if err != nil {
		t.Fatalf("subscribe x: %v", err)
	}
	waitFrame(t, fs.joins, "join x")

	subY, err := feed.Subscribe(context.Background(), "room-y", func(domain.Message) {})
	if err != nil {
		t.Fatalf("subscribe y: %v", err)
	}
	defer subY.Close()

	// The old channel must be left before (or while) the new one comes up.
	leave := waitFrame(t, fs.leaves, "leave x")
	if leave.Topic != "room:room-x" {
		t.Errorf("leave topic = %q", leave.Topic)
	}
	join := waitFrame(t, fs.joins, "join y")
	if join.Topic != "room:room-y" {
		t.Errorf("join topic = %q", join.Topic)
	}

	// Closing the replaced handle again is a no-op.
	if err := subX.Close(); err != nil {
		t.Errorf("double close: %v", err)
	}
}

func TestSubscription_CloseIsIdempotentAndSilent(t *testing.T) {
	fs := newFeedServer(t)
	feed := NewFeed(fs.url(), staticTokens("jwt"), zerolog.Nop())

	sub, err := feed.Subscribe(context.Background(), "room-1", func(domain.Message) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sub.Close(); err != nil {
			t.Errorf("close #%d: %v", i+1, err)
		}
	}
}

func TestSubscribe_DialFailure(t *testing.T) {
	feed := NewFeed("ws://127.0.0.1:1/nope", staticTokens("jwt"), zerolog.Nop())
	if _, err := feed.Subscribe(context.Background(), "room-1", func(domain.Message) {}); err == nil {
		t.Fatal("expected dial error")
	}
}
