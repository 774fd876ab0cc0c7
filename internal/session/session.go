// Package session implements the chat session controller: the one piece that
// owns room resolution, history loading, the live subscription lifecycle, and
// the optimistic message timeline. Presentation layers hold a *Session, read
// snapshots through Messages/Room/State, and get poked through Updates when
// the snapshot changed.
//
// Concurrency model: all shared state sits behind one mutex, and every
// asynchronous continuation carries the generation number of the bind that
// started it. A continuation whose generation no longer matches finds the
// session has moved on (rebound or closed) and discards its result instead of
// committing it. That guard is what defends the rebind race (a slow history
// fetch for room A resolving after the session switched to room B), the
// subscription replacement race, and mutation after teardown.
package session

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clioworks/engagechat/internal/domain"
	"github.com/clioworks/engagechat/internal/transport"
	"github.com/clioworks/engagechat/internal/wire"
)

// State is the controller's lifecycle position.
type State int

// Lifecycle states, in bind order. Errors fall back to RoomReady or Unbound
// with Err set; there is no terminal error state, a new Bind retries.
const (
	StateUnbound State = iota
	StateResolvingRoom
	StateRoomReady
	StateLive
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateResolvingRoom:
		return "resolving_room"
	case StateRoomReady:
		return "room_ready"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the subset of the chat transport the controller needs.
type Transport interface {
	GetRoomByEngagement(ctx context.Context, engagementID string) (domain.RoomSummary, error)
	GetRoomByID(ctx context.Context, roomID string) (*domain.ChatRoom, error)
	GetMessages(ctx context.Context, roomID string) ([]wire.RawRecord, error)
	SendMessage(ctx context.Context, roomID string, out transport.Outgoing) (*wire.RawRecord, error)
}

// Feed opens the live per-room channel. The realtime package's Feed satisfies
// this through FeedFunc.
type Feed interface {
	Subscribe(ctx context.Context, roomID string, onInsert func(domain.Message)) (io.Closer, error)
}

// FeedFunc adapts a function to the Feed interface.
type FeedFunc func(ctx context.Context, roomID string, onInsert func(domain.Message)) (io.Closer, error)

// Subscribe implements Feed.
func (f FeedFunc) Subscribe(ctx context.Context, roomID string, onInsert func(domain.Message)) (io.Closer, error) {
	return f(ctx, roomID, onInsert)
}

// Identity resolves the local user, used to stamp optimistic messages.
type Identity interface {
	CurrentUserID() (string, bool)
}

// Session is the chat session controller. Construct with New, bind with
// Bind, and always Close when done: Close is what guarantees the live
// subscription is torn down.
type Session struct {
	transport Transport
	feed      Feed
	identity  Identity
	log       zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	state   State
	roomID  string
	room    *domain.ChatRoom
	msgs    []domain.Message
	err     error
	sub     io.Closer
	closed  bool
	tempSeq uint64

	updates chan struct{}
}

// New constructs an unbound Session.
func New(t Transport, f Feed, ids Identity, log zerolog.Logger) *Session {
	return &Session{
		transport: t,
		feed:      f,
		identity:  ids,
		log:       log,
		updates:   make(chan struct{}, 1),
	}
}

// Updates signals that the session snapshot changed. The channel is a
// level-triggered nudge (buffered, coalescing); after receiving, re-read
// Messages/Room/State/Err.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// notify coalesces a change signal. Never blocks.
func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID returns the bound room ID, or "" when unbound.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Room returns the cached room details, which may be nil even when bound:
// binding by explicit ID proceeds without details if the fetch fails.
func (s *Session) Room() *domain.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Err returns the most recent surfaced non-fatal error, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Messages returns a copy of the message timeline, sorted ascending by send
// instant.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Bind points the session at a chat room and brings it live. Resolution
// priority:
//
//  1. roomID set: bind to it directly; room details are fetched best-effort
//     and their failure does not block going live.
//  2. engagementID set: resolve the room through the transport; on failure
//     the session stays unbound with ErrRoomResolution surfaced.
//  3. neither: unbind. Not an error; an idle session is a legitimate state.
//
// Rebinding tears down the previous subscription before the new one opens.
// Bind may be called from any goroutine; overlapping binds settle on the most
// recent one thanks to the generation guard.
func (s *Session) Bind(ctx context.Context, roomID, engagementID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	s.teardownLocked()
	s.err = nil

	if roomID == "" && engagementID == "" {
		s.state = StateUnbound
		s.roomID = ""
		s.room = nil
		s.msgs = nil
		s.mu.Unlock()
		s.notify()
		return nil
	}

	s.state = StateResolvingRoom
	s.mu.Unlock()
	s.notify()

	resolved, room, err := s.resolve(ctx, roomID, engagementID)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.state = StateUnbound
			s.roomID = ""
			s.room = nil
			s.err = err
		}
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.roomID = resolved
	s.room = room
	s.state = StateRoomReady
	s.mu.Unlock()
	s.notify()

	s.loadHistory(ctx, gen, resolved)
	s.subscribe(ctx, gen, resolved)
	return nil
}

// Unbind detaches from the current room, tearing down the subscription and
// clearing the timeline. Equivalent to Bind(ctx, "", "").
func (s *Session) Unbind() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.teardownLocked()
	s.state = StateUnbound
	s.roomID = ""
	s.room = nil
	s.msgs = nil
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

// Close permanently tears the session down. The live subscription, if any, is
// closed; in-flight continuations find the bumped generation and discard
// their results.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	s.teardownLocked()
	s.state = StateUnbound
	s.mu.Unlock()
	return nil
}

// stale reports whether gen belongs to a superseded bind epoch.
func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen || s.closed
}

// teardownLocked closes the live subscription if one is open. Callers hold
// s.mu. Close errors are swallowed: cleanup is best-effort.
func (s *Session) teardownLocked() {
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
}

// resolve turns the bind target into a room ID, with best-effort details.
func (s *Session) resolve(ctx context.Context, roomID, engagementID string) (string, *domain.ChatRoom, error) {
	if roomID == "" {
		sum, err := s.transport.GetRoomByEngagement(ctx, engagementID)
		if err != nil {
			s.log.Error().Err(err).Str("engagement_id", engagementID).Msg("room resolution failed")
			return "", nil, fmt.Errorf("%w for engagement %s: %v", ErrRoomResolution, engagementID, err)
		}
		roomID = sum.ID
	}

	// Details are nice to have; the ID alone is enough to go live.
	room, err := s.transport.GetRoomByID(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("room details unavailable, continuing with bare ID")
		room = nil
	}
	return roomID, room, nil
}

// loadHistory fetches and installs the authoritative message history. The
// result replaces the timeline wholesale; it is never merged with whatever
// was already there. A stale generation drops the result on the floor.
func (s *Session) loadHistory(ctx context.Context, gen uint64, roomID string) {
	if s.stale(gen) {
		return
	}
	raws, err := s.transport.GetMessages(ctx, roomID)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("history load failed")
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.err = fmt.Errorf("load history: %w", err)
		}
		s.mu.Unlock()
		s.notify()
		return
	}

	msgs := make([]domain.Message, 0, len(raws))
	for _, r := range raws {
		msgs = append(msgs, wire.Normalize(r))
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAtMillis < msgs[j].SentAtMillis
	})

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.msgs = msgs
	s.mu.Unlock()
	s.notify()
}

// subscribe opens the live channel for the bound room. The feed refreshes
// its authorization from the token source internally. History failure does
// not reach here; subscription failure is surfaced through Err while the
// session stays RoomReady.
func (s *Session) subscribe(ctx context.Context, gen uint64, roomID string) {
	// Checked before the feed call, not only after: the feed replaces its
	// one live subscription on Subscribe, so a stale epoch reaching it would
	// kill the current room's channel.
	if s.stale(gen) {
		return
	}
	sub, err := s.feed.Subscribe(ctx, roomID, func(m domain.Message) {
		s.ingest(gen, m)
	})
	if err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("realtime subscribe failed")
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.err = fmt.Errorf("subscribe: %w", err)
		}
		s.mu.Unlock()
		s.notify()
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return
	}
	s.sub = sub
	s.state = StateLive
	s.mu.Unlock()
	s.notify()
}

// ingest applies one realtime insert. Events from a previous bind epoch are
// dropped, and an event whose ID is already in the timeline is an idempotent
// duplicate — typically the echo of a message this session just sent.
func (s *Session) ingest(gen uint64, m domain.Message) {
	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	for _, existing := range s.msgs {
		if existing.ID == m.ID {
			s.mu.Unlock()
			return
		}
	}
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	s.notify()
}

// Send delivers content to the bound room using the optimistic-write
// protocol: a temporary sending-status message is appended immediately, then
// either replaced in place by the server-confirmed record or removed when
// both transport paths fail. Multiple sends may be in flight at once; each
// reconciles by its own temporary ID, so resolution order does not matter.
func (s *Session) Send(ctx context.Context, out transport.Outgoing) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoRoom
	}
	gen := s.gen
	roomID := s.roomID

	s.tempSeq++
	tempID := fmt.Sprintf("temp-%d", s.tempSeq)

	sender := "local"
	if uid, ok := s.identity.CurrentUserID(); ok {
		sender = uid
	}

	now := time.Now().UTC()
	typ := out.Type
	if typ == "" {
		typ = domain.MessageText
	}
	s.msgs = append(s.msgs, domain.Message{
		ID:               tempID,
		SenderID:         sender,
		Text:             out.Text,
		Type:             typ,
		Status:           domain.StatusSending,
		FileURL:          out.FileURL,
		FileName:         out.FileName,
		FileSize:         out.FileSize,
		ReplyToMessageID: out.ReplyToMessageID,
		SentAt:           now,
		SentAtMillis:     now.UnixMilli(),
	})
	s.mu.Unlock()
	s.notify()

	rec, err := s.transport.SendMessage(ctx, roomID, out)
	if err != nil {
		s.removeByID(tempID)
		return err
	}

	s.reconcile(gen, tempID, wire.Normalize(*rec))
	return nil
}

// removeByID drops the entry with the given ID from the timeline, if present.
func (s *Session) removeByID(id string) {
	s.mu.Lock()
	for i, m := range s.msgs {
		if m.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify()
}

// reconcile swaps the temporary placeholder for the confirmed record while
// preserving its position. Two edge orders are handled: if the realtime echo
// landed first, the confirmed ID is already present and the placeholder is
// simply removed; if the session rebound while the send was in flight, the
// wholesale history replacement already dropped the placeholder and there is
// nothing to do.
func (s *Session) reconcile(gen uint64, tempID string, confirmed domain.Message) {
	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}

	echoed := false
	for _, m := range s.msgs {
		if m.ID == confirmed.ID {
			echoed = true
			break
		}
	}
	for i, m := range s.msgs {
		if m.ID != tempID {
			continue
		}
		if echoed {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		} else {
			s.msgs[i] = confirmed
		}
		break
	}
	s.mu.Unlock()
	s.notify()
}
