package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clioworks/engagechat/internal/domain"
	"github.com/clioworks/engagechat/internal/wire"
)

// fakePath is a canned sendPath that records its invocations.
type fakePath struct {
	pathName string
	calls    int
	rec      *wire.RawRecord
	err      error
}

func (f *fakePath) name() string { return f.pathName }

func (f *fakePath) send(ctx context.Context, roomID string, out Outgoing) (*wire.RawRecord, error) {
	f.calls++
	return f.rec, f.err
}

func TestSendMessage_PrimarySucceeds(t *testing.T) {
	primary := &fakePath{pathName: "direct", rec: &wire.RawRecord{ID: "m1"}}
	fallback := &fakePath{pathName: "rest", rec: &wire.RawRecord{ID: "m2"}}
	c := &Client{Logger: zerolog.Nop(), primary: primary, fallback: fallback}

	rec, err := c.SendMessage(context.Background(), "room-1", Outgoing{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "m1" {
		t.Errorf("record = %+v, want primary result", rec)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
}

func TestSendMessage_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakePath{pathName: "direct", err: errors.New("row-level security violation")}
	fallback := &fakePath{pathName: "rest", rec: &wire.RawRecord{ID: "m-rest"}}
	c := &Client{Logger: zerolog.Nop(), primary: primary, fallback: fallback}

	rec, err := c.SendMessage(context.Background(), "room-1", Outgoing{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "m-rest" {
		t.Errorf("record = %+v, want fallback result", rec)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}
}

func TestSendMessage_BothPathsFail(t *testing.T) {
	restErr := &APIError{Status: http.StatusBadGateway, Body: "upstream down"}
	c := &Client{
		Logger:   zerolog.Nop(),
		primary:  &fakePath{pathName: "direct", err: errors.New("dial tcp: refused")},
		fallback: &fakePath{pathName: "rest", err: restErr},
	}

	_, err := c.SendMessage(context.Background(), "room-1", Outgoing{Text: "hi"})
	if err == nil {
		t.Fatal("expected an error when both paths fail")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("fallback error must be wrapped, got %v", err)
	}
}

func TestDirectPath_PayloadAndResponse(t *testing.T) {
	var row map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Prefer"); got != "return=representation" {
			t.Errorf("Prefer = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&row)
		// return=representation answers with a one-element array.
		w.Write([]byte(`[{"id":"m-direct","sender_id":"u1","text":"hi","type":"TEXT","sent_at":"2024-01-01T10:00:00"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fakeIdentity{id: "u1", ok: true, token: "tok"}, zerolog.Nop())
	rec, err := c.SendMessage(context.Background(), "room-1", Outgoing{
		Text:             "hi",
		Type:             domain.MessageText,
		ReplyToMessageID: "m0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "m-direct" {
		t.Errorf("record = %+v", rec)
	}

	if row["room_id"] != "room-1" || row["sender_id"] != "u1" {
		t.Errorf("row identity = %v / %v", row["room_id"], row["sender_id"])
	}
	if row["type"] != "TEXT" {
		t.Errorf("type on wire = %v, want upper-case", row["type"])
	}
	if row["reply_to_message_id"] != "m0" {
		t.Errorf("reply ref = %v", row["reply_to_message_id"])
	}
	if _, present := row["file_url"]; present {
		t.Error("file fields must be omitted for text messages")
	}
}

func TestDirectPath_NoIdentityFallsBackToRest(t *testing.T) {
	var restPayload struct {
		Text             string `json:"text"`
		Type             string `json:"type"`
		ReplyToMessageID string `json:"replyToMessageId"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/messages":
			t.Error("direct path must not be hit without identity")
		case "/chat/rooms/room-1/messages":
			json.NewDecoder(r.Body).Decode(&restPayload)
			w.Write([]byte(`{"id":"m-rest","senderId":"u1","text":"hi","type":"TEXT","sentAt":"2024-01-01T10:00:00Z"}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fakeIdentity{ok: false, token: "tok"}, zerolog.Nop())
	rec, err := c.SendMessage(context.Background(), "room-1", Outgoing{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "m-rest" {
		t.Errorf("record = %+v", rec)
	}
	if restPayload.Type != "TEXT" {
		t.Errorf("rest type = %q", restPayload.Type)
	}
	if restPayload.ReplyToMessageID != "" {
		t.Errorf("reply ref must be omitted when absent, got %q", restPayload.ReplyToMessageID)
	}
}

func TestDecodeRecord(t *testing.T) {
	rec, err := decodeRecord([]byte(` [{"id":"a"}] `))
	if err != nil || rec.ID != "a" {
		t.Errorf("array form: rec = %+v err = %v", rec, err)
	}
	rec, err = decodeRecord([]byte(`{"id":"b"}`))
	if err != nil || rec.ID != "b" {
		t.Errorf("object form: rec = %+v err = %v", rec, err)
	}
	if _, err := decodeRecord([]byte(`[]`)); err == nil {
		t.Error("empty array must error")
	}
}
