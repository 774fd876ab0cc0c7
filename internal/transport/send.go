// Package transport — dual-path message send.
//
// Sends go out over two semantically equivalent paths: a direct low-latency
// row insert (PostgREST style) first, and the standard REST endpoint as the
// fallback when the direct path fails for any reason. Each path is a small
// strategy object; SendMessage evaluates them in sequence and only surfaces
// an error when both have failed.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/clioworks/engagechat/internal/domain"
	"github.com/clioworks/engagechat/internal/wire"
)

// Outgoing is the sendable content of a message. Text-only messages leave the
// file fields zero; file messages carry the URL obtained from UploadFile.
type Outgoing struct {
	Text             string
	Type             domain.MessageType
	FileURL          string
	FileName         string
	FileSize         int64
	ReplyToMessageID string
}

// sendPath is one way of getting a message to the server. Both paths accept
// the same content and hand back the persisted record in wire form.
type sendPath interface {
	name() string
	send(ctx context.Context, roomID string, out Outgoing) (*wire.RawRecord, error)
}

// SendMessage persists a message to the room. The direct path is attempted
// first; any failure there (transport or structured) falls back to the REST
// path with the same payload. The returned record is raw; the session layer
// normalizes it.
func (c *Client) SendMessage(ctx context.Context, roomID string, out Outgoing) (*wire.RawRecord, error) {
	rec, primaryErr := c.primary.send(ctx, roomID, out)
	if primaryErr == nil {
		return rec, nil
	}
	c.Logger.Warn().
		Err(primaryErr).
		Str("room_id", roomID).
		Str("path", c.primary.name()).
		Msg("primary send path failed, falling back")

	rec, err := c.fallback.send(ctx, roomID, out)
	if err != nil {
		return nil, fmt.Errorf("send message: %s path: %v; %s path: %w",
			c.primary.name(), primaryErr, c.fallback.name(), err)
	}
	return rec, nil
}

// directPath inserts the message row straight into the message table through
// the PostgREST-style surface. Lowest latency, but requires a locally
// resolved sender identity because the row carries sender_id explicitly.
type directPath struct {
	c *Client
}

func (p *directPath) name() string { return "direct" }

func (p *directPath) send(ctx context.Context, roomID string, out Outgoing) (*wire.RawRecord, error) {
	uid, ok := p.c.Identity.CurrentUserID()
	if !ok {
		return nil, ErrUnauthenticated
	}

	row := map[string]any{
		"room_id":   roomID,
		"sender_id": uid,
		"type":      wire.TypeToWire(out.Type),
	}
	if out.Text != "" {
		row["text"] = out.Text
	}
	if out.FileURL != "" {
		row["file_url"] = out.FileURL
		row["file_name"] = out.FileName
		row["file_size"] = out.FileSize
	}
	if out.ReplyToMessageID != "" {
		row["reply_to_message_id"] = out.ReplyToMessageID
	}

	body, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.c.BaseURL+"/rest/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	p.c.authorize(req)

	resp, err := p.c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, respBody)
	}
	return decodeRecord(respBody)
}

// restPath posts through the standard messages endpoint as the compatibility
// fallback. The server infers the sender from the bearer credential.
type restPath struct {
	c *Client
}

func (p *restPath) name() string { return "rest" }

func (p *restPath) send(ctx context.Context, roomID string, out Outgoing) (*wire.RawRecord, error) {
	payload := struct {
		Text             string `json:"text,omitempty"`
		FileURL          string `json:"fileUrl,omitempty"`
		Type             string `json:"type"`
		FileName         string `json:"fileName,omitempty"`
		FileSize         int64  `json:"fileSize,omitempty"`
		ReplyToMessageID string `json:"replyToMessageId,omitempty"`
	}{
		Text:             out.Text,
		FileURL:          out.FileURL,
		Type:             wire.TypeToWire(out.Type),
		FileName:         out.FileName,
		FileSize:         out.FileSize,
		ReplyToMessageID: out.ReplyToMessageID,
	}

	var rec wire.RawRecord
	if err := p.c.doJSON(ctx, http.MethodPost, "/chat/rooms/"+roomID+"/messages", payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// decodeRecord accepts both response shapes the direct path produces: a bare
// object, or a one-element array (return=representation semantics).
func decodeRecord(body []byte) (*wire.RawRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []wire.RawRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("parse insert response: %w", err)
		}
		if len(recs) == 0 {
			return nil, fmt.Errorf("insert response carried no record")
		}
		return &recs[0], nil
	}
	var rec wire.RawRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("parse insert response: %w", err)
	}
	return &rec, nil
}
