// Package transport implements the HTTP client for the chat service: room
// lookup and creation, message history, the dual-path message send, and file
// upload. All operations take a context; the client itself imposes no
// timeout, so cancellation and deadlines are entirely the caller's.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clioworks/engagechat/internal/domain"
	"github.com/clioworks/engagechat/internal/wire"
)

// maxErrorBody caps how much of an error response body is kept on APIError.
const maxErrorBody = 2048

// IdentitySource supplies the locally persisted user identity and bearer
// credential. The identity package's Store satisfies this.
type IdentitySource interface {
	// CurrentUserID returns the signed-in user's ID, or false when absent.
	CurrentUserID() (string, bool)
	// Token returns the bearer credential, or "" when absent.
	Token() string
}

// Client talks to the chat service REST surface.
//
// Fields are exported so callers can adjust the HTTP client or logger after
// construction; the zero adjustments from NewClient are fine for production
// use.
type Client struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string
	// Identity resolves the current user and bearer token per request, so a
	// re-login is picked up without rebuilding the client.
	Identity IdentitySource
	// HTTPClient performs the requests. It deliberately has no Timeout;
	// deadlines come from the per-call context.
	HTTPClient *http.Client
	// Logger receives transport-level diagnostics.
	Logger zerolog.Logger

	primary  sendPath
	fallback sendPath
}

// NewClient constructs a Client for the service at baseURL, resolving
// credentials through ids.
func NewClient(baseURL string, ids IdentitySource, logger zerolog.Logger) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Identity:   ids,
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
	c.primary = &directPath{c: c}
	c.fallback = &restPath{c: c}
	return c
}

// roomPayload is the wire shape of a room. Like messages, rooms may arrive in
// either naming convention depending on the producing service.
type roomPayload struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	ContextType    string   `json:"contextType,omitempty"`
	ContextTypeAlt string   `json:"context_type,omitempty"`
	MemberIDs      []string `json:"memberIds,omitempty"`
	MemberIDsAlt   []string `json:"member_ids,omitempty"`
}

// toDomain converts the wire room into the in-memory model, preferring the
// camelCase fields.
func (p roomPayload) toDomain() domain.ChatRoom {
	ctx := p.ContextType
	if ctx == "" {
		ctx = p.ContextTypeAlt
	}
	members := p.MemberIDs
	if len(members) == 0 {
		members = p.MemberIDsAlt
	}
	return domain.ChatRoom{
		ID:          p.ID,
		Title:       p.Title,
		ContextType: domain.RoomContext(strings.ToLower(ctx)),
		MemberIDs:   members,
	}
}

// GetRoomByEngagement resolves the chat room bound to an engagement.
func (c *Client) GetRoomByEngagement(ctx context.Context, engagementID string) (domain.RoomSummary, error) {
	var env struct {
		Data roomPayload `json:"data"`
	}
	path := fmt.Sprintf("/engagements/%s/chat-room", engagementID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &env); err != nil {
		return domain.RoomSummary{}, fmt.Errorf("get room for engagement %s: %w", engagementID, err)
	}
	return domain.RoomSummary{ID: env.Data.ID, Title: env.Data.Title}, nil
}

// GetRoomByID fetches full room details, including the member list.
func (c *Client) GetRoomByID(ctx context.Context, roomID string) (*domain.ChatRoom, error) {
	var env struct {
		Data roomPayload `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/rooms/"+roomID, nil, &env); err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	room := env.Data.toDomain()
	return &room, nil
}

// CreateDirectRoom creates (or idempotently re-resolves) the direct room
// between the current user and partnerID. The member list is sent in sorted
// order so both initiation directions produce the same room identity.
// Fails with ErrUnauthenticated when no local identity is resolvable.
func (c *Client) CreateDirectRoom(ctx context.Context, partnerID, title string) (*domain.ChatRoom, error) {
	uid, ok := c.Identity.CurrentUserID()
	if !ok {
		return nil, fmt.Errorf("create direct room: %w", ErrUnauthenticated)
	}

	members := []string{uid, partnerID}
	sort.Strings(members)

	body := struct {
		Title       string   `json:"title,omitempty"`
		ContextType string   `json:"contextType"`
		MemberIDs   []string `json:"memberIds"`
	}{Title: title, ContextType: "DIRECT", MemberIDs: members}

	var env struct {
		Data roomPayload `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/rooms", body, &env); err != nil {
		return nil, fmt.Errorf("create direct room: %w", err)
	}
	room := env.Data.toDomain()
	return &room, nil
}

// AddMembers adds the given users to an existing room.
func (c *Client) AddMembers(ctx context.Context, roomID string, userIDs []string) error {
	body := struct {
		UserIDs []string `json:"userIds"`
	}{UserIDs: userIDs}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/rooms/"+roomID+"/members", body, nil); err != nil {
		return fmt.Errorf("add members to room %s: %w", roomID, err)
	}
	return nil
}

// GetMessages fetches the message history of a room as raw wire records.
// Normalization and ordering are the caller's job (see the session package).
func (c *Client) GetMessages(ctx context.Context, roomID string) ([]wire.RawRecord, error) {
	var env struct {
		Data []wire.RawRecord `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/rooms/"+roomID+"/messages", nil, &env); err != nil {
		return nil, fmt.Errorf("get messages for room %s: %w", roomID, err)
	}
	return env.Data, nil
}

// UploadFile uploads a file through the multipart endpoint and returns the
// resulting URL. The service has answered with either "url" or "fileUrl"
// across versions; both are accepted, preferring "url".
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("upload file: %w", statusError(resp.StatusCode, respBody))
	}

	var env struct {
		Data struct {
			URL     string `json:"url"`
			FileURL string `json:"fileUrl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return "", fmt.Errorf("upload file: parse response: %w", err)
	}
	if env.Data.URL != "" {
		return env.Data.URL, nil
	}
	if env.Data.FileURL != "" {
		return env.Data.FileURL, nil
	}
	return "", fmt.Errorf("upload file: response carried no url")
}

// MarkAsRead records that the current user has read the room's messages up to
// and including upToMessageID. The intended contract is idempotent: marking
// an already-read position is a no-op, and positions never move backwards.
//
// The backend capability is not wired yet, so this currently does nothing and
// never errors. Callers can already invoke it at the points where read
// receipts belong; behavior lights up when the endpoint ships.
func (c *Client) MarkAsRead(ctx context.Context, roomID, upToMessageID string) error {
	_ = ctx
	c.Logger.Debug().Str("room_id", roomID).Str("up_to", upToMessageID).Msg("markAsRead not wired on backend yet")
	return nil
}

// doJSON performs a JSON request against the service and decodes the response
// into out when out is non-nil. Non-2xx responses are mapped to the transport
// error taxonomy.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// authorize attaches the bearer credential when one is stored.
func (c *Client) authorize(req *http.Request) {
	if tok := c.Identity.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// statusError maps an HTTP status to the error taxonomy.
func statusError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthenticated
	case http.StatusNotFound:
		return ErrNotFound
	}
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return &APIError{Status: status, Body: b}
}
