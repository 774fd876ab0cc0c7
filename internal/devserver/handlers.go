// Package devserver — HTTP handlers for the stub chat service.
//
// The response conventions intentionally reproduce the production service's
// quirks so the SDK's compatibility paths get exercised: room and history
// payloads use snake_case, the REST send answer uses camelCase, the direct
// insert answers with a one-element array, and history timestamps are
// rendered without a zone suffix.
package devserver

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// zonelessFormat renders a UTC timestamp the way the legacy history endpoint
// does: correct wall-clock, no zone marker. The SDK's normalizer has to cope
// with this in production, so the stub reproduces it.
const zonelessFormat = "2006-01-02T15:04:05"

// Server bundles the stub's dependencies.
type Server struct {
	DB         *gorm.DB
	Hub        *Hub
	Log        zerolog.Logger
	UploadsDir string

	upgrader websocket.Upgrader
}

// NewServer constructs a Server over an opened database.
func NewServer(db *gorm.DB, hub *Hub, log zerolog.Logger, uploadsDir string) *Server {
	return &Server{
		DB:         db,
		Hub:        hub,
		Log:        log,
		UploadsDir: uploadsDir,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// ok writes the standard success envelope.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

// fail writes the standard error envelope.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := LoggerFrom(c)
		lg.Error().Int("status", status).Str("code", code).Msg(msg)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.GetString(requestIDKey),
		"code":       code,
		"message":    msg,
	})
}

// callerID resolves who is making the request. The stub takes the bearer
// token at face value as a user ID (development shortcut; the real service
// verifies a JWT), with X-User-ID as an alternative.
func callerID(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("X-User-ID")
}

// roomView renders a room plus members in the wire shape.
func (s *Server) roomView(c *gin.Context, room *Room) (gin.H, bool) {
	members, err := ListMembers(c.Request.Context(), s.DB, room.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "list members")
		return nil, false
	}
	return gin.H{
		"id":           room.ID,
		"title":        room.Title,
		"context_type": room.ContextType,
		"member_ids":   members,
	}, true
}

// getEngagementRoom resolves (creating on first use) the room bound to an
// engagement.
func (s *Server) getEngagementRoom(c *gin.Context) {
	engagementID := c.Param("id")

	room, err := GetRoomByEngagement(c.Request.Context(), s.DB, engagementID)
	if IsNotFound(err) {
		room = &Room{
			ID:           uuid.NewString(),
			Title:        "Engagement " + engagementID,
			ContextType:  "ENGAGEMENT",
			EngagementID: engagementID,
			CreatedAt:    time.Now().UTC(),
		}
		if err := CreateRoom(c.Request.Context(), s.DB, room, nil); err != nil {
			fail(c, http.StatusInternalServerError, "internal_error", "create engagement room")
			return
		}
	} else if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "resolve engagement room")
		return
	}

	ok(c, http.StatusOK, gin.H{"id": room.ID, "title": room.Title})
}

// getRoom returns a room with its member list.
func (s *Server) getRoom(c *gin.Context) {
	room, err := GetRoom(c.Request.Context(), s.DB, c.Param("roomID"))
	if IsNotFound(err) {
		fail(c, http.StatusNotFound, "not_found", "room not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "get room")
		return
	}
	view, okRoom := s.roomView(c, room)
	if !okRoom {
		return
	}
	ok(c, http.StatusOK, view)
}

// createRoom creates a room. Direct rooms are idempotent on their member
// set: creating the same two-party room twice resolves to the first one.
func (s *Server) createRoom(c *gin.Context) {
	var req struct {
		Title       string   `json:"title"`
		ContextType string   `json:"contextType" binding:"required"`
		MemberIDs   []string `json:"memberIds"   binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid room payload")
		return
	}
	ctxType := strings.ToUpper(req.ContextType)
	if ctxType != "DIRECT" && ctxType != "ENGAGEMENT" {
		fail(c, http.StatusBadRequest, "bad_request", "contextType must be DIRECT or ENGAGEMENT")
		return
	}

	members := append([]string(nil), req.MemberIDs...)
	sort.Strings(members)

	if ctxType == "DIRECT" {
		if existing, err := FindDirectRoom(c.Request.Context(), s.DB, members); err == nil {
			view, okRoom := s.roomView(c, existing)
			if !okRoom {
				return
			}
			ok(c, http.StatusOK, view)
			return
		} else if !IsNotFound(err) {
			fail(c, http.StatusInternalServerError, "internal_error", "lookup direct room")
			return
		}
	}

	title := req.Title
	if title == "" {
		title = "Direct chat"
	}
	room := &Room{
		ID:          uuid.NewString(),
		Title:       title,
		ContextType: ctxType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := CreateRoom(c.Request.Context(), s.DB, room, members); err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "create room")
		return
	}
	view, okRoom := s.roomView(c, room)
	if !okRoom {
		return
	}
	ok(c, http.StatusCreated, view)
}

// addMembers adds users to a room.
func (s *Server) addMembers(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"userIds" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid members payload")
		return
	}
	roomID := c.Param("roomID")
	if _, err := GetRoom(c.Request.Context(), s.DB, roomID); IsNotFound(err) {
		fail(c, http.StatusNotFound, "not_found", "room not found")
		return
	} else if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "get room")
		return
	}
	if err := AddMembers(c.Request.Context(), s.DB, roomID, req.UserIDs); err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "add members")
		return
	}
	c.Status(http.StatusNoContent)
}

// historyView renders a message row in the legacy history shape: snake_case
// fields and a zone-less sent_at.
func historyView(row MessageRow) gin.H {
	view := gin.H{
		"id":        row.ID,
		"sender_id": row.SenderID,
		"type":      row.Type,
		"sent_at":   row.SentAt.UTC().Format(zonelessFormat),
	}
	if row.Text != "" {
		view["content"] = row.Text
	}
	if row.FileURL != "" {
		view["file_url"] = row.FileURL
		view["file_name"] = row.FileName
		view["file_size"] = row.FileSize
	}
	if row.ReplyToMessageID != "" {
		view["reply_to_message_id"] = row.ReplyToMessageID
	}
	return view
}

// listMessages returns a room's history.
func (s *Server) listMessages(c *gin.Context) {
	rows, err := ListMessages(c.Request.Context(), s.DB, c.Param("roomID"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "list messages")
		return
	}
	views := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		views = append(views, historyView(row))
	}
	ok(c, http.StatusOK, views)
}

// sendMessage is the REST send path. The sender comes from the caller's
// credential and the answer is rendered in camelCase.
func (s *Server) sendMessage(c *gin.Context) {
	sender := callerID(c)
	if sender == "" {
		fail(c, http.StatusUnauthorized, "unauthenticated", "missing credential")
		return
	}

	var req struct {
		Text             string `json:"text"`
		FileURL          string `json:"fileUrl"`
		Type             string `json:"type" binding:"required"`
		FileName         string `json:"fileName"`
		FileSize         int64  `json:"fileSize"`
		ReplyToMessageID string `json:"replyToMessageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid message payload")
		return
	}

	row, errCode := s.persistMessage(c, c.Param("roomID"), sender, req.Text, req.Type, req.FileURL, req.FileName, req.FileSize, req.ReplyToMessageID)
	if errCode != "" {
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":               row.ID,
		"senderId":         row.SenderID,
		"text":             row.Text,
		"type":             row.Type,
		"fileUrl":          row.FileURL,
		"fileName":         row.FileName,
		"fileSize":         row.FileSize,
		"replyToMessageId": row.ReplyToMessageID,
		"sentAt":           row.SentAt.UTC().Format(time.RFC3339),
	})
}

// directInsert is the low-latency write path: a bare row insert that answers
// with a one-element array of the persisted row, return=representation
// style.
func (s *Server) directInsert(c *gin.Context) {
	var req struct {
		RoomID           string `json:"room_id" binding:"required"`
		SenderID         string `json:"sender_id" binding:"required"`
		Text             string `json:"text"`
		Type             string `json:"type" binding:"required"`
		FileURL          string `json:"file_url"`
		FileName         string `json:"file_name"`
		FileSize         int64  `json:"file_size"`
		ReplyToMessageID string `json:"reply_to_message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid row payload")
		return
	}

	row, errCode := s.persistMessage(c, req.RoomID, req.SenderID, req.Text, req.Type, req.FileURL, req.FileName, req.FileSize, req.ReplyToMessageID)
	if errCode != "" {
		return
	}
	c.JSON(http.StatusCreated, []MessageRow{*row})
}

// persistMessage validates the room, stores the row, and broadcasts the
// insert on the realtime feed. On failure it has already written the error
// response and returns a non-empty code.
func (s *Server) persistMessage(c *gin.Context, roomID, sender, text, msgType, fileURL, fileName string, fileSize int64, replyTo string) (*MessageRow, string) {
	if _, err := GetRoom(c.Request.Context(), s.DB, roomID); IsNotFound(err) {
		fail(c, http.StatusNotFound, "not_found", "room not found")
		return nil, "not_found"
	} else if err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "get room")
		return nil, "internal_error"
	}
	if text == "" && fileURL == "" {
		fail(c, http.StatusBadRequest, "bad_request", "message needs text or a file")
		return nil, "bad_request"
	}

	row := &MessageRow{
		ID:               uuid.NewString(),
		RoomID:           roomID,
		SenderID:         sender,
		Text:             text,
		Type:             strings.ToUpper(msgType),
		FileURL:          fileURL,
		FileName:         fileName,
		FileSize:         fileSize,
		ReplyToMessageID: replyTo,
		SentAt:           time.Now().UTC(),
	}
	if err := InsertMessage(c.Request.Context(), s.DB, row); err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "insert message")
		return nil, "internal_error"
	}

	s.Hub.BroadcastInsert(roomID, *row)
	feedInserts.Inc()
	return row, ""
}

// upload receives a multipart file and answers with its served URL.
func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "missing file field")
		return
	}
	name := uuid.NewString() + "-" + filepath.Base(file.Filename)
	if err := os.MkdirAll(s.UploadsDir, 0o755); err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "prepare uploads dir")
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(s.UploadsDir, name)); err != nil {
		fail(c, http.StatusInternalServerError, "internal_error", "store upload")
		return
	}

	url := fmt.Sprintf("http://%s/files/%s", c.Request.Host, name)
	ok(c, http.StatusCreated, gin.H{"url": url})
}

// realtime upgrades to a websocket and services the feed protocol: a join
// frame with a credential opens the room topic, leave or disconnect closes
// it.
func (s *Server) realtime(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var join feedFrame
	if err := conn.ReadJSON(&join); err != nil || join.Event != "join" || join.Topic == "" {
		conn.WriteJSON(feedFrame{Event: "error", Payload: []byte(`"expected join frame"`)})
		return
	}
	if join.Token == "" {
		conn.WriteJSON(feedFrame{Topic: join.Topic, Event: "error", Payload: []byte(`"missing credential"`)})
		return
	}

	client := s.Hub.join(join.Topic, conn)
	feedClients.Inc()
	defer func() {
		s.Hub.leave(client)
		feedClients.Dec()
	}()

	for {
		var fr feedFrame
		if err := conn.ReadJSON(&fr); err != nil {
			return
		}
		if fr.Event == "leave" && fr.Topic == client.topic {
			return
		}
	}
}

// healthz is the liveness probe.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
