// Package wire models the loosely-typed message records the backend emits and
// converts them into the typed domain model. The backend is inconsistent in
// two ways this package has to absorb: field names arrive in either camelCase
// or snake_case depending on which service produced the record, and
// timestamps sometimes arrive without a timezone marker even though they are
// UTC. Both quirks are handled here, at ingestion, so nothing past this
// package ever sees a raw record.
package wire

import (
	"regexp"
	"strings"
	"time"

	"github.com/clioworks/engagechat/internal/domain"
)

// RawRecord is the structural contract for a message as it crosses the
// service boundary, from the history endpoint, the realtime feed, or a send
// response. Every optional field appears twice: once with the camelCase
// spelling and once (the *Alt variant) with the snake_case spelling. The
// camelCase spelling wins when both are present.
type RawRecord struct {
	ID string `json:"id"`

	SenderID    string `json:"senderId,omitempty"`
	SenderIDAlt string `json:"sender_id,omitempty"`

	Text    string `json:"text,omitempty"`
	TextAlt string `json:"content,omitempty"`

	Type    string `json:"type,omitempty"`
	TypeAlt string `json:"message_type,omitempty"`

	FileURL    string `json:"fileUrl,omitempty"`
	FileURLAlt string `json:"file_url,omitempty"`

	FileName    string `json:"fileName,omitempty"`
	FileNameAlt string `json:"file_name,omitempty"`

	FileSize    *int64 `json:"fileSize,omitempty"`
	FileSizeAlt *int64 `json:"file_size,omitempty"`

	ReplyToMessageID    string `json:"replyToMessageId,omitempty"`
	ReplyToMessageIDAlt string `json:"reply_to_message_id,omitempty"`

	Status string `json:"status,omitempty"`

	// Timestamp sources in resolution priority order.
	SentAt       string `json:"sentAt,omitempty"`
	SentAtAlt    string `json:"sent_at,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	CreatedAtAlt string `json:"created_at,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// offsetSuffixRE matches an explicit negative UTC offset at the end of a
// timestamp, e.g. "2024-01-01T10:00:00-05:00".
var offsetSuffixRE = regexp.MustCompile(`-\d{2}:\d{2}$`)

// EnsureUTC appends a "Z" suffix to a timestamp string that carries no
// explicit zone marker, forcing UTC interpretation. The backend sometimes
// strips the zone from UTC timestamps; this is a compatibility shim for that.
// Limitation: a timestamp ending in some other non-standard suffix would be
// passed through unchanged and fail to parse, falling back to the current
// instant in Normalize.
func EnsureUTC(ts string) string {
	if ts == "" {
		return ts
	}
	if strings.HasSuffix(ts, "Z") || strings.Contains(ts, "+") || offsetSuffixRE.MatchString(ts) {
		return ts
	}
	return ts + "Z"
}

// first returns the first non-empty string of the pair.
func first(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

// resolveTimestamp picks the send time from the record's timestamp sources in
// priority order: sentAt, createdAt, then the bare timestamp field, each with
// its snake_case fallback.
func (r RawRecord) resolveTimestamp() string {
	for _, ts := range []string{r.SentAt, r.SentAtAlt, r.CreatedAt, r.CreatedAtAlt, r.Timestamp} {
		if ts != "" {
			return ts
		}
	}
	return ""
}

// parseTimestamp parses a zone-corrected timestamp. RFC 3339 with or without
// fractional seconds covers everything the backend emits.
func parseTimestamp(ts string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseType converts a wire type value to the in-memory lower-case enum.
// Unknown or absent values degrade to text.
func ParseType(s string) domain.MessageType {
	switch strings.ToLower(s) {
	case string(domain.MessageImage):
		return domain.MessageImage
	case string(domain.MessageDocument):
		return domain.MessageDocument
	case string(domain.MessageGIF):
		return domain.MessageGIF
	default:
		return domain.MessageText
	}
}

// TypeToWire converts an in-memory message type to its wire spelling.
func TypeToWire(t domain.MessageType) string {
	if t == "" {
		t = domain.MessageText
	}
	return strings.ToUpper(string(t))
}

// parseStatus maps a wire status onto the delivery enum. Server-side records
// are at least sent, so that is the floor for anything unrecognized.
func parseStatus(s string) domain.MessageStatus {
	switch strings.ToLower(s) {
	case string(domain.StatusDelivered):
		return domain.StatusDelivered
	case string(domain.StatusRead):
		return domain.StatusRead
	default:
		return domain.StatusSent
	}
}

// Normalize converts a raw wire record into the canonical in-memory message.
// It never fails: missing optional fields stay zero-valued, and a record with
// no usable timestamp at all is stamped with the current instant so ordering
// still has something to work with.
func Normalize(r RawRecord) domain.Message {
	m := domain.Message{
		ID:               r.ID,
		SenderID:         first(r.SenderID, r.SenderIDAlt),
		Text:             first(r.Text, r.TextAlt),
		Type:             ParseType(first(r.Type, r.TypeAlt)),
		Status:           parseStatus(r.Status),
		FileURL:          first(r.FileURL, r.FileURLAlt),
		FileName:         first(r.FileName, r.FileNameAlt),
		ReplyToMessageID: first(r.ReplyToMessageID, r.ReplyToMessageIDAlt),
	}

	if r.FileSize != nil {
		m.FileSize = *r.FileSize
	} else if r.FileSizeAlt != nil {
		m.FileSize = *r.FileSizeAlt
	}

	if ts := r.resolveTimestamp(); ts != "" {
		if t, ok := parseTimestamp(EnsureUTC(ts)); ok {
			m.SentAt = t
		}
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	m.SentAtMillis = m.SentAt.UnixMilli()

	return m
}
