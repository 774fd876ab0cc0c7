// Package devserver implements a local stand-in for the chat service so the
// SDK can be exercised end-to-end without the real backend. It serves the
// same REST surface the SDK consumes (engagement room lookup, room CRUD,
// message history, dual-path send, upload) and the realtime feed protocol.
//
// This file is the persistence layer: GORM models and query helpers over
// SQLite (pure Go driver).
package devserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Room is a persisted chat room.
type Room struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Title        string    `json:"title"         gorm:"type:varchar(255);not null"`
	ContextType  string    `json:"context_type"  gorm:"type:varchar(16);not null;check:context_type IN ('DIRECT','ENGAGEMENT')"`
	EngagementID string    `json:"-"             gorm:"type:char(36);index"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// Member links a user to a room.
type Member struct {
	RoomID string `json:"room_id" gorm:"type:char(36);primaryKey"`
	UserID string `json:"user_id" gorm:"type:varchar(64);primaryKey"`

	Room Room `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Member.
func (Member) TableName() string { return "members" }

// MessageRow is a persisted message. The JSON tags are snake_case on purpose:
// rows reach clients both through the direct-insert response and the realtime
// feed, and those paths speak the row convention (the REST send answer is
// rendered in camelCase separately, in the handlers).
type MessageRow struct {
	ID               string    `json:"id"                            gorm:"type:char(36);primaryKey"`
	RoomID           string    `json:"room_id"                       gorm:"type:char(36);not null;index:idx_room_msgs,priority:1"`
	SenderID         string    `json:"sender_id"                     gorm:"type:varchar(64);not null"`
	Text             string    `json:"text,omitempty"                gorm:"type:text"`
	Type             string    `json:"type"                          gorm:"type:varchar(16);not null"`
	FileURL          string    `json:"file_url,omitempty"            gorm:"type:text"`
	FileName         string    `json:"file_name,omitempty"           gorm:"type:varchar(255)"`
	FileSize         int64     `json:"file_size,omitempty"`
	ReplyToMessageID string    `json:"reply_to_message_id,omitempty" gorm:"type:char(36)"`
	SentAt           time.Time `json:"sent_at"                       gorm:"index:idx_room_msgs,priority:2"`

	Room Room `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MessageRow.
func (MessageRow) TableName() string { return "messages" }

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	return db, nil
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Room{}, &Member{}, &MessageRow{})
}

// CreateRoom inserts a room with its member list.
func CreateRoom(ctx context.Context, db *gorm.DB, room *Room, memberIDs []string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		for _, uid := range memberIDs {
			if err := tx.Create(&Member{RoomID: room.ID, UserID: uid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRoom fetches a room by ID.
func GetRoom(ctx context.Context, db *gorm.DB, id string) (*Room, error) {
	var room Room
	if err := db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoomByEngagement fetches the room bound to an engagement, if any.
func GetRoomByEngagement(ctx context.Context, db *gorm.DB, engagementID string) (*Room, error) {
	var room Room
	err := db.WithContext(ctx).
		First(&room, "engagement_id = ? AND context_type = ?", engagementID, "ENGAGEMENT").Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// FindDirectRoom looks for an existing direct room with exactly the given
// sorted member set, making direct-room creation idempotent.
func FindDirectRoom(ctx context.Context, db *gorm.DB, memberIDs []string) (*Room, error) {
	var rooms []Room
	err := db.WithContext(ctx).
		Joins("JOIN members ON members.room_id = rooms.id").
		Where("rooms.context_type = ? AND members.user_id IN ?", "DIRECT", memberIDs).
		Group("rooms.id").
		Having("COUNT(DISTINCT members.user_id) = ?", len(memberIDs)).
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		members, err := ListMembers(ctx, db, rooms[i].ID)
		if err != nil {
			return nil, err
		}
		if len(members) == len(memberIDs) {
			return &rooms[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ListMembers returns the user IDs in a room, sorted.
func ListMembers(ctx context.Context, db *gorm.DB, roomID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&Member{}).
		Where("room_id = ?", roomID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// AddMembers inserts the given users into a room, ignoring ones already
// present.
func AddMembers(ctx context.Context, db *gorm.DB, roomID string, userIDs []string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, uid := range userIDs {
			var count int64
			if err := tx.Model(&Member{}).
				Where("room_id = ? AND user_id = ?", roomID, uid).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(&Member{RoomID: roomID, UserID: uid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages returns a room's messages ordered by send time ascending.
func ListMessages(ctx context.Context, db *gorm.DB, roomID string) ([]MessageRow, error) {
	var rows []MessageRow
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at ASC").
		Find(&rows).Error
	return rows, err
}

// InsertMessage persists a message row.
func InsertMessage(ctx context.Context, db *gorm.DB, row *MessageRow) error {
	return db.WithContext(ctx).Create(row).Error
}

// IsNotFound reports whether err is the record-not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
