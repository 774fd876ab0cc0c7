package devserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// openTestDB opens a throwaway SQLite database under t.TempDir.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "stub.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func mkRoom(t *testing.T, db *gorm.DB, ctxType string, members []string) *Room {
	t.Helper()
	room := &Room{
		ID:          uuid.NewString(),
		Title:       "test room",
		ContextType: ctxType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := CreateRoom(context.Background(), db, room, members); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func TestCreateRoomPersistsMembers(t *testing.T) {
	db := openTestDB(t)
	room := mkRoom(t, db, "DIRECT", []string{"user-b", "user-a"})

	members, err := ListMembers(context.Background(), db, room.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "user-a" || members[1] != "user-b" {
		t.Fatalf("members = %v, want sorted [user-a user-b]", members)
	}
}

func TestFindDirectRoomMatchesExactMemberSet(t *testing.T) {
	db := openTestDB(t)
	pair := mkRoom(t, db, "DIRECT", []string{"user-a", "user-b"})
	mkRoom(t, db, "DIRECT", []string{"user-a", "user-b", "user-c"})

	got, err := FindDirectRoom(context.Background(), db, []string{"user-a", "user-b"})
	if err != nil {
		t.Fatalf("FindDirectRoom: %v", err)
	}
	if got.ID != pair.ID {
		t.Fatalf("FindDirectRoom = %s, want %s", got.ID, pair.ID)
	}

	if _, err := FindDirectRoom(context.Background(), db, []string{"user-a", "user-z"}); !IsNotFound(err) {
		t.Fatalf("unknown pair: err = %v, want not found", err)
	}
}

func TestAddMembersSkipsExisting(t *testing.T) {
	db := openTestDB(t)
	room := mkRoom(t, db, "ENGAGEMENT", []string{"user-a"})

	if err := AddMembers(context.Background(), db, room.ID, []string{"user-a", "user-b"}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	members, err := ListMembers(context.Background(), db, room.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %v, want exactly 2", members)
	}
}

func TestGetRoomByEngagement(t *testing.T) {
	db := openTestDB(t)
	room := &Room{
		ID:           uuid.NewString(),
		Title:        "Engagement eng-1",
		ContextType:  "ENGAGEMENT",
		EngagementID: "eng-1",
		CreatedAt:    time.Now().UTC(),
	}
	if err := CreateRoom(context.Background(), db, room, nil); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	got, err := GetRoomByEngagement(context.Background(), db, "eng-1")
	if err != nil {
		t.Fatalf("GetRoomByEngagement: %v", err)
	}
	if got.ID != room.ID {
		t.Fatalf("room = %s, want %s", got.ID, room.ID)
	}
	if _, err := GetRoomByEngagement(context.Background(), db, "eng-2"); !IsNotFound(err) {
		t.Fatalf("unknown engagement: err = %v, want not found", err)
	}
}

func TestListMessagesOrderedBySentAt(t *testing.T) {
	db := openTestDB(t)
	room := mkRoom(t, db, "DIRECT", []string{"user-a", "user-b"})

	base := time.Now().UTC().Truncate(time.Second)
	for i, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		row := &MessageRow{
			ID:       uuid.NewString(),
			RoomID:   room.ID,
			SenderID: "user-a",
			Text:     string(rune('a' + i)),
			Type:     "TEXT",
			SentAt:   base.Add(offset),
		}
		if err := InsertMessage(context.Background(), db, row); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	rows, err := ListMessages(context.Background(), db, room.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].SentAt.Before(rows[i-1].SentAt) {
			t.Fatalf("rows out of order at %d: %v before %v", i, rows[i].SentAt, rows[i-1].SentAt)
		}
	}
}
