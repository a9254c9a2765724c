package main

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB creates an isolated in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &HistoryEntry{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, username string) *User {
	t.Helper()

	user := User{Username: username}
	if err := user.SetPassword("password123"); err != nil {
		t.Fatalf("Failed to set password: %v", err)
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return &user
}

func TestDuplicateGuard(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)
	user := seedUser(t, db, "greta")

	imageData := []byte("identical image bytes")
	fingerprint := Fingerprint(imageData)

	exists, err := store.DuplicateExists("greta", fingerprint)
	if err != nil {
		t.Fatalf("Duplicate check failed: %v", err)
	}
	if exists {
		t.Error("Expected no duplicate before the first upload")
	}

	entry := HistoryEntry{
		Username:     "greta",
		OrgFilename:  "bottle.jpg",
		ResFilename:  "annotated_bottle.jpg",
		Score:        10,
		ResultStatus: StatusPass,
		ImageHash:    fingerprint,
	}
	if err := store.RecordUpload(&entry, user.ID, 10); err != nil {
		t.Fatalf("First upload should persist, got: %v", err)
	}

	exists, err = store.DuplicateExists("greta", fingerprint)
	if err != nil {
		t.Fatalf("Duplicate check failed: %v", err)
	}
	if !exists {
		t.Error("Expected duplicate after the first upload")
	}

	// A second insert with the same fingerprint must be refused inside the
	// transaction as well
	second := HistoryEntry{
		Username:     "greta",
		OrgFilename:  "bottle.jpg",
		ResFilename:  "annotated_bottle.jpg",
		Score:        10,
		ResultStatus: StatusPass,
		ImageHash:    fingerprint,
	}
	if err := store.RecordUpload(&second, user.ID, 10); err == nil {
		t.Error("Expected duplicate insert to be rejected")
	}

	var count int64
	db.Model(&HistoryEntry{}).Where("username = ?", "greta").Count(&count)
	if count != 1 {
		t.Errorf("Expected exactly one history entry, got %d", count)
	}
}

func TestDuplicateGuardScopedPerUsername(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	fingerprint := Fingerprint([]byte("shared bottle photo"))

	first := HistoryEntry{Username: "alice", OrgFilename: "a.jpg", ResFilename: "annotated_a.jpg",
		Score: 10, ResultStatus: StatusPass, ImageHash: fingerprint}
	if err := store.RecordUpload(&first, alice.ID, 10); err != nil {
		t.Fatalf("Alice's upload should persist, got: %v", err)
	}

	// The same image from a different user is not a duplicate
	second := HistoryEntry{Username: "bob", OrgFilename: "b.jpg", ResFilename: "annotated_b.jpg",
		Score: 10, ResultStatus: StatusPass, ImageHash: fingerprint}
	if err := store.RecordUpload(&second, bob.ID, 10); err != nil {
		t.Errorf("Bob's upload of the same image should persist, got: %v", err)
	}
}

func TestRecordUploadCreditsPoints(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)
	users := NewUserStore(db)
	user := seedUser(t, db, "greta")

	entry := HistoryEntry{Username: "greta", OrgFilename: "bottle.jpg", ResFilename: "annotated_bottle.jpg",
		Score: 8, ResultStatus: StatusPass, ImageHash: Fingerprint([]byte("img1"))}
	if err := store.RecordUpload(&entry, user.ID, 8); err != nil {
		t.Fatalf("Upload should persist, got: %v", err)
	}

	balance, err := users.PointsBalance(user.ID)
	if err != nil {
		t.Fatalf("Failed to read balance: %v", err)
	}
	if balance != 8 {
		t.Errorf("Expected balance 8, got %d", balance)
	}

	// Credits accumulate
	second := HistoryEntry{Username: "greta", OrgFilename: "bottle2.jpg", ResFilename: "annotated_bottle2.jpg",
		Score: 6, ResultStatus: StatusPass, ImageHash: Fingerprint([]byte("img2"))}
	if err := store.RecordUpload(&second, user.ID, 6); err != nil {
		t.Fatalf("Second upload should persist, got: %v", err)
	}

	balance, _ = users.PointsBalance(user.ID)
	if balance != 14 {
		t.Errorf("Expected balance 14, got %d", balance)
	}
}

func TestRecordUploadWithoutCredit(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)
	users := NewUserStore(db)
	user := seedUser(t, db, "greta")

	// Invalid results record history but never credit points
	entry := HistoryEntry{Username: "greta", OrgFilename: "wall.jpg", ResFilename: "annotated_wall.jpg",
		Score: 0, ResultStatus: StatusInvalid, ImageHash: Fingerprint([]byte("wall"))}
	if err := store.RecordUpload(&entry, 0, 0); err != nil {
		t.Fatalf("Upload should persist, got: %v", err)
	}

	balance, _ := users.PointsBalance(user.ID)
	if balance != 0 {
		t.Errorf("Expected balance 0, got %d", balance)
	}
}

func TestRecordUploadRefusesNegativePoints(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)
	user := seedUser(t, db, "greta")

	entry := HistoryEntry{Username: "greta", OrgFilename: "x.jpg", ResFilename: "annotated_x.jpg",
		Score: -1, ResultStatus: StatusPass, ImageHash: Fingerprint([]byte("x"))}
	if err := store.RecordUpload(&entry, user.ID, -1); err == nil {
		t.Error("Expected negative points to be refused")
	}
}

func TestHistoryPager(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)
	seedUser(t, db, "greta")

	// 45 entries, oldest first
	for i := 1; i <= 45; i++ {
		entry := HistoryEntry{
			Username:     "greta",
			OrgFilename:  fmt.Sprintf("bottle_%02d.jpg", i),
			ResFilename:  fmt.Sprintf("annotated_bottle_%02d.jpg", i),
			Score:        10,
			ResultStatus: StatusPass,
			ImageHash:    Fingerprint([]byte(fmt.Sprintf("image %d", i))),
		}
		if err := store.RecordUpload(&entry, 0, 0); err != nil {
			t.Fatalf("Failed to seed entry %d: %v", i, err)
		}
	}

	count, err := store.Count("greta")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 45 {
		t.Fatalf("Expected 45 entries, got %d", count)
	}
	if TotalPages(count) != 3 {
		t.Errorf("Expected 3 total pages, got %d", TotalPages(count))
	}

	page1, err := store.Page("greta", 1)
	if err != nil {
		t.Fatalf("Page 1 failed: %v", err)
	}
	if len(page1) != HistoryPageSize {
		t.Errorf("Expected %d entries on page 1, got %d", HistoryPageSize, len(page1))
	}
	// Most recent first
	if page1[0].OrgFilename != "bottle_45.jpg" {
		t.Errorf("Expected newest entry first, got %s", page1[0].OrgFilename)
	}

	page3, err := store.Page("greta", 3)
	if err != nil {
		t.Fatalf("Page 3 failed: %v", err)
	}
	if len(page3) != 5 {
		t.Errorf("Expected 5 entries on page 3, got %d", len(page3))
	}
	if page3[len(page3)-1].OrgFilename != "bottle_01.jpg" {
		t.Errorf("Expected oldest entry last, got %s", page3[len(page3)-1].OrgFilename)
	}

	page4, err := store.Page("greta", 4)
	if err != nil {
		t.Fatalf("Page 4 failed: %v", err)
	}
	if len(page4) != 0 {
		t.Errorf("Expected empty slice past the last page, got %d entries", len(page4))
	}
}

func TestHistoryPagerScopedPerUsername(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)

	for _, username := range []string{"alice", "bob"} {
		entry := HistoryEntry{Username: username, OrgFilename: username + ".jpg",
			ResFilename: "annotated_" + username + ".jpg", Score: 10,
			ResultStatus: StatusPass, ImageHash: Fingerprint([]byte(username))}
		if err := store.RecordUpload(&entry, 0, 0); err != nil {
			t.Fatalf("Failed to seed entry for %s: %v", username, err)
		}
	}

	entries, err := store.Page("alice", 1)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry for alice, got %d", len(entries))
	}
	if entries[0].Username != "alice" {
		t.Errorf("Expected only alice's entries, got %s", entries[0].Username)
	}
}

func TestCountOnDate(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)

	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)

	// Two entries today, one yesterday
	for i, created := range []time.Time{now, now.Add(-time.Hour), yesterday} {
		entry := HistoryEntry{Username: "greta", OrgFilename: fmt.Sprintf("b%d.jpg", i),
			ResFilename: fmt.Sprintf("annotated_b%d.jpg", i), Score: 10,
			ResultStatus: StatusPass, ImageHash: Fingerprint([]byte(fmt.Sprintf("day image %d", i)))}
		entry.CreatedAt = created
		if err := store.RecordUpload(&entry, 0, 0); err != nil {
			t.Fatalf("Failed to seed entry: %v", err)
		}
	}

	todayCount, err := store.CountOnDate("greta", now)
	if err != nil {
		t.Fatalf("CountOnDate failed: %v", err)
	}
	if todayCount != 2 {
		t.Errorf("Expected 2 entries today, got %d", todayCount)
	}

	yesterdayCount, err := store.CountOnDate("greta", yesterday)
	if err != nil {
		t.Fatalf("CountOnDate failed: %v", err)
	}
	if yesterdayCount != 1 {
		t.Errorf("Expected 1 entry yesterday, got %d", yesterdayCount)
	}
}

func TestPurgeAllLeavesUsersIntact(t *testing.T) {
	db := newTestDB(t)
	store := NewHistoryStore(db)
	user := seedUser(t, db, "greta")

	fingerprint := Fingerprint([]byte("purged image"))
	entry := HistoryEntry{Username: "greta", OrgFilename: "b.jpg", ResFilename: "annotated_b.jpg",
		Score: 10, ResultStatus: StatusPass, ImageHash: fingerprint}
	if err := store.RecordUpload(&entry, user.ID, 10); err != nil {
		t.Fatalf("Upload should persist, got: %v", err)
	}

	if err := store.PurgeAll(); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	var historyCount, userCount int64
	db.Model(&HistoryEntry{}).Count(&historyCount)
	db.Model(&User{}).Count(&userCount)

	if historyCount != 0 {
		t.Errorf("Expected no history entries after purge, got %d", historyCount)
	}
	if userCount != 1 {
		t.Errorf("Expected user accounts to survive purge, got %d", userCount)
	}

	// Fingerprints are reusable after a purge
	again := HistoryEntry{Username: "greta", OrgFilename: "b.jpg", ResFilename: "annotated_b.jpg",
		Score: 10, ResultStatus: StatusPass, ImageHash: fingerprint}
	if err := store.RecordUpload(&again, user.ID, 10); err != nil {
		t.Errorf("Expected fingerprint to be reusable after purge, got: %v", err)
	}
}

func TestLoginOrRegister(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)

	// First login creates the account
	user, created, err := users.LoginOrRegister("newcomer", "secret123")
	if err != nil {
		t.Fatalf("First login failed: %v", err)
	}
	if !created {
		t.Error("Expected account to be created on first login")
	}
	if user.Username != "newcomer" {
		t.Errorf("Expected username 'newcomer', got %s", user.Username)
	}

	// Second login with the right password authenticates
	again, created, err := users.LoginOrRegister("newcomer", "secret123")
	if err != nil {
		t.Fatalf("Second login failed: %v", err)
	}
	if created {
		t.Error("Expected existing account to be reused")
	}
	if again.ID != user.ID {
		t.Errorf("Expected same account, got IDs %d and %d", user.ID, again.ID)
	}

	// Wrong password is rejected, not treated as a new registration
	if _, _, err := users.LoginOrRegister("newcomer", "wrongpass"); err != ErrWrongPassword {
		t.Errorf("Expected ErrWrongPassword, got: %v", err)
	}

	var count int64
	db.Model(&User{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected a single account, got %d", count)
	}
}
