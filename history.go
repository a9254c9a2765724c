// history.go
package main

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
)

// HistoryStore owns the append-only inspection log and the points credit
// that accompanies each passing inspection.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore creates a store over the given database handle.
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// DuplicateExists reports whether the user has already submitted an image
// with this fingerprint. A store error is returned as-is so the caller can
// fail safe by rejecting the upload rather than letting a duplicate through.
func (s *HistoryStore) DuplicateExists(username, fingerprint string) (bool, error) {
	var count int64
	err := s.db.Model(&HistoryEntry{}).
		Where("username = ? AND image_hash = ?", username, fingerprint).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordUpload persists one inspection atomically: the duplicate fingerprint
// check is repeated inside the transaction, the history entry is inserted and
// the user's points balance is credited in the same unit of work. creditUserID
// is zero when no credit should be applied (admin session or non-pass result).
func (s *HistoryStore) RecordUpload(entry *HistoryEntry, creditUserID uint, points int) error {
	if points < 0 {
		return fmt.Errorf("refusing to credit negative points: %d", points)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&HistoryEntry{}).
			Where("username = ? AND image_hash = ?", entry.Username, entry.ImageHash).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return gorm.ErrDuplicatedKey
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		if creditUserID != 0 && points > 0 {
			result := tx.Model(&User{}).
				Where("id = ?", creditUserID).
				Update("points", gorm.Expr("points + ?", points))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}
		return nil
	})
}

// Count returns the total number of history entries for a user.
func (s *HistoryStore) Count(username string) (int64, error) {
	var count int64
	err := s.db.Model(&HistoryEntry{}).
		Where("username = ?", username).
		Count(&count).Error
	return count, err
}

// Page returns one page of a user's history, most recent first. Pages are
// 1-based; a page past the end returns an empty slice, not an error.
func (s *HistoryStore) Page(username string, page int) ([]HistoryEntry, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * HistoryPageSize

	entries := []HistoryEntry{}
	err := s.db.Where("username = ?", username).
		Order("id DESC").
		Limit(HistoryPageSize).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// TotalPages converts an entry count into a page count.
func TotalPages(count int64) int {
	return int(math.Ceil(float64(count) / float64(HistoryPageSize)))
}

// CountOnDate returns the number of entries a user created on the given
// calendar day, in the day's local timezone. Used for the daily upload cap.
func (s *HistoryStore) CountOnDate(username string, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var count int64
	err := s.db.Model(&HistoryEntry{}).
		Where("username = ? AND created_at >= ? AND created_at < ?", username, start, end).
		Count(&count).Error
	return count, err
}

// PurgeAll removes every history entry, leaving user accounts intact. The
// delete is unscoped so fingerprints become reusable immediately. Destructive
// and irreversible; only reachable from an administrative session.
func (s *HistoryStore) PurgeAll() error {
	return s.db.Unscoped().Where("1 = 1").Delete(&HistoryEntry{}).Error
}

// UserStore is the identity collaborator: account lookup, first-login
// registration and balance reads. Points credits go through
// HistoryStore.RecordUpload so they stay inside the upload transaction.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a store over the given database handle.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// ErrWrongPassword is returned when the account exists but the password
// does not match.
var ErrWrongPassword = errors.New("invalid username or password")

// LoginOrRegister authenticates a user, creating the account on first login.
// This unusual signup-on-first-login behavior is deliberate and isolated
// here so it can be swapped for stricter auth later. The second return value
// reports whether a new account was created.
func (s *UserStore) LoginOrRegister(username, password string) (*User, bool, error) {
	var user User
	err := s.db.Where("username = ?", username).First(&user).Error
	if err == nil {
		if !user.CheckPassword(password) {
			return nil, false, ErrWrongPassword
		}
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	newUser := User{Username: username}
	if err := newUser.SetPassword(password); err != nil {
		return nil, false, err
	}
	if err := s.db.Create(&newUser).Error; err != nil {
		return nil, false, err
	}
	return &newUser, true, nil
}

// PointsBalance returns the user's current reward point balance.
func (s *UserStore) PointsBalance(userID uint) (int, error) {
	var user User
	if err := s.db.Select("points").First(&user, userID).Error; err != nil {
		return 0, err
	}
	return user.Points, nil
}
