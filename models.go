//models.go
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User represents a registered user with a username, password hash and
// accumulated reward points.
type User struct {
	gorm.Model
	Username     string `gorm:"unique;not null"` // Unique username
	PasswordHash string `gorm:"not null"`        // Hashed password
	Points       int    `gorm:"default:0"`       // Accumulated reward points
}

// SetPassword hashes the given password and stores it in PasswordHash.
func (user *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares the given password with the stored PasswordHash.
func (user *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	return err == nil
}

// HistoryEntry is one inspection record for a user. Entries are append-only;
// they are only ever removed in bulk by an administrative purge.
type HistoryEntry struct {
	gorm.Model
	Username     string `gorm:"not null;uniqueIndex:idx_history_user_hash"` // Owner of the record
	OrgFilename  string `gorm:"not null"`                                   // Sanitized original filename
	ResFilename  string `gorm:"not null"`                                   // Annotated output filename
	Score        int    // Points awarded for this inspection
	ResultStatus string // One of the Status* constants
	DetailsJSON  string // Serialized list of {class, confidence} pairs
	ImageHash    string `gorm:"uniqueIndex:idx_history_user_hash"` // Content fingerprint of the upload
}

// Detection is a single raw record from the detection model. Boxes are kept
// for rendering only; scoring uses class and confidence.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// PresenceVerdict maps each known class to whether it was detected after
// deduplication. It always contains an entry for every known class.
type PresenceVerdict map[string]bool

// Deduction is a single itemized point penalty.
type Deduction struct {
	Reason string `json:"reason"`
	Amount int    `json:"amount"`
}

// ScoringResult is the outcome of scoring one upload. Immutable once produced.
type ScoringResult struct {
	Points     int         `json:"points"`
	Message    string      `json:"message"`
	Status     string      `json:"status"`
	Deductions []Deduction `json:"deductions"`
}

// SetDetails serializes the deduplicated detections into DetailsJSON,
// preserving their order.
func (entry *HistoryEntry) SetDetails(detections []Detection) error {
	data, err := json.Marshal(detections)
	if err != nil {
		return err
	}
	entry.DetailsJSON = string(data)
	return nil
}

// Details decodes DetailsJSON back into the stored detection list.
// An empty column decodes to an empty list.
func (entry *HistoryEntry) Details() ([]Detection, error) {
	if entry.DetailsJSON == "" {
		return []Detection{}, nil
	}
	var detections []Detection
	if err := json.Unmarshal([]byte(entry.DetailsJSON), &detections); err != nil {
		return nil, err
	}
	return detections, nil
}

// Fingerprint returns the hex-encoded SHA-256 digest of the raw image bytes.
// Used for exact duplicate detection, scoped per username.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
