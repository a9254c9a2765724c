// constants.go
package main

// Result statuses recorded in history and returned to clients
const (
	StatusPass      = "pass"      // Container body detected, points awarded
	StatusInvalid   = "invalid"   // No container body detected, no points
	StatusDuplicate = "duplicate" // Same image already submitted by this user
	StatusError     = "error"     // Analysis could not be performed
)

// Object classes reported by the detection model
const (
	ClassBottle = "bottle" // Container body
	ClassCap    = "cap"    // Cap still attached
	ClassLabel  = "label"  // Label still attached
)

// KnownClasses is the closed set of classes the scoring policy understands.
// A presence verdict always carries exactly one entry per class.
var KnownClasses = []string{ClassBottle, ClassCap, ClassLabel}

// Scoring settings
const (
	BaseScore      = 10 // Maximum reward when only the container body is detected
	DeductionValue = 2  // Penalty per undesired class still attached
)

// History and quota settings
const (
	HistoryPageSize = 20 // Entries per history page
	DailyUploadCap  = 5  // Maximum inspections per user per day
)
