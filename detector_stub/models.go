package main

import (
	"time"

	"gorm.io/gorm"
)

// InferenceRecord logs one analysis served by the stub, mirroring what the
// real sidecar would report for debugging.
type InferenceRecord struct {
	gorm.Model
	FileName   string    `gorm:"not null"`
	FileSize   int64     `gorm:"not null"`
	Conf       float64   // Confidence threshold the caller requested
	IoU        float64   // IoU threshold the caller requested
	Detections string    `gorm:"type:json"` // JSON list of detections returned
	ServedAt   time.Time `gorm:"not null"`
}
