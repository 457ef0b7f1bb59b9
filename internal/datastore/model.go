package datastore

import (
	"time"

	"gorm.io/gorm"
)

// Detection methods
const (
	MethodWebcam = "webcam"
	MethodUpload = "upload"
)

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 50

// Detection is one classified image, stored in emotion_detections.
type Detection struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserName        string    `gorm:"size:100;not null;index:idx_detections_user_time,priority:1" json:"user_name"`
	ImagePath       string    `gorm:"size:255;not null" json:"image_path"`
	DetectedEmotion string    `gorm:"size:50;not null;index" json:"detected_emotion"`
	Confidence      *float64  `json:"confidence,omitempty"`
	DetectionMethod string    `gorm:"size:20" json:"detection_method"`
	Timestamp       time.Time `gorm:"not null;index;index:idx_detections_user_time,priority:2" json:"timestamp"`
	Notes           string    `gorm:"type:text" json:"notes,omitempty"`
}

// TableName overrides the default gorm table name.
func (Detection) TableName() string {
	return "emotion_detections"
}

// BeforeCreate stamps records inserted without a timestamp.
func (d *Detection) BeforeCreate(_ *gorm.DB) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	return nil
}

// EmotionCount is one row of the per-label statistics.
type EmotionCount struct {
	Emotion string `gorm:"column:detected_emotion" json:"emotion"`
	Count   int64  `gorm:"column:total" json:"count"`
}
