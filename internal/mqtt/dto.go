package mqtt

import (
	"encoding/json"
	"time"

	"github.com/tphakala/emotion-go/internal/datastore"
)

// DetectionEventDTO is the JSON payload published for each stored detection.
//
// Field names are part of the published contract, consumers match on them.
type DetectionEventDTO struct {
	DetectionID uint     `json:"detectionId"`
	UserName    string   `json:"userName"`
	Emotion     string   `json:"emotion"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Method      string   `json:"method"`
	ImagePath   string   `json:"imagePath,omitempty"`
	Date        string   `json:"date"`      // "2024-01-15"
	Time        string   `json:"time"`      // "14:30:00"
	Timestamp   string   `json:"timestamp"` // RFC3339
	Timezone    string   `json:"timezone,omitempty"`
	Source      string   `json:"source"`
}

// NewDetectionEventDTO creates a DetectionEventDTO from a stored detection.
func NewDetectionEventDTO(d *datastore.Detection, source string) *DetectionEventDTO {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	dto := &DetectionEventDTO{
		DetectionID: d.ID,
		UserName:    d.UserName,
		Emotion:     d.DetectedEmotion,
		Confidence:  d.Confidence,
		Method:      d.DetectionMethod,
		ImagePath:   d.ImagePath,
		Date:        ts.Format(time.DateOnly),
		Time:        ts.Format(time.TimeOnly),
		Timestamp:   ts.Format(time.RFC3339),
		Source:      source,
	}
	if ts.Location() != nil {
		dto.Timezone = ts.Location().String()
	}
	return dto
}

// Marshal returns the JSON encoding of dto.
func (dto *DetectionEventDTO) Marshal() (string, error) {
	data, err := json.Marshal(dto)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
