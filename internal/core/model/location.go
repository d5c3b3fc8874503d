package model

import "time"

// LocationFix is a persisted location message. Its ID orders the geofence sweep.
type LocationFix struct {
	ID         int64     `json:"id"`
	ESN        string    `json:"esn"`
	OccurredAt time.Time `json:"occurred_at"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Meta       string    `json:"meta,omitempty"`
	DedupKey   string    `json:"dedup_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// InfoRecord is a persisted non-location message.
type InfoRecord struct {
	ID         int64     `json:"id"`
	ESN        string    `json:"esn"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     Source    `json:"source"`
	Value      string    `json:"value"`
	Meta       string    `json:"meta,omitempty"`
	DedupKey   string    `json:"dedup_key"`
	CreatedAt  time.Time `json:"created_at"`
}
