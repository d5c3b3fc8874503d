package model

import "time"

// FenceAlert is created once per permitted transition. Only the delivery
// bookkeeping fields change after creation.
type FenceAlert struct {
	ID             int64          `json:"id"`
	GeofenceID     int64          `json:"geofence_id"`
	FenceStateID   int64          `json:"fence_state_id"`
	WebhookURL     string         `json:"webhook_url"`
	NumTries       int            `json:"num_tries"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	ResponseCode   int            `json:"response_code,omitempty"`
	Response       string         `json:"response,omitempty"`
	ProcessedStage ProcessedStage `json:"processed_stage"`
	Info           string         `json:"info,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AlertDelivery is everything the webhook payload needs, loaded in one query.
type AlertDelivery struct {
	Alert      FenceAlert
	ESN        string
	State      FenceStatus
	OccurredAt time.Time
	Latitude   float64
	Longitude  float64
}
