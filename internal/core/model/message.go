package model

import (
	"time"

	"github.com/SnakeO/gps-catcher/internal/coords"
)

// Source identifies what a canonical message describes.
type Source string

const (
	SourceLocation Source = "location"
	SourceBattery  Source = "battery"
	SourcePowered  Source = "powered"
	SourceMotion   Source = "is_in_motion"
)

// InfoSource names a generic info event. Info events are stored under their
// bare name (for example "alert").
func InfoSource(name string) Source {
	return Source(name)
}

// Battery values.
const (
	BatteryGood = "g"
	BatteryBad  = "b"
)

// CanonicalMessage is the protocol-agnostic result of decoding one device transmission.
type CanonicalMessage struct {
	ID                int64     `json:"id,omitempty"`
	ExternalMessageID string    `json:"external_message_id"`
	ESN               string    `json:"esn"`
	Source            Source    `json:"source"`
	Value             string    `json:"value"`
	Meta              string    `json:"meta,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
	DedupKey          string    `json:"dedup_key"`

	// Delivery bookkeeping, owned by the sender.
	OriginType string `json:"origin_type,omitempty"`
	OriginID   string `json:"origin_id,omitempty"`
	IsSent     bool   `json:"is_sent"`
	NumTries   int    `json:"num_tries"`
	Info       string `json:"info,omitempty"`

	// Persisted is true when the message was loaded from the store rather than built.
	Persisted bool `json:"-"`
}

func (m *CanonicalMessage) IsLocation() bool {
	return m.Source == SourceLocation
}

// Coordinates parses the value of a location message.
func (m *CanonicalMessage) Coordinates() (coords.Coordinates, error) {
	return coords.Parse(m.Value)
}
