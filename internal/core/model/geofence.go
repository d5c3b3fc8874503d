package model

import (
	"fmt"
	"time"
)

// AlertType controls which crossings of a geofence raise an alert.
type AlertType string

const (
	AlertEnter AlertType = "enter"
	AlertExit  AlertType = "exit"
	AlertBoth  AlertType = "both"
)

// ParseAlertType accepts the long names and the single letter codes (i, o, b).
func ParseAlertType(s string) (AlertType, error) {
	switch s {
	case "enter", "i":
		return AlertEnter, nil
	case "exit", "o":
		return AlertExit, nil
	case "both", "b":
		return AlertBoth, nil
	}
	return "", fmt.Errorf("unknown alert type %q", s)
}

// Permits reports whether a transition should raise an alert for this alert type.
func (a AlertType) Permits(t Transition) bool {
	switch t {
	case TransitionEntered:
		return a == AlertEnter || a == AlertBoth
	case TransitionExited:
		return a == AlertExit || a == AlertBoth
	}
	return false
}

type Geofence struct {
	ID            int64      `json:"id"`
	ESN           string     `json:"esn"`
	Fence         string     `json:"fence"` // WKT polygon
	Meta          string     `json:"meta,omitempty"`
	IsSingleAlert bool       `json:"is_single_alert"`
	NumAlertsSent int        `json:"num_alerts_sent"`
	AlertType     AlertType  `json:"alert_type"`
	WebhookURL    string     `json:"webhook_url"`
	CreatedBy     int64      `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

func (g *Geofence) IsDeleted() bool {
	return g.DeletedAt != nil
}
