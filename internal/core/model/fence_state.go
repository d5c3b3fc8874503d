package model

import "time"

// FenceStatus is the inside/outside classification of a device against one geofence.
// The empty value means no state has been recorded yet.
type FenceStatus string

const (
	StatusUnknown FenceStatus = ""
	StatusInside  FenceStatus = "inside"
	StatusOutside FenceStatus = "outside"
)

func StatusFor(inside bool) FenceStatus {
	if inside {
		return StatusInside
	}
	return StatusOutside
}

type Transition int

const (
	TransitionNone Transition = iota
	TransitionEntered
	TransitionExited
)

func (t Transition) String() string {
	switch t {
	case TransitionEntered:
		return "ENTERED"
	case TransitionExited:
		return "EXITED"
	}
	return "NONE"
}

// DetectTransition returns Entered for outside->inside and Exited for inside->outside.
// Everything else, including any move out of the unknown state, is TransitionNone.
func DetectTransition(previous, current FenceStatus) Transition {
	switch {
	case previous == StatusOutside && current == StatusInside:
		return TransitionEntered
	case previous == StatusInside && current == StatusOutside:
		return TransitionExited
	}
	return TransitionNone
}

// FenceState is one observed state change for an (esn, geofence) pair.
type FenceState struct {
	ID            int64       `json:"id"`
	ESN           string      `json:"esn"`
	GeofenceID    int64       `json:"geofence_id"`
	LocationFixID int64       `json:"location_fix_id"`
	OccurredAt    time.Time   `json:"occurred_at"`
	State         FenceStatus `json:"state"`
	CreatedAt     time.Time   `json:"created_at"`
}
