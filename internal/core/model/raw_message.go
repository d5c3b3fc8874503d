package model

import "time"

// ProcessedStage tracks raw transmissions and fence alerts through their workers.
type ProcessedStage int

const (
	StageSkipped ProcessedStage = -1
	StagePending ProcessedStage = 0
	StageClaimed ProcessedStage = 1
	StageDone    ProcessedStage = 2
)

type RawStatus string

const (
	RawStatusOK        RawStatus = "ok"
	RawStatusMalformed RawStatus = "malformed"
)

// RawMessage is an inbound device transmission exactly as received.
type RawMessage struct {
	ID             string         `json:"id" bson:"_id,omitempty"`
	Protocol       string         `json:"protocol" bson:"protocol"`
	Raw            string         `json:"raw" bson:"raw"`
	Status         RawStatus      `json:"status" bson:"status"`
	Extra          string         `json:"extra,omitempty" bson:"extra,omitempty"`
	ProcessedStage ProcessedStage `json:"processed_stage" bson:"processed_stage"`
	Attempts       int            `json:"attempts" bson:"attempts"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" bson:"updated_at"`
}

func NewRawMessage(protocol, raw string) *RawMessage {
	now := time.Now().UTC()
	return &RawMessage{
		Protocol:       protocol,
		Raw:            raw,
		Status:         RawStatusOK,
		ProcessedStage: StageClaimed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
