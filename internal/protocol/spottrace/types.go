// Package spottrace decodes SPOT Trace XML feed messages.
package spottrace

import (
	"errors"
	"strings"
)

const (
	elementMessage = "message"
	elementHeader  = "header"
	elementErrors  = "errors"

	// MessageTypeTest marks device self tests, which carry no telemetry.
	MessageTypeTest = "TEST"
)

// MessageTypes lists the message types SPOT devices are known to send.
var MessageTypes = map[string]bool{
	"TRACK":           true,
	"STOP":            true,
	"CUSTOM":          true,
	"OK":              true,
	"HELP":            true,
	"EXTREME":         true,
	"NEWMOVEMENT":     true,
	"UNLIMITED-TRACK": true,
}

// RequiredFields must be present on every message of a feed document.
var RequiredFields = []string{"id", "esn", "messageType", "timestamp", "timeInGMTSecond", "latitude", "longitude"}

var (
	ErrMalformedDocument = errors.New("malformed SPOT Trace document")
	ErrFeedErrors        = errors.New("error messages detected")
	ErrMissingField      = errors.New("missing field")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
)

// Message is one <message> element. Pointer fields distinguish an absent
// element from an empty one.
type Message struct {
	ID              *string `xml:"id"`
	ESN             *string `xml:"esn"`
	ESNName         *string `xml:"esnName"`
	MessageType     *string `xml:"messageType"`
	MessageDetail   *string `xml:"messageDetail"`
	Timestamp       *string `xml:"timestamp"`
	TimeInGMTSecond *string `xml:"timeInGMTSecond"`
	Latitude        *string `xml:"latitude"`
	Longitude       *string `xml:"longitude"`
	BatteryState    *string `xml:"batteryState"`
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
