// Package globalstar decodes Globalstar SmartOne satellite transmissions.
package globalstar

import "errors"

// Payload constants
const (
	PayloadBytes    = 9
	PayloadEncoding = "hex"

	coordinateBits = 24
	// 2^23, the scale of a 24-bit two's complement coordinate
	coordinateScale = 1 << 23
)

// Message sub-types carried in bits 60-63.
const (
	SubTypeLocation         = 0
	SubTypePowerOn          = 1
	SubTypeChangeOfLocation = 2
	SubTypeInputChange      = 3
	SubTypeUndesiredInput   = 4
	SubTypeRecenter         = 5
)

var subTypeAlerts = map[uint8]string{
	SubTypeChangeOfLocation: "change_of_location",
	SubTypeInputChange:      "input_change",
	SubTypeUndesiredInput:   "undesired_input",
	SubTypeRecenter:         "recenter",
}

var (
	ErrInvalidPayload  = errors.New("invalid Globalstar payload")
	ErrInvalidDocument = errors.New("invalid Globalstar document")
)
