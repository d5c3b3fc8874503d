package globalstar

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Payload is the 72-bit SmartOne message, MSB first.
type Payload struct {
	Type               uint8
	BatteryBad         bool // bit 2, 0 = good
	GPSInvalid         bool // bit 3, 0 = valid
	MissedInput        uint8
	GPSFailCounter     uint8
	RawLatitude        int32
	RawLongitude       int32
	InputStatus        uint8
	SubType            uint8
	VibrationTriggered uint8
	VibrationBit       uint8
	TwoDFix            uint8
	InMotion           uint8
	FixConfidence      uint8 // 0 = high
}

// ParsePayload decodes an 18 character hex string, with or without a 0x prefix.
func ParsePayload(s string) (*Payload, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(data) != PayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrInvalidPayload, len(data), PayloadBytes)
	}

	return &Payload{
		Type:               uint8(bits(data, 0, 2)),
		BatteryBad:         bits(data, 2, 1) == 1,
		GPSInvalid:         bits(data, 3, 1) == 1,
		MissedInput:        uint8(bits(data, 4, 2)),
		GPSFailCounter:     uint8(bits(data, 6, 2)),
		RawLatitude:        twosComplement(bits(data, 8, coordinateBits), coordinateBits),
		RawLongitude:       twosComplement(bits(data, 32, coordinateBits), coordinateBits),
		InputStatus:        uint8(bits(data, 56, 4)),
		SubType:            uint8(bits(data, 60, 4)),
		VibrationTriggered: uint8(bits(data, 67, 1)),
		VibrationBit:       uint8(bits(data, 68, 1)),
		TwoDFix:            uint8(bits(data, 69, 1)),
		InMotion:           uint8(bits(data, 70, 1)),
		FixConfidence:      uint8(bits(data, 71, 1)),
	}, nil
}

func (p *Payload) Latitude() float64 {
	return float64(p.RawLatitude) * 90.0 / coordinateScale
}

func (p *Payload) Longitude() float64 {
	return float64(p.RawLongitude) * 180.0 / coordinateScale
}

// bits reads n bits starting at bit offset start, MSB first.
func bits(data []byte, start, n int) uint32 {
	var v uint32
	for i := start; i < start+n; i++ {
		bit := (data[i/8] >> (7 - uint(i%8))) & 1
		v = v<<1 | uint32(bit)
	}
	return v
}

// twosComplement interprets the low width bits of v as a signed value:
// a set top bit means -(complement + 1).
func twosComplement(v uint32, width int) int32 {
	mask := uint32(1)<<width - 1
	if v&(1<<(width-1)) != 0 {
		return -(int32(^v&mask) + 1)
	}
	return int32(v)
}
