// Package gps306a decodes the GPS306A OBD tracker's NMEA flavored CSV reports.
package gps306a

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SnakeO/gps-catcher/internal/coords"
	"github.com/SnakeO/gps-catcher/internal/core/message"
	"github.com/SnakeO/gps-catcher/internal/core/model"
)

const (
	Delimiter  = ","
	Terminator = ";"
	NumFields  = 19
	imeiPrefix = "imei:"
	timeLayout = "20060102150405"
	century    = "20"
)

// Field positions
const (
	fieldIMEI = iota
	fieldDeviceName
	fieldDate
	_
	_ // 'F'
	fieldFixTime
	_ // 'A'
	fieldLatitude
	fieldLatHemisphere
	fieldLongitude
	fieldLngHemisphere
	_ // speed
	fieldAzimuth
)

var ErrWrongFieldCount = errors.New("wrong number of fields")

type Decoder struct {
	now func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// IsHeartbeat reports whether raw is the bare IMEI the device sends to keep
// its connection open.
func IsHeartbeat(raw string) bool {
	return !strings.Contains(raw, Delimiter)
}

// Decode parses one report such as
// imei:359710049084651,tracker,150828170049,,F,090049.000,A,3244.5761,N,09708.8238,W,0.00,266.92,,0,0,,,;
func (d *Decoder) Decode(raw string) ([]model.CanonicalMessage, error) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), Terminator)
	fields := strings.Split(raw, Delimiter)
	if len(fields) != NumFields {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrWrongFieldCount, len(fields), NumFields)
	}

	mc := message.Context{
		ExternalMessageID: fields[fieldFixTime],
		ESN:               strings.TrimPrefix(fields[fieldIMEI], imeiPrefix),
		OccurredAt:        d.parseTime(fields[fieldDate]),
	}

	if fields[fieldLatitude] == "" || fields[fieldLongitude] == "" {
		return nil, nil
	}
	lat, err := coords.ParseNMEA(fields[fieldLatitude], fields[fieldLatHemisphere], coords.LatitudeDegreeDigits)
	if err != nil {
		return nil, err
	}
	lng, err := coords.ParseNMEA(fields[fieldLongitude], fields[fieldLngHemisphere], coords.LongitudeDegreeDigits)
	if err != nil {
		return nil, err
	}

	loc, ok := mc.Location(lat, lng, message.Compact(message.Meta{"azimuth": fields[fieldAzimuth]}))
	if !ok {
		return nil, nil
	}
	return []model.CanonicalMessage{loc}, nil
}

// parseTime reads YYMMDDHHMMSS as UTC in the 2000s, falling back to now.
func (d *Decoder) parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, century+strings.TrimSpace(s), time.UTC)
	if err != nil {
		return d.now().UTC()
	}
	return t
}
