// Package tk1022 decodes the fixed width reports of the Xexun TK1022 mini tracker.
package tk1022

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/SnakeO/gps-catcher/internal/coords"
	"github.com/SnakeO/gps-catcher/internal/core/message"
	"github.com/SnakeO/gps-catcher/internal/core/model"
)

const (
	ReportLength = 78
	ReportDots   = 4
	leadingChar  = '0'
)

// groups: id, date, lat degrees, lat minutes, N/S, lng degrees, lng minutes, E/W, azimuth
var reportPattern = regexp.MustCompile(`([\d]{12})BR[\d]{2}([\d]{6})A([\d]{2})([\d]{2}.[\d]{4})(N|S)([\d]{3})(\d{2}.[\d]{4})(E|W)([\d]{3}.[\d]{8})`)

var (
	ErrInvalidReport = errors.New("invalid TK1022 report")
	ErrNoMatch       = errors.New("report does not match the TK1022 format")
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// IsHeartbeat reports whether raw is the bare id the device sends between reports.
func IsHeartbeat(raw string) bool {
	return !strings.Contains(raw, ".")
}

// Strip removes the enclosing parentheses.
func Strip(raw string) string {
	return strings.NewReplacer("(", "", ")", "").Replace(strings.TrimSpace(raw))
}

// Verify checks the shape of a stripped report.
func Verify(report string) error {
	switch {
	case report == "" || report[0] != leadingChar:
		return fmt.Errorf("%w: expected first character to be a 0", ErrInvalidReport)
	case strings.Count(report, ".") != ReportDots:
		return fmt.Errorf("%w: wrong # of dots: %d expected exactly %d", ErrInvalidReport, strings.Count(report, "."), ReportDots)
	case len(report) != ReportLength:
		return fmt.Errorf("%w: wrong length: %d expected exactly %d characters", ErrInvalidReport, len(report), ReportLength)
	}
	return nil
}

// Decode parses a report such as
// (027043507615BR00151128A3244.5722N09708.8233W000.00525560.000000000000L00000000).
// The device sends no timestamp of its own, so receivedAt is used.
func (d *Decoder) Decode(raw string, receivedAt time.Time) ([]model.CanonicalMessage, error) {
	report := Strip(raw)
	if err := Verify(report); err != nil {
		return nil, err
	}

	m := reportPattern.FindStringSubmatch(report)
	if m == nil {
		return nil, ErrNoMatch
	}

	sum := md5.Sum([]byte(report))
	mc := message.Context{
		ExternalMessageID: hex.EncodeToString(sum[:]),
		ESN:               m[1],
		OccurredAt:        receivedAt,
	}

	lat, err := coords.FromDegreesMinutes(m[3], m[4], m[5])
	if err != nil {
		return nil, err
	}
	lng, err := coords.FromDegreesMinutes(m[6], m[7], m[8])
	if err != nil {
		return nil, err
	}

	loc, ok := mc.Location(lat, lng, message.Meta{"azimuth": m[9]})
	if !ok {
		return nil, nil
	}
	return []model.CanonicalMessage{loc}, nil
}
