package coords

import (
	"errors"
	"fmt"
	"strconv"
)

// Degree digit counts for NMEA DDMM.MMMM / DDDMM.MMMM fields.
const (
	LatitudeDegreeDigits  = 2
	LongitudeDegreeDigits = 3
)

var ErrInvalidNMEA = errors.New("invalid NMEA coordinate")

// ParseNMEA converts a degrees+minutes field into decimal degrees,
// negated for the S and W hemispheres.
func ParseNMEA(value, hemisphere string, degreeDigits int) (float64, error) {
	if len(value) <= degreeDigits {
		return 0, fmt.Errorf("%w: %q too short", ErrInvalidNMEA, value)
	}
	return FromDegreesMinutes(value[:degreeDigits], value[degreeDigits:], hemisphere)
}

// FromDegreesMinutes combines separately transmitted degree and minute parts.
func FromDegreesMinutes(degrees, minutes, hemisphere string) (float64, error) {
	deg, err := strconv.Atoi(degrees)
	if err != nil {
		return 0, fmt.Errorf("%w: degrees %q", ErrInvalidNMEA, degrees)
	}
	mins, err := strconv.ParseFloat(minutes, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: minutes %q", ErrInvalidNMEA, minutes)
	}

	decimal := float64(deg) + mins/60.0
	switch hemisphere {
	case "S", "W":
		return -decimal, nil
	case "N", "E", "":
		return decimal, nil
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", ErrInvalidNMEA, hemisphere)
	}
}
