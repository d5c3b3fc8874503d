// Package coords validates and converts device-reported positions.
package coords

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCoordinates is returned for out-of-range, non-finite or "no fix" positions.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Devices report these pairs when they have no fix.
var sentinels = [][2]float64{
	{0.0, 0.0},
	{-99999.0, -99999.0},
}

// Coordinates is a validated latitude/longitude pair. The zero value is not valid;
// build one with New or Parse.
type Coordinates struct {
	lat float64
	lng float64
}

func New(lat, lng float64) (Coordinates, error) {
	if err := Validate(lat, lng); err != nil {
		return Coordinates{}, err
	}
	return Coordinates{lat: lat, lng: lng}, nil
}

// Validate reports whether lat/lng may be used as a position.
func Validate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return fmt.Errorf("%w: non-finite value (%v, %v)", ErrInvalidCoordinates, lat, lng)
	}
	for _, s := range sentinels {
		if lat == s[0] && lng == s[1] {
			return fmt.Errorf("%w: no-fix sentinel (%v, %v)", ErrInvalidCoordinates, lat, lng)
		}
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, lng)
	}
	return nil
}

// Parse reads the "<lat>,<lng>" form produced by String.
func Parse(value string) (Coordinates, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return Coordinates{}, fmt.Errorf("%w: malformed pair %q", ErrInvalidCoordinates, value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: latitude %q", ErrInvalidCoordinates, parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: longitude %q", ErrInvalidCoordinates, parts[1])
	}
	return New(lat, lng)
}

func (c Coordinates) Latitude() float64  { return c.lat }
func (c Coordinates) Longitude() float64 { return c.lng }

// String renders the pair as "<lat>,<lng>" with the shortest exact float form.
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.lng, 'f', -1, 64)
}
