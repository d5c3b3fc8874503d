package gl200

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/message"
	"github.com/SnakeO/gps-catcher/internal/core/model"
)

type Decoder struct {
	now func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// Decode parses a full transmission such as
// +RESP:GTFRI,02010D,867844001851958,,0,0,1,2,-1,0,180.4,-97.145723,32.742709,20150526021641,,,,,,89,20150526021819,129B$
func (d *Decoder) Decode(raw string) ([]model.CanonicalMessage, error) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), Terminator)
	fields := strings.Split(raw, Delimiter)

	header := strings.SplitN(fields[0], ":", 2)
	if len(header) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, fields[0])
	}
	if header[0] != KeywordResponse && header[0] != KeywordBuffered {
		return nil, fmt.Errorf("%w: unknown keyword %q", ErrInvalidHeader, header[0])
	}
	if !PositionReportTypes[header[1]] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessage, header[1])
	}

	return d.DecodePositionReport(fields[1:])
}

// DecodePositionReport decodes the fields that follow the header. The message id
// is the last field.
func (d *Decoder) DecodePositionReport(fields []string) ([]model.CanonicalMessage, error) {
	if len(fields) < MinFields {
		return nil, fmt.Errorf("%w: got %d, expected at least %d", ErrTooFewFields, len(fields), MinFields)
	}

	r := &reader{fields: fields[:len(fields)-1]}
	mc := message.Context{ExternalMessageID: fields[len(fields)-1]}

	r.next() // protocol version
	mc.ESN = r.next()
	r.next() // device name
	r.next() // append mask
	r.next() // report type

	numPoints, err := strconv.Atoi(strings.TrimSpace(r.next()))
	if err != nil || numPoints < 0 {
		return nil, fmt.Errorf("%w: point count %v", ErrInvalidFormat, err)
	}
	if r.remaining() < numPoints*fieldsPerFix+1 {
		return nil, fmt.Errorf("%w: %d points need %d fields, have %d", ErrInvalidFormat, numPoints, numPoints*fieldsPerFix+1, r.remaining())
	}

	var messages []model.CanonicalMessage
	for i := 0; i < numPoints; i++ {
		accuracy := atoi(r.next())
		speed := atof(r.next())
		r.next() // azimuth
		altitude := atof(r.next())
		lng := atof(r.next())
		lat := atof(r.next())
		mc.OccurredAt = d.parseTime(r.next())
		r.skip(4) // mcc, mnc, lac, cell id
		odometer := r.next()

		loc, ok := mc.Location(lat, lng, message.Meta{
			"confidence":   confidence(accuracy),
			"speed":        speed,
			"altitude":     altitude,
			"gps_accuracy": accuracy,
			"odometer":     odometer,
		})
		if ok {
			messages = append(messages, loc)
		}
	}

	if battery := atoi(r.next()); battery > 0 {
		messages = append(messages, mc.BatteryPercentage(battery))
	}

	return messages, nil
}

func confidence(accuracy int) float64 {
	if accuracy > maxAccuracy {
		return 0
	}
	return float64(maxAccuracy-accuracy) / maxAccuracy
}

func (d *Decoder) parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return d.now().UTC()
	}
	return t
}

type reader struct {
	fields []string
	pos    int
}

func (r *reader) next() string {
	if r.pos >= len(r.fields) {
		return ""
	}
	f := r.fields[r.pos]
	r.pos++
	return f
}

func (r *reader) skip(n int) { r.pos += n }

func (r *reader) remaining() int { return len(r.fields) - r.pos }

// atoi and atof treat unparseable numbers as zero; the devices leave optional fields empty.
func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return v
}

func atof(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
