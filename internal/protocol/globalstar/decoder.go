package globalstar

import (
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/message"
	"github.com/SnakeO/gps-catcher/internal/core/model"
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// DecodePayload turns one hex payload into canonical messages. Length, encoding
// and ESN are checked by Document.Verify before this is called.
func (d *Decoder) DecodePayload(payload, externalMessageID, esn string, occurredAt time.Time) ([]model.CanonicalMessage, error) {
	p, err := ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	mc := message.Context{ExternalMessageID: externalMessageID, ESN: esn, OccurredAt: occurredAt}
	messages := []model.CanonicalMessage{mc.Battery(!p.BatteryBad)}

	if !p.GPSInvalid {
		confidence := 0
		if p.FixConfidence == 0 {
			confidence = 1
		}
		loc, ok := mc.Location(p.Latitude(), p.Longitude(), message.Meta{
			"twoD":         int(p.TwoDFix),
			"is_in_motion": int(p.InMotion),
			"confidence":   confidence,
		})
		if ok {
			messages = append(messages, loc)
		}
	}

	if p.SubType == SubTypePowerOn {
		messages = append(messages, mc.Power("on"))
	} else if alert, ok := subTypeAlerts[p.SubType]; ok {
		messages = append(messages, mc.Info("alert", alert, nil))
	}

	messages = append(messages, mc.Motion(int(p.InMotion)))
	return messages, nil
}
