package message

import (
	"strconv"
	"time"

	"github.com/SnakeO/gps-catcher/internal/coords"
	"github.com/SnakeO/gps-catcher/internal/core/model"
)

// Context is the per-decode state every message built from one transmission shares.
// Decoders keep it as a local value and update it as fields are read.
type Context struct {
	ExternalMessageID string
	ESN               string
	OccurredAt        time.Time
}

// Build creates a not-yet-persisted message carrying the context's esn and time.
func (c Context) Build(source model.Source, value, meta string) model.CanonicalMessage {
	return model.CanonicalMessage{
		ExternalMessageID: c.ExternalMessageID,
		ESN:               c.ESN,
		Source:            source,
		Value:             value,
		Meta:              meta,
		OccurredAt:        c.OccurredAt.UTC(),
		DedupKey:          DedupKey(c.ExternalMessageID, source, value, meta),
	}
}

// Location builds a location message. It reports false, and builds nothing,
// when the coordinates fail validation.
func (c Context) Location(lat, lng float64, meta Meta) (model.CanonicalMessage, bool) {
	pos, err := coords.New(lat, lng)
	if err != nil {
		return model.CanonicalMessage{}, false
	}
	return c.Build(model.SourceLocation, pos.String(), encodeMeta(meta, true)), true
}

// Battery builds a good/bad battery message from any supported encoding.
func (c Context) Battery(level any) model.CanonicalMessage {
	value := model.BatteryBad
	if NormalizeBattery(level) {
		value = model.BatteryGood
	}
	return c.Build(model.SourceBattery, value, "")
}

// BatteryPercentage records a raw percentage as a battery info event.
func (c Context) BatteryPercentage(percentage int) model.CanonicalMessage {
	return c.Info("battery", strconv.Itoa(percentage), nil)
}

func (c Context) Power(state string) model.CanonicalMessage {
	return c.Build(model.SourcePowered, state, "")
}

// Motion accepts an int flag or a bool.
func (c Context) Motion(inMotion any) model.CanonicalMessage {
	value := "0"
	switch m := inMotion.(type) {
	case int:
		value = strconv.Itoa(m)
	case bool:
		if m {
			value = "1"
		}
	}
	return c.Build(model.SourceMotion, value, "")
}

func (c Context) Info(name, value string, meta Meta) model.CanonicalMessage {
	return c.Build(model.InfoSource(name), value, encodeMeta(meta, false))
}
