package spottrace

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/message"
	"github.com/SnakeO/gps-catcher/internal/core/model"
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Document is a parsed feed: every <message> element in document order and
// whether the header carried an <errors> section.
type Document struct {
	Messages  []Message
	HasErrors bool
}

// ParseDocument walks the feed and collects <message> elements at any depth.
func ParseDocument(raw []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	doc := &Document{}
	inHeader := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return doc, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case elementHeader:
				inHeader++
			case elementErrors:
				if inHeader > 0 {
					doc.HasErrors = true
				}
			case elementMessage:
				var m Message
				if err := dec.DecodeElement(&m, &t); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
				}
				doc.Messages = append(doc.Messages, m)
			}
		case xml.EndElement:
			if t.Name.Local == elementHeader && inHeader > 0 {
				inHeader--
			}
		}
	}
}

// Verify reports the first required element missing from m.
func (m *Message) Verify() error {
	present := map[string]*string{
		"id":              m.ID,
		"esn":             m.ESN,
		"messageType":     m.MessageType,
		"timestamp":       m.Timestamp,
		"timeInGMTSecond": m.TimeInGMTSecond,
		"latitude":        m.Latitude,
		"longitude":       m.Longitude,
	}
	for _, name := range RequiredFields {
		if present[name] == nil {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return nil
}

// IsTest reports whether m is a device self test.
func (m *Message) IsTest() bool {
	return text(m.MessageType) == MessageTypeTest
}

// DecodeDocument decodes a full feed. Header errors fail the whole document,
// test messages are skipped.
func (d *Decoder) DecodeDocument(raw []byte) ([]model.CanonicalMessage, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	if doc.HasErrors {
		return nil, ErrFeedErrors
	}

	var messages []model.CanonicalMessage
	for i := range doc.Messages {
		m := &doc.Messages[i]
		if err := m.Verify(); err != nil {
			return nil, err
		}
		if m.IsTest() {
			continue
		}
		decoded, err := d.DecodeMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, decoded...)
	}
	return messages, nil
}

// DecodeMessage turns one <message> element into a location and a battery
// message, each present only when its fields are.
func (d *Decoder) DecodeMessage(m *Message) ([]model.CanonicalMessage, error) {
	occurredAt, err := occurredAt(m)
	if err != nil {
		return nil, err
	}
	mc := message.Context{
		ExternalMessageID: text(m.ID),
		ESN:               text(m.ESN),
		OccurredAt:        occurredAt,
	}

	var messages []model.CanonicalMessage

	lat, lng := text(m.Latitude), text(m.Longitude)
	if lat != "" && lng != "" {
		latitude, latErr := strconv.ParseFloat(lat, 64)
		longitude, lngErr := strconv.ParseFloat(lng, 64)
		if latErr == nil && lngErr == nil {
			meta := message.Compact(message.Meta{
				"nickname":     text(m.ESNName),
				"message_type": text(m.MessageType),
				"more_detail":  text(m.MessageDetail),
			})
			if loc, ok := mc.Location(latitude, longitude, meta); ok {
				messages = append(messages, loc)
			}
		}
	}

	if battery := text(m.BatteryState); battery != "" {
		messages = append(messages, mc.Battery(battery))
	}

	return messages, nil
}

// occurredAt prefers timeInGMTSecond and falls back to the ISO timestamp.
func occurredAt(m *Message) (time.Time, error) {
	if s := text(m.TimeInGMTSecond); s != "" {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timeInGMTSecond %q", ErrInvalidTimestamp, s)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	if s := text(m.Timestamp); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidTimestamp, s)
		}
		return t.UTC(), nil
	}
	return time.Time{}, nil
}
