package globalstar

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

// DocumentKind is the root element of an inbound Globalstar document.
type DocumentKind string

const (
	KindSTU DocumentKind = "stuMessages"
	KindPRV DocumentKind = "prvMessages"
)

type STUDocument struct {
	XMLName   xml.Name     `xml:"stuMessages"`
	MessageID string       `xml:"messageID,attr"`
	Messages  []STUMessage `xml:"stuMessage"`
}

type STUMessage struct {
	ESN      string         `xml:"esn"`
	UnixTime int64          `xml:"unixTime"`
	Payload  PayloadElement `xml:"payload"`
}

type PayloadElement struct {
	Length   int    `xml:"length,attr"`
	Encoding string `xml:"encoding,attr"`
	Value    string `xml:",chardata"`
}

// CheckWellFormed reads every token of raw and reports the first syntax error.
func CheckWellFormed(raw []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if !sawRoot {
				return fmt.Errorf("%w: empty document", ErrInvalidDocument)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawRoot = true
		}
	}
}

// Kind returns the root element name of the document.
func Kind(raw []byte) (DocumentKind, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return DocumentKind(start.Name.Local), nil
		}
	}
}

// Verify checks the transport facts the payload decoder relies on.
func (m *STUMessage) Verify() error {
	payload := m.HexPayload()
	switch {
	case m.Payload.Length != PayloadBytes:
		return fmt.Errorf("%w: payload length reported as %d bytes, expected %d", ErrInvalidPayload, m.Payload.Length, PayloadBytes)
	case m.Payload.Encoding != PayloadEncoding:
		return fmt.Errorf("%w: payload encoding %q, expected %q", ErrInvalidPayload, m.Payload.Encoding, PayloadEncoding)
	case len(payload)/2 != m.Payload.Length:
		return fmt.Errorf("%w: payload length reported as %d bytes, actual length is %d bytes", ErrInvalidPayload, m.Payload.Length, len(payload)/2)
	case strings.TrimSpace(m.ESN) == "":
		return fmt.Errorf("%w: missing esn", ErrInvalidDocument)
	}
	return nil
}

func (m *STUMessage) HexPayload() string {
	return strings.TrimPrefix(strings.TrimSpace(m.Payload.Value), "0x")
}

// DecodeDocument decodes every stuMessage of an STU document. PRV documents
// carry provisioning data only and decode to nothing.
func (d *Decoder) DecodeDocument(raw []byte) ([]model.CanonicalMessage, error) {
	kind, err := Kind(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindPRV:
		return nil, nil
	case KindSTU:
	default:
		return nil, fmt.Errorf("%w: unexpected root %q", ErrInvalidDocument, kind)
	}

	var doc STUDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var messages []model.CanonicalMessage
	for i := range doc.Messages {
		stu := &doc.Messages[i]
		if err := stu.Verify(); err != nil {
			return nil, err
		}
		decoded, err := d.DecodePayload(stu.HexPayload(), doc.MessageID, strings.TrimSpace(stu.ESN), time.Unix(stu.UnixTime, 0).UTC())
		if err != nil {
			return nil, err
		}
		messages = append(messages, decoded...)
	}
	return messages, nil
}
