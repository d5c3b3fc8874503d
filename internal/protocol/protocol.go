// Package protocol selects the decoder for each supported device protocol.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Protocol identifies one inbound wire format.
type Protocol string

const (
	GL200         Protocol = "gl200"
	GL300         Protocol = "gl300"
	GlobalstarSTU Protocol = "globalstar_stu"
	GlobalstarPRV Protocol = "globalstar_prv"
	SpotTrace     Protocol = "spot_trace"
	GPS306A       Protocol = "gps306a"
	TK1022        Protocol = "tk1022"
	SmartBDGPS    Protocol = "smart_bdgps"
)

// All lists every protocol in a stable order.
var All = []Protocol{GL200, GL300, GlobalstarSTU, GlobalstarPRV, SpotTrace, GPS306A, TK1022, SmartBDGPS}

// aliases accepted by Parse in addition to the canonical names
var aliases = map[string]Protocol{
	"spot":         SpotTrace,
	"smart_one_b":  GlobalstarSTU,
	"xexun_tk1022": TK1022,
	"globalstar":   GlobalstarSTU,
}

var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrHeartbeat reports a keep-alive that carries no data.
	ErrHeartbeat = errors.New("heartbeat")
)

// Parse resolves a protocol name, including the device API aliases.
func Parse(name string) (Protocol, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range All {
		if string(p) == name {
			return p, nil
		}
	}
	if p, ok := aliases[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
}

// ArchiveOnly reports whether transmissions are stored without being decoded.
func (p Protocol) ArchiveOnly() bool {
	return p == SmartBDGPS
}

// IsDocument reports whether the protocol carries XML documents.
func (p Protocol) IsDocument() bool {
	switch p {
	case GlobalstarSTU, GlobalstarPRV, SpotTrace:
		return true
	}
	return false
}

// TransportContext carries what the receiving transport knows about a transmission.
type TransportContext struct {
	ReceivedAt time.Time
	RemoteAddr string
}

// DecodingError marks a transmission as structurally invalid for its protocol.
type DecodingError struct {
	Protocol Protocol
	Err      error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Protocol, e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// IsDecodingError reports whether err is, or wraps, a DecodingError.
func IsDecodingError(err error) bool {
	var de *DecodingError
	return errors.As(err, &de)
}
