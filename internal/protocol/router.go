package protocol

import (
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/protocol/gl200"
	"github.com/SnakeO/gps-catcher/internal/protocol/globalstar"
	"github.com/SnakeO/gps-catcher/internal/protocol/gps306a"
	"github.com/SnakeO/gps-catcher/internal/protocol/spottrace"
	"github.com/SnakeO/gps-catcher/internal/protocol/tk1022"
)

// Router dispatches a raw transmission to the decoder for its protocol.
// The decoders hold no per-call state, so a Router is safe for concurrent use.
type Router struct {
	gl200      *gl200.Decoder
	globalstar *globalstar.Decoder
	spotTrace  *spottrace.Decoder
	gps306a    *gps306a.Decoder
	tk1022     *tk1022.Decoder
}

func NewRouter() *Router {
	return &Router{
		gl200:      gl200.NewDecoder(),
		globalstar: globalstar.NewDecoder(),
		spotTrace:  spottrace.NewDecoder(),
		gps306a:    gps306a.NewDecoder(),
		tk1022:     tk1022.NewDecoder(),
	}
}

// Decode turns raw into canonical messages. Every failure is a *DecodingError.
func (r *Router) Decode(p Protocol, raw []byte, tc TransportContext) ([]model.CanonicalMessage, error) {
	messages, err := r.decode(p, raw, tc)
	if err != nil {
		return nil, &DecodingError{Protocol: p, Err: err}
	}
	return messages, nil
}

func (r *Router) decode(p Protocol, raw []byte, tc TransportContext) ([]model.CanonicalMessage, error) {
	switch p {
	case GL200, GL300:
		return r.gl200.Decode(string(raw))
	case GlobalstarSTU, GlobalstarPRV:
		return r.globalstar.DecodeDocument(raw)
	case SpotTrace:
		return r.spotTrace.DecodeDocument(raw)
	case GPS306A:
		return r.gps306a.Decode(string(raw))
	case TK1022:
		receivedAt := tc.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		return r.tk1022.Decode(string(raw), receivedAt.UTC())
	case SmartBDGPS:
		return nil, nil
	default:
		return nil, ErrUnknownProtocol
	}
}

// IsHeartbeat reports whether raw is a keep-alive that should be acknowledged
// and dropped without being stored.
func IsHeartbeat(p Protocol, raw []byte) bool {
	switch p {
	case GPS306A:
		return gps306a.IsHeartbeat(string(raw))
	case TK1022:
		return tk1022.IsHeartbeat(string(raw))
	}
	return false
}

// CheckWellFormed rejects XML protocols whose body does not parse.
func CheckWellFormed(p Protocol, raw []byte) error {
	if !p.IsDocument() {
		return nil
	}
	if err := globalstar.CheckWellFormed(raw); err != nil {
		return &DecodingError{Protocol: p, Err: err}
	}
	return nil
}
