// Package gl200 decodes Queclink GL200/GL300 position reports.
package gl200

import "errors"

// Protocol constants
const (
	Terminator   = "$"
	Delimiter    = ","
	MinFields    = 21
	fieldsPerFix = 12
	timeLayout   = "20060102150405"

	// maximum gps accuracy code; lower is better
	maxAccuracy = 50
)

// Header keywords
const (
	KeywordResponse = "+RESP"
	KeywordBuffered = "+BUFF"
)

// PositionReportTypes lists the message types that carry position fixes.
var PositionReportTypes = map[string]bool{
	"GTFRI": true,
	"GTGEO": true,
	"GTSPD": true,
	"GTSOS": true,
	"GTRTL": true,
	"GTPNL": true,
	"GTNMR": true,
	"GTDIS": true,
	"GTDOG": true,
	"GTIGL": true,
	"GTPFL": true,
}

var (
	ErrInvalidHeader      = errors.New("invalid GL200 header")
	ErrUnsupportedMessage = errors.New("unsupported GL200 message type")
	ErrTooFewFields       = errors.New("too few GL200 fields")
	ErrInvalidFormat      = errors.New("malformed GL200 position report")
)
