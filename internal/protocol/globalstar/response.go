package globalstar

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"
)

// Acknowledgement states
const (
	StatePass = "PASS"
	StateFail = "FAIL"
)

type ResponseKind int

const (
	STUResponse ResponseKind = iota
	PRVResponse
)

var responseFormats = map[ResponseKind]struct {
	root   string
	schema string
}{
	STUResponse: {"stuResponseMsg", "http://cody.glpconnect.com/XSD/StuResponse_Rev1_0.xsd"},
	PRVResponse: {"prvResponseMsg", "http://cody.glpconnect.com/XSD/ProvisionResponse_Rev1_0.xsd"},
}

const deliveryTimeLayout = "02/01/2006 15:04:05 MST"

// BuildResponse renders the acknowledgement document on a single line.
// messageID and correlationID both carry the stored raw message id.
func BuildResponse(kind ResponseKind, state, stateMessage, messageID string, at time.Time) string {
	f := responseFormats[kind]
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>`+
		`<%s xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:noNamespaceSchemaLocation="%s" deliveryTimeStamp="%s" messageID="%s" correlationID="%s">`+
		`<state>%s</state><stateMessage>%s</stateMessage></%s>`,
		f.root, f.schema, at.Format(deliveryTimeLayout), escape(messageID), escape(messageID),
		escape(state), escape(stateMessage), f.root)
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
