package globalstar

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

const samplePayload = "002E914EBAEAE84A08"

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(samplePayload)
	if err != nil {
		t.Fatalf("ParsePayload() unexpected error: %v", err)
	}
	if p.BatteryBad || p.GPSInvalid {
		t.Errorf("battery bad = %v, gps invalid = %v", p.BatteryBad, p.GPSInvalid)
	}
	if p.RawLatitude != 0x2E914E {
		t.Errorf("RawLatitude = %d", p.RawLatitude)
	}
	if p.RawLongitude != -4527384 {
		t.Errorf("RawLongitude = %d, want -4527384", p.RawLongitude)
	}
	if !almostEqual(p.Latitude(), 32.7429, 1e-3) || !almostEqual(p.Longitude(), -97.1471, 1e-3) {
		t.Errorf("position = %v,%v", p.Latitude(), p.Longitude())
	}
	if p.InputStatus != 4 || p.SubType != 10 {
		t.Errorf("input status/sub type = %d/%d", p.InputStatus, p.SubType)
	}
	if p.VibrationBit != 1 || p.InMotion != 0 || p.FixConfidence != 0 {
		t.Errorf("flags = vib %d motion %d confidence %d", p.VibrationBit, p.InMotion, p.FixConfidence)
	}

	if _, err := ParsePayload("0x" + samplePayload); err != nil {
		t.Errorf("0x prefix rejected: %v", err)
	}
	for _, bad := range []string{"", "002E", "ZZ2E914EBAEAE84A08", samplePayload + "00"} {
		if _, err := ParsePayload(bad); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("ParsePayload(%q) error = %v", bad, err)
		}
	}
}

func TestTwosComplement(t *testing.T) {
	tests := []struct {
		in   uint32
		want int32
	}{
		{0x000000, 0},
		{0x000001, 1},
		{0x7FFFFF, 8388607},
		{0xFFFFFF, -1},
		{0x800000, -8388608},
	}
	for _, tt := range tests {
		if got := twosComplement(tt.in, 24); got != tt.want {
			t.Errorf("twosComplement(%#x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	occurred := time.Unix(1432598400, 0).UTC()
	got, err := NewDecoder().DecodePayload(samplePayload, "MSG-1", "0-1234567", occurred)
	if err != nil {
		t.Fatalf("DecodePayload() unexpected error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected battery, location and motion, got %d messages", len(got))
	}
	if got[0].Source != model.SourceBattery || got[0].Value != model.BatteryGood {
		t.Errorf("battery = %s %q", got[0].Source, got[0].Value)
	}

	loc := got[1]
	if loc.Source != model.SourceLocation {
		t.Fatalf("second message = %s, want location", loc.Source)
	}
	pos, err := loc.Coordinates()
	if err != nil {
		t.Fatal(err)
	}
	if pos.Latitude() <= 0 || pos.Longitude() >= 0 {
		t.Errorf("position %v should be north-west", pos)
	}
	if loc.Meta != `{"confidence":1,"is_in_motion":0,"twoD":0}` {
		t.Errorf("location meta = %s", loc.Meta)
	}
	if loc.ESN != "0-1234567" || !loc.OccurredAt.Equal(occurred) {
		t.Errorf("context not applied: %+v", loc)
	}

	motion := got[2]
	if motion.Source != model.SourceMotion || (motion.Value != "0" && motion.Value != "1") {
		t.Errorf("motion = %s %q", motion.Source, motion.Value)
	}
	for _, m := range got {
		if m.Source == model.SourcePowered {
			t.Error("unexpected power-on message")
		}
	}
}

func TestDecodePayloadSubTypes(t *testing.T) {
	// byte 0: battery bad, gps invalid; byte 7 low nibble carries the sub-type
	base := "300000000000000000"
	tests := []struct {
		subType    string
		wantSource model.Source
		wantValue  string
	}{
		{"0", "", ""},
		{"1", model.SourcePowered, "on"},
		{"2", "alert", "change_of_location"},
		{"3", "alert", "input_change"},
		{"4", "alert", "undesired_input"},
		{"5", "alert", "recenter"},
		{"9", "", ""},
	}

	for _, tt := range tests {
		t.Run("subtype "+tt.subType, func(t *testing.T) {
			payload := base[:15] + tt.subType + base[16:]
			got, err := NewDecoder().DecodePayload(payload, "ext", "esn", time.Now())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got[0].Value != model.BatteryBad {
				t.Errorf("battery = %q, want bad", got[0].Value)
			}
			for _, m := range got {
				if m.Source == model.SourceLocation {
					t.Error("gps invalid payload produced a location")
				}
			}

			want := 2
			if tt.wantSource != "" {
				want = 3
				extra := got[1]
				if extra.Source != tt.wantSource || extra.Value != tt.wantValue {
					t.Errorf("extra message = %s %q, want %s %q", extra.Source, extra.Value, tt.wantSource, tt.wantValue)
				}
			}
			if len(got) != want {
				t.Errorf("got %d messages, want %d", len(got), want)
			}
			if got[len(got)-1].Source != model.SourceMotion {
				t.Error("motion message must come last")
			}
		})
	}
}

const sampleSTU = `<?xml version="1.0" encoding="UTF-8"?>
<stuMessages messageID="MSG-12345">
  <stuMessage>
    <esn>0-1234567</esn>
    <unixTime>1432598400</unixTime>
    <payload encoding="hex" length="9">0x002E914EBAEAE84A08</payload>
  </stuMessage>
</stuMessages>`

func TestDecodeDocument(t *testing.T) {
	got, err := NewDecoder().DecodeDocument([]byte(sampleSTU))
	if err != nil {
		t.Fatalf("DecodeDocument() unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for _, m := range got {
		if m.ExternalMessageID != "MSG-12345" || m.ESN != "0-1234567" {
			t.Errorf("message context = %s/%s", m.ExternalMessageID, m.ESN)
		}
		if !m.OccurredAt.Equal(time.Unix(1432598400, 0)) {
			t.Errorf("OccurredAt = %v", m.OccurredAt)
		}
	}

	prv := `<prvMessages messageID="P1"><prvMessage><esn>0-1</esn></prvMessage></prvMessages>`
	got, err = NewDecoder().DecodeDocument([]byte(prv))
	if err != nil || len(got) != 0 {
		t.Errorf("PRV document = %d messages, %v", len(got), err)
	}
}

func TestDecodeDocumentVerification(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		wantErr error
	}{
		{"wrong reported length", [2]string{`length="9"`, `length="8"`}, ErrInvalidPayload},
		{"wrong encoding", [2]string{`encoding="hex"`, `encoding="base64"`}, ErrInvalidPayload},
		{"short payload", [2]string{"0x002E914EBAEAE84A08", "0x002E914EBAEAE84A"}, ErrInvalidPayload},
		{"missing esn", [2]string{"<esn>0-1234567</esn>", "<esn></esn>"}, ErrInvalidDocument},
		{"unexpected root", [2]string{"stuMessages", "fooMessages"}, ErrInvalidDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.ReplaceAll(sampleSTU, tt.replace[0], tt.replace[1])
			_, err := NewDecoder().DecodeDocument([]byte(doc))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckWellFormed(t *testing.T) {
	if err := CheckWellFormed([]byte(sampleSTU)); err != nil {
		t.Errorf("sample rejected: %v", err)
	}
	for _, bad := range []string{"", "not xml", "<stuMessages><open></stuMessages>"} {
		if err := CheckWellFormed([]byte(bad)); err == nil {
			t.Errorf("CheckWellFormed(%q) expected error", bad)
		}
	}
}

func TestBuildResponse(t *testing.T) {
	at := time.Date(2016, 8, 21, 23, 2, 9, 0, time.UTC)
	got := BuildResponse(STUResponse, StatePass, "STU Message OK", "42", at)

	want := `<?xml version="1.0" encoding="UTF-8"?><stuResponseMsg xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:noNamespaceSchemaLocation="http://cody.glpconnect.com/XSD/StuResponse_Rev1_0.xsd" deliveryTimeStamp="21/08/2016 23:02:09 UTC" messageID="42" correlationID="42"><state>PASS</state><stateMessage>STU Message OK</stateMessage></stuResponseMsg>`
	if got != want {
		t.Errorf("BuildResponse() =\n%s\nwant\n%s", got, want)
	}

	fail := BuildResponse(PRVResponse, StateFail, "malformed xml: line 1\n\tunexpected <", "7", at)
	if strings.ContainsAny(fail, "\r\n\t") {
		t.Errorf("response contains line breaks or tabs: %q", fail)
	}
	if !strings.HasPrefix(fail, `<?xml version="1.0" encoding="UTF-8"?><prvResponseMsg `) || !strings.Contains(fail, "<state>FAIL</state>") {
		t.Errorf("PRV response = %s", fail)
	}
}
