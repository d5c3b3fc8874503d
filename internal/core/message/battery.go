package message

import (
	"fmt"
	"strings"
)

// BatteryThreshold is the percentage at or above which a numeric battery level is good.
const BatteryThreshold = 50

// NormalizeBattery maps the battery encodings devices use onto good/bad.
func NormalizeBattery(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch b {
		case "GOOD", "good", "g", "G":
			return true
		case "LOW", "low", "b", "B", "BAD", "bad":
			return false
		}
		return strings.ToLower(b) == "good"
	case int:
		return b >= BatteryThreshold
	case int64:
		return b >= BatteryThreshold
	case float64:
		return b >= BatteryThreshold
	case float32:
		return b >= BatteryThreshold
	}
	return strings.ToLower(fmt.Sprint(v)) == "good"
}
