package devices

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultFrameDivisor = 100.0
	poundsToKilograms   = 0.453592
)

// Vendor "no weight" markers, matched case-insensitively as substrings.
var zeroSentinels = []string{
	"no weight",
	"sin peso",
}

var (
	// zeroPattern is an all-zeros reading of six or more digits standing
	// as a whole number, e.g. "000000", "ST,GS,+000000" or "000000.00".
	// "1000000" and "000000.5" are weights.
	zeroPattern    = regexp.MustCompile(`(?:^|[^0-9.])[-+]?0{6,}(?:\.0*)?(?:[^0-9.]|$)`)
	framePattern   = regexp.MustCompile(`(?i)\b(?:ST|US),(?:GS|NT),\s*([-+]?)\s*(\d+)(\.\d+)?`)
	unitPattern    = regexp.MustCompile(`(?i)([-+]?)\s*(\d+(?:[.,]\d+)?)\s*(kg|lbs|lb|g)\b`)
	decimalPattern = regexp.MustCompile(`([-+]?)\s*(\d+\.\d+)`)
	longIntPattern = regexp.MustCompile(`([-+]?)\s*(\d{4,})`)
	intPattern     = regexp.MustCompile(`([-+]?)\s*(\d+)`)
)

// Parser turns one scale line into a WeightReading. Rules are tried in
// a fixed order and the first match wins, so a well formed decimal is
// never reinterpreted as a scaled integer.
type Parser struct {
	// FrameDivisor converts the integer of an ST,GS frame to kilograms.
	FrameDivisor float64
}

var defaultParser = Parser{FrameDivisor: DefaultFrameDivisor}

// ExtractWeight parses line with the default frame divisor.
func ExtractWeight(line string) WeightReading {
	return defaultParser.Extract(line)
}

func (p Parser) Extract(line string) WeightReading {
	clean := strings.TrimSpace(line)
	lower := strings.ToLower(clean)

	for _, marker := range zeroSentinels {
		if strings.Contains(lower, marker) {
			return WeightReading{Value: 0, Class: ZeroLoad, Rule: "zero_sentinel"}
		}
	}
	if zeroPattern.MatchString(clean) {
		return WeightReading{Value: 0, Class: ZeroLoad, Rule: "zero_sentinel"}
	}

	if m := framePattern.FindStringSubmatch(clean); m != nil {
		if m[3] != "" {
			if v, ok := signedFloat(m[1], m[2]+m[3]); ok {
				return valid(v, "frame")
			}
		}
		if v, ok := signedFloat(m[1], m[2]); ok {
			divisor := p.FrameDivisor
			if divisor <= 0 {
				divisor = DefaultFrameDivisor
			}
			return valid(v/divisor, "frame")
		}
	}

	if m := unitPattern.FindStringSubmatch(clean); m != nil {
		if v, ok := signedFloat(m[1], strings.ReplaceAll(m[2], ",", ".")); ok {
			switch strings.ToLower(m[3]) {
			case "g":
				v /= 1000
			case "lb", "lbs":
				v *= poundsToKilograms
			}
			return valid(v, "unit")
		}
	}

	if m := decimalPattern.FindStringSubmatch(clean); m != nil {
		if v, ok := signedFloat(m[1], m[2]); ok {
			return valid(v, "decimal")
		}
	}

	if m := longIntPattern.FindStringSubmatch(clean); m != nil {
		if v, ok := signedFloat(m[1], m[2]); ok {
			magnitude := v
			if magnitude < 0 {
				magnitude = -magnitude
			}
			switch {
			case magnitude > 1000:
				v /= 1000
			case magnitude > 100:
				v /= 100
			}
			return valid(v, "long_integer")
		}
	}

	if m := intPattern.FindStringSubmatch(clean); m != nil {
		if v, ok := signedFloat(m[1], m[2]); ok {
			return valid(v, "integer")
		}
	}

	return WeightReading{Value: 0, Class: Unparseable}
}

func valid(v float64, rule string) WeightReading {
	return WeightReading{Value: v, Class: Valid, Rule: rule}
}

func signedFloat(sign, digits string) (float64, bool) {
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	if sign == "-" {
		v = -v
	}
	return v, true
}
