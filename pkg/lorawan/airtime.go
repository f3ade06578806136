package lorawan

import (
	"fmt"
	"time"

	"github.com/brocaar/lorawan/airtime"
)

// CodeRate is the gateway-bridge LoRa code rate enumeration.
type CodeRate int32

const (
	CodeRateUndefined CodeRate = 0
	CodeRate45        CodeRate = 1
	CodeRate46        CodeRate = 2
	CodeRate47        CodeRate = 3
	CodeRate48        CodeRate = 4
)

var codeRateNames = map[string]CodeRate{
	"CR_UNDEFINED": CodeRateUndefined,
	"CR_4_5":       CodeRate45,
	"CR_4_6":       CodeRate46,
	"CR_4_7":       CodeRate47,
	"CR_4_8":       CodeRate48,
}

// ParseCodeRate maps the JSON enum name. Unknown names map to undefined.
func ParseCodeRate(s string) CodeRate {
	return codeRateNames[s]
}

const (
	defaultPreamble = 8
	// symbols longer than this require low data rate optimization
	ldroSymbolTime = 16 * time.Millisecond
)

// Airtime returns the on-air time of a LoRa frame in whole microseconds.
// Code rates other than 4/5..4/8 are computed as 4/5.
func Airtime(payloadSize int, spreadingFactor, bandwidthHz uint32, cr CodeRate) (uint32, error) {
	if spreadingFactor < 5 || spreadingFactor > 12 {
		return 0, fmt.Errorf("invalid spreading factor %d", spreadingFactor)
	}
	bwKHz := int(bandwidthHz / 1000)
	if bwKHz <= 0 {
		return 0, fmt.Errorf("invalid bandwidth %d", bandwidthHz)
	}

	rate := airtime.CodingRate45
	switch cr {
	case CodeRate46:
		rate = airtime.CodingRate46
	case CodeRate47:
		rate = airtime.CodingRate47
	case CodeRate48:
		rate = airtime.CodingRate48
	}

	sf := int(spreadingFactor)
	ldro := airtime.CalculateLoRaSymbolDuration(sf, bwKHz) > ldroSymbolTime

	d, err := airtime.CalculateLoRaAirtime(payloadSize, sf, bwKHz, defaultPreamble, rate, true, ldro)
	if err != nil {
		return 0, fmt.Errorf("calculate airtime: %w", err)
	}
	return uint32(d / time.Microsecond), nil
}
