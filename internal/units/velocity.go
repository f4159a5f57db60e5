// Package units provides shared constants and conversion for speed units.
package units

// Unit constants.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, v := range ValidUnits {
		if unit == v {
			return true
		}
	}
	return false
}

// ConvertFromKmh converts a km/h speed (the engine's working unit) to the
// target units.
func ConvertFromKmh(speedKmh float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKmh / 3.6
	case MPH:
		return speedKmh * 0.62137119223733
	case KMPH, KPH:
		return speedKmh
	default:
		return speedKmh
	}
}

// KmhFromPixels converts a pixel displacement over elapsedSeconds into
// km/h using the lane calibration scale. Returns 0 when the scale or the
// elapsed time is unusable.
func KmhFromPixels(distPx, pixelsPerMeter, elapsedSeconds float64) float64 {
	if pixelsPerMeter <= 0 || elapsedSeconds <= 0 {
		return 0
	}
	return distPx / pixelsPerMeter / elapsedSeconds * 3.6
}
