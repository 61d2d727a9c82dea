package chassis

import "math"

const (
	wheelDiameterMM = 67.6

	// Encoder counts per motor shaft revolution, the gearbox reduction and
	// the x4 from counting both edges of both quadrature channels.
	encoderPPR       = 11
	gearRatio        = 21.7
	quadratureFactor = 4
	pulsesPerRev     = encoderPPR * gearRatio * quadratureFactor

	MMPerPulse = wheelDiameterMM * math.Pi / pulsesPerRev

	WheelBaseMM = 150

	// Travel of each wheel for a 90 degree turn on the spot.
	Turn90WheelTravelMM = math.Pi * WheelBaseMM / 4
)
