package geo

import (
	"math"
	"time"
)

// EarthRadiusM is the spherical-earth approximation radius in metres.
const EarthRadiusM = 6371000.0

// Fix is a single GPS reading supplied by the caller at check-in/out.
// The engine never queries device hardware itself.
type Fix struct {
	Latitude  float64
	Longitude float64
	AccuracyM float64
	Timestamp time.Time
}

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formula. Identical coordinates return exactly 0.
func DistanceMeters(latA, lngA, latB, lngB float64) float64 {
	if latA == latB && lngA == lngB {
		return 0
	}

	phiA := latA * math.Pi / 180
	phiB := latB * math.Pi / 180
	dPhi := (latB - latA) * math.Pi / 180
	dLambda := (lngB - lngA) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phiA)*math.Cos(phiB)*sinLambda*sinLambda

	// Floating point can overshoot 1 for antipodal points, which would make
	// Sqrt(1-a) NaN. Clamp before the square root.
	if a > 1 {
		a = 1
	} else if a < 0 {
		a = 0
	}

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// WithinRadius reports whether a measured distance falls inside the
// geofence radius.
func WithinRadius(distanceM, radiusM float64) bool {
	return distanceM <= radiusM
}
