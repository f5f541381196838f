// Package geo implements the great-circle distance and geofence proximity
// checks used to validate capsule unlock locations.
package geo

import "math"

// EarthRadiusM is the mean Earth radius in meters used by the haversine formula.
const EarthRadiusM = 6371000.0

// Coordinate is a point on the Earth's surface in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Fix is a location measurement: a coordinate plus the reported measurement
// error of the device that produced it, in meters.
type Fix struct {
	Coordinate
	Accuracy float64
}

// Distance returns the great-circle distance between two coordinates in
// meters, computed with the haversine formula.
func Distance(a, b Coordinate) float64 {
	phi1 := radians(a.Latitude)
	phi2 := radians(b.Latitude)
	deltaPhi := radians(b.Latitude - a.Latitude)
	deltaLambda := radians(b.Longitude - a.Longitude)

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusM * c
}

// IsWithin reports whether the current fix is close enough to the saved fix.
// Both fixes' accuracies are added to the base tolerance so that an opener
// with a low-accuracy GPS signal is not penalized for it.
func IsWithin(current, saved Fix, baseToleranceM float64) bool {
	return Distance(current.Coordinate, saved.Coordinate) <= baseToleranceM+current.Accuracy+saved.Accuracy
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
