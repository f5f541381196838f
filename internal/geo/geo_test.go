package geo

import (
	"math"
	"testing"
)

func TestDistanceSamePoint(t *testing.T) {
	p := Coordinate{Latitude: 51.5074, Longitude: -0.1278}
	if d := Distance(p, p); d != 0 {
		t.Errorf("Distance(p, p) = %v, want 0", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Coordinate{Latitude: 48.8566, Longitude: 2.3522}
	b := Coordinate{Latitude: 51.5074, Longitude: -0.1278}

	if d1, d2 := Distance(a, b), Distance(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("Distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestDistanceOneDegreeLatitude(t *testing.T) {
	// One degree of latitude is roughly 111.2 km everywhere on the globe.
	a := Coordinate{Latitude: 0, Longitude: 0}
	b := Coordinate{Latitude: 1, Longitude: 0}

	d := Distance(a, b)
	want := 111194.9
	if math.Abs(d-want) > 100 {
		t.Errorf("Distance 1° latitude = %v m, want ~%v m", d, want)
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// London <-> Paris, roughly 344 km.
	london := Coordinate{Latitude: 51.5074, Longitude: -0.1278}
	paris := Coordinate{Latitude: 48.8566, Longitude: 2.3522}

	d := Distance(london, paris)
	if d < 330000 || d > 350000 {
		t.Errorf("Distance(london, paris) = %v m, want ~344 km", d)
	}
}

func TestIsWithinAccuraciesAdditive(t *testing.T) {
	saved := Fix{Coordinate: Coordinate{Latitude: 0, Longitude: 0}, Accuracy: 10}
	current := Fix{Coordinate: Coordinate{Latitude: 0.001, Longitude: 0}, Accuracy: 5}

	// ~111.2 m apart: outside a bare 100 m tolerance, inside once both
	// accuracies are added.
	if IsWithin(current, saved, 96) {
		t.Error("IsWithin returned true just outside the combined tolerance")
	}
	if !IsWithin(current, saved, 100) {
		t.Error("IsWithin returned false inside the combined tolerance")
	}
}

func TestIsWithinBoundaryEquality(t *testing.T) {
	saved := Fix{Coordinate: Coordinate{Latitude: 10, Longitude: 10}, Accuracy: 20}
	current := Fix{Coordinate: Coordinate{Latitude: 10.002, Longitude: 10}, Accuracy: 30}

	d := Distance(current.Coordinate, saved.Coordinate)

	// distance == base + acc1 + acc2: still valid. The tiny epsilon keeps
	// the reconstructed base from rounding just below the distance.
	base := d - current.Accuracy - saved.Accuracy + 1e-6
	if !IsWithin(current, saved, base) {
		t.Error("IsWithin returned false at the tolerance boundary")
	}
	if IsWithin(current, saved, base-0.001) {
		t.Error("IsWithin returned true just beyond the tolerance")
	}
}

func TestIsWithinZeroDistance(t *testing.T) {
	f := Fix{Coordinate: Coordinate{Latitude: -33.8688, Longitude: 151.2093}}
	if !IsWithin(f, f, 0) {
		t.Error("IsWithin returned false for identical fixes with zero tolerance")
	}
}
