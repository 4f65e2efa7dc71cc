package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineZeroDistance(t *testing.T) {
	p := Point{Lat: 55.7558, Lon: 37.6173}
	assert.Equal(t, 0.0, Haversine(p, p))
}

func TestHaversineKnownDistance(t *testing.T) {
	// Moscow center to Sheremetyevo, roughly 28.5 km
	moscow := Point{Lat: 55.7558, Lon: 37.6173}
	svo := Point{Lat: 55.9736, Lon: 37.4125}

	d := Haversine(moscow, svo)
	assert.InDelta(t, 27.5, d, 2.0)
}

func TestHaversineSymmetric(t *testing.T) {
	a := Point{Lat: 40.7128, Lon: -74.0060}
	b := Point{Lat: 34.0522, Lon: -118.2437}

	assert.InDelta(t, Haversine(a, b), Haversine(b, a), 1e-9)
	// NYC to LA is about 3936 km
	assert.InDelta(t, 3936.0, Haversine(a, b), 20.0)
}

func TestHaversineShortDistance(t *testing.T) {
	// ~1.11 km per 0.01 degree of latitude
	a := Point{Lat: 50.0, Lon: 30.0}
	b := Point{Lat: 50.01, Lon: 30.0}

	assert.InDelta(t, 1.11, Haversine(a, b), 0.02)
}
