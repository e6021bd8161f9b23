package geo

import (
	"math"
	"strconv"
)

// NormalizeCoordinate repairs an obvious lat/lng swap and rejects anything
// that is still out of range afterwards.
func NormalizeCoordinate(lat, lng float64) (Point, bool) {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return Point{}, false
	}
	if math.Abs(lat) > 90 && math.Abs(lat) <= 180 && math.Abs(lng) <= 90 {
		lat, lng = lng, lat
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Point{}, false
	}
	return Point{Lat: lat, Lng: lng}, true
}

// RoundKey identifies a coordinate at five decimal places (about 1.1 m).
func RoundKey(p Point) string {
	return strconv.FormatFloat(round5(p.Lat), 'f', 5, 64) + "," + strconv.FormatFloat(round5(p.Lng), 'f', 5, 64)
}

func round5(v float64) float64 {
	r := math.Round(v*1e5) / 1e5
	if r == 0 {
		return 0
	}
	return r
}
