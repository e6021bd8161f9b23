package geo

import "math"

// Point is a WGS84 coordinate. GeoJSON stores it as [lng, lat].
type Point struct {
	Lat float64
	Lng float64
}

type Ring []Point

type Polygon struct {
	Outer Ring
	Holes []Ring
}

type BBox struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Feature is one country outline with its precomputed bounding box.
type Feature struct {
	ISO2     string
	Polygons []Polygon
	BBox     BBox
}

const edgeEpsilon = 1e-12

func emptyBBox() BBox {
	return BBox{
		MinLat: math.Inf(1),
		MinLng: math.Inf(1),
		MaxLat: math.Inf(-1),
		MaxLng: math.Inf(-1),
	}
}

func (b BBox) extend(p Point) BBox {
	b.MinLat = math.Min(b.MinLat, p.Lat)
	b.MinLng = math.Min(b.MinLng, p.Lng)
	b.MaxLat = math.Max(b.MaxLat, p.Lat)
	b.MaxLng = math.Max(b.MaxLng, p.Lng)
	return b
}

func (b BBox) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng
}

func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Area is measured in square degrees and only used for ordering.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return (b.MaxLat - b.MinLat) * (b.MaxLng - b.MinLng)
}

// NewFeature computes the bounding box over every outer ring.
func NewFeature(iso2 string, polygons []Polygon) Feature {
	box := emptyBBox()
	for _, poly := range polygons {
		for _, p := range poly.Outer {
			box = box.extend(p)
		}
	}
	return Feature{ISO2: iso2, Polygons: polygons, BBox: box}
}

func (f Feature) Contains(p Point) bool {
	if !f.BBox.Valid() || !f.BBox.Contains(p) {
		return false
	}
	for _, poly := range f.Polygons {
		if poly.Contains(p) {
			return true
		}
	}
	return false
}

// Contains reports whether p lies inside the outer ring and outside every
// hole. Points on the outer ring count as inside; points on a hole edge
// count as inside as well, since they touch the country.
func (poly Polygon) Contains(p Point) bool {
	if !poly.Outer.contains(p) {
		return false
	}
	for _, hole := range poly.Holes {
		if hole.onEdge(p) {
			continue
		}
		if hole.contains(p) {
			return false
		}
	}
	return true
}

func (r Ring) contains(p Point) bool {
	n := len(r)
	if n < 3 {
		return false
	}
	if r.onEdge(p) {
		return true
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := r[i], r[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			crossLng := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < crossLng {
				inside = !inside
			}
		}
	}
	return inside
}

func (r Ring) onEdge(p Point) bool {
	n := len(r)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(r[j], r[i], p) {
			return true
		}
	}
	return false
}

func onSegment(a, b, p Point) bool {
	cross := (b.Lng-a.Lng)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lng-a.Lng)
	if math.Abs(cross) > edgeEpsilon {
		return false
	}
	return p.Lng >= math.Min(a.Lng, b.Lng)-edgeEpsilon &&
		p.Lng <= math.Max(a.Lng, b.Lng)+edgeEpsilon &&
		p.Lat >= math.Min(a.Lat, b.Lat)-edgeEpsilon &&
		p.Lat <= math.Max(a.Lat, b.Lat)+edgeEpsilon
}
