package geo

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

type featureCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

type rawFeature struct {
	Properties map[string]any `json:"properties"`
	Geometry   *rawGeometry   `json:"geometry"`
}

type rawGeometry struct {
	Type        string                 `json:"type"`
	Coordinates sonic.NoCopyRawMessage `json:"coordinates"`
}

var isoPropertyKeys = []string{
	"ISO_A2",
	"ISO_A2_EH",
	"ISO3166-1-Alpha-2",
	"iso_a2",
	"iso2",
	"ISO2",
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection of country
// outlines. Features without a usable ISO2 code or with unsupported geometry
// are skipped.
func ParseFeatureCollection(body []byte) ([]Feature, error) {
	var fc featureCollection
	if err := sonic.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if fc.Type != "" && !strings.EqualFold(fc.Type, "FeatureCollection") {
		return nil, fmt.Errorf("unexpected geojson type %q", fc.Type)
	}

	out := make([]Feature, 0, len(fc.Features))
	for i, raw := range fc.Features {
		iso := featureISO(raw.Properties)
		if iso == "" || raw.Geometry == nil {
			continue
		}

		polygons, err := decodeGeometry(raw.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d (%s): %w", i, iso, err)
		}
		if len(polygons) == 0 {
			continue
		}
		out = append(out, NewFeature(iso, polygons))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("feature collection has no usable country features")
	}
	return out, nil
}

func featureISO(props map[string]any) string {
	for _, key := range isoPropertyKeys {
		v, ok := props[key].(string)
		if !ok {
			continue
		}
		v = strings.ToUpper(strings.TrimSpace(v))
		if isISO2(v) {
			return v
		}
	}
	return ""
}

func isISO2(v string) bool {
	if len(v) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if v[i] < 'A' || v[i] > 'Z' {
			return false
		}
	}
	return true
}

func decodeGeometry(g *rawGeometry) ([]Polygon, error) {
	switch g.Type {
	case "Polygon":
		var coords [][][]float64
		if err := sonic.Unmarshal([]byte(g.Coordinates), &coords); err != nil {
			return nil, fmt.Errorf("decode polygon: %w", err)
		}
		poly, ok := toPolygon(coords)
		if !ok {
			return nil, nil
		}
		return []Polygon{poly}, nil
	case "MultiPolygon":
		var coords [][][][]float64
		if err := sonic.Unmarshal([]byte(g.Coordinates), &coords); err != nil {
			return nil, fmt.Errorf("decode multipolygon: %w", err)
		}
		out := make([]Polygon, 0, len(coords))
		for _, c := range coords {
			if poly, ok := toPolygon(c); ok {
				out = append(out, poly)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func toPolygon(rings [][][]float64) (Polygon, bool) {
	if len(rings) == 0 {
		return Polygon{}, false
	}
	outer := toRing(rings[0])
	if len(outer) < 3 {
		return Polygon{}, false
	}
	poly := Polygon{Outer: outer}
	for _, r := range rings[1:] {
		if hole := toRing(r); len(hole) >= 3 {
			poly.Holes = append(poly.Holes, hole)
		}
	}
	return poly, true
}

func toRing(coords [][]float64) Ring {
	ring := make(Ring, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		ring = append(ring, Point{Lng: c[0], Lat: c[1]})
	}
	return ring
}
