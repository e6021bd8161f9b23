package geo

import "sort"

// Index answers point-in-country queries over an immutable feature list.
// Features are ordered by bounding-box area ascending, ties by ISO code, so
// the smallest enclosing country wins on overlapping borders.
type Index struct {
	features []Feature
}

func NewIndex(features []Feature) *Index {
	ordered := make([]Feature, 0, len(features))
	for _, f := range features {
		if f.ISO2 == "" || !f.BBox.Valid() {
			continue
		}
		ordered = append(ordered, f)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ai, aj := ordered[i].BBox.Area(), ordered[j].BBox.Area()
		if ai != aj {
			return ai < aj
		}
		return ordered[i].ISO2 < ordered[j].ISO2
	})
	return &Index{features: ordered}
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.features)
}

// Lookup returns the ISO2 code of the first feature containing p.
func (idx *Index) Lookup(p Point) (string, bool) {
	if idx == nil {
		return "", false
	}
	for i := range idx.features {
		if idx.features[i].Contains(p) {
			return idx.features[i].ISO2, true
		}
	}
	return "", false
}
