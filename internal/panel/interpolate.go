package panel

import (
	"math"
	"sort"

	"github.com/guttosm/equitypanel/internal/domain/errs"
)

// Interpolate fills NaN entries of y by linear interpolation over x.
//
// x must be fully numeric; a NaN in x is an errs.ErrDataIntegrity. Known
// points need not be sorted. A missing y outside the range of known x values
// is also an errs.ErrDataIntegrity: values are never extrapolated. The input
// slices are not modified.
func Interpolate(x, y []float64) ([]float64, error) {
	if len(x) != len(y) {
		return nil, errs.Integrityf("interpolate: len(x)=%d != len(y)=%d", len(x), len(y))
	}

	type point struct{ x, y float64 }
	known := make([]point, 0, len(x))
	for i, xi := range x {
		if math.IsNaN(xi) || math.IsInf(xi, 0) {
			return nil, errs.Integrityf("interpolate: x[%d] is not a number", i)
		}
		if !math.IsNaN(y[i]) {
			known = append(known, point{xi, y[i]})
		}
	}
	sort.SliceStable(known, func(i, j int) bool { return known[i].x < known[j].x })

	out := make([]float64, len(y))
	copy(out, y)
	for i, yi := range y {
		if !math.IsNaN(yi) {
			continue
		}
		xi := x[i]
		k := sort.Search(len(known), func(j int) bool { return known[j].x >= xi })
		switch {
		case k < len(known) && known[k].x == xi:
			out[i] = known[k].y
		case k == 0 || k == len(known):
			return nil, errs.Integrityf("interpolate: x=%v outside known range", xi)
		default:
			lo, hi := known[k-1], known[k]
			out[i] = lo.y + (hi.y-lo.y)*(xi-lo.x)/(hi.x-lo.x)
		}
	}
	return out, nil
}
