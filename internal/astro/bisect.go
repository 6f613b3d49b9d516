package astro

import (
	"math"

	"chronos/internal/types"
)

// Bisect finds x in [lo,hi] with |f(x)| <= tol by interval halving. f must be
// non-decreasing across the bracket with f(lo) < 0 < f(hi); endpoints already
// within tolerance are returned without further evaluation. Errors from f
// propagate unchanged. A bracket that does not straddle a root, or an
// iteration budget exhausted before the residual falls inside tolerance,
// fails with convergence_error.
func Bisect(f func(float64) (float64, error), lo, hi, tol float64, maxIter int) (float64, error) {
	rlo, err := f(lo)
	if err != nil {
		return 0, err
	}
	if math.Abs(rlo) <= tol {
		return lo, nil
	}
	rhi, err := f(hi)
	if err != nil {
		return 0, err
	}
	if math.Abs(rhi) <= tol {
		return hi, nil
	}
	if rlo > 0 || rhi < 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeConvergence,
			"bracket does not straddle a root",
			nil,
			map[string]any{"lo": lo, "hi": hi, "residual_lo": rlo, "residual_hi": rhi},
		)
	}

	var residual float64
	for i := 0; i < maxIter; i++ {
		mid := lo + (hi-lo)/2
		residual, err = f(mid)
		if err != nil {
			return 0, err
		}
		if math.Abs(residual) <= tol {
			return mid, nil
		}
		if residual < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}

	return 0, types.NewAppErrorWithDetails(
		types.ErrCodeConvergence,
		"root-find iteration budget exhausted",
		nil,
		map[string]any{
			"max_iterations": maxIter,
			"tolerance":      tol,
			"residual":       residual,
			"interval":       hi - lo,
		},
	)
}
