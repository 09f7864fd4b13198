/*
Copyright © 2020 the PopCount authors.
This file is part of PopCount.

PopCount is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

PopCount is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with PopCount.  If not, see <http://www.gnu.org/licenses/>.*/

package popcount

import "math"

// SumPopulation sums the valid cell values of r and truncates the
// result to an integer count of people. Nodata cells and negative
// values (some population products use negative sentinels beyond the
// declared nodata value) are excluded, so an all-nodata raster sums to
// zero. Summation order is fixed, so the result is deterministic for
// a given raster.
func SumPopulation(r *Raster) int64 {
	nodataNaN := r.HasNoData && math.IsNaN(r.NoData)
	var sum float64
	for _, v := range r.Data.Elements {
		if math.IsNaN(v) {
			continue
		}
		if r.HasNoData && !nodataNaN && v == r.NoData {
			continue
		}
		if v < 0 {
			continue
		}
		sum += v
	}
	return int64(sum)
}
