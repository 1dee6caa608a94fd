// Copyright (C) 2021 The masterflat authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package qsort provides in-place quicksort and quickselect primitives for
// pixel columns. Inputs are reordered; callers must pass scratch copies if
// they need the original order preserved.
package qsort

// Sorts the given array in place with quicksort, using median-of-three
// pivoting and insertion sort below a fixed cutoff
func QSortFloat64(a []float64) {
	for len(a) > 16 {
		p := partitionFloat64(a)
		if p < len(a)-p {
			QSortFloat64(a[:p])
			a = a[p:]
		} else {
			QSortFloat64(a[p:])
			a = a[:p]
		}
	}
	// insertion sort for small remainders
	for i := 1; i < len(a); i++ {
		v := a[i]
		j := i - 1
		for j >= 0 && a[j] > v {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}

// Returns the median of the given array, partially reordering it in place.
// For even lengths, returns the mean of the two middle elements.
func QSelectMedianFloat64(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	k := len(a) >> 1
	upper := qSelectFloat64(a, k)
	if (len(a) & 1) != 0 {
		return upper
	}
	// even length: also need the largest element left of the midpoint
	lower := a[0]
	for _, v := range a[1:k] {
		if v > lower {
			lower = v
		}
	}
	return 0.5 * (lower + upper)
}

// Returns the k-th smallest element (0-based) via Hoare quickselect,
// partially reordering a in place
func qSelectFloat64(a []float64, k int) float64 {
	for len(a) > 1 {
		p := partitionFloat64(a)
		if k < p {
			a = a[:p]
		} else {
			a = a[p:]
			k -= p
		}
	}
	return a[0]
}

// Partitions a around a median-of-three pivot. Returns the split point p
// with 0<p<len(a) such that a[:p]<=pivot<=a[p:] elementwise.
func partitionFloat64(a []float64) int {
	lo, mid, hi := 0, len(a)>>1, len(a)-1
	if a[mid] < a[lo] {
		a[mid], a[lo] = a[lo], a[mid]
	}
	if a[hi] < a[lo] {
		a[hi], a[lo] = a[lo], a[hi]
	}
	if a[hi] < a[mid] {
		a[hi], a[mid] = a[mid], a[hi]
	}
	pivot := a[mid]

	i, j := 0, len(a)-1
	for {
		for a[i] < pivot {
			i++
		}
		for a[j] > pivot {
			j--
		}
		if i >= j {
			if j == len(a)-1 {
				return j // pivot region reaches the end; split before it
			}
			return j + 1
		}
		a[i], a[j] = a[j], a[i]
		i++
		j--
	}
}
