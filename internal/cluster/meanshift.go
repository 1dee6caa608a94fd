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


// Package cluster implements 1-D mean-shift density clustering. It is used
// to group frames by CCD temperature, but works on any scalar attribute.
// Pure computation: no I/O, no cancellation checks, deterministic for
// identical floating-point inputs.
package cluster

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// A point stops shifting once its per-iteration move drops below this
const minShiftDistance = 1e-6

// Converged points closer than this are merged into one group
const groupDistanceTolerance = 0.1

// Partitions the given values into groups of mutually close points by
// mean-shift mode seeking with a Gaussian kernel of the given bandwidth.
// Returns the groups as lists of input indices, ordered by first appearance
// in the input. Bandwidth must be positive; callers validate range.
func MeanShift(values []float64, bandwidth float64) [][]int {
	if len(values) == 0 {
		return nil
	}
	kernel := distuv.Normal{Mu: 0, Sigma: bandwidth}

	// shift every point towards its local density mode
	shifted := append([]float64(nil), values...)
	stillShifting := make([]bool, len(values))
	for i := range stillShifting {
		stillShifting[i] = true
	}
	maxMinDist := 1.0
	for maxMinDist > minShiftDistance {
		maxMinDist = 0
		for i := range shifted {
			if !stillShifting[i] {
				continue
			}
			pNew := shiftPoint(shifted[i], values, kernel)
			dist := math.Abs(pNew - shifted[i])
			if dist > maxMinDist {
				maxMinDist = dist
			}
			if dist < minShiftDistance {
				stillShifting[i] = false
			}
			shifted[i] = pNew
		}
	}

	return groupPoints(shifted)
}

// Recomputes a point position as the kernel-weighted average of all
// original points. The denominator cannot be zero: every point has a
// nonzero self-weight.
func shiftPoint(point float64, points []float64, kernel distuv.Normal) float64 {
	numerator, denominator := 0.0, 0.0
	for _, p := range points {
		weight := kernel.Prob(point - p)
		numerator += p * weight
		denominator += weight
	}
	return numerator / denominator
}

// Scans converged points in input order, assigning each to an existing group
// when within tolerance of the group's closest member, else starting a new one
func groupPoints(points []float64) [][]int {
	groups := [][]int(nil)
	for i, p := range points {
		nearest := -1
		for gi, group := range groups {
			if distanceToGroup(p, group, points) < groupDistanceTolerance {
				nearest = gi
			}
		}
		if nearest < 0 {
			groups = append(groups, []int{i})
		} else {
			groups[nearest] = append(groups[nearest], i)
		}
	}
	return groups
}

func distanceToGroup(point float64, group []int, points []float64) float64 {
	minDistance := math.MaxFloat64
	for _, gi := range group {
		if d := math.Abs(point - points[gi]); d < minDistance {
			minDistance = d
		}
	}
	return minDistance
}
