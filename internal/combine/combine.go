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


// Package combine reduces a stack of equally sized frames to a single
// master frame, pixel column by pixel column. A "column" is the set of
// values one pixel position takes across all frames of the stack.
package combine

import (
	"fmt"
	"math"

	"github.com/rmflat/masterflat/internal/errs"
	"github.com/rmflat/masterflat/internal/fits"
	"github.com/rmflat/masterflat/internal/qsort"
	"github.com/rmflat/masterflat/internal/session"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Column reduction method
type Method int

const (
	Mean Method = iota
	Median
	MinMaxClip
	SigmaClip
)

func (m Method) String() string {
	switch m {
	case Mean:
		return "Mean"
	case Median:
		return "Median"
	case MinMaxClip:
		return "MinMaxClip"
	case SigmaClip:
		return "SigmaClip"
	}
	return "Unknown"
}

// Settings for a combination run
type Settings struct {
	Method         Method
	ClipIterations int     // min and max drop rounds per column for MinMaxClip
	SigmaThreshold float64 // z-score rejection threshold for SigmaClip
}

// Number suffix for output file naming: drop count for min-max clipping,
// threshold for sigma clipping, nothing for the plain methods
func (s *Settings) MethodTag() string {
	switch s.Method {
	case MinMaxClip:
		return fmt.Sprintf("%s%d", s.Method, s.ClipIterations)
	case SigmaClip:
		return fmt.Sprintf("%s%g", s.Method, s.SigmaThreshold)
	}
	return s.Method.String()
}

// Check for cancellation once per this many columns
const cancelCheckInterval = 1 << 14

// Combines the given frames into a single master frame using the configured
// method. All frames must have identical dimensions. Returns a new image
// holding the combined pixel data; acquisition metadata is left for the
// caller to fill in.
func Combine(layers []*fits.Image, set *Settings, cons *session.Console, ctrl *session.Controller) (*fits.Image, error) {
	if len(layers) == 0 {
		return nil, errs.ErrIncompatibleSizes
	}
	for _, l := range layers[1:] {
		if !fits.EqualInt32Slice(l.Naxisn, layers[0].Naxisn) {
			return nil, errs.ErrIncompatibleSizes
		}
	}
	if err := ctrl.Check(); err != nil {
		return nil, err
	}

	cons.PushLevel()
	defer cons.PopLevel()

	var data []float64
	var err error
	switch set.Method {
	case Mean:
		cons.Message("Combining by simple mean", +1, false)
		data, err = combineMean(layers, ctrl)
	case Median:
		cons.Message("Combining by simple median", +1, false)
		data, err = combineMedian(layers, ctrl)
	case MinMaxClip:
		cons.Message(fmt.Sprintf("Using min-max clip with %d iterations", set.ClipIterations), +1, false)
		data, err = combineMinMaxClip(layers, set.ClipIterations, cons, ctrl)
	case SigmaClip:
		cons.Message(fmt.Sprintf("Combining by sigma-clipped mean, z-score threshold %g", set.SigmaThreshold), +1, false)
		data, err = combineSigmaClip(layers, set.SigmaThreshold, cons, ctrl)
	default:
		return nil, fmt.Errorf("unknown combination method %d", set.Method)
	}
	if err != nil {
		return nil, err
	}

	res := fits.NewImageFromNaxisn(layers[0].Naxisn, data)
	return res, nil
}

// Plain mean: accumulate layer by layer, then scale. Results are exact,
// not rounded; rounding happens when the master is persisted.
func combineMean(layers []*fits.Image, ctrl *session.Controller) ([]float64, error) {
	data := make([]float64, len(layers[0].Data))
	copy(data, layers[0].Data)
	for _, l := range layers[1:] {
		if err := ctrl.Check(); err != nil {
			return nil, err
		}
		floats.Add(data, l.Data)
	}
	floats.Scale(1/float64(len(layers)), data)
	return data, nil
}

// Plain median via quickselect on a gathered scratch column
func combineMedian(layers []*fits.Image, ctrl *session.Controller) ([]float64, error) {
	data := make([]float64, len(layers[0].Data))
	gathered := make([]float64, len(layers))
	for i := range data {
		if i%cancelCheckInterval == 0 {
			if err := ctrl.Check(); err != nil {
				return nil, err
			}
		}
		for li, l := range layers {
			gathered[li] = l.Data[i]
		}
		data[i] = qsort.QSelectMedianFloat64(gathered)
	}
	return data, nil
}

// Min-max clipped mean: per column, drop all instances of the minimum and
// all instances of the maximum, for the given number of rounds, and average
// what remains. A column whose values are all dropped is repaired with
// fewer drop rounds. Results are rounded to whole ADU.
func combineMinMaxClip(layers []*fits.Image, drops int, cons *session.Console, ctrl *session.Controller) ([]float64, error) {
	data := make([]float64, len(layers[0].Data))
	gathered := make([]float64, len(layers))
	masked := make([]bool, len(layers))
	repaired := 0
	for i := range data {
		if i%cancelCheckInterval == 0 {
			if err := ctrl.Check(); err != nil {
				return nil, err
			}
		}
		for li, l := range layers {
			gathered[li] = l.Data[i]
			masked[li] = false
		}
		mean, ok := maskedMinMaxMean(gathered, masked, drops)
		if !ok {
			// the clipping ate the whole column; redo it with fewer drops
			mean = clippedColumnMean(gathered, drops-1)
			repaired++
		}
		data[i] = math.Round(mean)
	}
	if repaired > 0 {
		cons.Message(fmt.Sprintf("%d columns lost all their values; repaired with fewer drops", repaired), +1, false)
	}
	return data, nil
}

// Performs the drop rounds on a gathered column in place via the mask.
// Returns the mean of the unmasked values, or ok=false when none remain.
func maskedMinMaxMean(gathered []float64, masked []bool, drops int) (mean float64, ok bool) {
	for d := 0; d < drops; d++ {
		maskExtreme(gathered, masked, true)
		maskExtreme(gathered, masked, false)
	}
	sum, count := 0.0, 0
	for i, v := range gathered {
		if !masked[i] {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Masks every instance of the smallest (or largest) unmasked value
func maskExtreme(gathered []float64, masked []bool, minimum bool) {
	extreme, found := 0.0, false
	for i, v := range gathered {
		if masked[i] {
			continue
		}
		if !found || (minimum && v < extreme) || (!minimum && v > extreme) {
			extreme, found = v, true
		}
	}
	if !found {
		return
	}
	for i, v := range gathered {
		if !masked[i] && v == extreme {
			masked[i] = true
		}
	}
}

// Min-max clipped mean of a single column with graceful degradation: when
// the drop rounds leave nothing, retry with one round fewer, down to a
// plain unclipped mean. Always yields a value.
func clippedColumnMean(column []float64, drops int) float64 {
	sorted := append([]float64(nil), column...)
	qsort.QSortFloat64(sorted)
	for k := drops; k >= 1; k-- {
		lo, hi := 0, len(sorted)
		for d := 0; d < k && lo < hi; d++ {
			v := sorted[lo]
			for lo < hi && sorted[lo] == v {
				lo++
			}
		}
		for d := 0; d < k && lo < hi; d++ {
			v := sorted[hi-1]
			for hi > lo && sorted[hi-1] == v {
				hi--
			}
		}
		if lo < hi {
			return stat.Mean(sorted[lo:hi], nil)
		}
	}
	return stat.Mean(column, nil)
}

// Sigma-clipped mean: per column, reject values whose z-score against the
// unclipped column mean exceeds the threshold, then average the survivors.
// A zero standard deviation rejects nothing. A fully rejected column is
// repaired with a min-max clipped mean of two drop rounds. Results are
// rounded to whole ADU.
func combineSigmaClip(layers []*fits.Image, threshold float64, cons *session.Console, ctrl *session.Controller) ([]float64, error) {
	data := make([]float64, len(layers[0].Data))
	gathered := make([]float64, len(layers))
	discarded, repaired := 0, 0
	for i := range data {
		if i%cancelCheckInterval == 0 {
			if err := ctrl.Check(); err != nil {
				return nil, err
			}
		}
		for li, l := range layers {
			gathered[li] = l.Data[i]
		}
		mean := stat.Mean(gathered, nil)
		stdev := stat.PopStdDev(gathered, nil)
		if stdev == 0 {
			// all values identical, nothing to reject
			data[i] = math.Round(mean)
			continue
		}
		sum, count := 0.0, 0
		for _, v := range gathered {
			if math.Abs(v-mean)/stdev > threshold {
				discarded++
				continue
			}
			sum += v
			count++
		}
		if count == 0 {
			data[i] = math.Round(clippedColumnMean(gathered, 2))
			repaired++
			continue
		}
		data[i] = math.Round(sum / float64(count))
	}

	totalValues := len(data) * len(layers)
	percentage := 100.0 * float64(discarded) / float64(totalValues)
	cons.Message(fmt.Sprintf("Discarded %d pixels of %d (%.3f%% of data)", discarded, totalValues, percentage), +1, false)
	if repaired > 0 {
		cons.Message(fmt.Sprintf("%d columns lost all their values; min-max clipped those columns", repaired), 0, false)
	}
	return data, nil
}
