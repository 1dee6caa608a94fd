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


package combine

import (
	"errors"
	"io/ioutil"
	"math"
	"testing"

	"github.com/rmflat/masterflat/internal/errs"
	"github.com/rmflat/masterflat/internal/fits"
	"github.com/rmflat/masterflat/internal/session"
)

// Builds a stack of single-row frames from per-pixel columns: columns[i]
// holds the value of pixel i in every layer
func stackFromColumns(columns [][]float64) []*fits.Image {
	numLayers := len(columns[0])
	layers := make([]*fits.Image, numLayers)
	for li := 0; li < numLayers; li++ {
		img := fits.NewImageFromNaxisn([]int32{int32(len(columns)), 1}, nil)
		for i, col := range columns {
			img.Data[i] = col[li]
		}
		layers[li] = img
	}
	return layers
}

func newTestSession() (*session.Console, *session.Controller) {
	return session.NewConsole(ioutil.Discard), session.NewController()
}

func TestCombineMean(t *testing.T) {
	cons, ctrl := newTestSession()
	layers := stackFromColumns([][]float64{{1, 2, 3, 6}, {10, 20, 30, 60}})
	res, err := Combine(layers, &Settings{Method: Mean}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{3, 30} {
		if res.Data[i] != want {
			t.Errorf("pixel %d got %v expect %v", i, res.Data[i], want)
		}
	}
}

func TestCombineMedian(t *testing.T) {
	cons, ctrl := newTestSession()
	layers := stackFromColumns([][]float64{{5, 1, 9}})
	res, err := Combine(layers, &Settings{Method: Median}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data[0] != 5 {
		t.Errorf("odd median got %v expect 5", res.Data[0])
	}

	layers = stackFromColumns([][]float64{{2, 4, 6, 8}})
	res, err = Combine(layers, &Settings{Method: Median}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data[0] != 5 {
		t.Errorf("even median got %v expect 5", res.Data[0])
	}
}

func TestMinMaxZeroDropsEqualsMean(t *testing.T) {
	cons, ctrl := newTestSession()
	col := []float64{3, 8, 2, 1, 0, 4}
	layers := stackFromColumns([][]float64{col})
	res, err := Combine(layers, &Settings{Method: MinMaxClip, ClipIterations: 0}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, v := range col {
		sum += v
	}
	if want := math.Round(sum / float64(len(col))); res.Data[0] != want {
		t.Errorf("got %v expect %v", res.Data[0], want)
	}
}

func TestClippedColumnMeanExample(t *testing.T) {
	column := []float64{3, 8, 2, 1, 0, 4, 3, 2, 5, 3, 2, 9, 5, 1, 0, 3, 8, 4, 9, 2}
	// two drop rounds remove the 0s, 1s, 9s and 8s, leaving
	// [2 2 2 2 3 3 3 3 4 4 5 5] with mean 38/12
	got := clippedColumnMean(column, 2)
	want := 38.0 / 12.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("got %v expect %v", got, want)
	}
}

func TestClippedColumnMeanDegradesToPlainMean(t *testing.T) {
	column := []float64{7, 7, 7}
	// any drop round removes every instance of 7, so degrade to plain mean
	if got := clippedColumnMean(column, 3); got != 7 {
		t.Errorf("got %v expect 7", got)
	}
}

func TestMinMaxClipRepairsExhaustedColumns(t *testing.T) {
	cons, ctrl := newTestSession()
	// two layers, one drop round masks both the min and the max
	layers := stackFromColumns([][]float64{{10, 20}})
	res, err := Combine(layers, &Settings{Method: MinMaxClip, ClipIterations: 1}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(res.Data[0]) {
		t.Fatal("repaired column is NaN")
	}
	if res.Data[0] != 15 {
		t.Errorf("got %v expect 15", res.Data[0])
	}
}

func TestSigmaClipConstantColumn(t *testing.T) {
	cons, ctrl := newTestSession()
	layers := stackFromColumns([][]float64{{42, 42, 42, 42}})
	res, err := Combine(layers, &Settings{Method: SigmaClip, SigmaThreshold: 0.001}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	// zero deviation must reject nothing, even with a tiny threshold
	if res.Data[0] != 42 {
		t.Errorf("got %v expect 42", res.Data[0])
	}
}

func TestSigmaClipRejectsOutlier(t *testing.T) {
	cons, ctrl := newTestSession()
	layers := stackFromColumns([][]float64{{100, 100, 100, 200}})
	res, err := Combine(layers, &Settings{Method: SigmaClip, SigmaThreshold: 1.5}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data[0] != 100 {
		t.Errorf("got %v expect 100", res.Data[0])
	}
}

func TestCombineSingleFrame(t *testing.T) {
	cons, ctrl := newTestSession()
	layers := stackFromColumns([][]float64{{17}, {23}})
	res, err := Combine(layers, &Settings{Method: Mean}, cons, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data[0] != 17 || res.Data[1] != 23 {
		t.Errorf("got %v", res.Data)
	}
}

func TestCombineIncompatibleSizes(t *testing.T) {
	cons, ctrl := newTestSession()
	a := fits.NewImageFromNaxisn([]int32{2, 2}, nil)
	b := fits.NewImageFromNaxisn([]int32{3, 2}, nil)
	if _, err := Combine([]*fits.Image{a, b}, &Settings{Method: Mean}, cons, ctrl); !errors.Is(err, errs.ErrIncompatibleSizes) {
		t.Fatalf("got %v expect ErrIncompatibleSizes", err)
	}
}

func TestCombineCancelled(t *testing.T) {
	cons, ctrl := newTestSession()
	ctrl.Cancel()
	layers := stackFromColumns([][]float64{{1, 2}})
	if _, err := Combine(layers, &Settings{Method: Mean}, cons, ctrl); !errors.Is(err, errs.ErrCancelled) {
		t.Fatalf("got %v expect ErrCancelled", err)
	}
}

func TestMethodTag(t *testing.T) {
	cases := []struct {
		set  Settings
		want string
	}{
		{Settings{Method: Mean}, "Mean"},
		{Settings{Method: Median}, "Median"},
		{Settings{Method: MinMaxClip, ClipIterations: 2}, "MinMaxClip2"},
		{Settings{Method: SigmaClip, SigmaThreshold: 3.0}, "SigmaClip3"},
	}
	for _, c := range cases {
		if got := c.set.MethodTag(); got != c.want {
			t.Errorf("got %q expect %q", got, c.want)
		}
	}
}
