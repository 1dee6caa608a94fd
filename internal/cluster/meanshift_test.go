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


package cluster

import (
	"testing"
)

func TestMeanShiftTwoTemperatureBands(t *testing.T) {
	temps := []float64{-10.0, -9.9, 5.0, 5.1}
	groups := MeanShift(temps, 1.0)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, expect 2: %v", len(groups), groups)
	}
	if len(groups[0]) != 2 || groups[0][0] != 0 || groups[0][1] != 1 {
		t.Errorf("cold group got %v, expect [0 1]", groups[0])
	}
	if len(groups[1]) != 2 || groups[1][0] != 2 || groups[1][1] != 3 {
		t.Errorf("warm group got %v, expect [2 3]", groups[1])
	}
}

func TestMeanShiftSingleValue(t *testing.T) {
	groups := MeanShift([]float64{-15.2}, 1.0)
	if len(groups) != 1 || len(groups[0]) != 1 || groups[0][0] != 0 {
		t.Fatalf("got %v, expect [[0]]", groups)
	}
}

func TestMeanShiftIdenticalValues(t *testing.T) {
	groups := MeanShift([]float64{-10, -10, -10, -10, -10}, 0.5)
	if len(groups) != 1 {
		t.Fatalf("got %d groups for identical inputs, expect 1", len(groups))
	}
	if len(groups[0]) != 5 {
		t.Fatalf("group size %d, expect 5", len(groups[0]))
	}
}

func TestMeanShiftWideBandwidthMergesAll(t *testing.T) {
	temps := []float64{-10.0, -9.5, -9.0, -8.5}
	groups := MeanShift(temps, 10.0)
	if len(groups) != 1 {
		t.Fatalf("got %d groups with wide bandwidth, expect 1", len(groups))
	}
}

func TestMeanShiftEmpty(t *testing.T) {
	if g := MeanShift(nil, 1.0); g != nil {
		t.Fatalf("got %v for empty input, expect nil", g)
	}
}
