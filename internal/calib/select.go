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


package calib

import (
	"fmt"
	"math"

	"github.com/rmflat/masterflat/internal/errs"
	"github.com/rmflat/masterflat/internal/fits"
	"github.com/rmflat/masterflat/internal/session"
)

// Picks the best-matching calibration file for the given frame from the
// scanned candidates. With BiasOnly set, only bias and dark frames are
// considered; all candidates must further match the frame's dimensions
// and binning. Among those, the one with the lowest score wins, where
// score combines the temperature and the weighted exposure deviation.
func (c *Calibrator) bestCalibrationFile(candidates []*fits.Image, frame *fits.Image, cons *session.Console) (*fits.Image, error) {
	if c.BiasOnly {
		filtered := make([]*fits.Image, 0, len(candidates))
		for _, cand := range candidates {
			if cand.Frame == fits.FrameBias || cand.Frame == fits.FrameDark {
				filtered = append(filtered, cand)
			}
		}
		if len(filtered) == 0 {
			return nil, errs.ErrNoBiasCandidates
		}
		candidates = filtered
	}

	sized := make([]*fits.Image, 0, len(candidates))
	for _, cand := range candidates {
		if cand.SameSizeAs(frame) {
			sized = append(sized, cand)
		}
	}
	if len(sized) == 0 {
		return nil, errs.ErrNoSizeMatch
	}

	best := c.closestMatch(sized, frame.Exposure, frame.Temperature)
	if c.ShowSelection {
		cons.Message(fmt.Sprintf("Target %.1fs at %.1f C, best match is %.1fs at %.1f C: %s",
			frame.Exposure, frame.Temperature, best.Exposure, best.Temperature, best.Name()), +1, true)
	}
	return best, nil
}

// Scores every candidate against the target exposure and temperature and
// returns the lowest scorer. Ties go to the earliest candidate, keeping
// selection deterministic for a sorted directory scan.
func (c *Calibrator) closestMatch(candidates []*fits.Image, targetExposure, targetTemperature float64) *fits.Image {
	best, bestScore := candidates[0], math.MaxFloat64
	for _, cand := range candidates {
		score := math.Abs(cand.Temperature-targetTemperature) +
			math.Abs(cand.Exposure-targetExposure)*c.ExposureWeight
		if score < bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}
