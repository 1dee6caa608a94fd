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


// Package errs defines the closed set of failure conditions surfaced by the
// combination core. Drivers translate these into user-facing messages; the
// core never retries any of them internally.
package errs

import (
	"errors"
	"fmt"
)

var (
	// Images or a fixed calibration reference do not share identical
	// width, height and binning
	ErrIncompatibleSizes = errors.New("images have incompatible dimensions or binning")

	// A group contains a non-flat frame and type checking is not suppressed
	ErrNotAllFlatFrames = errors.New("not all frames are flat frames")

	// Auto-directory calibration found candidates, but none with the
	// target's dimensions and binning
	ErrNoSizeMatch = errors.New("no calibration file of matching size and binning")

	// Auto-directory calibration found no bias or dark frames while the
	// bias/dark-only policy is active
	ErrNoBiasCandidates = errors.New("no bias or dark frames among calibration candidates")

	// Cooperative cancellation observed at a checkpoint
	ErrCancelled = errors.New("session cancelled")
)

// EmptyCalibrationDirectoryError reports an auto-calibration directory with
// zero candidate files.
type EmptyCalibrationDirectoryError struct {
	Directory string
}

func (e *EmptyCalibrationDirectoryError) Error() string {
	return fmt.Sprintf("calibration directory %s contains no FITS files", e.Directory)
}

// NoOutputDirectoryError reports a grouped-output directory that is missing
// and could not be created.
type NoOutputDirectoryError struct {
	Directory string
	Err       error
}

func (e *NoOutputDirectoryError) Error() string {
	return fmt.Sprintf("output directory %s does not exist and cannot be created: %v", e.Directory, e.Err)
}

func (e *NoOutputDirectoryError) Unwrap() error { return e.Err }
