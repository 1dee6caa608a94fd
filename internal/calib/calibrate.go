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


// Package calib subtracts bias or dark signal from flat frames before they
// are combined. Four modes exist: no calibration, a fixed pedestal value, a
// fixed calibration file, and automatic selection of the best-matching
// calibration file from a directory.
package calib

import (
	"fmt"
	"io"

	"github.com/rmflat/masterflat/internal/errs"
	"github.com/rmflat/masterflat/internal/fits"
	"github.com/rmflat/masterflat/internal/session"
)

// Precalibration mode
type Mode int

const (
	None Mode = iota
	Pedestal
	FixedFile
	AutoDirectory
)

// Relative weight of the exposure time difference against the temperature
// difference when scoring calibration file candidates
const DefaultExposureWeight = 10.0

// Settings for precalibration
type Settings struct {
	Mode           Mode
	Pedestal       int     // ADU subtracted from every pixel in Pedestal mode
	FixedPath      string  // calibration file for FixedFile mode
	AutoDirectory  string  // calibration file directory for AutoDirectory mode
	AutoRecursive  bool    // also scan subdirectories of AutoDirectory
	BiasOnly       bool    // restrict auto selection to bias and dark frames
	ExposureWeight float64 // candidate scoring weight, see DefaultExposureWeight
	ShowSelection  bool    // log which calibration file each frame gets
}

// A Calibrator applies one precalibration mode to stacks of flat frames.
// The file access functions are variables so tests can substitute
// in-memory fakes.
type Calibrator struct {
	Settings

	LoadImage    func(fileName string, id int, logWriter io.Writer) (*fits.Image, error)
	LoadMetadata func(fileName string, id int, logWriter io.Writer) (*fits.Image, error)
	Scan         func(dir string, recursive bool) ([]string, error)

	cache map[string]*fits.Image // calibration images already loaded this run
}

func NewCalibrator(set Settings) *Calibrator {
	if set.ExposureWeight == 0 {
		set.ExposureWeight = DefaultExposureWeight
	}
	return &Calibrator{
		Settings:     set,
		LoadImage:    fits.NewImageFromFile,
		LoadMetadata: fits.NewMetadataFromFile,
		Scan:         fits.ScanDirectory,
		cache:        make(map[string]*fits.Image),
	}
}

// Short text about the calibration mode, included in the master frame's
// FITS comment
func (c *Calibrator) CommentTag() string {
	switch c.Mode {
	case Pedestal:
		return fmt.Sprintf("(pedestal %d calibration)", c.Pedestal)
	case FixedFile:
		return "(fixed bias file calibration)"
	case AutoDirectory:
		return "(auto-selected bias file calibration)"
	}
	return "(no calibration)"
}

// Calibrates the given frames in place. Pixel values are clipped to the
// unsigned 16-bit range after subtraction, so no negative values result.
// Checks for cancellation between frames.
func (c *Calibrator) Calibrate(frames []*fits.Image, cons *session.Console, ctrl *session.Controller) error {
	switch c.Mode {
	case None:
		return nil
	case Pedestal:
		return c.calibrateWithPedestal(frames, cons, ctrl)
	case FixedFile:
		return c.calibrateWithFile(frames, cons, ctrl)
	case AutoDirectory:
		return c.calibrateWithAutoDirectory(frames, cons, ctrl)
	}
	return fmt.Errorf("unknown calibration mode %d", c.Mode)
}

func (c *Calibrator) calibrateWithPedestal(frames []*fits.Image, cons *session.Console, ctrl *session.Controller) error {
	cons.Message(fmt.Sprintf("Calibrate with pedestal = %d", c.Pedestal), 0, false)
	pedestal := float64(c.Pedestal)
	for _, frame := range frames {
		if err := ctrl.Check(); err != nil {
			return err
		}
		for i, v := range frame.Data {
			frame.Data[i] = clipToRange(v - pedestal)
		}
	}
	return nil
}

func (c *Calibrator) calibrateWithFile(frames []*fits.Image, cons *session.Console, ctrl *session.Controller) error {
	cons.Message(fmt.Sprintf("Calibrate with file: %s", c.FixedPath), 0, false)
	calImage, err := c.loadCached(c.FixedPath, cons.Writer())
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := ctrl.Check(); err != nil {
			return err
		}
		if err := subtractImage(frame, calImage); err != nil {
			return err
		}
	}
	return nil
}

func (c *Calibrator) calibrateWithAutoDirectory(frames []*fits.Image, cons *session.Console, ctrl *session.Controller) error {
	candidates, err := c.scanCandidates(cons.Writer())
	if err != nil {
		return err
	}
	if err := ctrl.Check(); err != nil {
		return err
	}

	cons.PushLevel()
	defer cons.PopLevel()
	cons.Message(fmt.Sprintf("Calibrating from directory containing %d files", len(candidates)), +1, false)
	for _, frame := range frames {
		if err := ctrl.Check(); err != nil {
			return err
		}
		best, err := c.bestCalibrationFile(candidates, frame, cons)
		if err != nil {
			return err
		}
		calImage, err := c.loadCached(best.FileName, cons.Writer())
		if err != nil {
			return err
		}
		if err := subtractImage(frame, calImage); err != nil {
			return err
		}
	}
	return nil
}

// Reads the headers of all FITS files in the auto calibration directory
func (c *Calibrator) scanCandidates(logWriter io.Writer) ([]*fits.Image, error) {
	names, err := c.Scan(c.AutoDirectory, c.AutoRecursive)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, &errs.EmptyCalibrationDirectoryError{Directory: c.AutoDirectory}
	}
	candidates := make([]*fits.Image, 0, len(names))
	for id, name := range names {
		meta, err := c.LoadMetadata(name, id, logWriter)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, meta)
	}
	return candidates, nil
}

// Loads a calibration image, reusing an image already loaded in this run
func (c *Calibrator) loadCached(fileName string, logWriter io.Writer) (*fits.Image, error) {
	if img, ok := c.cache[fileName]; ok {
		return img, nil
	}
	img, err := c.LoadImage(fileName, -1, logWriter)
	if err != nil {
		return nil, err
	}
	c.cache[fileName] = img
	return img, nil
}

// Subtracts the calibration image from the frame in place, clipping to the
// unsigned 16-bit range. Sizes must match exactly.
func subtractImage(frame, calImage *fits.Image) error {
	if !fits.EqualInt32Slice(frame.Naxisn, calImage.Naxisn) {
		return errs.ErrIncompatibleSizes
	}
	for i, v := range frame.Data {
		frame.Data[i] = clipToRange(v - calImage.Data[i])
	}
	return nil
}

func clipToRange(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return v
}
