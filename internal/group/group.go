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


// Package group orchestrates master flat runs: it partitions the input
// frames by size, temperature and filter, and drives calibration,
// combination, output naming and input disposition for every group.
package group

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pbnjay/memory"
	"github.com/rmflat/masterflat/internal/calib"
	"github.com/rmflat/masterflat/internal/combine"
	"github.com/rmflat/masterflat/internal/errs"
	"github.com/rmflat/masterflat/internal/fits"
	"github.com/rmflat/masterflat/internal/session"
)

// What happens to the input frames after a successful combination
type Disposition int

const (
	DispositionNothing Disposition = iota
	DispositionSubfolder
)

// Gaussian kernel bandwidth for temperature clustering when none is given
const DefaultTemperatureBandwidth = 1.0

// Settings for a combination run
type Settings struct {
	Combine     combine.Settings
	Calibration calib.Settings

	GroupBySize          bool
	GroupByTemperature   bool
	GroupByFilter        bool
	TemperatureBandwidth float64
	MinimumGroupSize     int // groups with fewer frames are skipped; 0 disables

	IgnoreFrameType   bool        // combine frames even if not flagged as flats
	Disposition       Disposition
	DispositionFolder string      // subfolder for moved inputs; supports %d and %t
	OutputDirectory   string      // destination of group masters; created if absent
	PreviewGamma      float64     // write a 16-bit TIFF preview next to each master when > 0
}

// A Combiner runs whole master flat sessions. File access goes through
// the function fields so tests can run fully in memory.
type Combiner struct {
	Settings
	calibrator *calib.Calibrator
	cons       *session.Console
	ctrl       *session.Controller

	// Called with the original path whenever an input file has been
	// moved by the disposition step
	FileMoved func(path string)

	LoadImage    func(fileName string, id int, logWriter io.Writer) (*fits.Image, error)
	LoadMetadata func(fileName string, id int, logWriter io.Writer) (*fits.Image, error)
	WriteImage   func(img *fits.Image, fileName, comment string) error
	WritePreview func(img *fits.Image, fileName string, gamma float64) error
	MoveFile     func(source, destination string) error
	EnsureDir    func(directory string) error

	now func() time.Time
}

func NewCombiner(set Settings, cons *session.Console, ctrl *session.Controller) *Combiner {
	if set.TemperatureBandwidth == 0 {
		set.TemperatureBandwidth = DefaultTemperatureBandwidth
	}
	return &Combiner{
		Settings:     set,
		calibrator:   calib.NewCalibrator(set.Calibration),
		cons:         cons,
		ctrl:         ctrl,
		FileMoved:    func(string) {},
		LoadImage:    fits.NewImageFromFile,
		LoadMetadata: fits.NewMetadataFromFile,
		WriteImage: func(img *fits.Image, fileName, comment string) error {
			return img.WriteFile(fileName, comment)
		},
		WritePreview: writeTIFFPreview,
		MoveFile:  renameFile,
		EnsureDir: ensureDirectoryExists,
		now:       time.Now,
	}
}

// Calibrator returns the calibrator driving this run, mainly so callers
// and tests can substitute its file access functions
func (c *Combiner) Calibrator() *calib.Calibrator { return c.calibrator }

// Combines one set of files into a single output file, without grouping.
// The output path supports %d and %t date and time substitution.
func (c *Combiner) ProcessSingle(fileNames []string, outputFile string) error {
	c.cons.PushLevel()
	defer c.cons.PopLevel()
	c.cons.Message("Using single-file processing", +1, false)

	frames, err := c.loadMetadataAll(fileNames)
	if err != nil {
		return err
	}
	if err := c.combineGroup(frames, substituteDateTime(outputFile, c.now())); err != nil {
		return err
	}
	c.cons.Message("Combining complete", 0, false)
	return nil
}

// Partitions the given files by size, temperature and filter as configured,
// and combines every sufficiently large group into a master flat in the
// output directory
func (c *Combiner) ProcessGroups(fileNames []string) error {
	c.cons.PushLevel()
	defer c.cons.PopLevel()
	c.cons.Message("Process groups into output directory: "+c.OutputDirectory, +1, false)
	if err := c.EnsureDir(c.OutputDirectory); err != nil {
		return &errs.NoOutputDirectoryError{Directory: c.OutputDirectory, Err: err}
	}

	frames, err := c.loadMetadataAll(fileNames)
	if err != nil {
		return err
	}

	for _, sizeGroup := range c.groupsBySize(frames) {
		if err := c.ctrl.Check(); err != nil {
			return err
		}
		c.cons.PushLevel()
		if c.skipSmallGroup(sizeGroup, c.GroupBySize,
			fmt.Sprintf("size group: %d files %s", len(sizeGroup), sizeGroup[0].SizeKey())) {
			c.cons.PopLevel()
			continue
		}
		if err := c.processTemperatureGroups(sizeGroup); err != nil {
			c.cons.PopLevel()
			return err
		}
		c.cons.PopLevel()
	}
	c.cons.Message("Group combining complete", 0, false)
	return nil
}

func (c *Combiner) processTemperatureGroups(sizeGroup []*fits.Image) error {
	for _, tempGroup := range c.groupsByTemperature(sizeGroup) {
		if err := c.ctrl.Check(); err != nil {
			return err
		}
		c.cons.PushLevel()
		_, meanTemperature := meanExposureAndTemperature(tempGroup)
		if c.skipSmallGroup(tempGroup, c.GroupByTemperature,
			fmt.Sprintf("temperature group: %d files with mean temperature %.1f", len(tempGroup), meanTemperature)) {
			c.cons.PopLevel()
			continue
		}
		if err := c.processFilterGroups(tempGroup); err != nil {
			c.cons.PopLevel()
			return err
		}
		c.cons.PopLevel()
	}
	return nil
}

func (c *Combiner) processFilterGroups(tempGroup []*fits.Image) error {
	for _, filterGroup := range c.groupsByFilter(tempGroup) {
		if err := c.ctrl.Check(); err != nil {
			return err
		}
		c.cons.PushLevel()
		if c.skipSmallGroup(filterGroup, c.GroupByFilter,
			fmt.Sprintf("filter group: %d files with %s filter", len(filterGroup), filterGroup[0].Filter)) {
			c.cons.PopLevel()
			continue
		}
		if err := c.processOneGroup(filterGroup); err != nil {
			c.cons.PopLevel()
			return err
		}
		c.cons.PopLevel()
	}
	return nil
}

// Logs and reports groups below the minimum size. The message appears only
// when the corresponding grouping dimension was requested.
func (c *Combiner) skipSmallGroup(group []*fits.Image, grouped bool, detail string) bool {
	if c.MinimumGroupSize > 0 && len(group) < c.MinimumGroupSize {
		if grouped {
			c.cons.Message("Ignoring one "+detail, +1, false)
		}
		return true
	}
	if grouped {
		c.cons.Message("Processing one "+detail, +1, false)
	}
	return false
}

func (c *Combiner) processOneGroup(group []*fits.Image) error {
	c.cons.PushLevel()
	defer c.cons.PopLevel()
	c.describeGroup(group)

	outputFile := filepath.Join(c.OutputDirectory, c.outputFileName(group[0]))
	return c.combineGroup(group, outputFile)
}

// Combines one group of frames: validates them, loads the pixel data,
// calibrates, combines, writes the master and disposes of the inputs
func (c *Combiner) combineGroup(group []*fits.Image, outputFile string) error {
	if len(group) == 0 || !allCompatibleSizes(group) {
		return errs.ErrIncompatibleSizes
	}
	if !c.IgnoreFrameType && !allOfType(group, fits.FrameFlat) {
		return errs.ErrNotAllFlatFrames
	}
	if err := c.ctrl.Check(); err != nil {
		return err
	}

	c.cons.PushLevel()
	defer c.cons.PopLevel()
	c.reportMemoryFit(group)

	layers, err := c.loadImageAll(group)
	if err != nil {
		return err
	}
	if err := c.calibrator.Calibrate(layers, c.cons, c.ctrl); err != nil {
		return err
	}
	master, err := combine.Combine(layers, &c.Combine, c.cons, c.ctrl)
	if err != nil {
		return err
	}

	meanExposure, meanTemperature := meanExposureAndTemperature(group)
	master.Frame = fits.FrameFlat
	master.Binning = group[0].Binning
	master.Filter = mostCommonFilter(group)
	master.Exposure = meanExposure
	master.Temperature = meanTemperature

	comment := fmt.Sprintf("Master Flat %s combined %s", c.Combine.MethodTag(), c.calibrator.CommentTag())
	if err := c.WriteImage(master, outputFile, comment); err != nil {
		return err
	}
	c.cons.Message("Created "+outputFile, 0, false)

	if c.PreviewGamma > 0 {
		previewFile := previewFileName(outputFile)
		if err := c.WritePreview(master, previewFile, c.PreviewGamma); err != nil {
			return err
		}
		c.cons.Message("Created preview "+previewFile, 0, false)
	}

	if err := c.ctrl.Check(); err != nil {
		return err
	}
	return c.disposeInputs(group)
}

// Reads metadata for all input files, numbering frames for log output
func (c *Combiner) loadMetadataAll(fileNames []string) ([]*fits.Image, error) {
	frames := make([]*fits.Image, 0, len(fileNames))
	for id, name := range fileNames {
		if err := c.ctrl.Check(); err != nil {
			return nil, err
		}
		frame, err := c.LoadMetadata(name, id, c.cons.Writer())
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Reads the pixel data of a group of frames whose metadata is already known
func (c *Combiner) loadImageAll(group []*fits.Image) ([]*fits.Image, error) {
	layers := make([]*fits.Image, 0, len(group))
	for _, frame := range group {
		if err := c.ctrl.Check(); err != nil {
			return nil, err
		}
		if frame.Data != nil {
			layers = append(layers, frame)
			continue
		}
		img, err := c.LoadImage(frame.FileName, frame.ID, c.cons.Writer())
		if err != nil {
			return nil, err
		}
		layers = append(layers, img)
	}
	return layers, nil
}

// Logs how the stack compares to physical memory; a stack exceeding it
// still runs, just slowly
func (c *Combiner) reportMemoryFit(group []*fits.Image) {
	requiredBytes := uint64(len(group)) * uint64(group[0].Pixels) * 8
	totalMiB := memory.TotalMemory() / 1024 / 1024
	requiredMiB := requiredBytes / 1024 / 1024
	c.cons.Message(fmt.Sprintf("Stack of %d frames needs %d MiB of %d MiB physical memory",
		len(group), requiredMiB, totalMiB), 0, true)
}

func (c *Combiner) describeGroup(group []*fits.Image) {
	sample := group[0]
	detail := ""
	if c.GroupBySize {
		detail += fmt.Sprintf(", binned %d x %d", sample.Binning, sample.Binning)
	}
	if c.GroupByFilter {
		detail += fmt.Sprintf(", with %s filter", sample.Filter)
	}
	if c.GroupByTemperature {
		detail += fmt.Sprintf(", at %g degrees", sample.Temperature)
	}
	c.cons.Message(fmt.Sprintf("Processing %d files%s", len(group), detail), +1, false)
}

func allCompatibleSizes(group []*fits.Image) bool {
	for _, frame := range group[1:] {
		if !frame.SameSizeAs(group[0]) {
			return false
		}
	}
	return true
}

func allOfType(group []*fits.Image, frameType fits.FrameType) bool {
	for _, frame := range group {
		if frame.Frame != frameType {
			return false
		}
	}
	return true
}

func meanExposureAndTemperature(group []*fits.Image) (exposure, temperature float64) {
	for _, frame := range group {
		exposure += frame.Exposure
		temperature += frame.Temperature
	}
	n := float64(len(group))
	return exposure / n, temperature / n
}

// Most common filter name in the group. All frames of a filter group should
// agree, but stragglers may occur when filter grouping is off.
func mostCommonFilter(group []*fits.Image) string {
	counts := make(map[string]int)
	best, bestCount := "", -1
	for _, frame := range group {
		counts[frame.Filter]++
		if counts[frame.Filter] > bestCount {
			best, bestCount = frame.Filter, counts[frame.Filter]
		}
	}
	return best
}
