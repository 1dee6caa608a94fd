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


package group

import (
	"fmt"
	"os"
	"strings"

	"github.com/rmflat/masterflat/internal/calib"
	"github.com/rmflat/masterflat/internal/combine"
	"github.com/rmflat/masterflat/internal/fits"
	"github.com/rmflat/masterflat/internal/session"
)

// A Spec is the externally supplied description of one combination run,
// shared by the command line YAML config and the REST API. Zero values
// mean "use the default".
type Spec struct {
	Files     []string `json:"files"     yaml:"files"`     // input files or directories
	Recursive bool     `json:"recursive" yaml:"recursive"` // descend into subdirectories of input directories

	Method         string  `json:"method"         yaml:"method"` // mean, median, minmax or sigma
	ClipIterations int     `json:"clipIterations" yaml:"clip_iterations"`
	SigmaThreshold float64 `json:"sigmaThreshold" yaml:"sigma_threshold"`

	Pedestal      int    `json:"pedestal"      yaml:"pedestal"`
	BiasFile      string `json:"biasFile"      yaml:"bias_file"`
	AutoDirectory string `json:"autoDirectory" yaml:"auto_directory"`
	AutoRecursive bool   `json:"autoRecursive" yaml:"auto_recursive"`
	AutoBiasOnly  bool   `json:"autoBiasOnly"  yaml:"auto_bias_only"`

	GroupBySize          bool    `json:"groupBySize"          yaml:"group_by_size"`
	GroupByTemperature   bool    `json:"groupByTemperature"   yaml:"group_by_temperature"`
	GroupByFilter        bool    `json:"groupByFilter"        yaml:"group_by_filter"`
	TemperatureBandwidth float64 `json:"temperatureBandwidth" yaml:"temperature_bandwidth"`
	MinimumGroupSize     int     `json:"minimumGroupSize"     yaml:"minimum_group_size"`

	IgnoreFrameType bool    `json:"ignoreFrameType" yaml:"ignore_frame_type"`
	MoveInputsTo    string  `json:"moveInputsTo"    yaml:"move_inputs_to"` // disposition subfolder, empty leaves inputs in place
	Output          string  `json:"output"          yaml:"output"`         // single-run output file
	OutputDirectory string  `json:"outputDirectory" yaml:"output_directory"`
	PreviewGamma    float64 `json:"previewGamma"    yaml:"preview_gamma"` // TIFF preview next to each master when > 0
}

// Parses a combination method name as used in specs and on the command line
func ParseMethod(name string) (combine.Method, error) {
	switch strings.ToLower(name) {
	case "", "mean":
		return combine.Mean, nil
	case "median":
		return combine.Median, nil
	case "minmax":
		return combine.MinMaxClip, nil
	case "sigma":
		return combine.SigmaClip, nil
	}
	return 0, fmt.Errorf("unknown combination method %q", name)
}

// Converts the spec to run settings, applying defaults and validating
// ranges
func (s *Spec) Settings() (Settings, error) {
	method, err := ParseMethod(s.Method)
	if err != nil {
		return Settings{}, err
	}
	clipIterations := s.ClipIterations
	if method == combine.MinMaxClip && clipIterations < 1 {
		clipIterations = 1
	}
	sigmaThreshold := s.SigmaThreshold
	if method == combine.SigmaClip && sigmaThreshold == 0 {
		sigmaThreshold = 3.0
	}
	if method == combine.SigmaClip && (sigmaThreshold < 0.1 || sigmaThreshold > 32) {
		return Settings{}, fmt.Errorf("sigma threshold %g out of range 0.1 to 32", sigmaThreshold)
	}
	bandwidth := s.TemperatureBandwidth
	if bandwidth == 0 {
		bandwidth = DefaultTemperatureBandwidth
	}
	if s.GroupByTemperature && (bandwidth < 0.1 || bandwidth > 50) {
		return Settings{}, fmt.Errorf("temperature bandwidth %g out of range 0.1 to 50", bandwidth)
	}

	calibration := calib.Settings{Mode: calib.None}
	switch {
	case s.AutoDirectory != "":
		calibration = calib.Settings{
			Mode:          calib.AutoDirectory,
			AutoDirectory: s.AutoDirectory,
			AutoRecursive: s.AutoRecursive,
			BiasOnly:      s.AutoBiasOnly,
			ShowSelection: true,
		}
	case s.BiasFile != "":
		calibration = calib.Settings{Mode: calib.FixedFile, FixedPath: s.BiasFile}
	case s.Pedestal > 0:
		calibration = calib.Settings{Mode: calib.Pedestal, Pedestal: s.Pedestal}
	}

	disposition := DispositionNothing
	if s.MoveInputsTo != "" {
		disposition = DispositionSubfolder
	}

	return Settings{
		Combine: combine.Settings{
			Method:         method,
			ClipIterations: clipIterations,
			SigmaThreshold: sigmaThreshold,
		},
		Calibration:          calibration,
		GroupBySize:          s.GroupBySize,
		GroupByTemperature:   s.GroupByTemperature,
		GroupByFilter:        s.GroupByFilter,
		TemperatureBandwidth: bandwidth,
		MinimumGroupSize:     s.MinimumGroupSize,
		IgnoreFrameType:      s.IgnoreFrameType,
		Disposition:          disposition,
		DispositionFolder:    s.MoveInputsTo,
		OutputDirectory:      s.OutputDirectory,
		PreviewGamma:         s.PreviewGamma,
	}, nil
}

// Reports whether the run processes groups rather than a single stack
func (s *Spec) Grouped() bool {
	return s.GroupBySize || s.GroupByTemperature || s.GroupByFilter || s.OutputDirectory != ""
}

// Expands input entries to FITS file names, scanning directory entries
func (s *Spec) expandFiles() ([]string, error) {
	names := make([]string, 0, len(s.Files))
	for _, entry := range s.Files {
		info, err := os.Stat(entry)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			names = append(names, entry)
			continue
		}
		scanned, err := fits.ScanDirectory(entry, s.Recursive)
		if err != nil {
			return nil, err
		}
		names = append(names, scanned...)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no input files given")
	}
	return names, nil
}

// Runs the spec to completion against the given console and controller
func (s *Spec) Run(cons *session.Console, ctrl *session.Controller) error {
	set, err := s.Settings()
	if err != nil {
		return err
	}
	names, err := s.expandFiles()
	if err != nil {
		return err
	}
	combiner := NewCombiner(set, cons, ctrl)
	if s.Grouped() {
		if combiner.OutputDirectory == "" {
			return fmt.Errorf("grouped processing needs an output directory")
		}
		return combiner.ProcessGroups(names)
	}
	if s.Output == "" {
		return fmt.Errorf("single-file processing needs an output file")
	}
	return combiner.ProcessSingle(names, s.Output)
}
