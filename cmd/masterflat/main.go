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


package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v2"

	"github.com/rmflat/masterflat/internal/group"
	"github.com/rmflat/masterflat/internal/rest"
	"github.com/rmflat/masterflat/internal/session"
)

const version = "1.0.0"

var config = flag.String("config", "", "load run settings from YAML `file`; explicit flags override it")
var logFile = flag.String("log", "", "append log output to `file` in addition to stdout")

var method = flag.String("method", "mean", "combination method, one of mean, median, minmax, sigma")
var clip = flag.Int("clip", 2, "min-max clipping iterations")
var sigma = flag.Float64("sigma", 3.0, "sigma clipping threshold in standard deviations")

var pedestal = flag.Int("pedestal", 0, "subtract fixed pedestal `value` from every input pixel")
var bias = flag.String("bias", "", "subtract bias frame from `file` before combining")
var auto = flag.String("auto", "", "select best calibration frame from `directory` per input")
var autoRecursive = flag.Bool("autorecursive", false, "scan the auto calibration directory recursively")
var autoBias = flag.Bool("autobias", false, "restrict auto calibration candidates to bias and dark frames")

var groupSize = flag.Bool("groupsize", false, "group inputs by dimensions and binning")
var groupTemp = flag.Bool("grouptemp", false, "group inputs by CCD temperature band")
var groupFilter = flag.Bool("groupfilter", false, "group inputs by filter name")
var bandwidth = flag.Float64("bandwidth", group.DefaultTemperatureBandwidth, "bandwidth in degrees for temperature grouping")
var minGroup = flag.Int("mingroup", 0, "skip groups with fewer frames, 0=process all")

var ignoreType = flag.Bool("ignoretype", false, "combine inputs even if not flagged as flat frames")
var moveInputs = flag.String("moveinputs", "", "move combined inputs to `subfolder` next to each file; %d and %t insert date and time")
var recursive = flag.Bool("recursive", false, "scan input directories recursively")

var out = flag.String("out", "", "save single combined output to `file`; %d and %t insert date and time")
var outDir = flag.String("outdir", "", "save group masters to `directory`")
var previewGamma = flag.Float64("preview", 0, "also save a 16-bit TIFF preview with the given `gamma`, 0=off")

var port = flag.Int("port", 8080, "port for the serve command")
var chroot = flag.String("chroot", "", "serve: change filesystem root to `directory` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "serve: drop privileges to this user ID before serving, -1=keep")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Masterflat Copyright (c) 2021 The masterflat authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (combine|serve|legal|version) (flat0.fits ... flatn.fits | directory)

Commands:
  combine Combine input flat frames into master flats
  serve   Serve the combination engine over HTTP
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "combine":
		os.Exit(cmdCombine(args[1:]))
	case "serve":
		if err := rest.MakeSandbox(*chroot, *setuid); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
			os.Exit(1)
		}
		if err := rest.Serve(*port); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
			os.Exit(1)
		}
	case "legal":
		cmdLegal()
	case "version":
		fmt.Printf("Version %s\n", version)
	case "help", "?":
		flag.Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// Runs one combination described by the config file and the flags, with
// the remaining arguments as input files or directories
func cmdCombine(files []string) int {
	logWriter := io.Writer(os.Stdout)
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", *logFile, err.Error())
			return 1
		}
		defer f.Close()
		logWriter = io.MultiWriter(os.Stdout, f)
	}

	spec, err := buildSpec(files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		return 1
	}

	cons := session.NewConsole(logWriter)
	ctrl := session.NewController()
	cancelOnInterrupt(ctrl)

	if err := spec.Run(cons, ctrl); err != nil {
		cons.Message("Error: "+err.Error(), 0, false)
		return 1
	}
	return 0
}

// Builds the run spec: the YAML config provides the baseline, flags given
// explicitly on the command line override it, and the positional arguments
// add input files
func buildSpec(files []string) (*group.Spec, error) {
	spec := &group.Spec{}
	if *config != "" {
		raw, err := os.ReadFile(*config)
		if err != nil {
			return nil, err
		}
		if err := yaml.UnmarshalStrict(raw, spec); err != nil {
			return nil, fmt.Errorf("config %s: %w", *config, err)
		}
	}
	applyFlagOverrides(spec)
	spec.Files = append(spec.Files, files...)
	return spec, nil
}

// Copies every flag the user set explicitly onto the spec
func applyFlagOverrides(spec *group.Spec) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "method":
			spec.Method = *method
		case "clip":
			spec.ClipIterations = *clip
		case "sigma":
			spec.SigmaThreshold = *sigma
		case "pedestal":
			spec.Pedestal = *pedestal
		case "bias":
			spec.BiasFile = *bias
		case "auto":
			spec.AutoDirectory = *auto
		case "autorecursive":
			spec.AutoRecursive = *autoRecursive
		case "autobias":
			spec.AutoBiasOnly = *autoBias
		case "groupsize":
			spec.GroupBySize = *groupSize
		case "grouptemp":
			spec.GroupByTemperature = *groupTemp
		case "groupfilter":
			spec.GroupByFilter = *groupFilter
		case "bandwidth":
			spec.TemperatureBandwidth = *bandwidth
		case "mingroup":
			spec.MinimumGroupSize = *minGroup
		case "ignoretype":
			spec.IgnoreFrameType = *ignoreType
		case "moveinputs":
			spec.MoveInputsTo = *moveInputs
		case "recursive":
			spec.Recursive = *recursive
		case "out":
			spec.Output = *out
		case "outdir":
			spec.OutputDirectory = *outDir
		case "preview":
			spec.PreviewGamma = *previewGamma
		}
	})
}

// Turns the first interrupt into a cooperative cancellation; a second
// interrupt kills the process the usual way
func cancelOnInterrupt(ctrl *session.Controller) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		ctrl.Cancel()
		signal.Stop(signals)
	}()
}

// Shows licensing information
func cmdLegal() {
	fmt.Print(`Masterflat is Copyright (c) 2021 The masterflat authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.
The binary version of this program uses several open source libraries and components, which come with their own licensing terms. See below for a list of attributions.

ATTRIBUTIONS

A1. https://github.com/gonum/gonum is Copyright (c) 2013 The Gonum Authors. All rights reserved. Licensed under the BSD 3-clause license.

A2. https://github.com/pbnjay/memory is Copyright (c) 2017, Jeremy Jay. All rights reserved. Licensed under the BSD 3-clause license.

A3. https://github.com/valyala/fastrand is Copyright (c) 2017 Aliaksandr Valialkin. Licensed under the MIT license.

A4. https://github.com/gin-gonic/gin is Copyright (c) 2014 Manuel Martinez-Almeida. Licensed under the MIT license.

A5. https://github.com/go-yaml/yaml (gopkg.in/yaml.v2) is Copyright (c) 2006-2011 Kirill Simonov and Copyright (c) 2011-2019 Canonical Ltd. Licensed under the Apache License 2.0 and the MIT license.

A6. https://golang.org/x/image is Copyright (c) 2009 The Go Authors. All rights reserved. Licensed under the BSD 3-clause license.
`)
}
