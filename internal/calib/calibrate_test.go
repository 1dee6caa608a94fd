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
	"errors"
	"io"
	"io/ioutil"
	"testing"

	"github.com/rmflat/masterflat/internal/errs"
	"github.com/rmflat/masterflat/internal/fits"
	"github.com/rmflat/masterflat/internal/session"
)

func newTestSession() (*session.Console, *session.Controller) {
	return session.NewConsole(ioutil.Discard), session.NewController()
}

func newFlat(w, h int32, fill float64) *fits.Image {
	img := fits.NewImageFromNaxisn([]int32{w, h}, nil)
	img.Frame = fits.FrameFlat
	img.Binning = 1
	for i := range img.Data {
		img.Data[i] = fill
	}
	return img
}

// Wires a calibrator to an in-memory set of calibration images keyed by
// file name
func fakeFiles(c *Calibrator, images map[string]*fits.Image) {
	load := func(fileName string, id int, logWriter io.Writer) (*fits.Image, error) {
		img, ok := images[fileName]
		if !ok {
			return nil, errors.New("no such file " + fileName)
		}
		img.FileName = fileName
		return img, nil
	}
	c.LoadImage = load
	c.LoadMetadata = load
	c.Scan = func(dir string, recursive bool) ([]string, error) {
		names := make([]string, 0, len(images))
		for name := range images {
			names = append(names, name)
		}
		return names, nil
	}
}

func TestCalibrateNone(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	c := NewCalibrator(Settings{Mode: None})
	if err := c.Calibrate([]*fits.Image{frame}, cons, ctrl); err != nil {
		t.Fatal(err)
	}
	if frame.Data[0] != 1000 {
		t.Errorf("data changed without calibration: %v", frame.Data[0])
	}
}

func TestCalibratePedestalClipsAtZero(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	frame.Data[1] = 50 // below the pedestal
	c := NewCalibrator(Settings{Mode: Pedestal, Pedestal: 100})
	if err := c.Calibrate([]*fits.Image{frame}, cons, ctrl); err != nil {
		t.Fatal(err)
	}
	if frame.Data[0] != 900 {
		t.Errorf("got %v expect 900", frame.Data[0])
	}
	if frame.Data[1] != 0 {
		t.Errorf("got %v expect clip to 0", frame.Data[1])
	}
}

func TestCalibrateFixedFile(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	bias := newFlat(2, 2, 300)
	c := NewCalibrator(Settings{Mode: FixedFile, FixedPath: "bias.fit"})
	fakeFiles(c, map[string]*fits.Image{"bias.fit": bias})
	if err := c.Calibrate([]*fits.Image{frame}, cons, ctrl); err != nil {
		t.Fatal(err)
	}
	if frame.Data[0] != 700 {
		t.Errorf("got %v expect 700", frame.Data[0])
	}
}

func TestCalibrateFixedFileSizeMismatch(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	bias := newFlat(3, 2, 300)
	c := NewCalibrator(Settings{Mode: FixedFile, FixedPath: "bias.fit"})
	fakeFiles(c, map[string]*fits.Image{"bias.fit": bias})
	err := c.Calibrate([]*fits.Image{frame}, cons, ctrl)
	if !errors.Is(err, errs.ErrIncompatibleSizes) {
		t.Fatalf("got %v expect ErrIncompatibleSizes", err)
	}
}

func TestAutoDirectoryPicksClosestTemperature(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	frame.Temperature = -5

	images := map[string]*fits.Image{}
	for name, temp := range map[string]float64{"b0.fit": -20, "b1.fit": -5, "b2.fit": 10} {
		bias := newFlat(2, 2, 100+temp)
		bias.Frame = fits.FrameBias
		bias.Temperature = temp
		images[name] = bias
	}
	c := NewCalibrator(Settings{Mode: AutoDirectory, AutoDirectory: "cal", BiasOnly: true})
	fakeFiles(c, images)
	if err := c.Calibrate([]*fits.Image{frame}, cons, ctrl); err != nil {
		t.Fatal(err)
	}
	// the -5 C bias has pixel value 95, so the frame drops to 905
	if frame.Data[0] != 905 {
		t.Errorf("got %v expect 905", frame.Data[0])
	}
}

func TestAutoDirectoryExposureOutweighsTemperature(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	frame.Temperature = -5
	frame.Exposure = 2

	// dark a: exact exposure, 4 degrees off; dark b: exact temperature,
	// 1 second off. The exposure weight makes a the better match.
	a := newFlat(2, 2, 100)
	a.Frame = fits.FrameDark
	a.Temperature = -9
	a.Exposure = 2
	b := newFlat(2, 2, 200)
	b.Frame = fits.FrameDark
	b.Temperature = -5
	b.Exposure = 3

	c := NewCalibrator(Settings{Mode: AutoDirectory, AutoDirectory: "cal"})
	fakeFiles(c, map[string]*fits.Image{"a.fit": a, "b.fit": b})
	if err := c.Calibrate([]*fits.Image{frame}, cons, ctrl); err != nil {
		t.Fatal(err)
	}
	if frame.Data[0] != 900 {
		t.Errorf("got %v expect 900 from candidate a", frame.Data[0])
	}
}

func TestAutoDirectoryNoBiasCandidates(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	light := newFlat(2, 2, 100)
	light.Frame = fits.FrameLight
	c := NewCalibrator(Settings{Mode: AutoDirectory, AutoDirectory: "cal", BiasOnly: true})
	fakeFiles(c, map[string]*fits.Image{"light.fit": light})
	err := c.Calibrate([]*fits.Image{frame}, cons, ctrl)
	if !errors.Is(err, errs.ErrNoBiasCandidates) {
		t.Fatalf("got %v expect ErrNoBiasCandidates", err)
	}
}

func TestAutoDirectoryNoSizeMatch(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	bias := newFlat(4, 4, 100)
	bias.Frame = fits.FrameBias
	c := NewCalibrator(Settings{Mode: AutoDirectory, AutoDirectory: "cal"})
	fakeFiles(c, map[string]*fits.Image{"bias.fit": bias})
	err := c.Calibrate([]*fits.Image{frame}, cons, ctrl)
	if !errors.Is(err, errs.ErrNoSizeMatch) {
		t.Fatalf("got %v expect ErrNoSizeMatch", err)
	}
}

func TestAutoDirectoryEmpty(t *testing.T) {
	cons, ctrl := newTestSession()
	frame := newFlat(2, 2, 1000)
	c := NewCalibrator(Settings{Mode: AutoDirectory, AutoDirectory: "cal"})
	fakeFiles(c, map[string]*fits.Image{})
	err := c.Calibrate([]*fits.Image{frame}, cons, ctrl)
	var emptyErr *errs.EmptyCalibrationDirectoryError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("got %v expect EmptyCalibrationDirectoryError", err)
	}
	if emptyErr.Directory != "cal" {
		t.Errorf("directory got %q", emptyErr.Directory)
	}
}

func TestCalibrateCancelled(t *testing.T) {
	cons, ctrl := newTestSession()
	ctrl.Cancel()
	frame := newFlat(2, 2, 1000)
	c := NewCalibrator(Settings{Mode: Pedestal, Pedestal: 100})
	err := c.Calibrate([]*fits.Image{frame}, cons, ctrl)
	if !errors.Is(err, errs.ErrCancelled) {
		t.Fatalf("got %v expect ErrCancelled", err)
	}
}

func TestCommentTag(t *testing.T) {
	if tag := NewCalibrator(Settings{Mode: Pedestal, Pedestal: 200}).CommentTag(); tag != "(pedestal 200 calibration)" {
		t.Errorf("got %q", tag)
	}
	if tag := NewCalibrator(Settings{Mode: None}).CommentTag(); tag != "(no calibration)" {
		t.Errorf("got %q", tag)
	}
}
