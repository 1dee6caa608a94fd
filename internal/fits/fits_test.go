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


package fits

import (
	"bytes"
	"io/ioutil"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	img := NewImageFromNaxisn([]int32{5, 4}, nil)
	img.Frame = FrameFlat
	img.Binning = 2
	img.Filter = "Red"
	img.Exposure = 10
	img.Temperature = -10.5
	for i := range img.Data {
		img.Data[i] = float64(i * 100)
	}
	img.Data[0] = 1234.6  // rounds up
	img.Data[1] = 70000   // clips to 65535
	img.Data[2] = -5      // clips to 0

	buf := &bytes.Buffer{}
	if err := img.Write(buf, "test master"); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%fitsBlockSize != 0 {
		t.Errorf("output size %d not a multiple of the FITS block size", buf.Len())
	}

	read := NewImage()
	if err := read.Read(bytes.NewReader(buf.Bytes()), true, ioutil.Discard); err != nil {
		t.Fatal(err)
	}
	if !EqualInt32Slice(read.Naxisn, img.Naxisn) {
		t.Fatalf("dimensions got %v expect %v", read.Naxisn, img.Naxisn)
	}
	if read.Frame != FrameFlat {
		t.Errorf("frame type got %v expect Flat", read.Frame)
	}
	if read.Binning != 2 || read.Filter != "Red" {
		t.Errorf("binning/filter got %d/%q", read.Binning, read.Filter)
	}
	if read.Exposure != 10 {
		t.Errorf("exposure got %v expect 10", read.Exposure)
	}
	if read.Temperature != -10.5 {
		t.Errorf("temperature got %v expect -10.5", read.Temperature)
	}
	if read.Data[0] != 1235 {
		t.Errorf("pixel 0 got %v expect 1235", read.Data[0])
	}
	if read.Data[1] != 65535 {
		t.Errorf("pixel 1 got %v expect 65535", read.Data[1])
	}
	if read.Data[2] != 0 {
		t.Errorf("pixel 2 got %v expect 0", read.Data[2])
	}
	for i := 3; i < len(img.Data); i++ {
		if read.Data[i] != img.Data[i] {
			t.Errorf("pixel %d got %v expect %v", i, read.Data[i], img.Data[i])
		}
	}
}

func TestFrameTypeFromString(t *testing.T) {
	cases := []struct {
		in   string
		want FrameType
	}{
		{"Flat Frame", FrameFlat},
		{"dark-001.fits", FrameDark},
		{"BiasFrame", FrameBias},
		{"M31_Lum_300s.fit", FrameLight},
		{"calib-0001.fit", FrameUnknown},
	}
	for _, c := range cases {
		if got := frameTypeFromString(c.in); got != c.want {
			t.Errorf("%q got %v expect %v", c.in, got, c.want)
		}
	}
}

func TestIsFITSFileName(t *testing.T) {
	for _, name := range []string{"a.fit", "b.FITS", "c.fts", "d.fits.gz"} {
		if !IsFITSFileName(name) {
			t.Errorf("%q not recognized", name)
		}
	}
	for _, name := range []string{"a.tiff", "b.fit.txt", "c"} {
		if IsFITSFileName(name) {
			t.Errorf("%q wrongly recognized", name)
		}
	}
}

func TestSizeKey(t *testing.T) {
	a := NewImageFromNaxisn([]int32{100, 50}, nil)
	a.Binning = 1
	b := NewImageFromNaxisn([]int32{100, 50}, nil)
	b.Binning = 1
	if a.SizeKey() != b.SizeKey() {
		t.Error("identical geometry yields different size keys")
	}
	b.Binning = 2
	if a.SizeKey() == b.SizeKey() {
		t.Error("different binning yields equal size keys")
	}
	if !a.SameSizeAs(a) || a.SameSizeAs(b) {
		t.Error("SameSizeAs mismatch")
	}
}

func TestAverageADUCached(t *testing.T) {
	img := NewImageFromNaxisn([]int32{10, 10}, nil)
	for i := range img.Data {
		img.Data[i] = 500
	}
	if adu := img.AverageADU(); adu != 500 {
		t.Fatalf("got %v expect 500", adu)
	}
	img.Data[0] = 0 // cached value must not change
	if adu := img.AverageADU(); adu != 500 {
		t.Fatalf("cache miss, got %v", adu)
	}
}
