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


// Package fits reads and writes monochrome FITS images and the acquisition
// metadata needed to calibrate, group and combine them.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
package fits

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/valyala/fastrand"
)

// Frame type of a FITS image, coded as in TheSkyX ccdsoftImageFrame
type FrameType int32

const (
	FrameUnknown FrameType = iota
	FrameLight
	FrameBias
	FrameDark
	FrameFlat
)

func (t FrameType) String() string {
	switch t {
	case FrameLight:
		return "Light"
	case FrameBias:
		return "Bias"
	case FrameDark:
		return "Dark"
	case FrameFlat:
		return "Flat"
	}
	return "Unknown"
}

// Upper-case form for the IMAGETYP header card
func (t FrameType) ImageTypeString() string { return strings.ToUpper(t.String()) }

// A FITS image with its acquisition metadata. Pixel data is row-major
// float64, one value per monochrome pixel. Data is nil when only the
// header has been read.
type Image struct {
	ID       int    // sequential number for log output
	FileName string // original file name, if any

	Header Header  // all parsed header entries
	Bitpix int32   // bits per pixel value; negative means floating point
	Bzero  float64 // true value is Bzero + Bscale*Data[i]
	Bscale float64
	Naxisn []int32 // axis sizes, X first
	Pixels int32   // product of Naxisn

	Data []float64

	Frame       FrameType
	Binning     int32   // common X and Y binning factor
	Filter      string  // filter wheel name, "" if absent
	Exposure    float64 // seconds
	Temperature float64 // CCD temperature in degrees C

	adu float64 // cached sampled mean ADU, <0 until computed
}

// Creates a FITS image with an empty header and no data
func NewImage() *Image {
	return &Image{
		Header: NewHeader(),
		Bscale: 1,
		adu:    -1,
	}
}

// Creates a FITS image of the given dimensions. Data is not copied,
// allocated if nil. naxisn is deep copied.
func NewImageFromNaxisn(naxisn []int32, data []float64) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float64, numPixels)
	}
	img := NewImage()
	img.Bitpix = 16
	img.Naxisn = append([]int32(nil), naxisn...)
	img.Pixels = numPixels
	img.Data = data
	return img
}

func (f *Image) Width() int32  { return f.Naxisn[0] }
func (f *Image) Height() int32 { return f.Naxisn[1] }

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Base name of the originating file, for progress messages
func (f *Image) Name() string { return filepath.Base(f.FileName) }

// Grouping key combining binning and sensor dimensions. Frames combine
// only with frames sharing the same size key.
func (f *Image) SizeKey() string {
	return fmt.Sprintf("binned %d x %d, dimensions %s", f.Binning, f.Binning, f.DimensionsToString())
}

// Reports whether two images can be stacked into the same master
func (f *Image) SameSizeAs(o *Image) bool {
	return f.Binning == o.Binning && EqualInt32Slice(f.Naxisn, o.Naxisn)
}

// Maximal number of pixels sampled by AverageADU
const aduSampleSize = 16384

// Returns an estimate of the mean pixel value, sampling large images
// instead of scanning them fully. The estimate is cached; data must be
// loaded. Useful for judging flat exposure levels in logs.
func (f *Image) AverageADU() float64 {
	if f.adu >= 0 {
		return f.adu
	}
	sum, count := 0.0, 0
	if len(f.Data) <= aduSampleSize {
		for _, v := range f.Data {
			sum += v
		}
		count = len(f.Data)
	} else {
		rng := fastrand.RNG{}
		rng.Seed(uint32(len(f.Data)))
		for i := 0; i < aduSampleSize; i++ {
			sum += f.Data[rng.Uint32n(uint32(len(f.Data)))]
		}
		count = aduSampleSize
	}
	f.adu = sum / float64(count)
	return f.adu
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
