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
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float64
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

// Reads a FITS image with pixel data and metadata from the named file
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (*Image, error) {
	i := NewImage()
	i.ID = id
	return i, i.ReadFile(fileName, true, logWriter)
}

// Reads only the header and metadata from the named file, leaving Data nil.
// Fast path for scanning calibration directories.
func NewMetadataFromFile(fileName string, id int, logWriter io.Writer) (*Image, error) {
	i := NewImage()
	i.ID = id
	return i, i.ReadFile(fileName, false, logWriter)
}

// Reads FITS data from the file with the given name. Decompresses gzip if
// a .gz or .gzip suffix is present. Reads metadata only (fast) if readData
// is false.
func (f *Image) ReadFile(fileName string, readData bool, logWriter io.Writer) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file
	f.FileName = fileName

	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		if r, err = gzip.NewReader(file); err != nil {
			return err
		}
	}
	return f.Read(r, readData, logWriter)
}

func (f *Image) popHeaderInt32(key string) (res int32, err error) {
	if val, ok := f.Header.Ints[key]; ok {
		delete(f.Header.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
}

func (f *Image) popHeaderInt32OrFloat(key string) (res float64, err error) {
	if val, ok := f.Header.Ints[key]; ok {
		delete(f.Header.Ints, key)
		return float64(val), nil
	} else if val, ok := f.Header.Floats[key]; ok {
		delete(f.Header.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
}

func (f *Image) Read(r io.Reader, readData bool, logWriter io.Writer) (err error) {
	if err = f.Header.read(r, f.ID, logWriter); err != nil {
		return err
	}

	// check mandatory fields as per standard
	if !f.Header.Bools["SIMPLE"] {
		return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", f.ID)
	}
	delete(f.Header.Bools, "SIMPLE")

	if f.Bitpix, err = f.popHeaderInt32("BITPIX"); err != nil {
		return err
	}
	var naxis int32
	if naxis, err = f.popHeaderInt32("NAXIS"); err != nil {
		return err
	}
	f.Naxisn = make([]int32, naxis)
	f.Pixels = int32(1)
	for i := int32(1); i <= naxis; i++ {
		name := "NAXIS" + strconv.FormatInt(int64(i), 10)
		var nai int32
		if nai, err = f.popHeaderInt32(name); err != nil {
			return err
		}
		f.Naxisn[i-1] = nai
		f.Pixels *= nai
	}

	// optional scaling fields
	if f.Bzero, err = f.popHeaderInt32OrFloat("BZERO"); err != nil {
		f.Bzero = 0
	}
	if f.Bscale, err = f.popHeaderInt32OrFloat("BSCALE"); err != nil {
		f.Bscale = 1
	}

	f.readMetadata()

	if !readData {
		return nil
	}
	return f.readData(r)
}

// Derives frame type, binning, filter, exposure and temperature from the
// parsed header, guessing the frame type from the file name when the
// header carries no type card
func (f *Image) readMetadata() {
	if code, ok := f.Header.Ints["PICTTYPE"]; ok && code >= int32(FrameUnknown) && code <= int32(FrameFlat) {
		f.Frame = FrameType(code)
	} else if typ, ok := f.Header.Strings["IMAGETYP"]; ok {
		f.Frame = frameTypeFromString(typ)
	} else {
		f.Frame = frameTypeFromString(f.FileName)
	}

	if xBin, ok := f.Header.Ints["XBINNING"]; ok {
		f.Binning = xBin
	}
	if filter, ok := f.Header.Strings["FILTER"]; ok {
		f.Filter = strings.TrimSpace(filter)
	}
	var err error
	if f.Exposure, err = f.popHeaderInt32OrFloat("EXPOSURE"); err != nil {
		if f.Exposure, err = f.popHeaderInt32OrFloat("EXPTIME"); err != nil {
			f.Exposure = 0
		}
	}
	if temp, ok := f.Header.Floats["CCD-TEMP"]; ok {
		f.Temperature = temp
	} else if temp, ok := f.Header.Ints["CCD-TEMP"]; ok {
		f.Temperature = float64(temp)
	}
}

// Light frame keywords for file name based frame typing
var lightKeywords = []string{"LIGHT", "LUM", "RED", "GREEN", "BLUE", "HA"}

func frameTypeFromString(s string) FrameType {
	upper := strings.ToUpper(s)
	switch {
	case strings.Contains(upper, "BIAS"):
		return FrameBias
	case strings.Contains(upper, "DARK"):
		return FrameDark
	case strings.Contains(upper, "FLAT"):
		return FrameFlat
	default:
		for _, kw := range lightKeywords {
			if strings.Contains(upper, kw) {
				return FrameLight
			}
		}
		return FrameUnknown
	}
}

// Reads the data unit into float64 pixels, applying Bzero and Bscale and
// setting them to 0 and 1 afterwards to reflect that values incorporate them
func (f *Image) readData(r io.Reader) error {
	bytesPerValue := int(f.Bitpix) / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	switch f.Bitpix {
	case 8, 16, 32, 64, -32, -64:
		// supported
	default:
		return fmt.Errorf("%d: Unknown BITPIX value %d", f.ID, f.Bitpix)
	}

	raw := make([]byte, int(f.Pixels)*bytesPerValue)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("%d: %s", f.ID, err.Error())
	}

	f.Data = make([]float64, f.Pixels)
	for i := range f.Data {
		var v float64
		b := raw[i*bytesPerValue:]
		switch f.Bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(uint16(b[0])<<8 | uint16(b[1])))
		case 32:
			v = float64(int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
		case 64:
			v = float64(int64(beUint64(b)))
		case -32:
			v = float64(math.Float32frombits(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
		case -64:
			v = math.Float64frombits(beUint64(b))
		}
		f.Data[i] = v*f.Bscale + f.Bzero
	}
	f.Bzero, f.Bscale = 0, 1
	return nil
}

func beUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err != nil || bytesRead != fitsBlockSize {
			return fmt.Errorf("%d: %s", id, err.Error())
		}
		h.Length += int32(bytesRead)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning:Cannot parse '%s', ignoring\n", id, string(line))
			} else {
				subNames := reParser.SubexpNames()
				h.readLine(subNames, subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] != nil && len(subNames[i]) == 1 {
			switch c := subNames[i][0]; c {
			case byte('E'): // end line
				h.End = true
			case byte('H'): // history line
				h.History = append(h.History, string(subValues[i]))
			case byte('C'): // comment line
				h.Comments = append(h.Comments, string(subValues[i]))
			case byte('k'): // key
				key = string(subValues[i])
			case byte('b'): // boolean
				if len(subValues[i]) > 0 {
					v := subValues[i][0]
					h.Bools[key] = v == byte('t') || v == byte('T')
				}
			case byte('i'): // int
				val, err := strconv.ParseInt(string(subValues[i]), 10, 64)
				if err == nil {
					h.Ints[key] = int32(val)
				}
			case byte('f'): // float
				val, err := strconv.ParseFloat(string(subValues[i]), 64)
				if err == nil {
					h.Floats[key] = val
				}
			case byte('s'): // string
				h.Strings[key] = string(subValues[i])
			case byte('d'): // date
				h.Dates[key] = string(subValues[i])
			case byte('c'): // comment
				// ignore value comments
			default:
				fmt.Fprintf(logWriter, "%d:%d:Warning:Unknown token '%s'\n", id, lineNo, string(c))
			}
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
