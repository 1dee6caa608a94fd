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
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Writes an in-memory FITS image to a file with the given name, as 16-bit
// unsigned integer data with the acquisition metadata cards. Creates or
// overwrites the file as needed.
func (f *Image) WriteFile(fileName, comment string) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	return f.Write(file, comment)
}

// Writes an in-memory FITS image to an io.Writer. Pixel values are rounded
// to the nearest integer and clipped to the unsigned 16-bit range.
func (f *Image) Write(w io.Writer, comment string) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", 16, "    16-bit integer")
	writeInt32(&sb, "NAXIS", int32(len(f.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(f.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), f.Naxisn[i], "[1] Axis size")
	}
	writeInt32(&sb, "BZERO", 32768, "[1] Zero offset")
	writeInt32(&sb, "BSCALE", 1, "[1] Value scaler")
	writeString(&sb, "FILTER", f.Filter, "Filter wheel position")
	writeFloat64(&sb, "EXPTIME", f.Exposure, "[s] Exposure time")
	writeFloat64(&sb, "CCD-TEMP", f.Temperature, "[C] CCD temperature")
	writeFloat64(&sb, "SET-TEMP", f.Temperature, "[C] CCD temperature setpoint")
	writeInt32(&sb, "XBINNING", f.Binning, "[1] Binning factor")
	writeInt32(&sb, "YBINNING", f.Binning, "[1] Binning factor")
	writeInt32(&sb, "PICTTYPE", int32(f.Frame), "[1] Frame type code")
	writeString(&sb, "IMAGETYP", f.Frame.ImageTypeString(), "Frame type")
	if comment != "" {
		writeComment(&sb, comment)
	}
	writeEnd(&sb)
	padBlock(&sb)

	if _, err := w.Write([]byte(sb.String())); err != nil {
		return err
	}
	return writeUint16Data(w, f.Data)
}

// Pads the current header block with spaces up to the FITS block size
func padBlock(sb *strings.Builder) {
	for sb.Len()%fitsBlockSize != 0 {
		sb.WriteRune(' ')
	}
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float64 value
func writeFloat64(w io.Writer, key string, value float64, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20g / %-47s", key, value, comment)
}

// Writes a FITS header string value, truncating instead of continuing
// overlong values
func writeString(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	value = strings.Join(strings.Split(value, "'"), "''")
	if len(value) > 18 {
		value = value[0:18]
	}
	fmt.Fprintf(w, "%-8s= '%s'%s / %-47s", key, value, strings.Repeat(" ", 18-len(value)), comment)
}

// Writes a FITS header comment line
func writeComment(w io.Writer, comment string) {
	if len(comment) > 70 {
		comment = comment[0:70]
	}
	fmt.Fprintf(w, "COMMENT   %-70s", comment)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", 80-3))
}

// Writes pixel data as big-endian signed 16-bit integers with the 32768
// zero offset, rounding to nearest and clipping to [0, 65535]. Pads the
// data unit to the FITS block size.
func writeUint16Data(w io.Writer, data []float64) error {
	buf := make([]byte, fitsBlockSize)
	bufUsed := 0
	for _, d := range data {
		v := math.Round(d)
		if v < 0 || math.IsNaN(v) {
			v = 0
		}
		if v > 65535 {
			v = 65535
		}
		stored := int32(v) - 32768
		buf[bufUsed] = byte(uint16(stored) >> 8)
		buf[bufUsed+1] = byte(uint16(stored))
		bufUsed += 2
		if bufUsed == len(buf) {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			bufUsed = 0
		}
	}
	if bufUsed == 0 {
		return nil
	}
	// zero-pad the final block
	for i := bufUsed; i < len(buf); i++ {
		buf[i] = 0
	}
	_, err := w.Write(buf)
	return err
}
