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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/rmflat/masterflat/internal/fits"
)

// Builds the output file name for a group master from the group's sample
// frame, of the form FLAT-Red-2x2-SigmaClip3-20210314-092653--10.0C.fit
func (c *Combiner) outputFileName(sample *fits.Image) string {
	dateTime := c.now().Format("20060102-150405")
	return fmt.Sprintf("FLAT-%s-%dx%d-%s-%s-%.1fC.fit",
		sample.Filter, sample.Binning, sample.Binning,
		c.Combine.MethodTag(), dateTime, sample.Temperature)
}

// Builds the preview file name for a master by swapping the extension
func previewFileName(outputFile string) string {
	return strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".tiff"
}

// Writes a 16-bit TIFF preview of the master, stretched over its full
// data range
func writeTIFFPreview(img *fits.Image, fileName string, gamma float64) error {
	min, max := floats.Min(img.Data), floats.Max(img.Data)
	return img.WriteTIFF16ToFile(fileName, min, max, gamma)
}

// Replaces %d/%D with the date and %t/%T with the time, so output and
// disposition folder names can carry a run timestamp
func substituteDateTime(s string, now time.Time) string {
	date := now.Format("2006-01-02")
	clock := now.Format("15-04-05")
	for _, token := range []string{"%d", "%D"} {
		s = strings.ReplaceAll(s, token, date)
	}
	for _, token := range []string{"%t", "%T"} {
		s = strings.ReplaceAll(s, token, clock)
	}
	return s
}

// Moves the group's input files into the disposition subfolder, if
// configured. The subfolder is created next to each input file. Every
// successful move is reported through the FileMoved callback.
func (c *Combiner) disposeInputs(group []*fits.Image) error {
	if c.Disposition == DispositionNothing {
		return nil
	}
	subfolder := substituteDateTime(c.DispositionFolder, c.now())
	c.cons.Message("Moving processed files to "+subfolder, 0, false)
	for _, frame := range group {
		targetDir := filepath.Join(filepath.Dir(frame.FileName), subfolder)
		if err := c.EnsureDir(targetDir); err != nil {
			return err
		}
		destination := uniqueDestination(targetDir, filepath.Base(frame.FileName))
		if err := c.MoveFile(frame.FileName, destination); err != nil {
			return err
		}
		c.FileMoved(frame.FileName)
	}
	return nil
}

// Returns a path for the file in the directory that does not collide with
// an existing file, by prefixing a counter when needed
func uniqueDestination(directory, fileName string) string {
	destination := filepath.Join(directory, fileName)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destination); os.IsNotExist(err) {
			return destination
		}
		destination = filepath.Join(directory, strconv.Itoa(counter)+"-"+fileName)
	}
}

// Makes sure the given directory exists as a directory, creating it if
// absent. Fails when a non-directory occupies the name.
func ensureDirectoryExists(directory string) error {
	info, err := os.Stat(directory)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists but is not a directory", directory)
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(directory, 0755)
}

func renameFile(source, destination string) error {
	return os.Rename(source, destination)
}
