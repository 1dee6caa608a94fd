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
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Reports whether the file name carries a FITS extension, including
// gzip-compressed variants
func IsFITSFileName(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".gz", ".gzip"} {
		lower = strings.TrimSuffix(lower, suffix)
	}
	ext := filepath.Ext(lower)
	return ext == ".fit" || ext == ".fits" || ext == ".fts"
}

// Returns the FITS files in the given directory in sorted order,
// descending into subdirectories if recursive is set
func ScanDirectory(dir string, recursive bool) ([]string, error) {
	var names []string
	if recursive {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && IsFITSFileName(path) {
				names = append(names, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() && IsFITSFileName(entry.Name()) {
				names = append(names, filepath.Join(dir, entry.Name()))
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
