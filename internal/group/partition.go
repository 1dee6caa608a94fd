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
	"sort"
	"strings"

	"github.com/rmflat/masterflat/internal/cluster"
	"github.com/rmflat/masterflat/internal/fits"
)

// Partitions frames into groups sharing the same size key (dimensions and
// binning). Without size grouping, all frames form one group.
func (c *Combiner) groupsBySize(frames []*fits.Image) [][]*fits.Image {
	if !c.GroupBySize {
		return [][]*fits.Image{frames}
	}
	return groupByKey(frames, func(f *fits.Image) string { return f.SizeKey() })
}

// Partitions frames into groups with the same filter name, compared case
// insensitively. Without filter grouping, all frames form one group.
func (c *Combiner) groupsByFilter(frames []*fits.Image) [][]*fits.Image {
	if !c.GroupByFilter {
		return [][]*fits.Image{frames}
	}
	return groupByKey(frames, func(f *fits.Image) string { return strings.ToLower(f.Filter) })
}

// Partitions frames into temperature bands via mean-shift clustering.
// Exact grouping does not work here: reported CCD temperatures jitter by
// fractions of a degree around the setpoint. Groups come back sorted by
// the temperature of their first member.
func (c *Combiner) groupsByTemperature(frames []*fits.Image) [][]*fits.Image {
	if !c.GroupByTemperature {
		return [][]*fits.Image{frames}
	}
	temperatures := make([]float64, len(frames))
	for i, f := range frames {
		temperatures[i] = f.Temperature
	}
	indexGroups := cluster.MeanShift(temperatures, c.TemperatureBandwidth)

	groups := make([][]*fits.Image, 0, len(indexGroups))
	for _, indices := range indexGroups {
		members := make([]*fits.Image, 0, len(indices))
		for _, i := range indices {
			members = append(members, frames[i])
		}
		groups = append(groups, members)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i][0].Temperature < groups[j][0].Temperature
	})
	return groups
}

// Stable partition by an exact string key, with groups ordered by key
func groupByKey(frames []*fits.Image, key func(*fits.Image) string) [][]*fits.Image {
	byKey := make(map[string][]*fits.Image)
	keys := make([]string, 0)
	for _, f := range frames {
		k := key(f)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], f)
	}
	sort.Strings(keys)
	groups := make([][]*fits.Image, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, byKey[k])
	}
	return groups
}
