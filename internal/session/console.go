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


package session

import (
	"fmt"
	"io"
	"time"
)

// Spaces per indentation level on the console
const indentationSize = 5

// A progress console with nested indentation. Messages shift the current
// level by -1, 0 or +1; PushLevel/PopLevel bracket a sub-phase so its
// indentation changes cannot leak out. Every push must be matched by a pop.
type Console struct {
	w     io.Writer
	level int
	stack []int
	now   func() time.Time // overridable for tests
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w, now: time.Now}
}

// Writes a timestamped, indented message, first shifting the indentation
// level by levelChange (which must be -1, 0 or +1). A temp message restores
// the previous level immediately after printing.
func (c *Console) Message(message string, levelChange int, temp bool) {
	if levelChange < -1 || levelChange > 1 {
		panic(fmt.Sprintf("console level change %d out of range", levelChange))
	}
	c.level += levelChange
	indent := (c.level - 1) * indentationSize
	if indent < 0 {
		indent = 0
	}
	fmt.Fprintf(c.w, "%s %*s%s\n", c.now().Format("15:04:05"), indent, "", message)
	if temp {
		c.level -= levelChange
	}
}

// Saves the current indentation level for later restoration with PopLevel
func (c *Console) PushLevel() {
	c.stack = append(c.stack, c.level)
}

// Restores the indentation level saved by the matching PushLevel
func (c *Console) PopLevel() {
	if len(c.stack) == 0 {
		panic("console level stack underflow")
	}
	c.level = c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
}

// Returns the push/pop stack depth, to help callers track mismatched pairs
func (c *Console) StackSize() int { return len(c.stack) }

// Underlying writer, for raw output such as file listings
func (c *Console) Writer() io.Writer { return c.w }
