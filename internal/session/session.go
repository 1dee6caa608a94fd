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


// Package session provides the cooperative cancellation token and the
// indentation-disciplined console shared by all stages of a combination run.
package session

import (
	"sync/atomic"

	"github.com/rmflat/masterflat/internal/errs"
)

// A cancellation token for one combination run. The owner calls Cancel from
// any goroutine; workers poll Check at defined checkpoints. Cancellation is
// advisory and one-way: once cancelled, a controller stays cancelled.
type Controller struct {
	cancelled int32
}

func NewController() *Controller { return &Controller{} }

// Requests cancellation of the run. Safe to call more than once.
func (c *Controller) Cancel() { atomic.StoreInt32(&c.cancelled, 1) }

func (c *Controller) IsCancelled() bool { return atomic.LoadInt32(&c.cancelled) != 0 }

// Returns errs.ErrCancelled if cancellation has been requested, else nil.
// Callers unwind immediately on a non-nil result and perform no partial writes.
func (c *Controller) Check() error {
	if c.IsCancelled() {
		return errs.ErrCancelled
	}
	return nil
}
