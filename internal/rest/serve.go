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


// Package rest serves the combination engine over HTTP, streaming run
// progress back to the caller as plain text.
package rest

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/rmflat/masterflat/internal/group"
	"github.com/rmflat/masterflat/internal/session"
)

// The controller of the run currently in flight, if any. One run at a
// time; a second POST /combine while one is running is rejected.
var (
	runMutex   sync.Mutex
	currentRun *session.Controller
)

// Starts the HTTP server on the given port and blocks serving requests
func Serve(port int) error {
	r := gin.Default()

	api := r.Group("/api")
	v1 := api.Group("/v1")
	v1.GET("/ping", getPing)
	v1.POST("/combine", postCombine)
	v1.POST("/cancel", postCancel)

	return r.Run(fmt.Sprintf(":%d", port))
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Runs one combination job and streams console output back as it happens
func postCombine(c *gin.Context) {
	var spec group.Spec
	if err := c.ShouldBind(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctrl := session.NewController()
	if !beginRun(ctrl) {
		c.JSON(http.StatusConflict, gin.H{"error": "a combination run is already in progress"})
		return
	}
	defer endRun()

	header := c.Writer.Header()
	header.Set("Transfer-Encoding", "chunked")
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)

	cons := session.NewConsole(flushWriter{c.Writer})
	if err := spec.Run(cons, ctrl); err != nil {
		cons.Message("Error: "+err.Error(), 0, false)
	}
}

// Cancels the run in flight, if any
func postCancel(c *gin.Context) {
	runMutex.Lock()
	ctrl := currentRun
	runMutex.Unlock()
	if ctrl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no combination run in progress"})
		return
	}
	ctrl.Cancel()
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

func beginRun(ctrl *session.Controller) bool {
	runMutex.Lock()
	defer runMutex.Unlock()
	if currentRun != nil {
		return false
	}
	currentRun = ctrl
	return true
}

func endRun() {
	runMutex.Lock()
	currentRun = nil
	runMutex.Unlock()
}

// Flushes the response after every write so callers see progress live
type flushWriter struct {
	w io.Writer
}

func (fw flushWriter) Write(p []byte) (n int, err error) {
	n, err = fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
