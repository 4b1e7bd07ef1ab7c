/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package drain takes the port out of service while an operator asks for it
package drain

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultKillswitch is the file which disables the port while it exists
const DefaultKillswitch = "/var/tmp/kill_ptpd"

// Check tells whether the port has to be drained
type Check interface {
	Check() bool
}

// Switch is what gets drained, *ptpd.Port
type Switch interface {
	Start()
	Stop()
}

// FileDrain asks for drain while the file exists
type FileDrain struct {
	FileName string
}

// Check returns true if the file exists
func (f *FileDrain) Check() bool {
	_, err := os.Stat(f.FileName)
	return err == nil
}

// Watcher evaluates checks every interval and stops or starts the switch on changes
type Watcher struct {
	Checks   []Check
	Interval time.Duration

	drained bool
}

// drain returns true if any check asks for it
func (w *Watcher) drain() bool {
	for _, c := range w.Checks {
		if c.Check() {
			return true
		}
	}
	return false
}

// Poll evaluates checks once and flips the switch if needed, returns whether we are drained
func (w *Watcher) Poll(s Switch) bool {
	want := w.drain()
	if want == w.drained {
		return w.drained
	}
	w.drained = want
	if want {
		log.Warning("drain requested, disabling the port")
		s.Stop()
	} else {
		log.Info("drain lifted, enabling the port")
		s.Start()
	}
	return w.drained
}

// Run polls until ctx is cancelled
func (w *Watcher) Run(ctx context.Context, s Switch) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		w.Poll(s)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
