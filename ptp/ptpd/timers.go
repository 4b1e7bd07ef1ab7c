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

package ptpd

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// minTimerDelay keeps restarted timers strictly in the future
const minTimerDelay = time.Millisecond

type timerID uint8

// timers of the port, all one-shot
const (
	timerAnnounceReceipt timerID = iota
	timerAnnounceInterval
	timerSyncInterval
	timerDelayReqInterval
	timerPDelayReqInterval
	timerSyncReceipt
	timerQualification
	timerFaultRecovery
	timerCount
)

var timerIDToString = map[timerID]string{
	timerAnnounceReceipt:   "ANNOUNCE_RECEIPT",
	timerAnnounceInterval:  "ANNOUNCE_INTERVAL",
	timerSyncInterval:      "SYNC_INTERVAL",
	timerDelayReqInterval:  "DELAYREQ_INTERVAL",
	timerPDelayReqInterval: "PDELAYREQ_INTERVAL",
	timerSyncReceipt:       "SYNC_RECEIPT",
	timerQualification:     "QUALIFICATION",
	timerFaultRecovery:     "FAULT_RECOVERY",
}

func (t timerID) String() string {
	if s, ok := timerIDToString[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", t)
}

// timers is a set of deadlines checked against the clock, zero deadline means stopped
type timers struct {
	clk       clock.Clock
	deadlines [timerCount]time.Time
}

func newTimers(clk clock.Clock) *timers {
	return &timers{clk: clk}
}

func (t *timers) start(id timerID, d time.Duration) {
	if d < minTimerDelay {
		d = minTimerDelay
	}
	t.deadlines[id] = t.clk.Now().Add(d)
}

func (t *timers) stop(id timerID) {
	t.deadlines[id] = time.Time{}
}

func (t *timers) stopAll() {
	for i := range t.deadlines {
		t.deadlines[i] = time.Time{}
	}
}

func (t *timers) running(id timerID) bool {
	return !t.deadlines[id].IsZero()
}

// expired stops and returns the timer with the earliest deadline not after now
func (t *timers) expired(now time.Time) (timerID, bool) {
	found := false
	var id timerID
	for i, d := range t.deadlines {
		if d.IsZero() || d.After(now) {
			continue
		}
		if !found || d.Before(t.deadlines[id]) {
			id = timerID(i)
			found = true
		}
	}
	if found {
		t.stop(id)
	}
	return id, found
}

// next returns the earliest running deadline
func (t *timers) next() (time.Time, bool) {
	var earliest time.Time
	for _, d := range t.deadlines {
		if d.IsZero() {
			continue
		}
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest, !earliest.IsZero()
}
