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

package bmc

import (
	"time"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	log "github.com/sirupsen/logrus"
)

// Defaults from IEEE 1588-2008 9.3.2.4.6 and ptpd
const (
	DefaultMaxForeignRecords      = 5
	DefaultForeignMasterThreshold = 2
)

// ForeignRecord is what we know about a master that sent us Announce messages
type ForeignRecord struct {
	Sender     ptp.PortIdentity
	Announce   ptp.Announce
	Dataset    *Dataset
	SequenceID uint16
	LastSeen   time.Time
	// receive times of recent distinct Announces, oldest first
	seen []time.Time
}

// Observations returns number of distinct Announces received within window before now
func (r *ForeignRecord) Observations(now time.Time, window time.Duration) int {
	n := 0
	for _, t := range r.seen {
		if now.Sub(t) <= window {
			n++
		}
	}
	return n
}

// ForeignMasterTable is a fixed-capacity set of foreign master records keyed by sender port identity
type ForeignMasterTable struct {
	slots     []*ForeignRecord
	threshold int
	window    time.Duration
}

// NewForeignMasterTable creates a table holding up to capacity records.
// A record is qualified once threshold Announces were seen within window.
func NewForeignMasterTable(capacity, threshold int, window time.Duration) *ForeignMasterTable {
	if capacity < 1 {
		capacity = DefaultMaxForeignRecords
	}
	if threshold < 1 {
		threshold = DefaultForeignMasterThreshold
	}
	return &ForeignMasterTable{
		slots:     make([]*ForeignRecord, capacity),
		threshold: threshold,
		window:    window,
	}
}

// Cap returns table capacity
func (t *ForeignMasterTable) Cap() int {
	return len(t.slots)
}

// Len returns number of live records
func (t *ForeignMasterTable) Len() int {
	n := 0
	for _, r := range t.slots {
		if r != nil {
			n++
		}
	}
	return n
}

// Window returns the qualification and expiry window
func (t *ForeignMasterTable) Window() time.Duration {
	return t.window
}

// SetWindow changes the qualification and expiry window, used when announce interval changes
func (t *ForeignMasterTable) SetWindow(window time.Duration) {
	t.window = window
}

func (t *ForeignMasterTable) find(sender ptp.PortIdentity) int {
	for i, r := range t.slots {
		if r != nil && r.Sender == sender {
			return i
		}
	}
	return -1
}

// Get returns record for the sender, or nil
func (t *ForeignMasterTable) Get(sender ptp.PortIdentity) *ForeignRecord {
	if i := t.find(sender); i >= 0 {
		return t.slots[i]
	}
	return nil
}

// freeSlot returns an empty slot, evicting the least recently updated record if table is full
func (t *ForeignMasterTable) freeSlot() int {
	oldest := -1
	for i, r := range t.slots {
		if r == nil {
			return i
		}
		if oldest < 0 || r.LastSeen.Before(t.slots[oldest].LastSeen) {
			oldest = i
		}
	}
	log.Debugf("foreign master table is full, evicting %s", t.slots[oldest].Sender)
	return oldest
}

// Observe records an Announce received on the receiver port at now.
// Returns the record and whether it changed. Repeated sequence ids are not counted.
func (t *ForeignMasterTable) Observe(a *ptp.Announce, receiver ptp.PortIdentity, now time.Time) (*ForeignRecord, bool) {
	i := t.find(a.SourcePortIdentity)
	if i < 0 {
		i = t.freeSlot()
		t.slots[i] = &ForeignRecord{Sender: a.SourcePortIdentity}
	}
	r := t.slots[i]
	if len(r.seen) > 0 && r.SequenceID == a.SequenceID {
		return r, false
	}
	r.Announce = *a
	r.Dataset = DatasetFromAnnounce(a, receiver)
	r.SequenceID = a.SequenceID
	r.LastSeen = now

	fresh := r.seen[:0]
	for _, s := range r.seen {
		if now.Sub(s) <= t.window {
			fresh = append(fresh, s)
		}
	}
	r.seen = append(fresh, now)
	if len(r.seen) > t.threshold {
		r.seen = r.seen[len(r.seen)-t.threshold:]
	}
	return r, true
}

// Qualified returns records eligible for BMC comparison
func (t *ForeignMasterTable) Qualified(now time.Time) []*ForeignRecord {
	res := []*ForeignRecord{}
	for _, r := range t.slots {
		if r != nil && r.Observations(now, t.window) >= t.threshold {
			res = append(res, r)
		}
	}
	return res
}

// IsQualified reports whether the record of the sender is qualified
func (t *ForeignMasterTable) IsQualified(sender ptp.PortIdentity, now time.Time) bool {
	r := t.Get(sender)
	return r != nil && r.Observations(now, t.window) >= t.threshold
}

// Sweep evicts records that haven't been refreshed within the window
func (t *ForeignMasterTable) Sweep(now time.Time) []ptp.PortIdentity {
	evicted := []ptp.PortIdentity{}
	for i, r := range t.slots {
		if r != nil && now.Sub(r.LastSeen) > t.window {
			evicted = append(evicted, r.Sender)
			t.slots[i] = nil
		}
	}
	return evicted
}

// Remove evicts record of the sender
func (t *ForeignMasterTable) Remove(sender ptp.PortIdentity) bool {
	if i := t.find(sender); i >= 0 {
		t.slots[i] = nil
		return true
	}
	return false
}

// Records returns all live records
func (t *ForeignMasterTable) Records() []*ForeignRecord {
	res := []*ForeignRecord{}
	for _, r := range t.slots {
		if r != nil {
			res = append(res, r)
		}
	}
	return res
}

// Clear evicts all records
func (t *ForeignMasterTable) Clear() {
	for i := range t.slots {
		t.slots[i] = nil
	}
}
