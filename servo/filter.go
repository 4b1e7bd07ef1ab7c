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

package servo

import (
	"container/ring"
	"math"

	"github.com/eclesh/welford"
)

type filterState uint8

const (
	filterNoSpike filterState = iota
	filterSpike
	filterReset
)

// PiServoFilterCfg is a spike filter configuration
type PiServoFilterCfg struct {
	MinOffsetLocked   int64   // offsets below this are never spikes
	MaxSkipCount      int     // consecutive spikes after which the filter gives up and resets
	OffsetStdevFactor float64 // offsets further than factor*stddev from the mean are spikes
	RingSize          int     // samples kept for statistics
}

// DefaultPiServoFilterCfg to create a default pi servo filter config
func DefaultPiServoFilterCfg() *PiServoFilterCfg {
	return &PiServoFilterCfg{
		MinOffsetLocked:   15000,
		MaxSkipCount:      15,
		OffsetStdevFactor: 3.0,
		RingSize:          30,
	}
}

// PiServoFilterSample is a structure of offset and frequency
type PiServoFilterSample struct {
	offset int64
	freq   float64
}

// PiServoFilter tracks recent accepted samples and rejects outliers
type PiServoFilter struct {
	offsetStdev  float64
	offsetMean   float64
	freqMean     float64
	skippedCount int
	samples      *ring.Ring
	samplesCount int
	cfg          *PiServoFilterCfg
}

// NewPiServoFilter to create new filter instance and attach it to the servo
func NewPiServoFilter(s *PiServo, cfg *PiServoFilterCfg) *PiServoFilter {
	f := &PiServoFilter{cfg: cfg}
	f.Reset()
	s.filter = f
	return f
}

func (f *PiServoFilter) isSpike(offset int64) bool {
	if f.samplesCount < f.cfg.RingSize {
		return false
	}
	limit := math.Max(f.cfg.OffsetStdevFactor*f.offsetStdev, float64(f.cfg.MinOffsetLocked))
	return math.Abs(float64(offset)-f.offsetMean) > limit
}

func (f *PiServoFilter) check(offset int64) filterState {
	if !f.isSpike(offset) {
		return filterNoSpike
	}
	if f.skippedCount >= f.cfg.MaxSkipCount {
		return filterReset
	}
	f.skippedCount++
	return filterSpike
}

// Sample adds an accepted sample and recalculates statistics
func (f *PiServoFilter) Sample(s *PiServoFilterSample) {
	f.samples.Value = s
	f.samples = f.samples.Next()
	if f.samplesCount < f.cfg.RingSize {
		f.samplesCount++
	}
	offsets := welford.New()
	freqs := welford.New()
	f.samples.Do(func(val any) {
		if val == nil {
			return
		}
		v := val.(*PiServoFilterSample)
		offsets.Add(float64(v.offset))
		freqs.Add(v.freq)
	})
	f.offsetMean = offsets.Mean()
	f.offsetStdev = offsets.Stddev()
	f.freqMean = freqs.Mean()
}

// Reset - cleanup and restart filter
func (f *PiServoFilter) Reset() {
	size := f.cfg.RingSize
	if size < 1 {
		size = 1
	}
	f.samples = ring.New(size)
	f.offsetStdev = 0
	f.offsetMean = 0
	f.freqMean = 0
	f.skippedCount = 0
	f.samplesCount = 0
}

// MeanFreq to return mean frequency of accepted samples
func (f *PiServoFilter) MeanFreq() float64 {
	return f.freqMean
}
