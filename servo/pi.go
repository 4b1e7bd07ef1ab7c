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
	log "github.com/sirupsen/logrus"
)

// Defaults of ptpd 2.0
const (
	DefaultAP      = 10.0
	DefaultAI      = 1000.0
	DefaultSDelay  = 6
	DefaultSOffset = 0
)

// PiServoCfg is the proportional-integral servo config.
// Ap and Ai are attenuations: offset/Ap is the proportional term, offset/Ai is added to the integral.
// SDelay and SOffset are log2 stiffness of delay and offset low-pass filters.
type PiServoCfg struct {
	Ap           float64
	Ai           float64
	SDelay       int
	SOffset      int
	NoResetClock bool
}

// DefaultPiServoCfg to create default pi servo config
func DefaultPiServoCfg() *PiServoCfg {
	return &PiServoCfg{
		Ap:      DefaultAP,
		Ai:      DefaultAI,
		SDelay:  DefaultSDelay,
		SOffset: DefaultSOffset,
	}
}

// lowPass is the first order IIR filter with ramping stiffness
type lowPass struct {
	stiffness int
	sExp      int64
	y         int64
	prev      int64
	primed    bool
}

func (f *lowPass) reset() {
	*f = lowPass{stiffness: f.stiffness}
}

func (f *lowPass) sample(x int64) int64 {
	if !f.primed {
		f.primed = true
		f.prev = x
		f.y = x
		f.sExp = 1
		return x
	}
	limit := int64(1) << f.stiffness
	switch {
	case f.sExp < 1:
		f.sExp = 1
	case f.sExp < limit:
		f.sExp++
	case f.sExp > limit:
		f.sExp = limit
	}
	f.y = (f.sExp-1)*f.y/f.sExp + (x/2+f.prev/2)/f.sExp
	f.prev = x
	return f.y
}

// PiServo is a proportional-integral servo
type PiServo struct {
	Servo
	// drift is the integral term, ppb
	drift      float64
	lastFreq   float64
	lastOffset int64
	lastDelay  int64
	delayFilt  lowPass
	offsetFilt lowPass
	state      State
	filter     *PiServoFilter
	cfg        *PiServoCfg
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// SetMaxFreq is to adjust frequency range supported by the clock
func (s *PiServo) SetMaxFreq(freq float64) {
	if freq <= 0 {
		freq = DefaultMaxFreqPPB
	}
	s.maxFreq = freq
}

// FilterDelay smooths mean path delay samples
func (s *PiServo) FilterDelay(delay int64) int64 {
	s.lastDelay = s.delayFilt.sample(delay)
	return s.lastDelay
}

// Reset forgets filter history and integral, next sample is treated as the first one
func (s *PiServo) Reset() {
	s.drift = 0
	s.lastFreq = 0
	s.lastOffset = 0
	s.lastDelay = 0
	s.delayFilt.reset()
	s.offsetFilt.reset()
	s.state = StateInit
	s.FirstUpdate = true
	if s.filter != nil {
		s.filter.Reset()
	}
}

// SkippedCount returns how many samples in a row the spike filter rejected
func (s *PiServo) SkippedCount() int {
	if s.filter == nil {
		return 0
	}
	return s.filter.skippedCount
}

// Sample processes an offset from master in ns and returns frequency adjustment in ppb.
// A positive offset means local clock is ahead, the caller applies the negated value.
func (s *PiServo) Sample(offset int64) (float64, State) {
	offset = s.offsetFilt.sample(offset)
	s.lastOffset = offset
	aOffset := abs(offset)

	if (s.FirstUpdate && s.FirstStepThreshold > 0 && aOffset > s.FirstStepThreshold) ||
		(s.StepThreshold > 0 && aOffset > s.StepThreshold) {
		if s.cfg.NoResetClock {
			// slew as fast as possible instead of stepping
			s.FirstUpdate = false
			s.lastFreq = s.maxFreq
			if offset < 0 {
				s.lastFreq = -s.maxFreq
			}
			s.state = StateLocked
			return s.lastFreq, s.state
		}
		log.Debugf("servo: offset %dns is above step threshold", offset)
		s.drift = 0
		s.lastFreq = 0
		s.offsetFilt.reset()
		if s.filter != nil {
			s.filter.Reset()
		}
		s.FirstUpdate = false
		s.state = StateJump
		return 0, s.state
	}
	s.FirstUpdate = false

	if s.filter != nil {
		switch s.filter.check(offset) {
		case filterSpike:
			log.Warningf("servo filtered out offset %d", offset)
			s.state = StateFilter
			return s.MeanFreq(), s.state
		case filterReset:
			log.Warning("servo filter was reset after too many spikes")
			s.filter.Reset()
		}
	}

	ap, ai := s.cfg.Ap, s.cfg.Ai
	if ap < 1 {
		ap = 1
	}
	if ai < 1 {
		ai = 1
	}
	s.drift = clamp(s.drift+float64(offset)/ai, s.maxFreq)
	ppb := clamp(float64(offset)/ap+s.drift, s.maxFreq)

	s.lastFreq = ppb
	s.state = StateLocked
	if s.filter != nil {
		s.filter.Sample(&PiServoFilterSample{offset: offset, freq: ppb})
		s.filter.skippedCount = 0
	}
	return ppb, s.state
}

// ObservedDrift returns the integral term in ppb
func (s *PiServo) ObservedDrift() float64 {
	return s.drift
}

// LastOffset returns last filtered offset
func (s *PiServo) LastOffset() int64 {
	return s.lastOffset
}

// State returns the state after the last sample
func (s *PiServo) State() State {
	return s.state
}

// MeanFreq to return best calculated frequency from filter
func (s *PiServo) MeanFreq() float64 {
	if s.filter != nil && s.filter.samplesCount > 0 {
		return s.filter.MeanFreq()
	}
	return s.lastFreq
}

// NewPiServo to create servo structure
func NewPiServo(s Servo, cfg *PiServoCfg, freq float64) *PiServo {
	pi := &PiServo{
		Servo:      s,
		cfg:        cfg,
		lastFreq:   freq,
		drift:      freq,
		delayFilt:  lowPass{stiffness: cfg.SDelay},
		offsetFilt: lowPass{stiffness: cfg.SOffset},
	}
	if pi.maxFreq <= 0 {
		pi.maxFreq = DefaultMaxFreqPPB
	}
	return pi
}
