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

package clock

import (
	"math"
	"math/rand"
	"sync"
	"time"

	refclock "github.com/benbjohnson/clock"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// clampFreq limits ppb to [-max, max]
func clampFreq(ppb, max float64) (float64, bool) {
	if ppb > max {
		return max, true
	}
	if ppb < -max {
		return -max, true
	}
	return ppb, false
}

// Sim is a simulated clock. It runs off ref with a constant frequency error of driftPPB
// plus whatever adjustment is applied.
type Sim struct {
	mu       sync.Mutex
	ref      refclock.Clock
	last     time.Time
	now      ptp.TimeInternal
	driftPPB float64
	adjPPB   float64
	maxFreq  float64
	steps    int
	rng      *rand.Rand
}

// NewSim creates simulated clock which is ahead of ref by offset
func NewSim(ref refclock.Clock, offset time.Duration, driftPPB float64, seed int64) *Sim {
	now := ref.Now()
	return &Sim{
		ref:      ref,
		last:     now,
		now:      ptp.TimeInternalFromTime(now).Add(ptp.TimeInternalFromDuration(offset)),
		driftPPB: driftPPB,
		maxFreq:  DefaultMaxFreqPPB,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// advance accrues reference time elapsed since the last update at the current rate
func (s *Sim) advance() {
	refNow := s.ref.Now()
	elapsed := refNow.Sub(s.last)
	s.last = refNow
	extra := math.Round(float64(elapsed) * (s.driftPPB + s.adjPPB) / 1e9)
	s.now = s.now.Add(ptp.TimeInternalFromNanoseconds(elapsed.Nanoseconds() + int64(extra)))
}

// Now returns simulated time
func (s *Sim) Now() (ptp.TimeInternal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.now, nil
}

// Set sets simulated time
func (s *Sim) Set(t ptp.TimeInternal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.now = t
	s.steps++
	return nil
}

// Step shifts simulated time by delta
func (s *Sim) Step(delta ptp.TimeInternal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.now = s.now.Add(delta)
	s.steps++
	return nil
}

// AdjFreqPPB sets frequency adjustment, clamped to MaxFreqPPB
func (s *Sim) AdjFreqPPB(ppb float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	ppb, clamped := clampFreq(ppb, s.maxFreq)
	s.adjPPB = ppb
	return clamped, nil
}

// MaxFreqPPB returns the largest supported adjustment
func (s *Sim) MaxFreqPPB() float64 {
	return s.maxFreq
}

// Random returns a pseudo random number in [0, max)
func (s *Sim) Random(max uint32) uint32 {
	if max == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.rng.Int63n(int64(max)))
}

// Offset returns how far simulated time is ahead of the reference
func (s *Sim) Offset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.now.Sub(ptp.TimeInternalFromTime(s.last)).Duration()
}

// FrequencyPPB returns applied frequency adjustment
func (s *Sim) FrequencyPPB() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjPPB
}

// Steps returns how many times the clock was stepped or set
func (s *Sim) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}
