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
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// Source is a Linux clock disciplined with clock_adjtime
type Source struct {
	clockID int32
	name    string
	maxFreq float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource wraps clock with given id. Zero maxFreq means ask the kernel.
func NewSource(clockID int32, name string, maxFreq float64) (*Source, error) {
	if maxFreq == 0 {
		var err error
		if maxFreq, err = MaxFreqPPB(clockID); err != nil {
			return nil, fmt.Errorf("reading max frequency of %s: %w", name, err)
		}
	}
	freq, err := FrequencyPPB(clockID)
	if err != nil {
		return nil, fmt.Errorf("reading frequency of %s: %w", name, err)
	}
	log.Infof("disciplining %s, current frequency %.3f ppb, max %.0f ppb", name, freq, maxFreq)
	return &Source{
		clockID: clockID,
		name:    name,
		maxFreq: maxFreq,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// NewRealtime returns Source of CLOCK_REALTIME
func NewRealtime() (*Source, error) {
	return NewSource(unix.CLOCK_REALTIME, "CLOCK_REALTIME", 0)
}

func (s *Source) String() string {
	return s.name
}

// Now reads the clock
func (s *Source) Now() (ptp.TimeInternal, error) {
	return Now(s.clockID)
}

// Set sets the clock to t
func (s *Source) Set(t ptp.TimeInternal) error {
	return Set(s.clockID, t)
}

// Step shifts the clock by delta
func (s *Source) Step(delta ptp.TimeInternal) error {
	return Step(s.clockID, delta)
}

// AdjFreqPPB sets frequency adjustment, clamped to what the clock supports
func (s *Source) AdjFreqPPB(ppb float64) (bool, error) {
	ppb, clamped := clampFreq(ppb, s.maxFreq)
	return clamped, AdjFreqPPB(s.clockID, ppb)
}

// MaxFreqPPB returns the largest supported adjustment
func (s *Source) MaxFreqPPB() float64 {
	return s.maxFreq
}

// Random returns a pseudo random number in [0, max)
func (s *Source) Random(max uint32) uint32 {
	if max == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.rng.Int63n(int64(max)))
}
