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
	"golang.org/x/sys/unix"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// PPBToTimexPPM is what we use to conver PPB to PPM.
// man clock_adjtime(2):
// In struct timex, freq, ppsfreq, and stabil are ppm (parts per million) with a 16-bit fractional part.
const PPBToTimexPPM = 65.536

// DefaultMaxFreqPPB is used when the kernel reports no tolerance
const DefaultMaxFreqPPB = 500000.0

// clock_adjtime modes from usr/include/linux/timex.h
const (
	adjFrequency uint32 = 0x0002
	adjSetOffset uint32 = 0x0100
	adjNano      uint32 = 0x2000
)

// FrequencyPPB reads clock frequency in PPB
func FrequencyPPB(clockID int32) (float64, error) {
	tx := &unix.Timex{}
	if _, err := unix.ClockAdjtime(clockID, tx); err != nil {
		return 0, err
	}
	return float64(tx.Freq) / PPBToTimexPPM, nil
}

// AdjFreqPPB sets clock frequency in PPB
func AdjFreqPPB(clockID int32, freqPPB float64) error {
	tx := &unix.Timex{
		Modes: adjFrequency,
		Freq:  int64(freqPPB * PPBToTimexPPM),
	}
	_, err := unix.ClockAdjtime(clockID, tx)
	return err
}

// Step shifts the clock by delta. TimeInternal keeps nanoseconds non-negative, which is what ADJ_SETOFFSET|ADJ_NANO wants.
func Step(clockID int32, delta ptp.TimeInternal) error {
	tx := &unix.Timex{Modes: adjSetOffset | adjNano}
	tx.Time.Sec = delta.Seconds
	tx.Time.Usec = int64(delta.Nanoseconds)
	_, err := unix.ClockAdjtime(clockID, tx)
	return err
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func MaxFreqPPB(clockID int32) (float64, error) {
	tx := &unix.Timex{}
	if _, err := unix.ClockAdjtime(clockID, tx); err != nil {
		return 0, err
	}
	freq := float64(tx.Tolerance) / PPBToTimexPPM
	if freq == 0 {
		freq = DefaultMaxFreqPPB
	}
	return freq, nil
}

// Now reads the clock
func Now(clockID int32) (ptp.TimeInternal, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockID, &ts); err != nil {
		return ptp.TimeInternal{}, err
	}
	return ptp.NewTimeInternal(int64(ts.Sec), int64(ts.Nsec)), nil
}

// Set sets the clock to t
func Set(clockID int32, t ptp.TimeInternal) error {
	ts := unix.NsecToTimespec(t.TotalNanoseconds())
	return unix.ClockSettime(clockID, &ts)
}
