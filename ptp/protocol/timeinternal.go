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

package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const nsPerSecond = int64(time.Second)

// maxIntervalSeconds is the largest whole number of seconds which fits int64 nanoseconds
const maxIntervalSeconds = math.MaxInt64/nsPerSecond - 1

// ErrOutOfRange is returned when TimeInternal doesn't fit time.Duration
var ErrOutOfRange = errors.New("time interval out of range")

// TimeInternal is a signed seconds + nanoseconds pair used for all timestamp arithmetic.
// Nanoseconds is kept in [0, 1e9) and Seconds carries the sign.
type TimeInternal struct {
	Seconds     int64
	Nanoseconds int32
}

// NewTimeInternal builds a normalized TimeInternal from possibly unnormalized parts
func NewTimeInternal(seconds, nanoseconds int64) TimeInternal {
	seconds += nanoseconds / nsPerSecond
	nanoseconds %= nsPerSecond
	if nanoseconds < 0 {
		seconds--
		nanoseconds += nsPerSecond
	}
	return TimeInternal{Seconds: seconds, Nanoseconds: int32(nanoseconds)}
}

// TimeInternalFromNanoseconds converts signed nanoseconds to TimeInternal
func TimeInternalFromNanoseconds(ns int64) TimeInternal {
	return NewTimeInternal(0, ns)
}

// TimeInternalFromDuration converts time.Duration to TimeInternal
func TimeInternalFromDuration(d time.Duration) TimeInternal {
	return TimeInternalFromNanoseconds(int64(d))
}

// TimeInternalFromTime converts time.Time to TimeInternal
func TimeInternalFromTime(t time.Time) TimeInternal {
	return TimeInternal{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
}

// TimeInternalFromTimestamp converts wire Timestamp to TimeInternal
func TimeInternalFromTimestamp(ts Timestamp) TimeInternal {
	return NewTimeInternal(int64(ts.Seconds), int64(ts.Nanoseconds))
}

// Timestamp converts TimeInternal into wire Timestamp. Negative values become empty timestamp.
func (t TimeInternal) Timestamp() Timestamp {
	if t.Seconds < 0 {
		return Timestamp{}
	}
	return Timestamp{Seconds: uint64(t.Seconds) & maxSeconds, Nanoseconds: uint32(t.Nanoseconds)}
}

// Time converts TimeInternal to time.Time
func (t TimeInternal) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanoseconds))
}

// InRange reports whether t can be represented as int64 nanoseconds
func (t TimeInternal) InRange() bool {
	return t.Seconds >= -maxIntervalSeconds && t.Seconds <= maxIntervalSeconds
}

// TotalNanoseconds returns the total signed number of nanoseconds, saturated to the int64 range
func (t TimeInternal) TotalNanoseconds() int64 {
	switch {
	case t.Seconds > maxIntervalSeconds:
		return math.MaxInt64
	case t.Seconds < -maxIntervalSeconds:
		return math.MinInt64
	}
	return t.Seconds*nsPerSecond + int64(t.Nanoseconds)
}

// Duration returns TimeInternal as time.Duration, saturated like TotalNanoseconds
func (t TimeInternal) Duration() time.Duration {
	return time.Duration(t.TotalNanoseconds())
}

// CheckedDuration returns TimeInternal as time.Duration or ErrOutOfRange
func (t TimeInternal) CheckedDuration() (time.Duration, error) {
	if !t.InRange() {
		return 0, fmt.Errorf("%w: %s s", ErrOutOfRange, t)
	}
	return time.Duration(t.TotalNanoseconds()), nil
}

// IsZero reports whether both fields are zero
func (t TimeInternal) IsZero() bool {
	return t.Seconds == 0 && t.Nanoseconds == 0
}

// Add returns t+u
func (t TimeInternal) Add(u TimeInternal) TimeInternal {
	return NewTimeInternal(t.Seconds+u.Seconds, int64(t.Nanoseconds)+int64(u.Nanoseconds))
}

// Sub returns t-u
func (t TimeInternal) Sub(u TimeInternal) TimeInternal {
	return NewTimeInternal(t.Seconds-u.Seconds, int64(t.Nanoseconds)-int64(u.Nanoseconds))
}

// Neg returns -t
func (t TimeInternal) Neg() TimeInternal {
	return NewTimeInternal(-t.Seconds, -int64(t.Nanoseconds))
}

// Half returns t/2, truncated toward zero. Seconds are halved separately so any t works.
func (t TimeInternal) Half() TimeInternal {
	if t.Seconds < 0 {
		return t.Neg().Half().Neg()
	}
	return NewTimeInternal(t.Seconds/2, (t.Seconds%2)*nsPerSecond/2+int64(t.Nanoseconds)/2)
}

// Before reports whether t < u
func (t TimeInternal) Before(u TimeInternal) bool {
	return t.Seconds < u.Seconds || (t.Seconds == u.Seconds && t.Nanoseconds < u.Nanoseconds)
}

func (t TimeInternal) String() string {
	if t.Seconds < 0 {
		n := t.Neg()
		return fmt.Sprintf("-%d.%09d", n.Seconds, n.Nanoseconds)
	}
	return fmt.Sprintf("%d.%09d", t.Seconds, t.Nanoseconds)
}
