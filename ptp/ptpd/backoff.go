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
	"math"
	"time"
)

const (
	backoffNone        = ""
	backoffFixed       = "fixed"
	backoffLinear      = "linear"
	backoffExponential = "exponential"
)

// minFaultyWait is how long a FAULTY port waits when backoff is off
const minFaultyWait = time.Second

// faultBackoff tells how long a FAULTY port stays down before it reinitializes.
// Faults in a row make the wait longer until the port gets operational again.
type faultBackoff struct {
	cfg    BackoffConfig
	faults int
}

func newFaultBackoff(cfg BackoffConfig) *faultBackoff {
	return &faultBackoff{cfg: cfg}
}

// reset forgets faults seen so far
func (b *faultBackoff) reset() {
	b.faults = 0
}

// wait registers one more fault and returns how long to stay FAULTY
func (b *faultBackoff) wait() time.Duration {
	b.faults++
	var seconds float64
	switch b.cfg.Mode {
	case backoffFixed:
		seconds = float64(b.cfg.Step)
	case backoffLinear:
		seconds = float64(b.cfg.Step * b.faults)
	case backoffExponential:
		seconds = math.Pow(float64(b.cfg.Step), float64(b.faults))
	}
	if b.cfg.MaxValue > 0 {
		seconds = math.Min(seconds, float64(b.cfg.MaxValue))
	}
	d := time.Duration(seconds * float64(time.Second))
	if d < minFaultyWait {
		return minFaultyWait
	}
	return d
}
