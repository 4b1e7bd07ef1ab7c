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

// DefaultMaxFreqPPB is the frequency trim limit used when the clock doesn't report one
const DefaultMaxFreqPPB = 512000.0

// Servo structure has values common for any type of servo
type Servo struct {
	maxFreq float64
	// StepThreshold is the offset in ns above which the clock is stepped, 0 disables stepping
	StepThreshold int64
	// FirstStepThreshold is the offset in ns above which the first sample after reset steps the clock
	FirstStepThreshold int64
	// FirstUpdate is set until the first sample after reset is processed
	FirstUpdate bool
}

// State is the result of processing a sample
type State uint8

// All the states of servo
const (
	// StateInit means servo has no opinion yet, frequency is unchanged
	StateInit State = iota
	// StateJump means the clock has to be stepped by the offset
	StateJump
	// StateLocked means returned frequency has to be applied
	StateLocked
	// StateFilter means the sample was treated as a spike and ignored
	StateFilter
)

// StateToString is a map from State to string
var StateToString = map[State]string{
	StateInit:   "INIT",
	StateJump:   "JUMP",
	StateLocked: "LOCKED",
	StateFilter: "FILTER",
}

func (s State) String() string {
	if v, ok := StateToString[s]; ok {
		return v
	}
	return "UNSUPPORTED"
}

// DefaultServoConfig generates default servo struct
func DefaultServoConfig() Servo {
	return Servo{
		maxFreq:            DefaultMaxFreqPPB,
		StepThreshold:      1000000000,
		FirstStepThreshold: 20000,
		FirstUpdate:        true,
	}
}
