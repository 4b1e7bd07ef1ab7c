//go:build !linux

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

package timestamp

import (
	"fmt"
	"runtime"
	"time"
)

// Enable is not supported outside of Linux
func Enable(_ int, ts Timestamp, _ string) error {
	return fmt.Errorf("%s timestamping is not supported on %s", ts, runtime.GOOS)
}

// ParseTimestamp is not supported outside of Linux
func ParseTimestamp(_ []byte) (time.Time, error) {
	return time.Time{}, ErrNoTimestamp
}

// ReadTX is not supported outside of Linux
func ReadTX(_ int, _ time.Duration) (time.Time, error) {
	return time.Time{}, ErrNoTimestamp
}
