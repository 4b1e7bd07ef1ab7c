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
	"errors"
	"fmt"
)

// ErrStaleExchange is returned when a response doesn't match the request we are waiting for
var ErrStaleExchange = errors.New("stale exchange")

// errIncompleteExchange is returned when some timestamps of an exchange are missing
var errIncompleteExchange = errors.New("incomplete exchange")

// TransportError wraps failures of the Transport. The port tolerates a few in a row.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ClockAccessError wraps failures of the TimeSource. The port goes FAULTY right away.
type ClockAccessError struct {
	Op  string
	Err error
}

func (e *ClockAccessError) Error() string {
	return fmt.Sprintf("clock %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ClockAccessError) Unwrap() error {
	return e.Err
}
