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

// Package timestamp enables kernel packet timestamping on UDP sockets and reads RX/TX timestamps back
package timestamp

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Timestamp is the kind of timestamps requested from the kernel
type Timestamp string

const (
	// HW is a hardware timestamp taken by the NIC
	HW Timestamp = "hardware"
	// SW is a software timestamp taken by the kernel
	SW Timestamp = "software"
)

func (t Timestamp) String() string {
	return string(t)
}

// UnmarshalText accepts short forms hw/sw as well
func (t *Timestamp) UnmarshalText(b []byte) error {
	switch string(b) {
	case "hardware", "hw":
		*t = HW
	case "software", "sw":
		*t = SW
	default:
		return fmt.Errorf("unknown timestamping %q", string(b))
	}
	return nil
}

const (
	// ControlSizeBytes fits a few socket control messages with timestamps
	ControlSizeBytes = 128
	// PayloadSizeBytes fits any PTP message we process
	PayloadSizeBytes = 128
	// DefaultTXTimeout is how long we wait for TX timestamp of a sent packet
	DefaultTXTimeout = 10 * time.Millisecond
)

// ErrNoTimestamp is returned when the kernel didn't provide a timestamp
var ErrNoTimestamp = errors.New("no timestamp")

// ConnFd returns file descriptor of a connection
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := sc.Control(func(raw uintptr) { fd = int(raw) }); err != nil {
		return -1, err
	}
	return fd, nil
}
