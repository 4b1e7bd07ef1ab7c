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

// Package phc finds and opens PTP hardware clocks of network cards
package phc

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultMaxClockFreqPPB value came from linuxptp project (clockadj.c)
const DefaultMaxClockFreqPPB = 500000.0

// IfaceToPHCDevice returns path to PHC device associated with given network card iface
func IfaceToPHCDevice(iface string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create socket for ioctl: %w", err)
	}
	defer unix.Close(fd)
	info, err := unix.IoctlGetEthtoolTsInfo(fd, iface)
	if err != nil {
		return "", fmt.Errorf("getting interface %s info: %w", iface, err)
	}
	if info.Phc_index < 0 {
		return "", fmt.Errorf("%s: no PHC support", iface)
	}
	return fmt.Sprintf("/dev/ptp%d", info.Phc_index), nil
}

// FDToClockID converts file descriptor of an open PHC device to a dynamic clock id, see clock_gettime(2)
func FDToClockID(fd uintptr) int32 {
	return int32((int(^fd) << 3) | 3)
}

// maxAdj turns ptp_clock_caps.max_adj into ppb, drivers reporting 0 get the linuxptp default
func maxAdj(caps *unix.PtpClockCaps) float64 {
	if caps == nil || caps.Max_adj <= 0 {
		return DefaultMaxClockFreqPPB
	}
	return float64(caps.Max_adj)
}

// Device is an open PHC device
type Device struct {
	f *os.File
}

// Open opens PHC device by path, like /dev/ptp0
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// OpenIface opens PHC device of the network card
func OpenIface(iface string) (*Device, error) {
	path, err := IfaceToPHCDevice(iface)
	if err != nil {
		return nil, err
	}
	log.Infof("using PHC %s of %s", path, iface)
	return Open(path)
}

// Name returns path of the device
func (d *Device) Name() string {
	return d.f.Name()
}

// ClockID returns dynamic clock id to be used with clock_* syscalls
func (d *Device) ClockID() int32 {
	return FDToClockID(d.f.Fd())
}

// MaxFreqPPB returns the largest frequency adjustment the device supports
func (d *Device) MaxFreqPPB() float64 {
	caps, err := unix.IoctlPtpClockGetcaps(int(d.f.Fd()))
	if err != nil {
		log.Warningf("reading capabilities of %s: %v", d.Name(), err)
		return DefaultMaxClockFreqPPB
	}
	return maxAdj(caps)
}

// Close closes the device
func (d *Device) Close() error {
	return d.f.Close()
}
