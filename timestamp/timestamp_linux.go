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
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// from include/uapi/linux/net_tstamp.h
const (
	hwtstampTXOn             int32 = 1
	hwtstampFilterAll        int32 = 1
	hwtstampFilterPTPv2Event int32 = 12
)

type hwtstampConfig struct {
	flags    int32
	txType   int32
	rxFilter int32
}

type ifreqData struct {
	name [unix.IFNAMSIZ]byte
	data uintptr
}

// timestampingOpt is SO_TIMESTAMPING_NEW where the kernel has it
var timestampingOpt = unix.SO_TIMESTAMPING_NEW

func init() {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil && uname.Release[0] < '5' {
		timestampingOpt = unix.SO_TIMESTAMPING
	}
}

// Enable turns on RX and TX timestamps of the requested kind on the socket.
// iface is only used for hardware timestamps.
func Enable(fd int, ts Timestamp, iface string) error {
	var flags int
	switch ts {
	case SW:
		flags = unix.SOF_TIMESTAMPING_TX_SOFTWARE |
			unix.SOF_TIMESTAMPING_RX_SOFTWARE |
			unix.SOF_TIMESTAMPING_SOFTWARE
	case HW:
		if err := hwtstampIoctl(fd, iface); err != nil {
			return err
		}
		flags = unix.SOF_TIMESTAMPING_TX_HARDWARE |
			unix.SOF_TIMESTAMPING_RX_HARDWARE |
			unix.SOF_TIMESTAMPING_RAW_HARDWARE
	default:
		return fmt.Errorf("unsupported timestamping %q", ts)
	}
	// TX timestamps come back on the error queue without the payload
	flags |= unix.SOF_TIMESTAMPING_OPT_TSONLY
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, timestampingOpt, flags); err != nil {
		return fmt.Errorf("setting SO_TIMESTAMPING: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1); err != nil {
		return fmt.Errorf("setting SO_SELECT_ERR_QUEUE: %w", err)
	}
	return nil
}

// hwtstampIoctl asks the driver to timestamp everything, or at least PTPv2 event messages
func hwtstampIoctl(fd int, iface string) error {
	var err error
	for _, filter := range []int32{hwtstampFilterAll, hwtstampFilterPTPv2Event} {
		cfg := &hwtstampConfig{txType: hwtstampTXOn, rxFilter: filter}
		req := &ifreqData{data: uintptr(unsafe.Pointer(cfg))}
		copy(req.name[:unix.IFNAMSIZ-1], iface)
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCSHWTSTAMP, uintptr(unsafe.Pointer(req)))
		if errno == 0 {
			return nil
		}
		err = fmt.Errorf("ioctl SIOCSHWTSTAMP on %s: %w", iface, errno)
		log.Debugf("%v", err)
	}
	return err
}

// timespecToTime decodes __kernel_timespec
func timespecToTime(b []byte) time.Time {
	sec := int64(binary.LittleEndian.Uint64(b[0:8]))
	nsec := int64(binary.LittleEndian.Uint64(b[8:16]))
	if sec == 0 && nsec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, nsec)
}

// scmTimestamping picks the timestamp from scm_timestamping payload.
// Software timestamp is in the first slot, hardware one in the third.
func scmTimestamping(data []byte) (time.Time, error) {
	if len(data) < 48 {
		return time.Time{}, fmt.Errorf("scm_timestamping too short: %d bytes", len(data))
	}
	if ts := timespecToTime(data[32:48]); !ts.IsZero() {
		return ts, nil
	}
	if ts := timespecToTime(data[0:16]); !ts.IsZero() {
		return ts, nil
	}
	return time.Time{}, ErrNoTimestamp
}

// ParseTimestamp finds the timestamp in socket control messages
func ParseTimestamp(oob []byte) (time.Time, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing control messages: %w", err)
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}
		if int(m.Header.Type) == unix.SO_TIMESTAMPING_NEW || int(m.Header.Type) == unix.SO_TIMESTAMPING {
			return scmTimestamping(m.Data)
		}
	}
	return time.Time{}, ErrNoTimestamp
}

// ReadTX returns TX timestamp of the last packet sent through the socket.
// Error queue is drained completely so the next call doesn't pick up a stale timestamp.
func ReadTX(fd int, timeout time.Duration) (time.Time, error) {
	oob := make([]byte, ControlSizeBytes)
	var latest time.Time
	deadline := time.Now().Add(timeout)
	for {
		n, err := recvErrQueue(fd, oob)
		if err == nil {
			ts, perr := ParseTimestamp(oob[:n])
			if perr == nil {
				latest = ts
			}
			continue
		}
		if !errors.Is(err, unix.EAGAIN) {
			return time.Time{}, fmt.Errorf("reading error queue: %w", err)
		}
		if !latest.IsZero() {
			return latest, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return time.Time{}, fmt.Errorf("%w: TX timestamp not ready after %v", ErrNoTimestamp, timeout)
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI}}
		if _, err := unix.Poll(fds, int(left.Milliseconds())+1); err != nil && !errors.Is(err, unix.EINTR) {
			return time.Time{}, fmt.Errorf("polling error queue: %w", err)
		}
	}
}

// recvErrQueue reads one control message from the socket error queue without blocking
func recvErrQueue(fd int, oob []byte) (int, error) {
	_, oobn, _, _, err := unix.Recvmsg(fd, nil, oob, unix.MSG_ERRQUEUE|unix.MSG_DONTWAIT)
	return oobn, err
}
