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

// Package leapsectz reads leap seconds from the system timezone database
// to derive currentUtcOffset announced by a master
package leapsectz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultFile is the timezone file with leap second records
const DefaultFile = "/usr/share/zoneinfo/right/UTC"

// TAI was ahead of UTC by 10s when leap seconds were introduced in 1972
const initialUTCOffset = 10

var (
	errBadData            = errors.New("malformed time zone information")
	errUnsupportedVersion = errors.New("unsupported time zone file version")
	// ErrNoLeapSeconds is returned when the file has no leap second records
	ErrNoLeapSeconds = errors.New("no leap seconds information found")
)

// LeapSecond is a leap second record of TZif file
type LeapSecond struct {
	// Tleap is when the leap second occurs, in seconds since epoch counting earlier leap seconds
	Tleap uint64
	// Nleap is the total number of leap seconds after this one
	Nleap int32
}

// Time returns UTC time the leap second takes effect
func (l LeapSecond) Time() time.Time {
	return time.Unix(int64(l.Tleap)-int64(l.Nleap)+1, 0)
}

// tzifHeader follows the version byte and padding of TZif
type tzifHeader struct {
	IsUtcCnt uint32
	IsStdCnt uint32
	LeapCnt  uint32
	TimeCnt  uint32
	TypeCnt  uint32
	CharCnt  uint32
}

// dataLen is the size of the data block described by the header.
// timeSize is 4 for the first block and 8 for the second one of version 2+ files.
func (h *tzifHeader) dataLen(timeSize int) int64 {
	return int64(h.TimeCnt)*int64(timeSize+1) +
		int64(h.TypeCnt)*6 +
		int64(h.CharCnt) +
		int64(h.LeapCnt)*int64(timeSize+4) +
		int64(h.IsUtcCnt) +
		int64(h.IsStdCnt)
}

func readHeader(r io.Reader) (byte, *tzifHeader, error) {
	// "TZif", version, 15 bytes of padding
	pre := make([]byte, 20)
	if _, err := io.ReadFull(r, pre); err != nil {
		return 0, nil, errBadData
	}
	if string(pre[:4]) != "TZif" {
		return 0, nil, errBadData
	}
	version := pre[4]
	if version != 0 && version != '2' && version != '3' && version != '4' {
		return 0, nil, fmt.Errorf("%w: %q", errUnsupportedVersion, version)
	}
	hdr := &tzifHeader{}
	if err := binary.Read(r, binary.BigEndian, hdr); err != nil {
		return 0, nil, errBadData
	}
	return version, hdr, nil
}

// Read returns leap second records from TZif data.
// For version 2+ files the 64-bit second block is used.
func Read(r io.Reader) ([]LeapSecond, error) {
	version, hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	timeSize := 4
	if version != 0 {
		if _, err := io.CopyN(io.Discard, r, hdr.dataLen(4)); err != nil {
			return nil, errBadData
		}
		if _, hdr, err = readHeader(r); err != nil {
			return nil, err
		}
		timeSize = 8
	}
	skip := int64(hdr.TimeCnt)*int64(timeSize+1) + int64(hdr.TypeCnt)*6 + int64(hdr.CharCnt)
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, errBadData
	}

	res := make([]LeapSecond, 0, hdr.LeapCnt)
	rec := make([]byte, timeSize+4)
	for i := 0; i < int(hdr.LeapCnt); i++ {
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, errBadData
		}
		var l LeapSecond
		if timeSize == 4 {
			l.Tleap = uint64(binary.BigEndian.Uint32(rec))
		} else {
			l.Tleap = binary.BigEndian.Uint64(rec)
		}
		l.Nleap = int32(binary.BigEndian.Uint32(rec[timeSize:]))
		res = append(res, l)
	}
	if len(res) == 0 {
		return nil, ErrNoLeapSeconds
	}
	return res, nil
}

// Parse returns leap seconds from the file, "" means DefaultFile
func Parse(path string) ([]LeapSecond, error) {
	if path == "" {
		path = DefaultFile
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// UTCOffsetAt returns TAI-UTC in effect at t
func UTCOffsetAt(leaps []LeapSecond, t time.Time) int16 {
	var n int32
	for _, l := range leaps {
		if !l.Time().After(t) && l.Nleap > n {
			n = l.Nleap
		}
	}
	return int16(initialUTCOffset + n)
}

// UTCOffset reads the file and returns TAI-UTC in effect at t
func UTCOffset(path string, t time.Time) (int16, error) {
	leaps, err := Parse(path)
	if err != nil {
		return 0, err
	}
	return UTCOffsetAt(leaps, t), nil
}
