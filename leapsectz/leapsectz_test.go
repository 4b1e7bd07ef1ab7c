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

package leapsectz

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 1972-07-01 and 2017-01-01 leap seconds as they appear in right/UTC
var testLeaps = []LeapSecond{
	{Tleap: 78796800, Nleap: 1},
	{Tleap: 1483228826, Nleap: 27},
}

// tzif builds a file with one local time type and the leap seconds
func tzif(version byte, leaps []LeapSecond) []byte {
	var b bytes.Buffer
	block := func(timeSize int) {
		b.WriteString("TZif")
		b.WriteByte(version)
		b.Write(make([]byte, 15))
		hdr := tzifHeader{LeapCnt: uint32(len(leaps)), TypeCnt: 1, CharCnt: 4}
		_ = binary.Write(&b, binary.BigEndian, hdr)
		// ttinfo and "UTC\0"
		b.Write(make([]byte, 6))
		b.WriteString("UTC\x00")
		for _, l := range leaps {
			if timeSize == 4 {
				_ = binary.Write(&b, binary.BigEndian, uint32(l.Tleap))
			} else {
				_ = binary.Write(&b, binary.BigEndian, l.Tleap)
			}
			_ = binary.Write(&b, binary.BigEndian, l.Nleap)
		}
	}
	block(4)
	if version != 0 {
		block(8)
		b.WriteString("\nUTC0\n")
	}
	return b.Bytes()
}

func TestRead(t *testing.T) {
	for _, version := range []byte{0, '2', '3'} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			res, err := Read(bytes.NewReader(tzif(version, testLeaps)))
			require.NoError(t, err)
			require.Equal(t, testLeaps, res)
		})
	}
}

func TestReadErrors(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("TZjf")))
	require.ErrorIs(t, err, errBadData)

	data := tzif('2', testLeaps)
	data[4] = '9'
	_, err = Read(bytes.NewReader(data))
	require.ErrorIs(t, err, errUnsupportedVersion)

	_, err = Read(bytes.NewReader(tzif('2', nil)))
	require.ErrorIs(t, err, ErrNoLeapSeconds)

	data = tzif(0, testLeaps)
	_, err = Read(bytes.NewReader(data[:len(data)-3]))
	require.ErrorIs(t, err, errBadData)
}

func TestLeapSecondTime(t *testing.T) {
	require.Equal(t, time.Date(1972, 7, 1, 0, 0, 0, 0, time.UTC), testLeaps[0].Time().UTC())
	require.Equal(t, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), testLeaps[1].Time().UTC())
}

func TestUTCOffsetAt(t *testing.T) {
	require.Equal(t, int16(10), UTCOffsetAt(testLeaps, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, int16(11), UTCOffsetAt(testLeaps, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, int16(37), UTCOffsetAt(testLeaps, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, int16(37), UTCOffsetAt(testLeaps, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestUTCOffsetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "UTC")
	require.NoError(t, os.WriteFile(path, tzif('2', testLeaps), 0o644))
	off, err := UTCOffset(path, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int16(37), off)

	_, err = UTCOffset(filepath.Join(t.TempDir(), "missing"), time.Now())
	require.Error(t, err)
}

func TestUTCOffsetSystem(t *testing.T) {
	if _, err := os.Stat(DefaultFile); err != nil {
		t.Skipf("%s is not available", DefaultFile)
	}
	off, err := UTCOffset("", time.Now())
	require.NoError(t, err)
	require.GreaterOrEqual(t, off, int16(37))
}
