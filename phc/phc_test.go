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

package phc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMaxAdj(t *testing.T) {
	require.InEpsilon(t, 1000000000.0, maxAdj(&unix.PtpClockCaps{Max_adj: 1000000000}), 0.00001)
	require.InEpsilon(t, DefaultMaxClockFreqPPB, maxAdj(&unix.PtpClockCaps{}), 0.00001)
	require.InEpsilon(t, DefaultMaxClockFreqPPB, maxAdj(nil), 0.00001)
}

func TestFDToClockID(t *testing.T) {
	// CLOCKFD is 3, fd is stored inverted in the upper bits
	require.Equal(t, int32(-5), FDToClockID(0))
	require.Equal(t, int32(-29), FDToClockID(3))
}

func TestIfaceToPHCDeviceNotSupported(t *testing.T) {
	dev, err := IfaceToPHCDevice("lo")
	require.Error(t, err)
	require.Equal(t, "", dev)
}

func TestIfaceToPHCDeviceNotFound(t *testing.T) {
	dev, err := IfaceToPHCDevice("lol-does-not-exist")
	require.Error(t, err)
	require.Equal(t, "", dev)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open("/dev/ptp-does-not-exist")
	require.Error(t, err)
}
