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

package protocol

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimeInternalNormalizes(t *testing.T) {
	tests := []struct {
		sec, nsec int64
		want      TimeInternal
	}{
		{0, 0, TimeInternal{}},
		{1, 1500000000, TimeInternal{Seconds: 2, Nanoseconds: 500000000}},
		{0, -1, TimeInternal{Seconds: -1, Nanoseconds: 999999999}},
		{2, -2500000000, TimeInternal{Seconds: -1, Nanoseconds: 500000000}},
		{-3, 0, TimeInternal{Seconds: -3}},
	}
	for _, tt := range tests {
		got := NewTimeInternal(tt.sec, tt.nsec)
		require.Equal(t, tt.want, got)
		require.Equal(t, tt.sec*int64(time.Second)+tt.nsec, got.TotalNanoseconds())
	}
}

func TestTimeInternalArithmetic(t *testing.T) {
	t1 := NewTimeInternal(10, 0)
	t2 := NewTimeInternal(10, 50100)
	d := t2.Sub(t1)
	require.Equal(t, int64(50100), d.TotalNanoseconds())
	require.Equal(t, int64(-50100), t1.Sub(t2).TotalNanoseconds())
	require.Equal(t, t2, t1.Add(d))
	require.Equal(t, int64(-50100), d.Neg().TotalNanoseconds())
	require.Equal(t, int64(25050), d.Half().TotalNanoseconds())
	require.Equal(t, int64(-25050), d.Neg().Half().TotalNanoseconds())
	require.True(t, t1.Before(t2))
	require.False(t, t2.Before(t1))
	require.True(t, TimeInternal{}.IsZero())
}

func TestTimeInternalConversions(t *testing.T) {
	now := time.Unix(1653574589, 806327000)
	ti := TimeInternalFromTime(now)
	require.True(t, now.Equal(ti.Time()))
	require.Equal(t, NewTimestamp(now), ti.Timestamp())
	require.Equal(t, ti, TimeInternalFromTimestamp(ti.Timestamp()))

	require.Equal(t, Timestamp{}, NewTimeInternal(-1, 0).Timestamp())
	require.Equal(t, 1500*time.Millisecond, TimeInternalFromDuration(1500*time.Millisecond).Duration())
	require.Equal(t, "1.500000000", TimeInternalFromDuration(1500*time.Millisecond).String())
	require.Equal(t, "-0.000000100", TimeInternalFromNanoseconds(-100).String())
}

func TestTimeInternalHalfLarge(t *testing.T) {
	require.Equal(t, NewTimeInternal(3, 500000000), NewTimeInternal(7, 0).Half())
	require.Equal(t, NewTimeInternal(-3, -500000000), NewTimeInternal(-7, 0).Half())
	require.Equal(t, TimeInternal{}, TimeInternalFromNanoseconds(-1).Half())

	// far beyond int64 nanoseconds
	big := NewTimeInternal(1<<40+1, 3)
	require.Equal(t, NewTimeInternal(1<<39, 500000001), big.Half())
	require.Equal(t, big.Half().Neg(), big.Neg().Half())
}

func TestTimeInternalRange(t *testing.T) {
	ok := NewTimeInternal(9000000000, 1)
	require.True(t, ok.InRange())
	d, err := ok.CheckedDuration()
	require.NoError(t, err)
	require.Equal(t, time.Duration(9000000000*int64(time.Second)+1), d)

	// 2^40 s minus current time, as from a master with garbage in its clock
	far := NewTimeInternal(1700000000, 0).Sub(NewTimeInternal(1<<40, 0))
	require.False(t, far.InRange())
	_, err = far.CheckedDuration()
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, int64(math.MinInt64), far.TotalNanoseconds())
	require.Equal(t, time.Duration(math.MaxInt64), far.Neg().Duration())
}
