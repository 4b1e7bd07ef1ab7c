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

package drain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSwitch struct {
	starts int
	stops  int
}

func (f *fakeSwitch) Start() { f.starts++ }
func (f *fakeSwitch) Stop()  { f.stops++ }

func TestFileDrainCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kill")
	check := &FileDrain{FileName: path}
	require.False(t, check.Check())

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.True(t, check.Check())

	require.NoError(t, os.Remove(path))
	require.False(t, check.Check())
}

func TestWatcherPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kill")
	w := &Watcher{Checks: []Check{&FileDrain{FileName: path}}}
	s := &fakeSwitch{}

	// nothing to do while not asked
	require.False(t, w.Poll(s))
	require.Equal(t, 0, s.starts+s.stops)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.True(t, w.Poll(s))
	require.True(t, w.Poll(s))
	require.Equal(t, 1, s.stops)
	require.Equal(t, 0, s.starts)

	require.NoError(t, os.Remove(path))
	require.False(t, w.Poll(s))
	require.Equal(t, 1, s.stops)
	require.Equal(t, 1, s.starts)
}

func TestWatcherRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kill")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	w := &Watcher{Checks: []Check{&FileDrain{FileName: path}}, Interval: time.Millisecond}
	s := &fakeSwitch{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx, s))
	require.Equal(t, 1, s.stops)
}
