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
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// sysStatsPrefix is prepended to every process and runtime counter
const sysStatsPrefix = "ptp.ptpd.sys."

var procStartTime = time.Now()

// SysStats collects process and Go runtime metrics of the daemon
type SysStats struct {
	proc *process.Process
	prev *runtime.MemStats
}

// delta records how much a monotonic counter grew since the last collection
func delta(name string, counts map[string]int64, cur, prev uint64, interval time.Duration) {
	if prev > cur {
		return
	}
	secs := int64(interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	counts[fmt.Sprintf("%s.sum.%d", name, secs)] = int64(cur - prev)
	counts[fmt.Sprintf("%s.rate.%d", name, secs)] = int64(cur-prev) / secs
}

// CollectRuntimeStats gathers cpu, memory and gc statistics
func (s *SysStats) CollectRuntimeStats(interval time.Duration) (map[string]int64, error) {
	if s.proc == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil, fmt.Errorf("looking up own process: %w", err)
		}
		s.proc = proc
	}
	res := map[string]int64{
		"process.uptime": int64(time.Since(procStartTime).Seconds()),
	}
	if val, err := s.proc.Percent(0); err == nil {
		res["process.cpu_pct"] = int64(val * 100)
	}
	if val, err := s.proc.MemoryInfo(); err == nil {
		res["process.rss"] = int64(val.RSS)
		res["process.vms"] = int64(val.VMS)
	}
	if val, err := s.proc.NumFDs(); err == nil {
		res["process.num_fds"] = int64(val)
	}
	if val, err := s.proc.NumThreads(); err == nil {
		res["process.num_threads"] = int64(val)
	}

	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	res["runtime.goroutines"] = int64(runtime.NumGoroutine())
	res["runtime.mem.alloc"] = int64(m.Alloc)
	res["runtime.mem.sys"] = int64(m.Sys)
	res["runtime.mem.heap.inuse"] = int64(m.HeapInuse)
	res["runtime.mem.heap.objects"] = int64(m.HeapObjects)
	res["runtime.mem.stack.inuse"] = int64(m.StackInuse)
	res["runtime.gc.count"] = int64(m.NumGC)
	res["runtime.gc.pause_total"] = int64(m.PauseTotalNs)
	if s.prev != nil {
		delta("runtime.mem.mallocs", res, m.Mallocs, s.prev.Mallocs, interval)
		delta("runtime.mem.frees", res, m.Frees, s.prev.Frees, interval)
		delta("runtime.gc.pause_ns", res, m.PauseTotalNs, s.prev.PauseTotalNs, interval)
	}
	s.prev = m
	return res, nil
}

// CollectInto reports runtime stats to stats server, prefixed
func (s *SysStats) CollectInto(stats StatsServer, interval time.Duration) error {
	res, err := s.CollectRuntimeStats(interval)
	if err != nil {
		return err
	}
	for k, v := range res {
		stats.SetCounter(sysStatsPrefix+k, v)
	}
	return nil
}
