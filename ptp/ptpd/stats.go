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
	"maps"
	"sync"
)

// Stats keeps counters of the port in memory
type Stats struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewStats returns empty Stats
func NewStats() *Stats {
	return &Stats{counters: map[string]int64{}}
}

// UpdateCounterBy adds count to the counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += count
}

// SetCounter overwrites the counter
func (s *Stats) SetCounter(key string, val int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = val
}

// GetCounters returns a snapshot of all counters
func (s *Stats) GetCounters() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.counters)
}
