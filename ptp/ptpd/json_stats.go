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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	contentType     = "Content-Type"
	applicationJSON = "application/json"
)

// StatusSource is anything that can report port status, normally the Port
type StatusSource interface {
	Status() Status
}

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	Stats
	sys SysStats

	srcMu  sync.Mutex
	source StatusSource
}

// NewJSONStats returns a new JSONStats
func NewJSONStats() *JSONStats {
	return &JSONStats{Stats: Stats{counters: map[string]int64{}}}
}

// SetStatusSource sets where the status served on / comes from
func (s *JSONStats) SetStatusSource(src StatusSource) {
	s.srcMu.Lock()
	s.source = src
	s.srcMu.Unlock()
}

// Handler returns http handler serving port status on / and counters on /counters
func (s *JSONStats) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRootRequest)
	mux.HandleFunc("/counters", s.handleCountersRequest)
	return mux
}

// Start collects system stats every interval and runs http server. Blocks until the server fails.
func (s *JSONStats) Start(monitoringport int, interval time.Duration) error {
	go func() {
		for range time.Tick(interval) {
			if err := s.sys.CollectInto(s, interval); err != nil {
				log.Warningf("failed to get system metrics %s", err)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("Starting http json server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func writeJSON(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(contentType, applicationJSON)
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// handleRootRequest serves status of the port
func (s *JSONStats) handleRootRequest(w http.ResponseWriter, _ *http.Request) {
	s.srcMu.Lock()
	src := s.source
	s.srcMu.Unlock()
	if src == nil {
		http.Error(w, "port is not running", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, src.Status())
}

// handleCountersRequest serves all counters
func (s *JSONStats) handleCountersRequest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.GetCounters())
}
