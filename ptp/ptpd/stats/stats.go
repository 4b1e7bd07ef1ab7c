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

package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// port stats prefixes
const (
	PortStatsTxPrefix = "ptp.ptpd.portstats.tx."
	PortStatsRxPrefix = "ptp.ptpd.portstats.rx."
)

// counters reported by the port
const (
	RxMalformed             = "ptp.ptpd.rx.malformed"
	RxUnsupported           = "ptp.ptpd.rx.unsupported"
	RxStale                 = "ptp.ptpd.rx.stale"
	RxLooped                = "ptp.ptpd.rx.looped"
	RxForeign               = "ptp.ptpd.rx.not_from_parent"
	TransportErrors         = "ptp.ptpd.transport.errors"
	ClockErrors             = "ptp.ptpd.clock.errors"
	ClockSteps              = "ptp.ptpd.clock.steps"
	ClockFreqClamped        = "ptp.ptpd.clock.freq_clamped"
	AnnounceTimeouts        = "ptp.ptpd.announce.receipt_timeouts"
	SyncTimeouts            = "ptp.ptpd.sync.receipt_timeouts"
	StateChanges            = "ptp.ptpd.state.changes"
	PortState               = "ptp.ptpd.state"
	ServoState              = "ptp.ptpd.servo.state"
	OffsetFromMasterNS      = "ptp.ptpd.offset_from_master_ns"
	MeanPathDelayNS         = "ptp.ptpd.mean_path_delay_ns"
	ObservedDriftPPB        = "ptp.ptpd.observed_drift_ppb"
	ServoSpikes             = "ptp.ptpd.servo.spikes"
	ForeignMasters          = "ptp.ptpd.foreign_masters"
	QualifiedForeignMasters = "ptp.ptpd.foreign_masters.qualified"
)

// Counters is various counters exported by ptpd
type Counters map[string]int64

// PortStats returns two maps: packet type to counter, TX and RX
func (c Counters) PortStats() (tx map[string]uint64, rx map[string]uint64) {
	tx = map[string]uint64{}
	rx = map[string]uint64{}
	for k, v := range c {
		if strings.HasPrefix(k, PortStatsTxPrefix) {
			tx[strings.TrimPrefix(k, PortStatsTxPrefix)] = uint64(v)
		}
		if strings.HasPrefix(k, PortStatsRxPrefix) {
			rx[strings.TrimPrefix(k, PortStatsRxPrefix)] = uint64(v)
		}
	}
	return
}

// SysStats return everything except port stats
func (c Counters) SysStats() map[string]int64 {
	res := map[string]int64{}
	for k, v := range c {
		if strings.HasPrefix(k, PortStatsTxPrefix) {
			continue
		}
		if strings.HasPrefix(k, PortStatsRxPrefix) {
			continue
		}
		res[k] = v
	}
	return res
}

func fetch(url string, v any) error {
	c := http.Client{
		Timeout: time.Second * 2,
	}

	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// FetchCounters returns counters map fetched from the url
func FetchCounters(url string) (Counters, error) {
	counters := make(Counters)
	err := fetch(fmt.Sprintf("%s/counters", url), &counters)
	return counters, err
}

// FetchStatus decodes port status fetched from the url into v
func FetchStatus(url string, v any) error {
	return fetch(url, v)
}

// FetchPortStats fetches all counters and then returns two maps: packet type to counter, TX and RX
func FetchPortStats(url string) (tx map[string]uint64, rx map[string]uint64, err error) {
	counters, err := FetchCounters(url)
	if err != nil {
		return nil, nil, err
	}
	tx, rx = counters.PortStats()
	return tx, rx, err
}
