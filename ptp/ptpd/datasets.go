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
	"time"

	"github.com/ordinaryclock/ptpd/ptp/bmc"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// CurrentDS is IEEE 1588-2008 8.2.2 currentDS
type CurrentDS struct {
	StepsRemoved     uint16
	OffsetFromMaster time.Duration
	MeanPathDelay    time.Duration
}

// ParentDS is IEEE 1588-2008 8.2.3 parentDS
type ParentDS struct {
	ParentPortIdentity      ptp.PortIdentity
	GrandmasterIdentity     ptp.ClockIdentity
	GrandmasterClockQuality ptp.ClockQuality
	GrandmasterPriority1    uint8
	GrandmasterPriority2    uint8
}

// TimePropertiesDS is IEEE 1588-2008 8.2.4 timePropertiesDS
type TimePropertiesDS struct {
	CurrentUTCOffset int16
	// Flags holds the second octet of flagField: leap, UTC offset valid, timescale and traceability
	Flags      uint16
	TimeSource ptp.TimeSource
}

const timePropertiesFlags = ptp.FlagLeap61 | ptp.FlagLeap59 | ptp.FlagCurrentUtcOffsetValid |
	ptp.FlagPTPTimescale | ptp.FlagTimeTraceable | ptp.FlagFrequencyTraceable

// datasets is everything the port knows about itself and its parent
type datasets struct {
	defaultDS *bmc.Dataset
	current   CurrentDS
	parentDS  ParentDS
	timeProps TimePropertiesDS
}

// newDefaultDS builds the local dataset from config
func newDefaultDS(cfg *Config, port ptp.PortIdentity) *bmc.Dataset {
	quality := cfg.ClockQuality
	if cfg.SlaveOnly {
		quality.ClockClass = ptp.ClockClassSlaveOnly
	}
	return bmc.LocalDataset(cfg.Priority1, cfg.Priority2, quality, port)
}

// updateMaster is the m1 update: we are the grandmaster
func (d *datasets) updateMaster(cfg *Config) {
	d.current = CurrentDS{}
	d.parentDS = ParentDS{
		ParentPortIdentity:      d.defaultDS.Sender,
		GrandmasterIdentity:     d.defaultDS.GrandmasterIdentity,
		GrandmasterClockQuality: d.defaultDS.ClockQuality,
		GrandmasterPriority1:    d.defaultDS.Priority1,
		GrandmasterPriority2:    d.defaultDS.Priority2,
	}
	d.timeProps = TimePropertiesDS{
		CurrentUTCOffset: cfg.CurrentUTCOffset,
		Flags:            ptp.FlagPTPTimescale | ptp.FlagCurrentUtcOffsetValid,
		TimeSource:       ptp.TimeSourceInternalOscillator,
	}
}

// updateSlave is the s1 update: the master that sent the Announce is our parent
func (d *datasets) updateSlave(a *ptp.Announce) {
	d.current.StepsRemoved = a.StepsRemoved + 1
	d.parentDS = ParentDS{
		ParentPortIdentity:      a.SourcePortIdentity,
		GrandmasterIdentity:     a.GrandmasterIdentity,
		GrandmasterClockQuality: a.GrandmasterClockQuality,
		GrandmasterPriority1:    a.GrandmasterPriority1,
		GrandmasterPriority2:    a.GrandmasterPriority2,
	}
	d.timeProps = TimePropertiesDS{
		CurrentUTCOffset: a.CurrentUTCOffset,
		Flags:            a.FlagField & timePropertiesFlags,
		TimeSource:       a.TimeSource,
	}
}

// announceBody is what we advertise as master
func (d *datasets) announceBody(origin ptp.Timestamp) ptp.AnnounceBody {
	return ptp.AnnounceBody{
		OriginTimestamp:         origin,
		CurrentUTCOffset:        d.timeProps.CurrentUTCOffset,
		GrandmasterPriority1:    d.parentDS.GrandmasterPriority1,
		GrandmasterClockQuality: d.parentDS.GrandmasterClockQuality,
		GrandmasterPriority2:    d.parentDS.GrandmasterPriority2,
		GrandmasterIdentity:     d.parentDS.GrandmasterIdentity,
		StepsRemoved:            d.current.StepsRemoved,
		TimeSource:              d.timeProps.TimeSource,
	}
}
