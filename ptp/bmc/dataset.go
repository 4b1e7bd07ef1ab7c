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

package bmc

import (
	"fmt"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// Dataset is a candidate clock as seen by the BMC, either this clock or one advertised in an Announce
type Dataset struct {
	Priority1           uint8
	ClockQuality        ptp.ClockQuality
	Priority2           uint8
	GrandmasterIdentity ptp.ClockIdentity
	StepsRemoved        uint16
	// Sender is the port the dataset was received from, own port for the local dataset
	Sender ptp.PortIdentity
	// Receiver is the port the dataset was received on
	Receiver ptp.PortIdentity
}

// LocalDataset builds the dataset describing this clock as a candidate grandmaster
func LocalDataset(priority1, priority2 uint8, quality ptp.ClockQuality, port ptp.PortIdentity) *Dataset {
	return &Dataset{
		Priority1:           priority1,
		ClockQuality:        quality,
		Priority2:           priority2,
		GrandmasterIdentity: port.ClockIdentity,
		StepsRemoved:        0,
		Sender:              port,
		Receiver:            port,
	}
}

// DatasetFromAnnounce builds the dataset advertised by an Announce message
func DatasetFromAnnounce(a *ptp.Announce, receiver ptp.PortIdentity) *Dataset {
	return &Dataset{
		Priority1:           a.GrandmasterPriority1,
		ClockQuality:        a.GrandmasterClockQuality,
		Priority2:           a.GrandmasterPriority2,
		GrandmasterIdentity: a.GrandmasterIdentity,
		StepsRemoved:        a.StepsRemoved,
		Sender:              a.SourcePortIdentity,
		Receiver:            receiver,
	}
}

// AnnounceBody fills grandmaster fields of an Announce body from the dataset
func (d *Dataset) AnnounceBody(origin ptp.Timestamp, utcOffset int16, source ptp.TimeSource) ptp.AnnounceBody {
	return ptp.AnnounceBody{
		OriginTimestamp:         origin,
		CurrentUTCOffset:        utcOffset,
		GrandmasterPriority1:    d.Priority1,
		GrandmasterClockQuality: d.ClockQuality,
		GrandmasterPriority2:    d.Priority2,
		GrandmasterIdentity:     d.GrandmasterIdentity,
		StepsRemoved:            d.StepsRemoved,
		TimeSource:              source,
	}
}

func (d *Dataset) String() string {
	return fmt.Sprintf("gm=%s p1=%d class=%d acc=%#x var=%#x p2=%d steps=%d from=%s",
		d.GrandmasterIdentity, d.Priority1, d.ClockQuality.ClockClass, uint8(d.ClockQuality.ClockAccuracy),
		d.ClockQuality.OffsetScaledLogVariance, d.Priority2, d.StepsRemoved, d.Sender)
}
