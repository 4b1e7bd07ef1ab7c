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
	"math/rand"
	"testing"
	"time"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/stretchr/testify/require"
)

func localDataset(priority1 uint8, class ptp.ClockClass) *Dataset {
	return LocalDataset(priority1, 128, ptp.ClockQuality{
		ClockClass:              class,
		ClockAccuracy:           ptp.ClockAccuracyUnknown,
		OffsetScaledLogVariance: 0xffff,
	}, receiver)
}

func TestStateDecisionSelectsBetterForeignMaster(t *testing.T) {
	table := NewForeignMasterTable(5, 2, window)
	sender := ptp.PortIdentity{ClockIdentity: 42, PortNumber: 1}
	for seq := uint16(1); seq <= 3; seq++ {
		table.Observe(announceFrom(sender, seq, 10), receiver, epoch.Add(time.Duration(seq)*time.Second))
	}
	now := epoch.Add(3 * time.Second)
	rec := StateDecision(localDataset(128, ptp.ClockClassDefault), table.Qualified(now), false)
	require.Equal(t, RoleSlave, rec.Role)
	require.Equal(t, sender, rec.Best.Sender)
}

func TestStateDecision(t *testing.T) {
	worse := &ForeignRecord{Dataset: &Dataset{Priority1: 200, GrandmasterIdentity: 7, Sender: ptp.PortIdentity{ClockIdentity: 7, PortNumber: 1}}}
	better := &ForeignRecord{Dataset: &Dataset{Priority1: 10, GrandmasterIdentity: 8, Sender: ptp.PortIdentity{ClockIdentity: 8, PortNumber: 1}}}
	self := &ForeignRecord{Dataset: &Dataset{Priority1: 128, GrandmasterIdentity: receiver.ClockIdentity, StepsRemoved: 0, Sender: receiver}}

	tests := []struct {
		name      string
		local     *Dataset
		records   []*ForeignRecord
		slaveOnly bool
		want      Role
		wantBest  *ForeignRecord
	}{
		{name: "nobody around", local: localDataset(128, ptp.ClockClassDefault), want: RoleMaster},
		{name: "slave only, nobody around", local: localDataset(128, ptp.ClockClassDefault), slaveOnly: true, want: RoleListening},
		{name: "slave only follows worse master", local: localDataset(128, ptp.ClockClassDefault), records: []*ForeignRecord{worse}, slaveOnly: true, want: RoleSlave, wantBest: worse},
		{name: "local is better", local: localDataset(128, ptp.ClockClassDefault), records: []*ForeignRecord{worse}, want: RoleMaster},
		{name: "foreign is better", local: localDataset(128, ptp.ClockClassDefault), records: []*ForeignRecord{worse, better}, want: RoleSlave, wantBest: better},
		{name: "master capable clock goes passive", local: localDataset(128, ptp.ClockClassPrimaryReference), records: []*ForeignRecord{better}, want: RolePassive, wantBest: better},
		{name: "own announce looped back", local: localDataset(128, ptp.ClockClassDefault), records: []*ForeignRecord{self}, want: RoleMaster},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := StateDecision(tt.local, tt.records, tt.slaveOnly)
			require.Equal(t, tt.want, rec.Role)
			require.Equal(t, tt.wantBest, rec.Best)
		})
	}
}

func TestStateDecisionPassiveByTopology(t *testing.T) {
	// another path to the same grandmaster as ours, with a lower sender identity
	local := &Dataset{Priority1: 10, GrandmasterIdentity: 5, StepsRemoved: 1, Sender: ptp.PortIdentity{ClockIdentity: 9, PortNumber: 1}}
	other := &ForeignRecord{Dataset: &Dataset{Priority1: 10, GrandmasterIdentity: 5, StepsRemoved: 1, Sender: ptp.PortIdentity{ClockIdentity: 3, PortNumber: 1}}}
	rec := StateDecision(local, []*ForeignRecord{other}, false)
	require.Equal(t, RolePassive, rec.Role)
}

func TestUnqualifiedRecordDoesNotInfluenceDecision(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		table := NewForeignMasterTable(5, 2, window)
		now := epoch
		// qualified contenders
		for j := 0; j < r.Intn(3); j++ {
			s := ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(100 + j), PortNumber: 1}
			for seq := uint16(0); seq < 2; seq++ {
				now = now.Add(time.Second)
				table.Observe(announceFrom(s, seq, uint8(r.Intn(255))), receiver, now)
			}
		}
		// seen once only
		lonely := ptp.PortIdentity{ClockIdentity: 7, PortNumber: 1}
		table.Observe(announceFrom(lonely, 1, 0), receiver, now)
		require.False(t, table.IsQualified(lonely, now))

		local := localDataset(uint8(r.Intn(255)), ptp.ClockClass(r.Intn(256)))
		with := StateDecision(local, table.Qualified(now), false)
		table.Remove(lonely)
		without := StateDecision(local, table.Qualified(now), false)
		require.Equal(t, without, with)
	}
}

func TestRoleString(t *testing.T) {
	require.Equal(t, "MASTER", RoleMaster.String())
	require.Equal(t, "SLAVE", RoleSlave.String())
	require.Equal(t, "PASSIVE", RolePassive.String())
	require.Equal(t, "LISTENING", RoleListening.String())
}
