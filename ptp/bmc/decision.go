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
	"errors"
)

// ErrNoQualifiedMaster is returned when there is nothing to select from. It's a normal outcome, not a failure.
var ErrNoQualifiedMaster = errors.New("no qualified foreign master")

// Role is the outcome of the state decision algorithm
type Role uint8

// Roles recommended by the state decision
const (
	RoleListening Role = iota
	RoleMaster
	RolePassive
	RoleSlave
)

// RoleToString is a map from Role to string
var RoleToString = map[Role]string{
	RoleListening: "LISTENING",
	RoleMaster:    "MASTER",
	RolePassive:   "PASSIVE",
	RoleSlave:     "SLAVE",
}

func (r Role) String() string {
	return RoleToString[r]
}

// Recommendation is the recommended role and the master to follow, if any
type Recommendation struct {
	Role Role
	Best *ForeignRecord
}

// Best folds records into the single best one
func Best(records []*ForeignRecord) (*ForeignRecord, error) {
	var best *ForeignRecord
	for _, r := range records {
		if best == nil || Compare(r.Dataset, best.Dataset).ABetterOrEqual() {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNoQualifiedMaster
	}
	return best, nil
}

// StateDecision maps local dataset and qualified foreign records to a recommended role,
// following 9.3.3 for an ordinary clock with a single port
func StateDecision(local *Dataset, qualified []*ForeignRecord, slaveOnly bool) Recommendation {
	best, err := Best(qualified)
	if slaveOnly {
		if err != nil {
			return Recommendation{Role: RoleListening}
		}
		return Recommendation{Role: RoleSlave, Best: best}
	}
	if err != nil {
		return Recommendation{Role: RoleMaster}
	}
	switch Compare(local, best.Dataset) {
	case ABetter, ABetterTopo, ErrorSameIdentity:
		return Recommendation{Role: RoleMaster}
	case BBetterTopo:
		return Recommendation{Role: RolePassive, Best: best}
	}
	if local.ClockQuality.ClockClass.MasterCapable() {
		return Recommendation{Role: RolePassive, Best: best}
	}
	return Recommendation{Role: RoleSlave, Best: best}
}
