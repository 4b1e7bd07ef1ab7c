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

/*
Package bmc implements the Best Master Clock selection of IEEE 1588-2008 (9.3):
dataset comparison, the foreign master table and the state decision for an ordinary clock.
*/
package bmc

import (
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// ComparisonResult is the type to represent comparisons
type ComparisonResult int8

const (
	// ABetterTopo means A is better based on topology
	ABetterTopo ComparisonResult = 2
	// ABetter means A is better based on advertised quality
	ABetter ComparisonResult = 1
	// ErrorSameIdentity means A and B describe the same clock seen through the same port
	ErrorSameIdentity ComparisonResult = 0
	// BBetter means B is better based on advertised quality
	BBetter ComparisonResult = -1
	// BBetterTopo means B is better based on topology
	BBetterTopo ComparisonResult = -2
)

// ComparisonResultToString is a map from ComparisonResult to string
var ComparisonResultToString = map[ComparisonResult]string{
	ABetterTopo:       "A_BETTER_BY_TOPOLOGY",
	ABetter:           "A_BETTER",
	ErrorSameIdentity: "ERROR_SAME_IDENTITY",
	BBetter:           "B_BETTER",
	BBetterTopo:       "B_BETTER_BY_TOPOLOGY",
}

func (c ComparisonResult) String() string {
	return ComparisonResultToString[c]
}

// ABetterOrEqual reports whether A wins, by quality or topology
func (c ComparisonResult) ABetterOrEqual() bool {
	return c > 0
}

func cmpUint[T ~uint8 | ~uint16 | ~uint64](a, b T) ComparisonResult {
	switch {
	case a < b:
		return ABetter
	case a > b:
		return BBetter
	}
	return ErrorSameIdentity
}

// compareTopology finds better dataset when both advertise the same grandmaster
func compareTopology(a, b *Dataset) ComparisonResult {
	if a.StepsRemoved+1 < b.StepsRemoved {
		return ABetter
	}
	if b.StepsRemoved+1 < a.StepsRemoved {
		return BBetter
	}
	if a.StepsRemoved < b.StepsRemoved {
		return ABetterTopo
	}
	if a.StepsRemoved > b.StepsRemoved {
		return BBetterTopo
	}
	switch a.Sender.Compare(b.Sender) {
	case -1:
		return ABetterTopo
	case 1:
		return BBetterTopo
	}
	return ErrorSameIdentity
}

// Compare runs the dataset comparison algorithm over two datasets
func Compare(a, b *Dataset) ComparisonResult {
	if a.GrandmasterIdentity == b.GrandmasterIdentity {
		return compareTopology(a, b)
	}
	if r := cmpUint(a.Priority1, b.Priority1); r != ErrorSameIdentity {
		return r
	}
	qa, qb := a.ClockQuality, b.ClockQuality
	if r := cmpUint(qa.ClockClass, qb.ClockClass); r != ErrorSameIdentity {
		return r
	}
	if r := cmpUint(qa.ClockAccuracy, qb.ClockAccuracy); r != ErrorSameIdentity {
		return r
	}
	if r := cmpUint(qa.OffsetScaledLogVariance, qb.OffsetScaledLogVariance); r != ErrorSameIdentity {
		return r
	}
	if r := cmpUint(a.Priority2, b.Priority2); r != ErrorSameIdentity {
		return r
	}
	return cmpUint(a.GrandmasterIdentity, b.GrandmasterIdentity)
}

// CompareAnnounce compares two Announce messages as received by the same port
func CompareAnnounce(a, b *ptp.Announce) ComparisonResult {
	return Compare(DatasetFromAnnounce(a, ptp.PortIdentity{}), DatasetFromAnnounce(b, ptp.PortIdentity{}))
}
