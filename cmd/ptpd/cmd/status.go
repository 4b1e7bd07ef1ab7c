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

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd"
	"github.com/ordinaryclock/ptpd/ptp/ptpd/stats"
)

// flags
var (
	statusAddressFlag  string
	statusCountersFlag bool
)

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusAddressFlag, "address", "a", fmt.Sprintf("http://localhost:%d", ptpd.DefaultConfig().MonitoringPort), "monitoring address of ptpd")
	statusCmd.Flags().BoolVarP(&statusCountersFlag, "counters", "c", false, "print all counters as well")
}

func colorState(state string) string {
	switch state {
	case ptp.PortStateSlave.String(), ptp.PortStateMaster.String():
		return color.GreenString(state)
	case ptp.PortStateFaulty.String(), ptp.PortStateDisabled.String():
		return color.RedString(state)
	}
	return color.YellowString(state)
}

func printStatus(w io.Writer, st *ptpd.Status) error {
	table := tablewriter.NewWriter(w)
	table.Header("field", "value")
	rows := [][]string{
		{"state", colorState(st.State)},
		{"port identity", st.PortIdentity},
		{"parent port identity", st.ParentPortIdentity},
		{"grandmaster identity", st.GrandmasterIdentity},
		{"steps removed", fmt.Sprintf("%d", st.StepsRemoved)},
		{"delay mechanism", st.DelayMechanism},
		{"mean path delay", st.MeanPathDelay.String()},
		{"offset from master", st.OffsetFromMaster.String()},
		{"observed drift (ppb)", fmt.Sprintf("%.3f", st.ObservedDrift)},
		{"servo state", st.ServoState},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func printCounters(w io.Writer, counters stats.Counters) error {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	table := tablewriter.NewWriter(w)
	table.Header("counter", "value")
	for _, k := range keys {
		if err := table.Append([]string{k, fmt.Sprintf("%d", counters[k])}); err != nil {
			return err
		}
	}
	return table.Render()
}

func statusRun(w io.Writer, address string, withCounters bool) error {
	st := &ptpd.Status{}
	if err := stats.FetchStatus(address, st); err != nil {
		return fmt.Errorf("fetching status from %s: %w", address, err)
	}
	if err := printStatus(w, st); err != nil {
		return err
	}
	if !withCounters {
		return nil
	}
	counters, err := stats.FetchCounters(address)
	if err != nil {
		return fmt.Errorf("fetching counters from %s: %w", address, err)
	}
	return printCounters(w, counters)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print status of the running ptpd",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		if err := statusRun(os.Stdout, statusAddressFlag, statusCountersFlag); err != nil {
			log.Fatal(err)
		}
	},
}
