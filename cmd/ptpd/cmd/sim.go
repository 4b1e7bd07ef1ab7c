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
	"time"

	refclock "github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ordinaryclock/ptpd/clock"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd"
	"github.com/ordinaryclock/ptpd/ptp/transport"
)

// simTick is the resolution of simulated time
const simTick = 10 * time.Millisecond

// flags
var (
	simDurationFlag time.Duration
	simReportFlag   time.Duration
	simDelayFlag    time.Duration
	simOffsetFlag   time.Duration
	simDriftFlag    float64
	simSlavesFlag   int
	simP2PFlag      bool
	simConfigFlag   string
)

func init() {
	RootCmd.AddCommand(simCmd)
	simCmd.Flags().DurationVarP(&simDurationFlag, "duration", "t", 10*time.Minute, "simulated time to run for")
	simCmd.Flags().DurationVarP(&simReportFlag, "report", "r", 30*time.Second, "how often to print offsets")
	simCmd.Flags().DurationVar(&simDelayFlag, "delay", 50*time.Microsecond, "one way network delay")
	simCmd.Flags().DurationVar(&simOffsetFlag, "offset", 5*time.Millisecond, "initial offset of the first slave, others get multiples of it")
	simCmd.Flags().Float64Var(&simDriftFlag, "drift", 10000, "frequency error of the first slave in ppb, others get multiples of it")
	simCmd.Flags().IntVarP(&simSlavesFlag, "slaves", "n", 1, "number of slaves")
	simCmd.Flags().BoolVar(&simP2PFlag, "p2p", false, "use peer delay mechanism")
	simCmd.Flags().StringVarP(&simConfigFlag, "config", "c", "", "path to the config used by all simulated clocks")
}

// SimConfig describes the simulated network
type SimConfig struct {
	Base     *ptpd.Config
	Slaves   int
	Delay    time.Duration
	Offset   time.Duration
	DriftPPB float64
	Duration time.Duration
	Report   time.Duration
}

type simNode struct {
	name string
	sim  *clock.Sim
	port *ptpd.Port
}

// Simulation runs one master and a number of slaves off a shared reference clock
type Simulation struct {
	ref    *refclock.Mock
	bus    *transport.Bus
	master *simNode
	slaves []*simNode
}

// NewSimulation sets up the nodes, identities are 1 for the master and sequential for the slaves
func NewSimulation(c *SimConfig) (*Simulation, error) {
	ref := refclock.NewMock()
	ref.Set(time.Now())
	s := &Simulation{ref: ref, bus: transport.NewBus(c.Delay)}

	newNode := func(name string, cfg *ptpd.Config, id ptp.ClockIdentity, offset time.Duration, drift float64) (*simNode, error) {
		sim := clock.NewSim(ref, offset, drift, int64(id))
		port, err := ptpd.NewPort(cfg, id, sim, s.bus.Join(sim), ptpd.WithClock(ref))
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
		return &simNode{name: name, sim: sim, port: port}, nil
	}

	mcfg := *c.Base
	mcfg.SlaveOnly = false
	mcfg.Priority1 = 0
	var err error
	if s.master, err = newNode("master", &mcfg, 1, 0, 0); err != nil {
		return nil, err
	}
	for i := 1; i <= c.Slaves; i++ {
		scfg := *c.Base
		scfg.SlaveOnly = true
		n, err := newNode(fmt.Sprintf("slave%d", i), &scfg, ptp.ClockIdentity(i+1), time.Duration(i)*c.Offset, float64(i)*c.DriftPPB)
		if err != nil {
			return nil, err
		}
		s.slaves = append(s.slaves, n)
	}
	return s, nil
}

// Advance runs all the ports for d of simulated time
func (s *Simulation) Advance(d time.Duration) {
	nodes := append([]*simNode{s.master}, s.slaves...)
	for elapsed := time.Duration(0); elapsed < d; elapsed += simTick {
		s.ref.Add(simTick)
		for _, n := range nodes {
			n.port.RunOnce(0)
		}
	}
}

// Offsets returns how far each slave clock is from the master clock
func (s *Simulation) Offsets() []time.Duration {
	m := s.master.sim.Offset()
	res := make([]time.Duration, 0, len(s.slaves))
	for _, n := range s.slaves {
		res = append(res, n.sim.Offset()-m)
	}
	return res
}

// Report writes one line per slave
func (s *Simulation) Report(w io.Writer, elapsed time.Duration) {
	offsets := s.Offsets()
	for i, n := range s.slaves {
		st := n.port.Status()
		fmt.Fprintf(w, "%10v %-8s %-12s offset %12v freq %+10.1f ppb delay %10v\n",
			elapsed, n.name, st.State, offsets[i], n.sim.FrequencyPPB(), st.MeanPathDelay)
	}
}

// Run advances the simulation reporting every c.Report
func (s *Simulation) Run(w io.Writer, c *SimConfig) {
	report := c.Report
	if report <= 0 {
		report = c.Duration
	}
	for elapsed := time.Duration(0); elapsed < c.Duration; {
		step := report
		if left := c.Duration - elapsed; left < step {
			step = left
		}
		s.Advance(step)
		elapsed += step
		s.Report(w, elapsed)
	}
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulate master and slaves with drifting clocks in memory",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if !rootVerboseFlag {
			// state changes of all the nodes are too noisy for the report
			log.SetLevel(log.WarnLevel)
		}

		base := ptpd.DefaultConfig()
		if simConfigFlag != "" {
			var err error
			if base, err = ptpd.ReadConfig(simConfigFlag); err != nil {
				log.Fatal(err)
			}
		}
		if simP2PFlag {
			base.DelayMechanism = ptp.DelayMechanismP2P
		}
		c := &SimConfig{
			Base:     base,
			Slaves:   simSlavesFlag,
			Delay:    simDelayFlag,
			Offset:   simOffsetFlag,
			DriftPPB: simDriftFlag,
			Duration: simDurationFlag,
			Report:   simReportFlag,
		}
		s, err := NewSimulation(c)
		if err != nil {
			log.Fatal(err)
		}
		s.Run(os.Stdout, c)
	},
}
