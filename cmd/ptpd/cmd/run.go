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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ordinaryclock/ptpd/clock"
	"github.com/ordinaryclock/ptpd/phc"
	"github.com/ordinaryclock/ptpd/ptp/drain"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd"
	"github.com/ordinaryclock/ptpd/ptp/ptpd/stats"
	"github.com/ordinaryclock/ptpd/ptp/transport"

	_ "net/http/pprof"
)

// flags
var (
	runConfigFlag          string
	runIfaceFlag           string
	runMonitoringPortFlag  int
	runDomainFlag          int
	runSlaveOnlyFlag       bool
	runExporterPortFlag    int
	runMetricsIntervalFlag time.Duration
	runPprofFlag           string
	runDrainFileFlag       string
	runDrainIntervalFlag   time.Duration
)

func init() {
	defaults := ptpd.DefaultConfig()
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "path to the config")
	runCmd.Flags().StringVarP(&runIfaceFlag, "iface", "i", defaults.Iface, "network interface to use")
	runCmd.Flags().IntVar(&runMonitoringPortFlag, "monitoringport", defaults.MonitoringPort, "port to start monitoring http server on")
	runCmd.Flags().IntVarP(&runDomainFlag, "domain", "d", int(defaults.DomainNumber), "PTP domain")
	runCmd.Flags().BoolVarP(&runSlaveOnlyFlag, "slaveonly", "s", defaults.SlaveOnly, "never become master")
	runCmd.Flags().IntVar(&runExporterPortFlag, "exporterport", 0, "port to serve prometheus metrics on, disabled if 0")
	runCmd.Flags().DurationVar(&runMetricsIntervalFlag, "metricsinterval", time.Minute, "how often system metrics are collected")
	runCmd.Flags().StringVar(&runPprofFlag, "pprof", "", "address to have the profiler listen on, disabled if empty")
	runCmd.Flags().StringVar(&runDrainFileFlag, "drainfile", drain.DefaultKillswitch, "port is DISABLED while this file exists, empty disables the check")
	runCmd.Flags().DurationVar(&runDrainIntervalFlag, "draininterval", 10*time.Second, "how often to look for the drain file")
}

// clockIdentity derives EUI-64 clock identity from the interface MAC
func clockIdentity(iface string) (ptp.ClockIdentity, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return 0, err
	}
	return ptp.NewClockIdentity(ifi.HardwareAddr)
}

// openTimeSource returns the clock to discipline and a function releasing it
func openTimeSource(cfg *ptpd.Config) (ptpd.TimeSource, func() error, error) {
	if cfg.TimeSource == ptpd.TimeSourceRealtime {
		src, err := clock.NewRealtime()
		return src, func() error { return nil }, err
	}
	dev, err := phc.OpenIface(cfg.Iface)
	if err != nil {
		return nil, nil, err
	}
	src, err := clock.NewSource(dev.ClockID(), dev.Name(), dev.MaxFreqPPB())
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return src, dev.Close, nil
}

// notifySystemd reports readiness and keeps the watchdog fed while the port is not FAULTY
func notifySystemd(ctx context.Context, port *ptpd.Port) error {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("failed to notify systemd: %v", err)
	} else if !sent {
		log.Debug("not running under systemd")
		return nil
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if port.Status().State == ptp.PortStateFaulty.String() {
				log.Warning("port is FAULTY, not feeding systemd watchdog")
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warningf("failed to feed systemd watchdog: %v", err)
			}
		}
	}
}

func runDaemon(ctx context.Context, cfg *ptpd.Config) error {
	clockID, err := clockIdentity(cfg.Iface)
	if err != nil {
		return fmt.Errorf("getting clock identity of %s: %w", cfg.Iface, err)
	}
	ts, release, err := openTimeSource(cfg)
	if err != nil {
		return fmt.Errorf("opening %s clock: %w", cfg.TimeSource, err)
	}
	defer release()

	tr, err := transport.NewUDP(transport.UDPConfig{
		Iface:        cfg.Iface,
		Timestamping: cfg.Timestamping,
		DSCP:         cfg.DSCP,
		P2P:          cfg.DelayMechanism == ptp.DelayMechanismP2P,
	})
	if err != nil {
		return err
	}
	defer tr.Close()

	st := ptpd.NewJSONStats()
	port, err := ptpd.NewPort(cfg, clockID, ts, tr, ptpd.WithStats(st))
	if err != nil {
		return err
	}
	st.SetStatusSource(port)
	log.Infof("clock %s port %s on %s", ts, port.PortIdentity(), cfg.Iface)

	go func() {
		if err := st.Start(cfg.MonitoringPort, runMetricsIntervalFlag); err != nil {
			log.Errorf("monitoring server failed: %v", err)
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return port.Run(ctx)
	})
	eg.Go(func() error {
		return notifySystemd(ctx, port)
	})
	if runDrainFileFlag != "" {
		w := &drain.Watcher{
			Checks:   []drain.Check{&drain.FileDrain{FileName: runDrainFileFlag}},
			Interval: runDrainIntervalFlag,
		}
		eg.Go(func() error {
			return w.Run(ctx, port)
		})
	}
	if runExporterPortFlag > 0 {
		exporter := stats.NewPrometheusExporter(fmt.Sprintf("http://localhost:%d", cfg.MonitoringPort), runMetricsIntervalFlag)
		eg.Go(func() error {
			return exporter.Run(ctx)
		})
		go func() {
			if err := exporter.ListenAndServe(runExporterPortFlag); err != nil {
				log.Errorf("prometheus exporter failed: %v", err)
			}
		}()
	}
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run PTP ordinary clock on the interface",
	Run: func(c *cobra.Command, _ []string) {
		ConfigureVerbosity()

		setFlags := map[string]bool{}
		for _, name := range []string{"iface", "monitoringport", "domain", "slaveonly"} {
			setFlags[name] = c.Flags().Changed(name)
		}
		cfg, err := ptpd.PrepareConfig(runConfigFlag, runIfaceFlag, runMonitoringPortFlag, runDomainFlag, runSlaveOnlyFlag, setFlags)
		if err != nil {
			log.Fatal(err)
		}
		if err := cfg.ResolveUTCOffset("", time.Now()); err != nil {
			log.Fatal(err)
		}
		if !rootVerboseFlag {
			level, err := log.ParseLevel(cfg.LogLevel)
			if err != nil {
				log.Fatal(err)
			}
			log.SetLevel(level)
		}
		if runPprofFlag != "" {
			go func() {
				if err := http.ListenAndServe(runPprofFlag, nil); err != nil {
					log.Errorf("Failed to start pprof. Err: %v", err)
				}
			}()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runDaemon(ctx, cfg); err != nil {
			log.Fatal(err)
		}
	},
}
