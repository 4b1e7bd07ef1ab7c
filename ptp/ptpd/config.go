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
	"fmt"
	"os"
	"time"

	"github.com/ordinaryclock/ptpd/leapsectz"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/servo"
	"github.com/ordinaryclock/ptpd/timestamp"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// clocks we can discipline
const (
	TimeSourceRealtime = "realtime"
	TimeSourcePHC      = "phc"
)

// BackoffConfig describes how long a FAULTY port waits before reinitializing, in seconds
type BackoffConfig struct {
	Mode     string
	Step     int
	MaxValue int
}

// Validate BackoffConfig is sane
func (c *BackoffConfig) Validate() error {
	if c.Mode != backoffNone && c.Mode != backoffFixed && c.Mode != backoffLinear && c.Mode != backoffExponential {
		return fmt.Errorf("mode must be either %q, %q, %q or %q", backoffNone, backoffFixed, backoffLinear, backoffExponential)
	}
	if c.Mode != backoffNone {
		if c.Step <= 0 {
			return fmt.Errorf("step must be positive")
		}
		if c.Mode != backoffFixed && c.MaxValue <= 0 {
			return fmt.Errorf("maxvalue must be positive")
		}
	}
	return nil
}

// ServoConfig describes the PI servo
type ServoConfig struct {
	Ap                 float64       `yaml:"ap"`                   // proportional attenuation
	Ai                 float64       `yaml:"ai"`                   // integral attenuation
	SDelay             int           `yaml:"s_delay"`              // log2 stiffness of path delay filter
	SOffset            int           `yaml:"s_offset"`             // log2 stiffness of offset filter
	StepThreshold      time.Duration `yaml:"step_threshold"`       // offsets above are stepped, 0 never steps
	FirstStepThreshold time.Duration `yaml:"first_step_threshold"` // first offset after reset above this is stepped
	MaxFreqPPB         float64       `yaml:"max_freq_ppb"`         // 0 means ask the clock
	NoAdjust           bool          `yaml:"no_adjust"`            // compute everything, touch nothing
	NoResetClock       bool          `yaml:"no_reset_clock"`       // slew instead of stepping
	SpikeFilter        bool          `yaml:"spike_filter"`         // drop offsets far from recent mean
}

// Validate ServoConfig is sane
func (c *ServoConfig) Validate() error {
	if c.Ap < 1 {
		return fmt.Errorf("ap must be at least 1")
	}
	if c.Ai < 1 {
		return fmt.Errorf("ai must be at least 1")
	}
	if c.SDelay < 0 || c.SDelay > 16 {
		return fmt.Errorf("s_delay must be between 0 and 16")
	}
	if c.SOffset < 0 || c.SOffset > 16 {
		return fmt.Errorf("s_offset must be between 0 and 16")
	}
	if c.StepThreshold < 0 {
		return fmt.Errorf("step_threshold must be 0 or positive")
	}
	if c.FirstStepThreshold < 0 {
		return fmt.Errorf("first_step_threshold must be 0 or positive")
	}
	if c.MaxFreqPPB < 0 {
		return fmt.Errorf("max_freq_ppb must be 0 or positive")
	}
	return nil
}

// Config specifies ptpd run options
type Config struct {
	Iface                   string
	Timestamping            timestamp.Timestamp
	TimeSource              string
	MonitoringPort          int
	DSCP                    int
	LogLevel                string
	DomainNumber            uint8
	Priority1               uint8
	Priority2               uint8
	ClockQuality            ptp.ClockQuality
	SlaveOnly               bool
	CurrentUTCOffset        int16
	UTCOffsetFromTZ         bool
	LogAnnounceInterval     ptp.LogInterval
	LogSyncInterval         ptp.LogInterval
	LogMinDelayReqInterval  ptp.LogInterval
	LogMinPDelayReqInterval ptp.LogInterval
	AnnounceReceiptTimeout  int
	SyncReceiptTimeout      int
	DelayMechanism          ptp.DelayMechanism
	TwoStep                 bool
	MaxForeignRecords       int
	ForeignMasterThreshold  int
	InboundLatency          time.Duration
	OutboundLatency         time.Duration
	MaxTransportErrors      int
	Servo                   ServoConfig
	Backoff                 BackoffConfig
}

// DefaultConfig returns Config initialized with default values of ptpd 2.x
func DefaultConfig() *Config {
	return &Config{
		Iface:          "eth0",
		Timestamping:   timestamp.SW,
		TimeSource:     TimeSourceRealtime,
		MonitoringPort: 4269,
		LogLevel:       "info",
		Priority1:      128,
		Priority2:      128,
		ClockQuality: ptp.ClockQuality{
			ClockClass:              ptp.ClockClassDefault,
			ClockAccuracy:           ptp.ClockAccuracyUnknown,
			OffsetScaledLogVariance: 0xffff,
		},
		CurrentUTCOffset:        37,
		LogAnnounceInterval:     1,
		LogSyncInterval:         0,
		LogMinDelayReqInterval:  0,
		LogMinPDelayReqInterval: 1,
		AnnounceReceiptTimeout:  3,
		SyncReceiptTimeout:      3,
		DelayMechanism:          ptp.DelayMechanismE2E,
		TwoStep:                 true,
		MaxForeignRecords:       5,
		ForeignMasterThreshold:  2,
		MaxTransportErrors:      5,
		Servo: ServoConfig{
			Ap:                 servo.DefaultAP,
			Ai:                 servo.DefaultAI,
			SDelay:             servo.DefaultSDelay,
			SOffset:            servo.DefaultSOffset,
			StepThreshold:      time.Second,
			FirstStepThreshold: 20 * time.Microsecond,
		},
		Backoff: BackoffConfig{
			Mode:     backoffLinear,
			Step:     5,
			MaxValue: 60,
		},
	}
}

func validLogInterval(name string, i ptp.LogInterval) error {
	if i < -7 || i > 7 {
		return fmt.Errorf("%s must be between -7 and 7", name)
	}
	return nil
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Iface == "" {
		return fmt.Errorf("iface must be specified")
	}
	if c.Timestamping != timestamp.HW && c.Timestamping != timestamp.SW {
		return fmt.Errorf("only %q and %q timestamping is supported", timestamp.HW, timestamp.SW)
	}
	if c.TimeSource != TimeSourceRealtime && c.TimeSource != TimeSourcePHC {
		return fmt.Errorf("timesource must be either %q or %q", TimeSourceRealtime, TimeSourcePHC)
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoringport must be 0 or positive")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp must be between 0 and 63")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid loglevel: %w", err)
	}
	for name, i := range map[string]ptp.LogInterval{
		"logannounceinterval":     c.LogAnnounceInterval,
		"logsyncinterval":         c.LogSyncInterval,
		"logmindelayreqinterval":  c.LogMinDelayReqInterval,
		"logminpdelayreqinterval": c.LogMinPDelayReqInterval,
	} {
		if err := validLogInterval(name, i); err != nil {
			return err
		}
	}
	if c.AnnounceReceiptTimeout < 2 {
		return fmt.Errorf("announcereceipttimeout must be at least 2")
	}
	if c.SyncReceiptTimeout < 1 {
		return fmt.Errorf("syncreceipttimeout must be at least 1")
	}
	if c.DelayMechanism != ptp.DelayMechanismE2E && c.DelayMechanism != ptp.DelayMechanismP2P && c.DelayMechanism != ptp.DelayMechanismDisabled {
		return fmt.Errorf("delaymechanism must be either %q, %q or %q", ptp.DelayMechanismE2E, ptp.DelayMechanismP2P, ptp.DelayMechanismDisabled)
	}
	if c.MaxForeignRecords < 1 {
		return fmt.Errorf("maxforeignrecords must be positive")
	}
	if c.ForeignMasterThreshold < 1 {
		return fmt.Errorf("foreignmasterthreshold must be positive")
	}
	if c.MaxTransportErrors < 0 {
		return fmt.Errorf("maxtransporterrors must be 0 or positive")
	}
	if c.SlaveOnly && c.ClockQuality.ClockClass != ptp.ClockClassSlaveOnly {
		log.Warningf("slaveonly is set, clock class %d will be announced as %d", c.ClockQuality.ClockClass, ptp.ClockClassSlaveOnly)
	}
	if c.TimeSource == TimeSourceRealtime && c.Timestamping == timestamp.HW {
		return fmt.Errorf("%q timestamps are taken from the PHC and cannot discipline the %q clock", timestamp.HW, TimeSourceRealtime)
	}
	if c.TimeSource == TimeSourcePHC && c.Timestamping != timestamp.HW {
		log.Warning("disciplining PHC with software timestamps, precision will suffer")
	}
	if err := c.Servo.Validate(); err != nil {
		return fmt.Errorf("invalid servo config: %w", err)
	}
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("invalid backoff config: %w", err)
	}
	return nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, &c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, iface string, monitoringPort int, domain int, slaveOnly bool, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["iface"] {
		warn("iface")
		cfg.Iface = iface
	}
	if setFlags["monitoringport"] {
		warn("monitoringPort")
		cfg.MonitoringPort = monitoringPort
	}
	if setFlags["domain"] {
		warn("domainNumber")
		if domain < 0 || domain > 255 {
			return nil, fmt.Errorf("domain must be between 0 and 255")
		}
		cfg.DomainNumber = uint8(domain)
	}
	if setFlags["slaveonly"] {
		warn("slaveOnly")
		cfg.SlaveOnly = slaveOnly
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}

// ResolveUTCOffset sets CurrentUTCOffset from the leap second file if UTCOffsetFromTZ is set.
// Empty path means the system timezone database.
func (c *Config) ResolveUTCOffset(path string, now time.Time) error {
	if !c.UTCOffsetFromTZ {
		return nil
	}
	off, err := leapsectz.UTCOffset(path, now)
	if err != nil {
		return fmt.Errorf("reading leap seconds: %w", err)
	}
	if off != c.CurrentUTCOffset {
		log.Infof("using UTC offset %ds from leap seconds database instead of %ds", off, c.CurrentUTCOffset)
	}
	c.CurrentUTCOffset = off
	return nil
}

// announceReceiptTimeout is how long we wait for Announce from a master before we forget it
func (c *Config) announceReceiptTimeout() time.Duration {
	return time.Duration(c.AnnounceReceiptTimeout) * c.LogAnnounceInterval.Duration()
}

// syncReceiptTimeout is how long we wait for Sync before we complain
func (c *Config) syncReceiptTimeout() time.Duration {
	return time.Duration(c.SyncReceiptTimeout) * c.LogSyncInterval.Duration()
}
