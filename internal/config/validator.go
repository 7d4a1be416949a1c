package config

import (
	"fmt"
	"strings"
)

// Validate checks that the configuration is valid. All problems are reported
// at once; nothing runs on an invalid configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Sim.NumNodes < 1 {
		errs = append(errs, fmt.Sprintf("sim.num_nodes must be >= 1, got %d", c.Sim.NumNodes))
	}
	if c.Sim.WorldWidthM <= 0 || c.Sim.WorldHeightM <= 0 {
		errs = append(errs, fmt.Sprintf("sim world size must be positive, got %.1fx%.1f", c.Sim.WorldWidthM, c.Sim.WorldHeightM))
	}
	if c.Sim.DurationS <= 0 {
		errs = append(errs, fmt.Sprintf("sim.duration_s must be > 0, got %g", c.Sim.DurationS))
	}

	if c.Radio.CommRangeM <= 0 {
		errs = append(errs, fmt.Sprintf("radio.comm_range_m must be > 0, got %g", c.Radio.CommRangeM))
	}
	if c.Radio.PropSpeedMps <= 0 {
		errs = append(errs, fmt.Sprintf("radio.prop_speed_mps must be > 0, got %g", c.Radio.PropSpeedMps))
	}
	if c.Radio.BaseDelayS < 0 {
		errs = append(errs, "radio.base_delay_s must be >= 0")
	}
	if c.Radio.JitterMinS < 0 || c.Radio.JitterMaxS < c.Radio.JitterMinS {
		errs = append(errs, fmt.Sprintf("radio jitter range invalid: [%g, %g]", c.Radio.JitterMinS, c.Radio.JitterMaxS))
	}
	if c.Radio.MACMinBackoffS < 0 || c.Radio.MACMaxBackoffS < c.Radio.MACMinBackoffS {
		errs = append(errs, fmt.Sprintf("radio MAC backoff range invalid: [%g, %g]", c.Radio.MACMinBackoffS, c.Radio.MACMaxBackoffS))
	}
	if c.Radio.MACTxDurationS < 0 {
		errs = append(errs, "radio.mac_tx_duration_s must be >= 0")
	}
	if c.Radio.MACMaxRetries < 0 {
		errs = append(errs, "radio.mac_max_retries must be >= 0")
	}

	for key, period := range map[string]float64{
		"protocol.hello_period_s":     c.Protocol.HelloPeriodS,
		"protocol.dv_period_s":        c.Protocol.DVPeriodS,
		"protocol.neighbor_timeout_s": c.Protocol.NeighborTimeoutS,
		"mobility.step_s":             c.Mobility.StepS,
		"app.send_period_s":           c.App.SendPeriodS,
		"observe.snapshot_period_s":   c.Observe.SnapshotPeriodS,
	} {
		if period <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0, got %g", key, period))
		}
	}

	if c.Protocol.MaxHops < 1 {
		errs = append(errs, fmt.Sprintf("protocol.max_hops must be >= 1, got %d", c.Protocol.MaxHops))
	}
	if c.Protocol.TTL < 1 {
		errs = append(errs, fmt.Sprintf("protocol.ttl must be >= 1, got %d", c.Protocol.TTL))
	}

	if c.Mobility.SpeedMinMps < 0 || c.Mobility.SpeedMaxMps < c.Mobility.SpeedMinMps {
		errs = append(errs, fmt.Sprintf("mobility speed range invalid: [%g, %g]", c.Mobility.SpeedMinMps, c.Mobility.SpeedMaxMps))
	}
	if c.Mobility.PauseMinS < 0 || c.Mobility.PauseMaxS < c.Mobility.PauseMinS {
		errs = append(errs, fmt.Sprintf("mobility pause range invalid: [%g, %g]", c.Mobility.PauseMinS, c.Mobility.PauseMaxS))
	}

	if c.App.PairsPerPeriod < 1 {
		errs = append(errs, fmt.Sprintf("app.pairs_per_period must be >= 1, got %d", c.App.PairsPerPeriod))
	}
	if c.App.PayloadBytes < 0 {
		errs = append(errs, "app.payload_bytes must be >= 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
