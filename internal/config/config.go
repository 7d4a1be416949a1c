package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all configuration for the FANET simulator.
type Config struct {
	Sim      SimConfig      `yaml:"sim"      mapstructure:"sim"`
	Radio    RadioConfig    `yaml:"radio"    mapstructure:"radio"`
	Protocol ProtocolConfig `yaml:"protocol" mapstructure:"protocol"`
	Mobility MobilityConfig `yaml:"mobility" mapstructure:"mobility"`
	App      AppConfig      `yaml:"app"      mapstructure:"app"`
	Observe  ObserveConfig  `yaml:"observe"  mapstructure:"observe"`
	Stats    StatsConfig    `yaml:"stats"    mapstructure:"stats"`
	Trace    TraceConfig    `yaml:"trace"    mapstructure:"trace"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
}

type SimConfig struct {
	NumNodes     int     `yaml:"num_nodes"      mapstructure:"num_nodes"`
	WorldWidthM  float64 `yaml:"world_width_m"  mapstructure:"world_width_m"`
	WorldHeightM float64 `yaml:"world_height_m" mapstructure:"world_height_m"`
	DurationS    float64 `yaml:"duration_s"     mapstructure:"duration_s"`
	Seed         int64   `yaml:"seed"           mapstructure:"seed"`
}

type RadioConfig struct {
	CommRangeM      float64 `yaml:"comm_range_m"        mapstructure:"comm_range_m"`
	PropSpeedMps    float64 `yaml:"prop_speed_mps"      mapstructure:"prop_speed_mps"`
	BaseDelayS      float64 `yaml:"base_delay_s"        mapstructure:"base_delay_s"`
	MaxPerHopDelayS float64 `yaml:"max_per_hop_delay_s" mapstructure:"max_per_hop_delay_s"`
	JitterMinS      float64 `yaml:"jitter_min_s"        mapstructure:"jitter_min_s"`
	JitterMaxS      float64 `yaml:"jitter_max_s"        mapstructure:"jitter_max_s"`
	MACMinBackoffS  float64 `yaml:"mac_min_backoff_s"   mapstructure:"mac_min_backoff_s"`
	MACMaxBackoffS  float64 `yaml:"mac_max_backoff_s"   mapstructure:"mac_max_backoff_s"`
	MACTxDurationS  float64 `yaml:"mac_tx_duration_s"   mapstructure:"mac_tx_duration_s"`
	MACMaxRetries   int     `yaml:"mac_max_retries"     mapstructure:"mac_max_retries"`
}

type ProtocolConfig struct {
	HelloPeriodS     float64 `yaml:"hello_period_s"     mapstructure:"hello_period_s"`
	DVPeriodS        float64 `yaml:"dv_period_s"        mapstructure:"dv_period_s"`
	NeighborTimeoutS float64 `yaml:"neighbor_timeout_s" mapstructure:"neighbor_timeout_s"`
	MaxHops          int     `yaml:"max_hops"           mapstructure:"max_hops"`
	TTL              int     `yaml:"ttl"                mapstructure:"ttl"`
	LogDVChanges     bool    `yaml:"log_dv_changes"     mapstructure:"log_dv_changes"`
}

type MobilityConfig struct {
	StepS       float64 `yaml:"step_s"        mapstructure:"step_s"`
	SpeedMinMps float64 `yaml:"speed_min_mps" mapstructure:"speed_min_mps"`
	SpeedMaxMps float64 `yaml:"speed_max_mps" mapstructure:"speed_max_mps"`
	PauseMinS   float64 `yaml:"pause_min_s"   mapstructure:"pause_min_s"`
	PauseMaxS   float64 `yaml:"pause_max_s"   mapstructure:"pause_max_s"`
}

type AppConfig struct {
	SendPeriodS    float64 `yaml:"send_period_s"    mapstructure:"send_period_s"`
	PairsPerPeriod int     `yaml:"pairs_per_period" mapstructure:"pairs_per_period"`
	PayloadBytes   int     `yaml:"payload_bytes"    mapstructure:"payload_bytes"`
}

type ObserveConfig struct {
	SnapshotPeriodS float64 `yaml:"snapshot_period_s" mapstructure:"snapshot_period_s"`
}

type StatsConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ReportIntervalSec int    `yaml:"report_interval_sec" mapstructure:"report_interval_sec"`
	ExportFile        string `yaml:"export_file"         mapstructure:"export_file"`
	ListenAddr        string `yaml:"listen_addr"         mapstructure:"listen_addr"`
}

type TraceConfig struct {
	PcapFile string `yaml:"pcap_file" mapstructure:"pcap_file"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"   mapstructure:"level"`
	File    string `yaml:"file"    mapstructure:"file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

// Duration accessors: config keys are plain float seconds, the core works in
// time.Duration.

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func (c SimConfig) Duration() time.Duration             { return seconds(c.DurationS) }
func (c RadioConfig) BaseDelay() time.Duration          { return seconds(c.BaseDelayS) }
func (c RadioConfig) MaxPerHopDelay() time.Duration     { return seconds(c.MaxPerHopDelayS) }
func (c RadioConfig) JitterMin() time.Duration          { return seconds(c.JitterMinS) }
func (c RadioConfig) JitterMax() time.Duration          { return seconds(c.JitterMaxS) }
func (c RadioConfig) MACMinBackoff() time.Duration      { return seconds(c.MACMinBackoffS) }
func (c RadioConfig) MACMaxBackoff() time.Duration      { return seconds(c.MACMaxBackoffS) }
func (c RadioConfig) MACTxDuration() time.Duration      { return seconds(c.MACTxDurationS) }
func (c ProtocolConfig) HelloPeriod() time.Duration     { return seconds(c.HelloPeriodS) }
func (c ProtocolConfig) DVPeriod() time.Duration        { return seconds(c.DVPeriodS) }
func (c ProtocolConfig) NeighborTimeout() time.Duration { return seconds(c.NeighborTimeoutS) }
func (c MobilityConfig) Step() time.Duration            { return seconds(c.StepS) }
func (c MobilityConfig) PauseMin() time.Duration        { return seconds(c.PauseMinS) }
func (c MobilityConfig) PauseMax() time.Duration        { return seconds(c.PauseMaxS) }
func (c AppConfig) SendPeriod() time.Duration           { return seconds(c.SendPeriodS) }
func (c ObserveConfig) SnapshotPeriod() time.Duration   { return seconds(c.SnapshotPeriodS) }

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("sim.num_nodes", 4)
	v.SetDefault("sim.world_width_m", 1000.0)
	v.SetDefault("sim.world_height_m", 700.0)
	v.SetDefault("sim.duration_s", 120.0)
	v.SetDefault("sim.seed", 42)

	v.SetDefault("radio.comm_range_m", 260.0)
	v.SetDefault("radio.prop_speed_mps", 3e8)
	v.SetDefault("radio.base_delay_s", 0.001)
	v.SetDefault("radio.max_per_hop_delay_s", 0.015)
	v.SetDefault("radio.jitter_min_s", 0.002)
	v.SetDefault("radio.jitter_max_s", 0.020)
	v.SetDefault("radio.mac_min_backoff_s", 0.001)
	v.SetDefault("radio.mac_max_backoff_s", 0.006)
	v.SetDefault("radio.mac_tx_duration_s", 0.003)
	v.SetDefault("radio.mac_max_retries", 8)

	v.SetDefault("protocol.hello_period_s", 0.6)
	v.SetDefault("protocol.dv_period_s", 1.2)
	v.SetDefault("protocol.neighbor_timeout_s", 2.0)
	v.SetDefault("protocol.max_hops", 16)
	v.SetDefault("protocol.ttl", 16)
	v.SetDefault("protocol.log_dv_changes", false)

	v.SetDefault("mobility.step_s", 0.20)
	v.SetDefault("mobility.speed_min_mps", 10.0)
	v.SetDefault("mobility.speed_max_mps", 22.0)
	v.SetDefault("mobility.pause_min_s", 0.0)
	v.SetDefault("mobility.pause_max_s", 0.4)

	v.SetDefault("app.send_period_s", 1.6)
	v.SetDefault("app.pairs_per_period", 2)
	v.SetDefault("app.payload_bytes", 32)

	v.SetDefault("observe.snapshot_period_s", 1.0)

	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.report_interval_sec", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
}

// strictDecode rejects unknown keys so configuration typos fail at build
// instead of silently falling back to defaults.
func strictDecode(dc *mapstructure.DecoderConfig) {
	dc.ErrorUnused = true
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper reads configuration using an existing viper instance (for CLI
// flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, strictDecode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Nodes:         %d in %.0fx%.0f m\n", c.Sim.NumNodes, c.Sim.WorldWidthM, c.Sim.WorldHeightM))
	sb.WriteString(fmt.Sprintf("  Duration:      %.1fs (seed %d)\n", c.Sim.DurationS, c.Sim.Seed))
	sb.WriteString(fmt.Sprintf("  Radio range:   %.0f m\n", c.Radio.CommRangeM))
	sb.WriteString(fmt.Sprintf("  MAC:           backoff %.1f-%.1f ms, tx %.1f ms, retries %d\n",
		c.Radio.MACMinBackoffS*1000, c.Radio.MACMaxBackoffS*1000, c.Radio.MACTxDurationS*1000, c.Radio.MACMaxRetries))
	sb.WriteString(fmt.Sprintf("  Periods:       hello %.2fs, dv %.2fs, app %.2fs, neighbor timeout %.2fs\n",
		c.Protocol.HelloPeriodS, c.Protocol.DVPeriodS, c.App.SendPeriodS, c.Protocol.NeighborTimeoutS))
	sb.WriteString(fmt.Sprintf("  Mobility:      %.1f-%.1f m/s, step %.2fs, pause %.1f-%.1fs\n",
		c.Mobility.SpeedMinMps, c.Mobility.SpeedMaxMps, c.Mobility.StepS, c.Mobility.PauseMinS, c.Mobility.PauseMaxS))
	if c.Trace.PcapFile != "" {
		sb.WriteString(fmt.Sprintf("  Trace:         %s\n", c.Trace.PcapFile))
	}
	if c.Stats.ListenAddr != "" {
		sb.WriteString(fmt.Sprintf("  Metrics:       %s\n", c.Stats.ListenAddr))
	}
	return sb.String()
}
