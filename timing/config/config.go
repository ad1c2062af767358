// Package config provides the configuration of a prefetch simulation: the
// engine and its parameters, and the cache, TLB and request queue the engine
// is evaluated with.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/pfsim/timing/cache"
	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/ampm"
	"github.com/sarchlab/pfsim/timing/prefetch/isb"
	"github.com/sarchlab/pfsim/timing/tlb"
)

// Config holds every parameter of a simulation.
// Values can be loaded from JSON or YAML files to override defaults.
type Config struct {
	// Prefetcher selects the engine: "isb", "ampm" or "none".
	Prefetcher prefetch.Kind `json:"prefetcher" yaml:"prefetcher"`

	ISB   ISBConfig    `json:"isb" yaml:"isb"`
	AMPM  AMPMConfig   `json:"ampm" yaml:"ampm"`
	Cache cache.Config `json:"cache" yaml:"cache"`
	TLB   TLBConfig    `json:"tlb" yaml:"tlb"`
	Queue QueueConfig  `json:"queue" yaml:"queue"`
	Trace TraceConfig  `json:"trace" yaml:"trace"`
}

// ISBConfig holds the ISB engine parameters.
type ISBConfig struct {
	// Degree is the number of candidates issued per trigger.
	Degree int `json:"degree" yaml:"degree"`

	// Lookahead is the structural distance of the first candidate.
	Lookahead int `json:"lookahead" yaml:"lookahead"`

	TrainingUnitSize int `json:"training_unit_size" yaml:"training_unit_size"`

	// AMCSets and AMCWays shape both halves of the address mapping cache.
	AMCSets int `json:"amc_sets" yaml:"amc_sets"`
	AMCWays int `json:"amc_ways" yaml:"amc_ways"`

	// MetadataBase and MetadataStride place correlation matrix entries in
	// memory for the metadata traffic model.
	MetadataBase   uint64 `json:"metadata_base" yaml:"metadata_base"`
	MetadataStride uint64 `json:"metadata_stride" yaml:"metadata_stride"`
}

// AMPMConfig holds the AMPM engine parameters.
type AMPMConfig struct {
	// Degree is the maximum number of prefetches per direction per access.
	Degree int `json:"degree" yaml:"degree"`

	// Sets and Ways shape the access map table.
	Sets int `json:"sets" yaml:"sets"`
	Ways int `json:"ways" yaml:"ways"`

	TrackerSize int `json:"tracker_size" yaml:"tracker_size"`

	// AdaptiveModes enables the aggressive, save-entry and conflict-avoid
	// mode switches, evaluated every ModeEpoch accesses.
	AdaptiveModes bool   `json:"adaptive_modes" yaml:"adaptive_modes"`
	ModeEpoch     uint64 `json:"mode_epoch" yaml:"mode_epoch"`
}

// TLBConfig holds the TLB geometry.
type TLBConfig struct {
	Sets int `json:"sets" yaml:"sets"`
	Ways int `json:"ways" yaml:"ways"`
}

// QueueConfig holds the request queue parameters.
type QueueConfig struct {
	// Size is the number of requests held before the oldest is dropped.
	Size int `json:"size" yaml:"size"`
}

// TraceConfig selects where engine events are recorded. Empty paths disable
// the corresponding writer.
type TraceConfig struct {
	CSVPath    string `json:"csv_path" yaml:"csv_path"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
}

// DefaultQueueSize is the default request queue capacity.
const DefaultQueueSize = 32

// DefaultConfig returns the default configuration: an ISB engine in front of
// a 1MB L2 and a 64-entry fully associative TLB.
func DefaultConfig() *Config {
	return &Config{
		Prefetcher: prefetch.KindISB,
		ISB: ISBConfig{
			Degree:           isb.DefaultDegree,
			Lookahead:        isb.DefaultLookahead,
			TrainingUnitSize: isb.TrainingUnitSize,
			AMCSets:          isb.AMCSetCount,
			AMCWays:          isb.AMCWayCount,
			MetadataBase:     isb.DefaultMetadataBase,
			MetadataStride:   isb.DefaultMetadataStride,
		},
		AMPM: AMPMConfig{
			Degree:      ampm.DefaultDegree,
			Sets:        ampm.DefaultSets,
			Ways:        ampm.DefaultWays,
			TrackerSize: ampm.DefaultTrackerSize,
			ModeEpoch:   ampm.DefaultModeEpoch,
		},
		Cache: cache.DefaultL2Config(),
		TLB: TLBConfig{
			Sets: 1,
			Ways: tlb.DefaultNumWays,
		},
		Queue: QueueConfig{
			Size: DefaultQueueSize,
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig loads a configuration from a JSON or YAML file, chosen by the
// file extension. Fields not present in the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if _, err := prefetch.ParseKind(string(config.Prefetcher)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a JSON or YAML file, chosen by the
// file extension.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)

	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isPowerOf2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate checks that the configuration values are sensible.
func (c *Config) Validate() error {
	if _, err := prefetch.ParseKind(string(c.Prefetcher)); err != nil {
		return err
	}

	if err := c.validateISB(); err != nil {
		return err
	}
	if err := c.validateAMPM(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}

	if !isPowerOf2(c.TLB.Sets) {
		return fmt.Errorf("tlb.sets must be a power of 2")
	}
	if c.TLB.Ways <= 0 {
		return fmt.Errorf("tlb.ways must be > 0")
	}
	if c.Prefetcher == prefetch.KindISB && c.TLB.Sets*c.TLB.Ways > isb.EncoderSize {
		return fmt.Errorf("tlb must have at most %d entries to drive isb", isb.EncoderSize)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue.size must be > 0")
	}

	return nil
}

func (c *Config) validateISB() error {
	if c.ISB.Degree <= 0 {
		return fmt.Errorf("isb.degree must be > 0")
	}
	if c.ISB.Lookahead <= 0 {
		return fmt.Errorf("isb.lookahead must be > 0")
	}
	if c.ISB.Degree+c.ISB.Lookahead > isb.StreamLength {
		return fmt.Errorf("isb.degree + isb.lookahead must be <= %d", isb.StreamLength)
	}
	if c.ISB.TrainingUnitSize <= 0 {
		return fmt.Errorf("isb.training_unit_size must be > 0")
	}
	if !isPowerOf2(c.ISB.AMCSets) {
		return fmt.Errorf("isb.amc_sets must be a power of 2")
	}
	if c.ISB.AMCWays <= 0 {
		return fmt.Errorf("isb.amc_ways must be > 0")
	}
	if c.ISB.MetadataStride == 0 {
		return fmt.Errorf("isb.metadata_stride must be > 0")
	}
	return nil
}

func (c *Config) validateAMPM() error {
	if c.AMPM.Degree <= 0 {
		return fmt.Errorf("ampm.degree must be > 0")
	}
	if !isPowerOf2(c.AMPM.Sets) {
		return fmt.Errorf("ampm.sets must be a power of 2")
	}
	if c.AMPM.Ways <= 0 {
		return fmt.Errorf("ampm.ways must be > 0")
	}
	if c.AMPM.TrackerSize <= 0 {
		return fmt.Errorf("ampm.tracker_size must be > 0")
	}
	if c.AMPM.ModeEpoch == 0 {
		return fmt.Errorf("ampm.mode_epoch must be > 0")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.BlockSize != int(prefetch.LineSize) {
		return fmt.Errorf("cache.block_size must be %d", prefetch.LineSize)
	}
	if c.Cache.Associativity <= 0 {
		return fmt.Errorf("cache.associativity must be > 0")
	}
	if c.Cache.NumSets() <= 0 {
		return fmt.Errorf("cache.size must hold at least one set")
	}
	if c.Cache.MissLatency == 0 {
		return fmt.Errorf("cache.miss_latency must be > 0")
	}
	if c.Cache.MSHREntries <= 0 {
		return fmt.Errorf("cache.mshr_entries must be > 0")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
