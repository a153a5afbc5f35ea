// Package config loads the daemon's scalar settings and pattern-matched
// per-device configuration maps (spec §6 "Config keys" table) from a
// TOML file.
//
// Grounded on kubernetes-sigs-kind's BurntSushi/toml-based config
// loading; the validation style (explicit field checks, wrapped errors)
// follows the teacher's original pkg/config/config.go, whose IPv4
// arithmetic helpers were generalized and moved to pkg/addr since every
// caller of them now needs dual-family support.
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/containerkit/netcore/pkg/nerr"
)

const (
	DefaultNATCount           = 64
	DefaultAutoconfTimeout    = 10 * time.Second
	DefaultStartTimeoutMillis = 5000
	DefaultQuantumMultiplier  = 2
	DefaultBufferMultiplier   = 10
)

// Config holds every pattern-matched map and scalar from spec §6.
type Config struct {
	// Scalars.
	NATFirstIPv4     string   `toml:"nat_first_ipv4"`
	NATFirstIPv6     string   `toml:"nat_first_ipv6"`
	NATCount         int      `toml:"nat_count"`
	AutoconfTimeoutS int      `toml:"autoconf_timeout_s"`
	StartTimeoutMS   int      `toml:"start_timeout_ms"`
	IPCSysctl        []string `toml:"ipc_sysctl"`

	UnmanagedPatterns []string `toml:"unmanaged_patterns"`
	UnmanagedGroups   []int    `toml:"unmanaged_groups"`

	// Pattern-matched maps (ordered, "default" entry used as fallback).
	DeviceQdisc         PatternMap[string] `toml:"device_qdisc"`
	DeviceRate          PatternMap[int64]  `toml:"device_rate"`
	DefaultRate         PatternMap[int64]  `toml:"default_rate"`
	PortoRate           PatternMap[int64]  `toml:"porto_rate"`
	ContainerRate       PatternMap[int64]  `toml:"container_rate"`
	DeviceQuantum       PatternMap[int64]  `toml:"device_quantum"`
	HTBRBuffer          PatternMap[int64]  `toml:"htb_rbuffer"`
	HTBCBuffer          PatternMap[int64]  `toml:"htb_cbuffer"`
	DefaultQdisc        PatternMap[string] `toml:"default_qdisc"`
	DefaultQdiscLimit   PatternMap[int64]  `toml:"default_qdisc_limit"`
	DefaultQdiscQuantum PatternMap[int64]  `toml:"default_qdisc_quantum"`
}

// Load reads and validates a TOML config file at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, nerr.Wrap(nerr.InvalidData, 0, err, "decode config %s", path)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.NATCount == 0 {
		cfg.NATCount = DefaultNATCount
	}
	if cfg.AutoconfTimeoutS == 0 {
		cfg.AutoconfTimeoutS = int(DefaultAutoconfTimeout / time.Second)
	}
	if cfg.StartTimeoutMS == 0 {
		cfg.StartTimeoutMS = DefaultStartTimeoutMillis
	}
}

// DeviceRateFor resolves the effective rate for a device name, clamped
// to INT32_MAX per spec §4.3.
func (c *Config) DeviceRateFor(name string) int64 {
	return ClampRate(c.DeviceRate.Lookup(name, 0))
}

// ClampRate enforces the spec §4.3 device_rate ceiling of INT32_MAX and
// maps non-positive rates to 0 ("no guarantee", mapped to 1bps by the
// traffic tree's class_add — spec §4.3).
func ClampRate(r int64) int64 {
	const int32Max = int64(1<<31 - 1)
	if r <= 0 {
		return 0
	}
	if r > int32Max {
		return int32Max
	}
	return r
}
