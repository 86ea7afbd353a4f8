// Package config holds the process-wide tunables set once at server start
// and applied to every session (spec.md §6, "Configuration").
package config

import (
	"net/url"
)

// Config mirrors spec.md §6's Configuration table. Zero-value fields are
// filled in by Default(); individual fields are then overridden with the
// functional-option Set* methods, the same pattern the teacher's
// RangeTripper uses (SetClient, SetMax, SetChunkSize) rather than a big
// struct literal callers must fully populate themselves.
type Config struct {
	Bind string
	Port int

	FirstSize int64
	MaxSize   int64
	Threads   int

	DownRateMin float64
	DownRateMax float64

	ProxyURL *url.URL
	Scheme   string

	AdminBind     string
	MetricsEnable bool
}

// Default returns a Config populated with spec.md §6's stated defaults.
func Default() *Config {
	return &Config{
		Bind:        "",
		Port:        8806,
		FirstSize:   32 * 1024,
		MaxSize:     32 * 1024,
		Threads:     8,
		DownRateMin: 160 * 1024,
		DownRateMax: 360 * 1024,
		Scheme:      "http",
	}
}

// SetFirstSize overrides the probe range size.
func (c *Config) SetFirstSize(n int64) *Config {
	if n > 0 {
		c.FirstSize = n
	}
	return c
}

// SetMaxSize overrides the sub-range size.
func (c *Config) SetMaxSize(n int64) *Config {
	if n > 0 {
		c.MaxSize = n
	}
	return c
}

// SetThreads overrides the initial worker count.
func (c *Config) SetThreads(n int) *Config {
	if n > 0 {
		c.Threads = n
	}
	return c
}

// SetDownRate derives down_rate_min/down_rate_max as 1.5x/2.5x of rate, per
// spec.md §6.
func (c *Config) SetDownRate(rate float64) *Config {
	if rate > 0 {
		c.DownRateMin = rate * 1.5
		c.DownRateMax = rate * 2.5
	}
	return c
}

// SetProxy sets the upstream proxy all outbound traffic is routed through.
func (c *Config) SetProxy(u *url.URL) *Config {
	c.ProxyURL = u
	return c
}

// SetScheme sets the outbound scheme ("http" or "https").
func (c *Config) SetScheme(scheme string) *Config {
	if scheme == "http" || scheme == "https" {
		c.Scheme = scheme
	}
	return c
}

// SetAdminBind enables the admin/debug WebSocket feed (SPEC_FULL.md §4.H) on
// the given address.
func (c *Config) SetAdminBind(addr string) *Config {
	c.AdminBind = addr
	return c
}

// SetMetrics enables the Prometheus text-format exporter (SPEC_FULL.md §4.I).
func (c *Config) SetMetrics(enabled bool) *Config {
	c.MetricsEnable = enabled
	return c
}
