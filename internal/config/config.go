// Package config holds this server's constructor parameters, following
// the teacher's Config/DefaultConfig pattern in
// shockwave/pkg/shockwave/server/server.go but with fields renamed to
// match spec.md §6's configuration surface exactly (no environment
// variables, construction-time parameters only).
package config

import (
	"fmt"

	"github.com/yourusername/voltaic/internal/netutil"
)

// TrigMode bits select edge- vs level-triggered epoll arming: bit 0 is
// connection ET, bit 1 is listener ET.
type TrigMode int

const (
	TrigListenLevelConnLevel TrigMode = 0
	TrigListenLevelConnEdge  TrigMode = 1
	TrigListenEdgeConnLevel  TrigMode = 2
	TrigListenEdgeConnEdge   TrigMode = 3
)

// ConnET reports whether bit 0 (connection edge-triggered) is set.
func (t TrigMode) ConnET() bool { return t&1 != 0 }

// ListenET reports whether bit 1 (listener edge-triggered) is set.
func (t TrigMode) ListenET() bool { return t&2 != 0 }

// SQLConfig is the subset of configuration the auth backend needs.
type SQLConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	ConnPoolSize int
}

// Config is the full set of constructor parameters from spec.md §6.
type Config struct {
	Port      int
	TrigMode  TrigMode
	TimeoutMS int
	OptLinger bool

	SQL SQLConfig

	ThreadNum    int
	OpenLog      bool
	LogLevel     int
	LogQueueSize int

	ResourceDir string
}

// MaxFD bounds the number of simultaneously open connections; beyond
// this, new accepts get a "Server busy!" response.
const MaxFD = 65536

// Default returns a Config with the values this server's reference
// deployment uses, before any flag overrides from cmd/voltaicd.
func Default() Config {
	return Config{
		Port:      9006,
		TrigMode:  TrigListenEdgeConnEdge,
		TimeoutMS: 60000,
		OptLinger: false,
		SQL: SQLConfig{
			Host:         "localhost",
			Port:         3306,
			DBName:       "webserver",
			ConnPoolSize: 12,
		},
		ThreadNum:    6,
		OpenLog:      true,
		LogLevel:     1,
		LogQueueSize: 1024,
		ResourceDir:  "resources",
	}
}

// Validate reports the first constraint Config violates, or nil.
func (c Config) Validate() error {
	if err := netutil.ValidatePort(c.Port); err != nil {
		return err
	}
	if c.TrigMode < 0 || c.TrigMode > 3 {
		return fmt.Errorf("config: trig_mode %d out of range [0,3]", c.TrigMode)
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("config: timeout_ms must not be negative, got %d", c.TimeoutMS)
	}
	if c.SQL.ConnPoolSize <= 0 {
		return fmt.Errorf("config: conn_pool_size must be positive, got %d", c.SQL.ConnPoolSize)
	}
	if c.ThreadNum <= 0 {
		return fmt.Errorf("config: thread_num must be positive, got %d", c.ThreadNum)
	}
	if c.LogLevel < 0 || c.LogLevel > 3 {
		return fmt.Errorf("config: log_level %d out of range [0,3]", c.LogLevel)
	}
	if c.LogQueueSize <= 0 {
		return fmt.Errorf("config: log_queue_size must be positive, got %d", c.LogQueueSize)
	}
	if c.ResourceDir == "" {
		return fmt.Errorf("config: resource_dir must not be empty")
	}
	return nil
}
