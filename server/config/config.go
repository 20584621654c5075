// Package config holds server settings: built-in defaults, an optional XML
// file on top of them, and validation. Command line flags are applied by
// the caller after Load.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration read from text like "500ms" or "5m"
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	XMLName xml.Name `xml:"webserver"`

	Addr           string `xml:"addr"`     // bind string, see goji bind
	Root           string `xml:"root"`     // document root for GET
	MimeFile       string `xml:"mimeFile"` // optional mime.types table
	MaxEvents      int    `xml:"maxEvents"`
	MaxRequestSize int    `xml:"maxRequestSize"`

	Pool     PoolConfig    `xml:"pool"`
	Timeouts TimeoutConfig `xml:"timeouts"`
	Log      LogConfig     `xml:"log"`
}

type PoolConfig struct {
	MinWorkers     int      `xml:"minWorkers"`
	MaxWorkers     int      `xml:"maxWorkers"`
	QueueSize      int      `xml:"queueSize"`
	AdjustInterval Duration `xml:"adjustInterval"`
}

type TimeoutConfig struct {
	Conn      Duration `xml:"conn"`      // new and mid-request connections
	KeepAlive Duration `xml:"keepAlive"` // idle keep-alive connections
	Tick      Duration `xml:"tick"`      // event loop wait bound, timers swept once per tick
	Submit    Duration `xml:"submit"`    // max block on full task queue, 0 waits for room
}

type LogConfig struct {
	File       string `xml:"file"` // empty means stderr
	Level      string `xml:"level"`
	MaxSizeMB  int    `xml:"maxSizeMB"` // rotate once file grows past it
	MaxBackups int    `xml:"maxBackups"`
	MaxAgeDays int    `xml:"maxAgeDays"`
	Compress   bool   `xml:"compress"`
}

func Default() Config {
	return Config{
		Addr:           ":8888",
		Root:           "./doc",
		MaxEvents:      4096,
		MaxRequestSize: 1<<16 - 1,
		Pool: PoolConfig{
			MinWorkers:     4,
			MaxWorkers:     100,
			QueueSize:      65535,
			AdjustInterval: Duration(10 * time.Second),
		},
		Timeouts: TimeoutConfig{
			Conn:      Duration(2 * time.Second),
			KeepAlive: Duration(5 * time.Minute),
			Tick:      Duration(500 * time.Millisecond),
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 100,
		},
	}
}

// Load reads XML file at path over the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	if err := xml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch {
	case c.Root == "":
		return fmt.Errorf("%w: empty root", ErrInvalid)
	case c.Pool.MinWorkers <= 0:
		return fmt.Errorf("%w: pool.minWorkers must be positive", ErrInvalid)
	case c.Pool.MaxWorkers < c.Pool.MinWorkers:
		return fmt.Errorf("%w: pool.maxWorkers below minWorkers", ErrInvalid)
	case c.Pool.QueueSize <= 0:
		return fmt.Errorf("%w: pool.queueSize must be positive", ErrInvalid)
	case c.Timeouts.Conn <= 0 || c.Timeouts.KeepAlive <= 0 || c.Timeouts.Tick <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	case c.Timeouts.Submit < 0:
		return fmt.Errorf("%w: timeouts.submit is negative", ErrInvalid)
	case c.MaxEvents <= 0:
		return fmt.Errorf("%w: maxEvents must be positive", ErrInvalid)
	case c.Log.MaxSizeMB < 0:
		return fmt.Errorf("%w: log.maxSizeMB is negative", ErrInvalid)
	}
	return nil
}
