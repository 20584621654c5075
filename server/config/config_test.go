package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "webserver.xml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Timeouts.KeepAlive.Std() != 5*time.Minute || cfg.Timeouts.Conn.Std() != 2*time.Second {
		t.Errorf("unexpected timeouts %+v", cfg.Timeouts)
	}
}

func TestLoad(t *testing.T) {
	p := writeFile(t, `<webserver>
	<addr>127.0.0.1:9000</addr>
	<root>/srv/www</root>
	<pool>
		<minWorkers>8</minWorkers>
		<maxWorkers>32</maxWorkers>
		<adjustInterval>2s</adjustInterval>
	</pool>
	<timeouts>
		<keepAlive>30s</keepAlive>
		<submit>100ms</submit>
	</timeouts>
	<log>
		<file>/var/log/webserver.log</file>
		<level>debug</level>
		<maxBackups>3</maxBackups>
	</log>
</webserver>`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Addr != "127.0.0.1:9000" || cfg.Root != "/srv/www" {
		t.Errorf("got addr %q root %q", cfg.Addr, cfg.Root)
	}
	if cfg.Pool.MinWorkers != 8 || cfg.Pool.MaxWorkers != 32 || cfg.Pool.AdjustInterval.Std() != 2*time.Second {
		t.Errorf("pool %+v", cfg.Pool)
	}
	if cfg.Timeouts.KeepAlive.Std() != 30*time.Second || cfg.Timeouts.Submit.Std() != 100*time.Millisecond {
		t.Errorf("timeouts %+v", cfg.Timeouts)
	}
	if cfg.Log.File != "/var/log/webserver.log" || cfg.Log.Level != "debug" || cfg.Log.MaxBackups != 3 {
		t.Errorf("log %+v", cfg.Log)
	}

	// untouched fields keep defaults
	def := Default()
	if cfg.Pool.QueueSize != def.Pool.QueueSize || cfg.Timeouts.Conn != def.Timeouts.Conn || cfg.Log.MaxSizeMB != def.Log.MaxSizeMB {
		t.Error("defaults lost")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{"bad xml", "<webserver><root>", false},
		{"bad duration", "<webserver><timeouts><conn>soon</conn></timeouts></webserver>", false},
		{"max below min", "<webserver><pool><minWorkers>10</minWorkers><maxWorkers>2</maxWorkers></pool></webserver>", true},
		{"zero queue", "<webserver><pool><queueSize>0</queueSize></pool></webserver>", true},
		{"negative timeout", "<webserver><timeouts><tick>-1s</tick></timeouts></webserver>", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrInvalid) != tt.invalid {
				t.Errorf("validation error %v, want %v: %v", !tt.invalid, tt.invalid, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist, got %v", err)
	}
}
