package config

import (
	"slices"
	"testing"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		c := &Config{
			Discord: DiscordConfig{Token: "t", MonitoredChannels: []string{"a", "b"}},
		}
		ApplyDefaults(c)
		return c
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		wantLevel   bool
		wantRestart []string
	}{
		{name: "no changes", mutate: func(*Config) {}},
		{name: "log level", mutate: func(c *Config) { c.Server.LogLevel = LogDebug }, wantLevel: true},
		{
			name:        "monitored channels",
			mutate:      func(c *Config) { c.Discord.MonitoredChannels = []string{"a"} },
			wantRestart: []string{"discord"},
		},
		{
			name: "several sections",
			mutate: func(c *Config) {
				c.Server.ListenAddr = ":1"
				c.Cache.TTL = 0
				c.Ingest.QueueSize = 1
			},
			wantRestart: []string{"server", "cache", "ingest"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, cur := base(), base()
			tt.mutate(cur)
			d := Diff(old, cur)
			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLevel)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			if d.Changed() != (tt.wantLevel || len(tt.wantRestart) > 0) {
				t.Errorf("Changed() = %v", d.Changed())
			}
		})
	}
}
