// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "omx.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Component.Library != DefaultLibrary || cfg.Component.Name != DefaultComponent {
		t.Errorf("default component = %+v", cfg.Component)
	}
	if !cfg.Component.UseTimestamps {
		t.Error("timestamps should be on by default")
	}
	if cfg.InputPort.Index != 0 || cfg.OutputPort.Index != 1 {
		t.Errorf("default port indexes = %d, %d", cfg.InputPort.Index, cfg.OutputPort.Index)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeTempConfig(t, `
log_level: debug
component:
  library: /usr/lib/libomxil-bellagio.so.0
  name: OMX.st.audio_decoder.mp3
  role: audio_decoder.mp3
  state_timeout: 5s
  use_timestamps: false
input_port:
  index: 0
  buffer_count: 4
  buffer_size: 4096
  allocation: component
output_port:
  index: 1
  buffer_count: 6
  buffer_size: 8192
  sharing: compliant
  reserved: 2
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Component.Role != "audio_decoder.mp3" || cfg.Component.StateTimeout != 5*time.Second || cfg.Component.UseTimestamps {
		t.Errorf("component = %+v", cfg.Component)
	}
	if cfg.InputPort.Allocation != "component" || cfg.InputPort.Sharing != DefaultSharing {
		t.Errorf("input port = %+v", cfg.InputPort)
	}
	if cfg.OutputPort.Reserved != 2 || cfg.OutputPort.BufferCount != 6 {
		t.Errorf("output port = %+v", cfg.OutputPort)
	}
	if cfg.Pipeline.ChunkSize != DefaultChunkSize {
		t.Errorf("unset pipeline.chunk_size = %d, want default", cfg.Pipeline.ChunkSize)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_OMX_LIBRARY", "/opt/vc/lib/libopenmaxil.so")
	t.Setenv("ENV_OMX_COMPONENT", "OMX.broadcom.audio_decode")
	t.Setenv("ENV_UDP_ENABLED", "true")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "250ms")
	t.Setenv("ENV_MONITOR_ADDRESS", ":8080")

	cfg, err := LoadConfig(writeTempConfig(t, "log_level: warn\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Component.Library != "/opt/vc/lib/libopenmaxil.so" || cfg.Component.Name != "OMX.broadcom.audio_decode" {
		t.Errorf("component = %+v", cfg.Component)
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPSendInterval != 250*time.Millisecond || cfg.Transport.MonitorAddress != ":8080" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown allocation", func(c *Config) { c.InputPort.Allocation = "device" }, "allocation"},
		{"unknown sharing", func(c *Config) { c.OutputPort.Sharing = "always" }, "sharing"},
		{"count without size", func(c *Config) { c.InputPort.BufferCount = 4 }, "buffer_size"},
		{"sharing with component allocation", func(c *Config) {
			c.InputPort.Allocation = "component"
			c.InputPort.Sharing = "on"
		}, "cannot be combined"},
		{"negative reserved", func(c *Config) { c.OutputPort.Reserved = -1 }, "negative"},
		{"reserved without compliant", func(c *Config) { c.OutputPort.Reserved = 1 }, "compliant"},
		{"reserved on input", func(c *Config) {
			c.InputPort.Sharing = "compliant"
			c.InputPort.Reserved = 1
		}, "compliant"},
		{"reserved not below count", func(c *Config) {
			c.OutputPort.Sharing = "compliant"
			c.OutputPort.BufferCount = 2
			c.OutputPort.BufferSize = 1024
			c.OutputPort.Reserved = 2
		}, "smaller"},
		{"same port twice", func(c *Config) { c.OutputPort.Index = 0 }, "both use index"},
		{"udp without port", func(c *Config) {
			c.Transport.UDPEnabled = true
			c.Transport.UDPTargetAddress = "localhost"
		}, "missing port"},
		{"sample rate", func(c *Config) { c.Pipeline.SampleRate = 100 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
