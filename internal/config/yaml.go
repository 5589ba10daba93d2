// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel   string          `yaml:"log_level"`   // Logging level (e.g., "debug", "info", "warn", "error").
	Component  ComponentConfig `yaml:"component"`   // Which IL component to drive.
	InputPort  PortConfig      `yaml:"input_port"`  // Buffer pool of the port data is sent to.
	OutputPort PortConfig      `yaml:"output_port"` // Buffer pool of the port data is received from.
	Pipeline   PipelineConfig  `yaml:"pipeline"`    // Source and sink settings.
	Transport  TransportConfig `yaml:"transport"`   // Event and statistics transport settings.
}

// ComponentConfig selects the component implementation and instance.
type ComponentConfig struct {
	Library       string        `yaml:"library"`        // "sim" or the path of an IL core shared object.
	Name          string        `yaml:"name"`           // Component name passed to GetHandle (e.g., "OMX.st.audio_decoder.mp3").
	Role          string        `yaml:"role"`           // Standard component role to set after loading (optional).
	StateTimeout  time.Duration `yaml:"state_timeout"`  // Bound on every state transition wait.
	UseTimestamps bool          `yaml:"use_timestamps"` // Convert buffer timestamps to and from IL ticks.
}

// PortConfig describes the buffer pool of one port. A zero BufferCount or
// BufferSize keeps what the component reports.
type PortConfig struct {
	Index       uint32 `yaml:"index"`
	BufferCount uint32 `yaml:"buffer_count"`
	BufferSize  uint32 `yaml:"buffer_size"`
	Allocation  string `yaml:"allocation"` // "client" or "component".
	Sharing     string `yaml:"sharing"`    // "off", "on" or "compliant".
	Reserved    int    `yaml:"reserved"`   // Output slots held back from the component (compliant sharing only).
}

// PipelineConfig holds the source and sink settings.
type PipelineConfig struct {
	ChunkSize       int     `yaml:"chunk_size"`        // Bytes read per input buffer from raw files.
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz for capture and raw WAV output.
	Channels        int     `yaml:"channels"`          // Channel count for capture and raw WAV output.
	BitDepth        int     `yaml:"bit_depth"`         // Bit depth for WAV output.
	CaptureDevice   int     `yaml:"capture_device"`    // PortAudio device index for capture (-1 for default).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
}

// TransportConfig holds settings related to publishing events and statistics.
type TransportConfig struct {
	MonitorAddress   string        `yaml:"monitor_address"`    // Listen address of the WebSocket event monitor (empty disables it).
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending port statistics over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Component: ComponentConfig{
			Library:       DefaultLibrary,
			Name:          DefaultComponent,
			StateTimeout:  DefaultStateTimeout,
			UseTimestamps: true,
		},
		InputPort: PortConfig{
			Index:      DefaultInputIndex,
			Allocation: DefaultAllocation,
			Sharing:    DefaultSharing,
		},
		OutputPort: PortConfig{
			Index:      DefaultOutputIndex,
			Allocation: DefaultAllocation,
			Sharing:    DefaultSharing,
		},
		Pipeline: PipelineConfig{
			ChunkSize:       DefaultChunkSize,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			BitDepth:        16,
			CaptureDevice:   DefaultCaptureDevice,
			FramesPerBuffer: DefaultFramesPerBuffer,
		},
		Transport: TransportConfig{
			MonitorAddress:   DefaultMonitorAddress,
			UDPEnabled:       false,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("omx.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"omx.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Component.Library == "" {
		return errors.New("component.library must be set")
	}
	if c.Component.Name == "" {
		return errors.New("component.name must be set")
	}
	if c.Component.StateTimeout < 0 {
		return errors.New("component.state_timeout must not be negative")
	}

	if err := c.InputPort.validate("input_port", false); err != nil {
		return err
	}
	if err := c.OutputPort.validate("output_port", true); err != nil {
		return err
	}
	if c.InputPort.Index == c.OutputPort.Index {
		return fmt.Errorf("input_port and output_port both use index %d", c.InputPort.Index)
	}

	if c.Pipeline.ChunkSize <= 0 {
		return errors.New("pipeline.chunk_size must be positive")
	}
	if c.Pipeline.SampleRate < MinSampleRate || c.Pipeline.SampleRate > MaxSampleRate {
		return fmt.Errorf("pipeline.sample_rate %.0f out of range [%d, %d]", c.Pipeline.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Pipeline.Channels <= 0 {
		return errors.New("pipeline.channels must be positive")
	}
	if c.Pipeline.FramesPerBuffer <= 0 || c.Pipeline.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("pipeline.frames_per_buffer must be in (0, %d]", MaxBufferFrames)
	}
	if c.Pipeline.CaptureDevice < MinDeviceID {
		return fmt.Errorf("pipeline.capture_device %d is invalid", c.Pipeline.CaptureDevice)
	}
	switch c.Pipeline.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("pipeline.bit_depth %d is not supported", c.Pipeline.BitDepth)
	}

	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			return errors.New("transport.udp_target_address must be set when UDP is enabled")
		}
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return errors.New("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	return nil
}

func (p *PortConfig) validate(section string, output bool) error {
	if !slices.Contains(Allocations, p.Allocation) {
		return fmt.Errorf("%s.allocation %q is not one of %v", section, p.Allocation, Allocations)
	}
	if !slices.Contains(Sharings, p.Sharing) {
		return fmt.Errorf("%s.sharing %q is not one of %v", section, p.Sharing, Sharings)
	}
	if p.BufferCount > 0 && p.BufferSize == 0 {
		return fmt.Errorf("%s.buffer_size must be set with buffer_count", section)
	}
	if p.Sharing != "off" && p.Allocation == "component" {
		return fmt.Errorf("%s: sharing cannot be combined with component allocation", section)
	}
	if p.Reserved < 0 {
		return fmt.Errorf("%s.reserved must not be negative", section)
	}
	if p.Reserved > 0 {
		if !output || p.Sharing != "compliant" {
			return fmt.Errorf("%s.reserved needs compliant sharing on an output port", section)
		}
		if p.BufferCount > 0 && uint32(p.Reserved) >= p.BufferCount {
			return fmt.Errorf("%s.reserved %d must be smaller than buffer_count %d", section, p.Reserved, p.BufferCount)
		}
	}
	return nil
}

// applyEnvOverrides applies ENV_* variables on top of the file settings.
func (cfg *Config) applyEnvOverrides() {
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		fmt.Printf("configuration: Overriding log_level from env: %s\n", val)
	}

	// ENV_OMX_{...}
	// These select the component.

	// ENV_OMX_LIBRARY
	if val, ok := os.LookupEnv("ENV_OMX_LIBRARY"); ok {
		cfg.Component.Library = val
		fmt.Printf("configuration: Overriding component.library from env: %s\n", val)
	}
	// ENV_OMX_COMPONENT
	if val, ok := os.LookupEnv("ENV_OMX_COMPONENT"); ok {
		cfg.Component.Name = val
		fmt.Printf("configuration: Overriding component.name from env: %s\n", val)
	}

	// ENV_MONITOR_ADDRESS
	if val, ok := os.LookupEnv("ENV_MONITOR_ADDRESS"); ok {
		cfg.Transport.MonitorAddress = val
		fmt.Printf("configuration: Overriding transport.monitor_address from env: %s\n", val)
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			fmt.Printf("configuration: Overriding transport.udp_enabled from env: %v\n", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		fmt.Printf("configuration: Overriding transport.udp_target_address from env: %s\n", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			fmt.Printf("configuration: Overriding transport.udp_send_interval from env: %s\n", dur)
		}
	}
}
