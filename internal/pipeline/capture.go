// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"omx/internal/config"
	applog "omx/internal/log"
	"omx/internal/omx"
)

// captureDepth is how many callback periods may queue up before capture
// starts dropping.
const captureDepth = 32

// Initialize sets up the PortAudio subsystem.
// This must be called before any capture and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// InputDevice retrieves the capture device for the given device ID.
// If deviceID is config.MinDeviceID (-1), returns the system default input device.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	return devices[deviceID], nil
}

// ListDevices prints every device that can capture.
func ListDevices(w io.Writer) error {
	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	for i, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		fmt.Fprintf(w, "[%d] %s\n", i, device.Name)
		fmt.Fprintf(w, "    Input channels: %d, default sample rate: %.0f Hz\n", device.MaxInputChannels, device.DefaultSampleRate)
		fmt.Fprintf(w, "    Latency: Low=%.2fms, High=%.2fms\n",
			device.DefaultLowInputLatency.Seconds()*1000,
			device.DefaultHighInputLatency.Seconds()*1000)
	}
	return nil
}

// CaptureSource feeds 32-bit PCM from a PortAudio input stream. PortAudio
// must be initialized for as long as the source is open.
type CaptureSource struct {
	stream   *portaudio.Stream
	format   Format
	limit    int64 // frames to capture, 0 for unlimited
	frames   int64 // frames handed to the callback so far
	periods  chan *omx.Buffer
	dropped  atomic.Int64
	finished atomic.Bool
}

// NewCaptureSource opens and starts the configured input device. A zero
// duration captures until the context is cancelled.
func NewCaptureSource(cfg config.PipelineConfig, duration time.Duration) (*CaptureSource, error) {
	device, err := InputDevice(cfg.CaptureDevice)
	if err != nil {
		return nil, err
	}

	latency := device.DefaultHighInputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	s := &CaptureSource{
		format: Format{
			SampleRate: int(cfg.SampleRate),
			Channels:   cfg.Channels,
			BitDepth:   32,
		},
		limit:   int64(duration.Seconds() * cfg.SampleRate),
		periods: make(chan *omx.Buffer, captureDepth),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: cfg.Channels,
			Device:   device,
			Latency:  latency,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return nil, err
	}
	s.stream = stream

	if err := s.stream.Start(); err != nil {
		s.stream.Close()
		return nil, err
	}
	applog.Infof("capture: %s, %d channels at %.0f Hz", device.Name, cfg.Channels, cfg.SampleRate)
	return s, nil
}

// Format returns the PCM format of captured buffers.
func (s *CaptureSource) Format() Format {
	return s.format
}

// process runs on the PortAudio callback thread. It must not block.
func (s *CaptureSource) process(in []int32) {
	if s.finished.Load() {
		return
	}
	frames := int64(len(in) / s.format.Channels)
	if s.limit > 0 && s.frames+frames >= s.limit {
		frames = s.limit - s.frames
		in = in[:frames*int64(s.format.Channels)]
		s.finished.Store(true)
	}

	b := omx.NewBuffer(len(in) * 4)
	for i, v := range in {
		o := i * 4
		b.Data[o] = byte(v)
		b.Data[o+1] = byte(v >> 8)
		b.Data[o+2] = byte(v >> 16)
		b.Data[o+3] = byte(v >> 24)
	}
	b.Timestamp = time.Duration(s.frames) * time.Second / time.Duration(s.format.SampleRate)
	s.frames += frames

	select {
	case s.periods <- b:
	default:
		s.dropped.Add(1)
	}
	if s.finished.Load() {
		close(s.periods)
	}
}

func (s *CaptureSource) Read(ctx context.Context) (*omx.Buffer, error) {
	select {
	case b, ok := <-s.periods:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many callback periods were lost because the filter
// did not keep up.
func (s *CaptureSource) Dropped() int64 {
	return s.dropped.Load()
}

func (s *CaptureSource) Close() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return err
	}
	if err := s.stream.Close(); err != nil {
		return err
	}
	s.stream = nil
	if n := s.dropped.Load(); n > 0 {
		applog.Warnf("capture: dropped %d periods", n)
	}
	return nil
}
