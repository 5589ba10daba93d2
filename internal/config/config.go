// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults and limits for the component and its ports.
const (
	DefaultLogLevel     = "info"
	DefaultLibrary      = "sim"
	DefaultComponent    = "OMX.sim.passthrough"
	DefaultStateTimeout = 100 * time.Second

	DefaultInputIndex  = 0
	DefaultOutputIndex = 1
	DefaultAllocation  = "client"
	DefaultSharing     = "off"

	DefaultChunkSize       = 4096  // Bytes per buffer pushed from a file source
	DefaultSampleRate      = 44100 // CD-quality audio
	DefaultChannels        = 2
	DefaultFramesPerBuffer = 512 // Balanced latency/performance
	DefaultCaptureDevice   = MinDeviceID

	DefaultMonitorAddress   = ""
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = time.Second

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
)

// Allocation and sharing names accepted in port sections.
var (
	Allocations = []string{"client", "component"}
	Sharings    = []string{"off", "on", "compliant"}
)
