// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	applog "omx/internal/log"
	"omx/internal/omx"
	"omx/internal/pipeline"
	"omx/internal/stats"
	"omx/internal/transport"
	"omx/internal/transport/udp"
)

func newRunCommand(opts *options) *cobra.Command {
	var input, output, monitor, udpTarget string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Push a WAV or raw file through the component and write what it produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitor != "" {
				opts.cfg.Transport.MonitorAddress = monitor
			}
			if udpTarget != "" {
				opts.cfg.Transport.UDPEnabled = true
				opts.cfg.Transport.UDPTargetAddress = udpTarget
			}

			src, err := pipeline.OpenSource(input, opts.cfg.Pipeline.ChunkSize, opts.cfg.Pipeline.FramesPerBuffer)
			if err != nil {
				return err
			}
			defer src.Close()

			format := pipeline.Format{
				SampleRate: int(opts.cfg.Pipeline.SampleRate),
				Channels:   opts.cfg.Pipeline.Channels,
				BitDepth:   opts.cfg.Pipeline.BitDepth,
			}
			if w, ok := src.(*pipeline.WAVSource); ok {
				format = w.Format()
			}
			return process(cmd.Context(), opts, src, output, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input file (.wav or raw bytes)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (.wav or raw bytes)")
	cmd.Flags().StringVar(&monitor, "monitor", "", "Serve component events over WebSocket on this address")
	cmd.Flags().StringVar(&udpTarget, "udp", "", "Publish port statistics over UDP to this address")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func newCaptureCommand(opts *options) *cobra.Command {
	var output string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Feed the component from an audio input device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pipeline.Initialize(); err != nil {
				return err
			}
			defer pipeline.Terminate()

			src, err := pipeline.NewCaptureSource(opts.cfg.Pipeline, duration)
			if err != nil {
				return err
			}
			defer src.Close()

			err = process(cmd.Context(), opts, src, output, src.Format(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				applog.Infof("capture interrupted")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (.wav or raw bytes)")
	cmd.Flags().DurationVarP(&duration, "duration", "t", 0, "How long to capture; 0 runs until interrupted")
	cmd.MarkFlagRequired("output")
	return cmd
}

// process runs src through the configured component into output and
// prints the port statistics afterwards.
func process(ctx context.Context, opts *options, src pipeline.Source, output string, format pipeline.Format, w io.Writer) error {
	f, err := pipeline.NewFilter(opts.registry, opts.cfg)
	if err != nil {
		return err
	}
	defer f.Close()

	closeTransports, err := attachTransports(opts, f)
	if err != nil {
		return err
	}
	defer closeTransports()

	sink, err := pipeline.OpenSink(output, format)
	if err != nil {
		return err
	}

	start := time.Now()
	runErr := pipeline.Run(ctx, f, src, sink)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}

	for _, s := range stats.SummarizeCore(f.Core()) {
		fmt.Fprintln(w, s)
	}
	if runErr == nil {
		applog.Infof("wrote %s in %v", output, time.Since(start).Round(time.Millisecond))
	}
	return runErr
}

// attachTransports wires the configured event and statistics transports
// to f. The returned func tears them down.
func attachTransports(opts *options, f *pipeline.Filter) (func(), error) {
	tc := opts.cfg.Transport
	events := transport.Multi{transport.NewLoggingTransport(applog.LevelDebug)}
	if tc.MonitorAddress != "" {
		ws, err := transport.NewWebSocketTransport(tc.MonitorAddress)
		if err != nil {
			return nil, fmt.Errorf("monitor: %w", err)
		}
		events = append(events, ws)
	}
	f.SetObserver(transport.NewForwarder(events))

	closers := []func() error{events.Close}
	if tc.UDPEnabled {
		sender, err := udp.NewSender(tc.UDPTargetAddress)
		if err != nil {
			events.Close()
			return nil, err
		}
		pub, err := udp.NewPublisher(tc.UDPSendInterval, sender, func() []stats.Summary {
			return stats.SummarizeCore(f.Core())
		})
		if err != nil {
			sender.Close()
			events.Close()
			return nil, err
		}
		pub.Start()
		closers = append([]func() error{pub.Close, sender.Close}, closers...)
	}

	return func() {
		f.SetObserver(nil)
		for _, c := range closers {
			if err := c(); err != nil {
				applog.Warnf("closing transport: %v", err)
			}
		}
	}, nil
}

func newProbeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Load the component and print its port definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := opts.cfg.Component
			core := omx.New(opts.registry, omx.Options{
				Library:      cc.Library,
				Component:    cc.Name,
				Role:         cc.Role,
				StateTimeout: cc.StateTimeout,
			})
			if err := core.Init(); err != nil {
				return err
			}
			defer core.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", cc.Name, core.State())
			for _, index := range []uint32{opts.cfg.InputPort.Index, opts.cfg.OutputPort.Index} {
				def, err := core.Port(index).Definition()
				if err != nil {
					return fmt.Errorf("port %d: %w", index, err)
				}
				fmt.Fprintln(out, portLine(def))
			}
			return nil
		},
	}
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices usable by capture",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pipeline.Initialize(); err != nil {
				return err
			}
			defer pipeline.Terminate()
			return pipeline.ListDevices(cmd.OutOrStdout())
		},
	}
}
