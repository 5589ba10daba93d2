// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omx/internal/config"
	"omx/internal/il"
	"omx/internal/il/native"
	"omx/internal/il/sim"
	applog "omx/internal/log"
	"omx/internal/omx"
	"omx/pkg/build"
)

// options holds what the persistent flags and the loaded configuration
// hand to every command.
type options struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	registry   *omx.Registry
}

// loadLibrary maps a registry name to an IL implementation: the built-in
// software library for "sim", a shared object path for anything else.
func loadLibrary(name string) (il.Library, error) {
	if name == sim.LibraryName {
		return sim.New(), nil
	}
	return native.Load(name)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{registry: omx.NewRegistry(loadLibrary)}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Drive OpenMAX IL components from the command line",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "f", "",
		"Path to the YAML configuration. Defaults to ./omx.yaml when present.")
	rootCmd.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "v", "",
		"Log level (debug, info, warn, error). Overrides the configuration.")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newProbeCommand(opts),
		newCaptureCommand(opts),
		newDevicesCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

func (o *options) load() error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	level, ok := applog.ParseLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	applog.SetLevel(level)

	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	applog.Debugf("component %s from %s", cfg.Component.Name, cfg.Component.Library)
	return nil
}

// Execute runs the command line in args. ctx is cancelled on interrupt.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.GetBuildFlags())
		},
	}
}

// portLine formats a port definition for probe output.
func portLine(def il.PortDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "port %d: %s, %d buffers (min %d) of %d bytes", def.Index, def.Direction,
		def.BufferCountActual, def.BufferCountMin, def.BufferSize)
	if !def.Enabled {
		b.WriteString(", disabled")
	}
	if def.Populated {
		b.WriteString(", populated")
	}
	return b.String()
}
