// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"omx/cmd"
	applog "omx/internal/log"
	"omx/pkg/build"
)

// main wires build information and signal handling around the command
// tree. The first interrupt cancels the running command, which drains and
// tears its component down; a second one kills the process.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Debugf("development build: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		applog.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
