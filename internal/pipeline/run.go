// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	applog "omx/internal/log"
)

// Run starts f and moves everything src produces through it into sink
// until end of stream comes out of the component. The component is left
// in Executing; the caller closes f.
func Run(ctx context.Context, f *Filter, src Source, sink Sink) error {
	if err := f.Start(); err != nil {
		return err
	}

	// The group context is also cancelled when both sides finish cleanly;
	// only a failure or an outside cancellation aborts the ports.
	var finished atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		if finished.Load() < 2 {
			f.Abort()
		}
	})
	defer stop()

	g.Go(func() error {
		if err := feed(gctx, f, src); err != nil {
			return err
		}
		finished.Add(1)
		return nil
	})
	g.Go(func() error {
		if err := drain(gctx, f, sink); err != nil {
			return err
		}
		finished.Add(1)
		return nil
	})
	return g.Wait()
}

func feed(ctx context.Context, f *Filter, src Source) error {
	var chunks int
	for {
		b, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			applog.Debugf("pipeline: fed %d buffers", chunks)
			return f.EndOfStream()
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		err = f.Push(b)
		b.Unref()
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		chunks++
	}
}

func drain(ctx context.Context, f *Filter, sink Sink) error {
	var chunks int
	for {
		b, err := f.Pull(ctx)
		if errors.Is(err, io.EOF) {
			applog.Debugf("pipeline: drained %d buffers", chunks)
			return nil
		}
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}
		err = sink.Write(b)
		b.Unref()
		if err != nil {
			return fmt.Errorf("write sink: %w", err)
		}
		chunks++
	}
}
