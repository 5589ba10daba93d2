// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"omx/internal/omx"
)

// Source produces the buffers pushed into a filter. Read returns io.EOF
// after the last buffer.
type Source interface {
	Read(ctx context.Context) (*omx.Buffer, error)
	Close() error
}

// Format describes PCM data.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// RawSource reads fixed-size chunks from a byte stream. Its buffers carry
// no timestamps.
type RawSource struct {
	r     io.Reader
	chunk int
	done  bool
}

func NewRawSource(r io.Reader, chunk int) *RawSource {
	return &RawSource{r: r, chunk: chunk}
}

func (s *RawSource) Read(ctx context.Context) (*omx.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	b := omx.NewBuffer(s.chunk)
	n, err := io.ReadFull(s.r, b.Data)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		if n == 0 {
			return nil, io.EOF
		}
		b.Data = b.Data[:n]
		return b, nil
	default:
		return nil, err
	}
}

func (s *RawSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// WAVSource reads PCM frames from a WAV file and stamps every buffer with
// its position in the stream.
type WAVSource struct {
	file    *os.File
	dec     *wav.Decoder
	format  Format
	buf     *audio.IntBuffer
	samples int64
}

// NewWAVSource opens path. Each buffer holds up to frames frames.
func NewWAVSource(path string, frames int) (*WAVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to find PCM data in %s: %w", path, err)
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if _, err := bytesPerSample(format.BitDepth); err != nil {
		file.Close()
		return nil, err
	}
	if format.Channels == 0 || format.SampleRate == 0 {
		file.Close()
		return nil, fmt.Errorf("%s has no audio format", path)
	}

	return &WAVSource{
		file:   file,
		dec:    dec,
		format: format,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			Data:           make([]int, frames*format.Channels),
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

// Format returns the PCM format of the file.
func (s *WAVSource) Format() Format {
	return s.format
}

func (s *WAVSource) Read(ctx context.Context) (*omx.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}

	width := s.format.BitDepth / 8
	b := omx.NewBuffer(n * width)
	encodePCM(b.Data, s.buf.Data[:n], s.format.BitDepth)

	frames := int64(n / s.format.Channels)
	b.Timestamp = s.position()
	b.Duration = time.Duration(frames) * time.Second / time.Duration(s.format.SampleRate)
	s.samples += frames
	return b, nil
}

func (s *WAVSource) position() time.Duration {
	return time.Duration(s.samples) * time.Second / time.Duration(s.format.SampleRate)
}

func (s *WAVSource) Close() error {
	return s.file.Close()
}

// OpenSource opens a WAV source for .wav paths and a raw source otherwise.
func OpenSource(path string, chunk, frames int) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return NewWAVSource(path, frames)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewRawSource(file, chunk), nil
}
