// SPDX-License-Identifier: MIT
package pipeline

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"omx/internal/omx"
)

// Sink consumes the buffers a filter produces. It must not keep b after
// Write returns.
type Sink interface {
	Write(b *omx.Buffer) error
	Close() error
}

// RawSink writes payloads unchanged.
type RawSink struct {
	w io.Writer
}

func NewRawSink(w io.Writer) *RawSink {
	return &RawSink{w: w}
}

func (s *RawSink) Write(b *omx.Buffer) error {
	_, err := s.w.Write(b.Data)
	return err
}

func (s *RawSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// WAVSink encodes little-endian PCM payloads into a WAV file. Codec data
// buffers are skipped.
type WAVSink struct {
	file    *os.File
	enc     *wav.Encoder
	format  Format
	buf     *audio.IntBuffer
	samples []int
}

func NewWAVSink(path string, format Format) (*WAVSink, error) {
	if _, err := bytesPerSample(format.BitDepth); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &WAVSink{
		file:   file,
		enc:    wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, 1),
		format: format,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

func (s *WAVSink) Write(b *omx.Buffer) error {
	if b.CodecData {
		return nil
	}
	s.samples = decodePCM(s.samples, b.Data, s.format.BitDepth)
	if len(s.samples) == 0 {
		return nil
	}
	s.buf.Data = s.samples
	return s.enc.Write(s.buf)
}

func (s *WAVSink) Close() error {
	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			s.file.Close()
			return err
		}
		s.enc = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
		s.file = nil
	}
	return nil
}

// OpenSink creates a WAV sink for .wav paths and a raw sink otherwise.
func OpenSink(path string, format Format) (Sink, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return NewWAVSink(path, format)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewRawSink(file), nil
}
