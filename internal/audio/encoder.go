package audio

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/hraban/opus.v2"
)

// OpusEncoder turns PCM into a codec stream of 20ms Opus packets.
type OpusEncoder struct {
	SampleRate int // output rate, one of the Opus rates
	Bitrate    int
}

// NewOpusEncoder returns an encoder at the voice defaults.
func NewOpusEncoder(bitrate int) *OpusEncoder {
	return &OpusEncoder{SampleRate: TargetSampleRate, Bitrate: bitrate}
}

// Encode resamples src to the target rate and writes the codec stream to dst.
func (e *OpusEncoder) Encode(ctx context.Context, src PCM, dst string) error {
	if src.Channels > 1 {
		return fmt.Errorf("opus encode: want mono input, got %d channels", src.Channels)
	}

	enc, err := opus.NewEncoder(e.SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if e.Bitrate > 0 {
		if err := enc.SetBitrate(e.Bitrate); err != nil {
			return fmt.Errorf("opus bitrate: %w", err)
		}
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create codec stream: %w", err)
	}
	defer f.Close()

	frameSize := e.SampleRate * int(FrameDuration.Milliseconds()) / 1000
	pw, err := NewPacketWriter(f, StreamHeader{
		SampleRate: uint32(e.SampleRate),
		Channels:   Channels,
		FrameMs:    uint16(FrameDuration.Milliseconds()),
	})
	if err != nil {
		return fmt.Errorf("write stream header: %w", err)
	}

	samples := Resample(src.Samples, src.SampleRate, e.SampleRate)
	frame := make([]int16, frameSize)
	buf := make([]byte, 4000)

	for off := 0; off < len(samples); off += frameSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Last frame is zero-padded
		n := copy(frame, samples[off:])
		clear(frame[n:])

		size, err := enc.Encode(frame, buf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		if err := pw.WritePacket(buf[:size]); err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
	}

	if err := pw.Flush(); err != nil {
		return fmt.Errorf("flush codec stream: %w", err)
	}
	return f.Close()
}
