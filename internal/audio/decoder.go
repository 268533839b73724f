package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"gopkg.in/hraban/opus.v2"
)

var oggMagic = []byte("OggS")

// DecodeFile decodes a playable voice file to mono PCM at PlaybackSampleRate.
// Ogg/Opus is decoded in-process; anything else goes through ffmpeg.
func DecodeFile(ctx context.Context, path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, len(oggMagic))
	if _, err := io.ReadFull(f, head); err == nil && bytes.Equal(head, oggMagic) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return PCM{}, err
		}
		return DecodeOgg(f)
	}
	return decodeFFmpeg(ctx, path)
}

// DecodeOgg decodes an Ogg/Opus stream written by OggConverter (mono).
func DecodeOgg(r io.Reader) (PCM, error) {
	s, err := opus.NewStream(r)
	if err != nil {
		return PCM{}, fmt.Errorf("opus stream: %w", err)
	}
	defer s.Close()

	var samples []int16
	buf := make([]int16, PlaybackSampleRate/10)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			samples = append(samples, buf[:n*Channels]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return PCM{}, fmt.Errorf("opus decode: %w", err)
		}
	}
	return PCM{Samples: samples, SampleRate: PlaybackSampleRate, Channels: Channels}, nil
}

// decodeFFmpeg runs FFmpeg to decode an audio file to raw PCM int16 samples.
func decodeFFmpeg(ctx context.Context, path string) (PCM, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return PCM{}, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	return PCM{Samples: BytesToSamples(out), SampleRate: PlaybackSampleRate, Channels: Channels}, nil
}
