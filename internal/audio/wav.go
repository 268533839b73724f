package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter accepts raw s16le mono PCM through Write and stores it as a
// WAV file. Every sample written is also fed to the Meter.
type WAVWriter struct {
	file    *os.File
	enc     *wav.Encoder
	format  *goaudio.Format
	meter   *Meter
	residue []byte // odd byte held for the next Write
}

// CreateWAV opens path for writing a mono 16-bit WAV at sampleRate.
func CreateWAV(path string, sampleRate int, meter *Meter) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	if meter == nil {
		meter = &Meter{}
	}
	return &WAVWriter{
		file:   f,
		enc:    wav.NewEncoder(f, sampleRate, BitDepth, Channels, 1),
		format: &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
		meter:  meter,
	}, nil
}

// Write implements io.Writer for little-endian PCM bytes.
func (w *WAVWriter) Write(p []byte) (int, error) {
	n := len(p)
	if len(w.residue) > 0 {
		joined := make([]byte, 0, len(w.residue)+len(p))
		joined = append(joined, w.residue...)
		p = append(joined, p...)
		w.residue = nil
	}
	if len(p)%2 != 0 {
		w.residue = []byte{p[len(p)-1]}
		p = p[:len(p)-1]
	}
	if len(p) == 0 {
		return n, nil
	}

	samples := BytesToSamples(p)
	w.meter.Observe(samples)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: BitDepth}
	if err := w.enc.Write(buf); err != nil {
		return 0, fmt.Errorf("write wav samples: %w", err)
	}
	return n, nil
}

// Close finalizes the WAV header and closes the file.
func (w *WAVWriter) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}

// ReadWAV loads a whole 16-bit WAV file. Multi-channel input is downmixed
// to mono.
func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("read wav: %w", err)
	}
	if dec.BitDepth != BitDepth {
		return PCM{}, fmt.Errorf("%s: unsupported bit depth %d", path, dec.BitDepth)
	}

	chans := int(dec.NumChans)
	if chans < 1 {
		chans = 1
	}
	samples := make([]int16, len(buf.Data)/chans)
	for i := range samples {
		sum := 0
		for c := 0; c < chans; c++ {
			sum += buf.Data[i*chans+c]
		}
		samples[i] = int16(sum / chans)
	}

	return PCM{Samples: samples, SampleRate: int(dec.SampleRate), Channels: 1}, nil
}
