package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
)

// OtoBackend opens players on the default output device.
// Only one oto context may exist per process, so it is created lazily
// and shared.
type OtoBackend struct {
	once   sync.Once
	ctx    *oto.Context
	ctxErr error
}

func (b *OtoBackend) context() (*oto.Context, error) {
	b.once.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   PlaybackSampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatSignedInt16LE,
		}
		var ready chan struct{}
		b.ctx, ready, b.ctxErr = oto.NewContext(op)
		if b.ctxErr != nil {
			b.ctxErr = fmt.Errorf("failed to create oto context: %w", b.ctxErr)
			return
		}
		<-ready
	})
	return b.ctx, b.ctxErr
}

// Open decodes the file at path and returns a prepared, paused player.
func (b *OtoBackend) Open(path string) (*OtoPlayer, error) {
	octx, err := b.context()
	if err != nil {
		return nil, err
	}
	pcm, err := DecodeFile(context.Background(), path)
	if err != nil {
		return nil, err
	}

	src := &countingReader{r: bytes.NewReader(SamplesToBytes(pcm.Samples))}
	return &OtoPlayer{
		player: octx.NewPlayer(src),
		src:    src,
	}, nil
}

// countingReader tracks how many bytes the player has pulled.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// OtoPlayer plays one decoded voice message.
type OtoPlayer struct {
	player  *oto.Player
	src     *countingReader
	started atomic.Bool
}

const bytesPerMs = PlaybackSampleRate * Channels * 2 / 1000

func (p *OtoPlayer) Start() error {
	p.player.Play()
	p.started.Store(true)
	return nil
}

// Position returns the playback position in milliseconds.
func (p *OtoPlayer) Position() int {
	played := p.src.n.Load() - int64(p.player.BufferedSize())
	if played < 0 {
		return 0
	}
	return int(played / bytesPerMs)
}

// Finished reports whether the source has been fully played out.
func (p *OtoPlayer) Finished() bool {
	return p.started.Load() && !p.player.IsPlaying()
}

func (p *OtoPlayer) Stop() {
	p.player.Pause()
}

func (p *OtoPlayer) Release() error {
	return p.player.Close()
}
