package voice

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satindergrewal/voicenote/internal/audio"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func writeRawWAV(t *testing.T, dir string, samples []int16) string {
	t.Helper()
	path := filepath.Join(dir, "voice-raw.wav")
	w, err := audio.CreateWAV(path, 44100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(audio.SamplesToBytes(samples)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- capture ---

type fakeDevice struct {
	mu      sync.Mutex
	accept  []int
	opened  []int
	live    int
	maxLive int
	samples []int16
}

func (d *fakeDevice) Open(rate int) (Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, rate)
	if !slices.Contains(d.accept, rate) {
		return nil, errors.New("rate not supported")
	}
	d.live++
	d.maxLive = max(d.maxLive, d.live)
	return &fakeCapture{dev: d}, nil
}

func (d *fakeDevice) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

type fakeCapture struct {
	dev      *fakeDevice
	released bool
}

func (c *fakeCapture) Start(w io.Writer) error {
	_, err := w.Write(audio.SamplesToBytes(c.dev.samples))
	return err
}

func (c *fakeCapture) Stop() error { return nil }

func (c *fakeCapture) Release() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if !c.released {
		c.released = true
		c.dev.live--
	}
}

// --- pipeline collaborators ---

type fakeEncoder struct {
	err error
}

func (e *fakeEncoder) Encode(ctx context.Context, src audio.PCM, dst string) error {
	if e.err != nil {
		return e.err
	}
	return os.WriteFile(dst, audio.SamplesToBytes(src.Samples), 0o644)
}

type fakeConverter struct {
	err error
}

func (c *fakeConverter) Convert(ctx context.Context, src, dst string) error {
	if c.err != nil {
		return c.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte("OggS"), data...), 0o644)
}

func (c *fakeConverter) Ext() string      { return ".ogg" }
func (c *fakeConverter) MimeType() string { return audio.MimeOggOpus }

type sent struct {
	to       string
	payload  []byte
	mimeType string
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (s *fakeSender) Send(ctx context.Context, to string, payload []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{to, payload, mimeType})
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *fakeNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.msgs)
}

type fakeVolume struct {
	mu      sync.Mutex
	levels  []int
	cleared int
	visible bool
}

func (v *fakeVolume) SetVolumeLevel(level int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.levels = append(v.levels, level)
}

func (v *fakeVolume) ClearVolume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cleared++
}

func (v *fakeVolume) SetVisible(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = visible
}

func (v *fakeVolume) snapshot() ([]int, int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.levels), v.cleared, v.visible
}

// --- playback ---

type fakePlayer struct {
	path     string
	pos      atomic.Int64
	finished atomic.Bool
	started  atomic.Bool
	stopped  atomic.Bool
	released atomic.Bool
}

func (p *fakePlayer) Start() error {
	p.started.Store(true)
	return nil
}

func (p *fakePlayer) Position() int  { return int(p.pos.Load()) }
func (p *fakePlayer) Finished() bool { return p.finished.Load() }
func (p *fakePlayer) Stop()          { p.stopped.Store(true) }

func (p *fakePlayer) Release() error {
	p.released.Store(true)
	return nil
}

// fakeOpener records every player it opens. check runs before each open
// with the players opened so far.
type fakeOpener struct {
	mu      sync.Mutex
	players []*fakePlayer
	check   func(prev []*fakePlayer)
}

func (o *fakeOpener) Open(path string) (Player, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.check != nil {
		o.check(o.players)
	}
	p := &fakePlayer{path: path}
	o.players = append(o.players, p)
	return p, nil
}

func (o *fakeOpener) last() *fakePlayer {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.players) == 0 {
		return nil
	}
	return o.players[len(o.players)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	values []int
}

func (s *recordingSink) SetProgress(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
}

func (s *recordingSink) Values() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.values)
}

func (s *recordingSink) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return -1
	}
	return s.values[len(s.values)-1]
}
