package voice

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Resource is the registry entry for one message: its payload and
// declared duration, kept until Forget or Close.
type Resource struct {
	ID       string
	payload  []byte
	duration int // payload length in bytes
	prepared bool
	playing  bool
	waiters  []func(int)
}

// session is one playback in progress.
type session struct {
	res    *Resource
	path   string
	player Player
	loop   *progressLoop
}

// PlaybackConfig holds the tunables of a Playback.
type PlaybackConfig struct {
	TempDir      string
	TickInterval time.Duration // defaults to 100ms
}

// Playback plays voice messages one at a time and reports progress.
// Starting a message force-completes whatever was playing.
type Playback struct {
	log      zerolog.Logger
	opener   PlayerOpener
	tempDir  string
	interval time.Duration

	playMu sync.Mutex // serializes Play so one player exists at a time

	mu       sync.Mutex
	registry map[string]*Resource
	active   *session
	pending  string // id whose player is being opened
	seq      uint64 // bumped when a pending open must not become active
	closed   bool
}

// NewPlayback creates a playback controller.
func NewPlayback(log zerolog.Logger, opener PlayerOpener, cfg PlaybackConfig) *Playback {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Playback{
		log:      log.With().Str("component", "playback").Logger(),
		opener:   opener,
		tempDir:  cfg.TempDir,
		interval: interval,
		registry: make(map[string]*Resource),
	}
}

// Play starts message id. payload may be nil when the message was
// prepared before. Progress goes to sink every tick until the player
// finishes or Stop is called.
//
// Opening the player happens outside p.mu. A Stop, Forget or newer Play
// that arrives meanwhile wins: the new player is torn down and sink gets
// its final 100.
func (p *Playback) Play(id string, payload []byte, sink ProgressSink) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.active != nil {
		p.finishLocked(p.active)
	}

	res := p.registry[id]
	switch {
	case res == nil && payload == nil:
		p.mu.Unlock()
		return ErrUnknownMessage
	case res == nil:
		res = &Resource{ID: id}
		p.registry[id] = res
		res.fill(payload)
	case !res.prepared && payload == nil:
		p.mu.Unlock()
		return ErrNotPrepared
	case !res.prepared:
		// The in-flight load still notifies its waiters.
		res.fill(payload)
	}
	p.seq++
	seq := p.seq
	p.pending = id
	data := res.payload
	p.mu.Unlock()

	player, path, err := p.open(data)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == id {
		p.pending = ""
	}
	if err != nil {
		return err
	}
	if p.closed || p.seq != seq {
		p.discard(id, player, path)
		if sink != nil {
			sink.SetProgress(100)
		}
		if p.closed {
			return ErrClosed
		}
		p.log.Debug().Str("id", id).Msg("playback superseded while opening")
		return nil
	}

	sess := &session{
		res:    res,
		path:   path,
		player: player,
		loop:   &progressLoop{running: true, sink: sink},
	}
	res.playing = true
	p.active = sess
	go sess.loop.run(player, res.duration, p.interval, func() { p.complete(sess) })

	p.log.Debug().Str("id", id).Int("duration", res.duration).Msg("playback started")
	return nil
}

// open materializes payload and starts a player on it.
func (p *Playback) open(payload []byte) (Player, string, error) {
	path, err := p.materialize(payload)
	if err != nil {
		return nil, "", err
	}
	player, err := p.opener.Open(path)
	if err != nil {
		os.Remove(path)
		return nil, "", fmt.Errorf("open player: %w", err)
	}
	if err := player.Start(); err != nil {
		player.Release()
		os.Remove(path)
		return nil, "", fmt.Errorf("start player: %w", err)
	}
	return player, path, nil
}

// discard tears down a player that never became the active session.
func (p *Playback) discard(id string, player Player, path string) {
	player.Stop()
	if err := player.Release(); err != nil {
		p.log.Warn().Err(err).Str("id", id).Msg("player release failed")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("path", path).Msg("sound file not removed")
	}
}

func (r *Resource) fill(payload []byte) {
	r.payload = payload
	r.duration = len(payload)
	r.prepared = true
}

// materialize writes payload to a fresh sound file.
func (p *Playback) materialize(payload []byte) (string, error) {
	f, err := os.CreateTemp(p.tempDir, "sound-*"+soundExt(payload))
	if err != nil {
		return "", fmt.Errorf("create sound file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write sound file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write sound file: %w", err)
	}
	return f.Name(), nil
}

func soundExt(payload []byte) string {
	if bytes.HasPrefix(payload, []byte("OggS")) {
		return ".ogg"
	}
	return ".m4a"
}

// complete is called by a loop whose player finished on its own.
func (p *Playback) complete(sess *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == sess {
		p.finishLocked(sess)
		p.log.Debug().Str("id", sess.res.ID).Msg("playback completed")
	}
}

// finishLocked ends sess: loop halted with a final 100, player stopped
// and released, sound file deleted. Caller holds p.mu.
func (p *Playback) finishLocked(sess *session) {
	sess.loop.halt()
	sess.player.Stop()
	if err := sess.player.Release(); err != nil {
		p.log.Warn().Err(err).Str("id", sess.res.ID).Msg("player release failed")
	}
	if err := os.Remove(sess.path); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("path", sess.path).Msg("sound file not removed")
	}
	sess.res.playing = false
	if p.active == sess {
		p.active = nil
	}
}

// Stop ends the active playback, if any, and cancels one being opened.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	if p.active != nil {
		p.finishLocked(p.active)
	}
}

// Prepare makes sure message id is loaded and reports its duration.
// The first call for an id runs load on a background goroutine and
// calls onDuration once it returns. Later calls never load again: they
// call onDuration right away from the cache, or when the pending load
// finishes.
func (p *Playback) Prepare(id string, load func() ([]byte, error), onDuration func(int)) {
	if onDuration == nil {
		onDuration = func(int) {}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if res, ok := p.registry[id]; ok {
		if res.prepared {
			d := res.duration
			p.mu.Unlock()
			onDuration(d)
			return
		}
		res.waiters = append(res.waiters, onDuration)
		p.mu.Unlock()
		return
	}
	res := &Resource{ID: id, waiters: []func(int){onDuration}}
	p.registry[id] = res
	p.mu.Unlock()

	go p.load(res, load)
}

func (p *Playback) load(res *Resource, load func() ([]byte, error)) {
	payload, err := load()

	p.mu.Lock()
	if err != nil {
		// A later Prepare may try again.
		if p.registry[res.ID] == res && !res.prepared {
			delete(p.registry, res.ID)
		}
		res.waiters = nil
		p.mu.Unlock()
		p.log.Error().Err(err).Str("id", res.ID).Msg("voice message load failed")
		return
	}
	if !res.prepared {
		res.fill(payload)
	}
	d := res.duration
	waiters := res.waiters
	res.waiters = nil
	p.mu.Unlock()

	for _, fn := range waiters {
		fn(d)
	}
}

// Attach binds sink to the active playback if it is message id;
// otherwise the active playback loses its sink.
func (p *Playback) Attach(id string, sink ProgressSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return
	}
	if p.active.res.ID == id {
		p.active.loop.setSink(sink)
	} else {
		p.active.loop.setSink(nil)
	}
}

// IsPlaying reports whether message id is playing.
func (p *Playback) IsPlaying(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && p.active.res.ID == id
}

// Playing returns the id of the active message, or "".
func (p *Playback) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return ""
	}
	return p.active.res.ID
}

// Duration returns the cached declared duration of id.
func (p *Playback) Duration(id string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.registry[id]
	if !ok || !res.prepared {
		return 0, false
	}
	return res.duration, true
}

// Forget drops message id from the registry, stopping it if it plays.
func (p *Playback) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == id {
		p.seq++
	}
	if p.active != nil && p.active.res.ID == id {
		p.finishLocked(p.active)
	}
	delete(p.registry, id)
}

// Close stops playback and clears the registry.
func (p *Playback) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.finishLocked(p.active)
	}
	p.registry = make(map[string]*Resource)
	p.closed = true
}

// progressLoop polls one player and republishes its progress.
type progressLoop struct {
	mu      sync.Mutex
	running bool
	sink    ProgressSink
	last    int
}

// run ticks until halted or until the player finishes, in which case
// onDone is called without the loop lock held.
func (l *progressLoop) run(player Player, duration int, interval time.Duration, onDone func()) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for range t.C {
		l.mu.Lock()
		if !l.running {
			l.mu.Unlock()
			return
		}
		if player.Finished() {
			l.mu.Unlock()
			onDone()
			return
		}
		if v := Progress(player.Position(), duration); v > l.last {
			l.last = v
		}
		if l.sink != nil {
			l.sink.SetProgress(l.last)
		}
		l.mu.Unlock()
	}
}

// halt stops the loop and pushes the final 100.
func (l *progressLoop) halt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.last = 100
	if l.sink != nil {
		l.sink.SetProgress(100)
	}
}

func (l *progressLoop) setSink(sink ProgressSink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}
