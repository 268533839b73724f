// Package app wires configuration into the voice, capture, chat and
// stream services and serves them over HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/voicenote/internal/audio"
	"github.com/satindergrewal/voicenote/internal/capture"
	"github.com/satindergrewal/voicenote/internal/chat"
	"github.com/satindergrewal/voicenote/internal/config"
	"github.com/satindergrewal/voicenote/internal/stream"
	"github.com/satindergrewal/voicenote/internal/voice"
)

// Options replaces hardware backends, mostly for tests.
type Options struct {
	Device voice.Device       // defaults to ffmpeg microphone capture
	Opener voice.PlayerOpener // defaults to the oto speaker backend
}

// App holds the long-lived services of one process.
type App struct {
	cfg config.Config
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	Events     *stream.Broadcaster
	Outbox     *chat.Outbox
	Client     *chat.Client // nil when messages stay in the outbox
	Recorder   *voice.Recorder
	Playback   *voice.Playback
	Compressor *capture.Compressor
	WebRTC     *stream.WebRTCHandler

	sender voice.Sender
}

// New builds an App from cfg.
func New(cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	outbox, err := chat.NewOutbox(cfg.OutboxDir, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		Events: stream.NewBroadcaster(),
		Outbox: outbox,
		sender: outbox,
	}
	if cfg.ChatURL != "" {
		a.Client = chat.NewClient(cfg.ChatURL, cfg.ChatToken, log)
		a.sender = a.Client
	}

	device := opts.Device
	if device == nil {
		device = FFmpegDevice(&audio.FFmpegDevice{InputFormat: cfg.InputFormat, Input: cfg.Input})
	}
	opener := opts.Opener
	if opener == nil {
		opener = OtoOpener(&audio.OtoBackend{})
	}

	var conv voice.Converter = audio.OggConverter{}
	if cfg.Container == "m4a" {
		conv = audio.M4AConverter{}
	}

	// Mic levels reach listeners through the broadcaster's run loop.
	levels := make(chan stream.Event, 32)
	go a.Events.Run(ctx, levels)

	notices := a.Events.Notices()
	pipeline := voice.NewPipeline(log, audio.NewOpusEncoder(cfg.Bitrate), conv, a.sender, notices,
		voice.PipelineConfig{TempDir: cfg.TempDir, Timeout: cfg.EncodeTimeout})
	a.Recorder = voice.NewRecorder(log, device, pipeline, stream.NewVolumeFeed(levels, ctx.Done()), notices,
		voice.RecorderConfig{TempDir: cfg.TempDir})
	a.Playback = voice.NewPlayback(log, opener, voice.PlaybackConfig{TempDir: cfg.TempDir})
	a.Compressor = &capture.Compressor{
		MaxDimension: cfg.MaxDimension,
		Quality:      cfg.JPEGQuality,
		TempDir:      cfg.TempDir,
	}
	a.WebRTC = stream.NewWebRTCHandler(outbox, log)
	return a, nil
}

// FFmpegDevice adapts an ffmpeg microphone to voice.Device.
func FFmpegDevice(d *audio.FFmpegDevice) voice.Device {
	return voice.DeviceFunc(func(sampleRate int) (voice.Capture, error) {
		c, err := d.Open(sampleRate)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// OtoOpener adapts the oto backend to voice.PlayerOpener.
func OtoOpener(b *audio.OtoBackend) voice.PlayerOpener {
	return voice.PlayerOpenerFunc(func(path string) (voice.Player, error) {
		p, err := b.Open(path)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Mode reports where sent messages go: "chat" or "outbox".
func (a *App) Mode() string {
	if a.Client != nil {
		return "chat"
	}
	return "outbox"
}

// LoadMessage reads the payload of message id from the outbox, falling
// back to the chat server when one is configured.
func (a *App) LoadMessage(ctx context.Context, id string) ([]byte, error) {
	payload, err := a.Outbox.Payload(id)
	if err == nil || a.Client == nil || !errors.Is(err, chat.ErrNotFound) {
		return payload, err
	}
	return a.Client.Fetch(ctx, id)
}

// Prepare loads message id in the background and publishes its duration.
func (a *App) Prepare(id string) {
	a.Playback.Prepare(id,
		func() ([]byte, error) { return a.LoadMessage(a.ctx, id) },
		func(ms int) {
			a.Events.Publish(stream.Event{Type: stream.EventDuration, ID: id, Value: ms})
		})
}

// Play starts message id, loading it first if it was never prepared.
func (a *App) Play(ctx context.Context, id string) error {
	var payload []byte
	if _, ok := a.Playback.Duration(id); !ok {
		var err error
		if payload, err = a.LoadMessage(ctx, id); err != nil {
			return err
		}
	}
	return a.Playback.Play(id, payload, a.Events.Progress(id))
}

// StopRecording finishes the recording and publishes the send outcome.
func (a *App) StopRecording() <-chan error {
	ctx := a.ctx
	out := make(chan error, 1)
	res := a.Recorder.Stop(ctx)
	go func() {
		err := <-res
		state := "sent"
		if err != nil {
			state = "send_failed"
		}
		a.Events.Publish(stream.Event{Type: stream.EventState, Text: state})
		out <- err
	}()
	return out
}

// SendImage delivers the compressed image at path and deletes it.
func (a *App) SendImage(ctx context.Context, to, path string) error {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			a.log.Warn().Err(err).Str("path", path).Msg("image file not removed")
		}
	}()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if err := a.sender.Send(ctx, to, data, "image/jpeg"); err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	return nil
}

// NewCaptureSession starts an image capture session.
func (a *App) NewCaptureSession() *capture.Controller {
	return capture.NewController(a.log, a.Compressor, a.Events.Notices(), a.cfg.CameraMount)
}

// Close stops playback, aborts recording and waits for pending sends.
func (a *App) Close() error {
	a.Playback.Close()
	err := a.Recorder.Close()
	a.cancel()
	return err
}
