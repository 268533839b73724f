package voice

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/voicenote/internal/audio"
)

// Job is one raw recording on its way to a recipient. The pipeline fills
// in the intermediate paths it creates; all of them are gone once Run
// returns.
type Job struct {
	RawPath       string
	Recipient     string
	CodecPath     string
	ContainerPath string
}

// Pipeline turns a raw recording into a sent message:
// raw WAV -> codec stream -> container -> payload -> Sender.
// Each stage removes the files it owns on every exit path.
type Pipeline struct {
	log     zerolog.Logger
	enc     Encoder
	conv    Converter
	send    Sender
	notify  Notifier
	tempDir string
	timeout time.Duration
}

// PipelineConfig holds the tunables of a Pipeline.
type PipelineConfig struct {
	TempDir string
	Timeout time.Duration // zero means no deadline
}

// NewPipeline creates an encode pipeline.
func NewPipeline(log zerolog.Logger, enc Encoder, conv Converter, send Sender, notify Notifier, cfg PipelineConfig) *Pipeline {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Pipeline{
		log:     log.With().Str("component", "pipeline").Logger(),
		enc:     enc,
		conv:    conv,
		send:    send,
		notify:  notify,
		tempDir: cfg.TempDir,
		timeout: cfg.Timeout,
	}
}

// Run encodes, packages and sends job. On failure the user is notified
// and the error returned; nothing is retried.
func (p *Pipeline) Run(ctx context.Context, job *Job) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.run(ctx, job)
	if err != nil {
		p.log.Error().Err(err).Str("recipient", job.Recipient).Msg("voice message failed")
		p.notify.Notify(NoticeSendFailed)
		return err
	}
	p.log.Info().
		Str("recipient", job.Recipient).
		Dur("took", time.Since(start)).
		Msg("voice message sent")
	return nil
}

func (p *Pipeline) run(ctx context.Context, job *Job) error {
	codec, err := p.encode(ctx, job)
	if err != nil {
		return err
	}
	container, err := p.convert(ctx, job, codec)
	if err != nil {
		return err
	}
	payload, err := p.readPayload(container)
	if err != nil {
		return err
	}
	if err := p.send.Send(ctx, job.Recipient, payload, p.conv.MimeType()); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// encode consumes the raw file and produces the codec stream.
func (p *Pipeline) encode(ctx context.Context, job *Job) (string, error) {
	defer p.remove(job.RawPath)

	pcm, err := audio.ReadWAV(job.RawPath)
	if err != nil {
		return "", fmt.Errorf("read raw audio: %w", err)
	}
	if len(pcm.Samples) == 0 {
		return "", ErrEmptyRecording
	}
	p.log.Debug().
		Int("rate", pcm.SampleRate).
		Dur("length", pcm.Duration()).
		Msg("raw audio loaded")

	path, err := p.tempFile("voice-*.pkt")
	if err != nil {
		return "", err
	}
	job.CodecPath = path
	if err := p.enc.Encode(ctx, pcm, path); err != nil {
		p.remove(path)
		return "", fmt.Errorf("encode: %w", err)
	}
	return path, nil
}

// convert consumes the codec stream and produces the container.
func (p *Pipeline) convert(ctx context.Context, job *Job, codec string) (string, error) {
	defer p.remove(codec)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := p.tempFile("voice-*" + p.conv.Ext())
	if err != nil {
		return "", err
	}
	job.ContainerPath = path
	if err := p.conv.Convert(ctx, codec, path); err != nil {
		p.remove(path)
		return "", fmt.Errorf("convert: %w", err)
	}
	return path, nil
}

// readPayload consumes the container.
func (p *Pipeline) readPayload(path string) ([]byte, error) {
	defer p.remove(path)

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	return payload, nil
}

func (p *Pipeline) tempFile(pattern string) (string, error) {
	f, err := os.CreateTemp(p.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("create temp file: %w", err)
	}
	return name, nil
}

func (p *Pipeline) remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("path", path).Msg("temp file not removed")
	}
}
