package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/voicenote/internal/audio"
)

// State is the recording state.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateRecording:
		return "recording"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// RecorderConfig holds the tunables of a Recorder.
type RecorderConfig struct {
	TempDir        string
	SampleRates    []int         // tried in order; defaults to audio.DefaultSampleRates
	SampleInterval time.Duration // volume meter period; defaults to 100ms
}

// Recorder is the voice recording state machine. A new Recorder is
// Started; Start moves it to Recording and Stop back to Started.
// Close moves it to Idle for good.
type Recorder struct {
	log      zerolog.Logger
	device   Device
	pipeline *Pipeline
	volume   VolumeSink
	notify   Notifier
	tempDir  string
	rates    []int
	interval time.Duration

	mu        sync.Mutex
	state     State
	recipient string
	rawPath   string
	capture   Capture
	wav       *audio.WAVWriter
	stop      chan struct{}
	sampling  chan struct{}

	jobs sync.WaitGroup
}

// NewRecorder creates a Recorder that hands finished recordings to pipeline.
func NewRecorder(log zerolog.Logger, device Device, pipeline *Pipeline, volume VolumeSink, notify Notifier, cfg RecorderConfig) *Recorder {
	if volume == nil {
		volume = nopVolume{}
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	rates := cfg.SampleRates
	if len(rates) == 0 {
		rates = audio.DefaultSampleRates
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Recorder{
		log:      log.With().Str("component", "recorder").Logger(),
		device:   device,
		pipeline: pipeline,
		volume:   volume,
		notify:   notify,
		tempDir:  cfg.TempDir,
		rates:    rates,
		interval: interval,
		state:    StateStarted,
	}
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRecording reports whether a capture is running.
func (r *Recorder) IsRecording() bool {
	return r.State() == StateRecording
}

// Start begins recording a message for recipient. It does nothing unless
// the recorder is Started. If the device opens at none of the candidate
// rates, ErrDeviceUnavailable is returned and the state is unchanged.
func (r *Recorder) Start(recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStarted {
		return nil
	}

	// Left behind by an aborted session
	if r.rawPath != "" {
		r.removeRaw()
	}

	f, err := os.CreateTemp(r.tempDir, "voice-*.wav")
	if err != nil {
		r.log.Error().Err(err).Str("dir", r.tempDir).Msg("raw file not created")
		return fmt.Errorf("create raw file: %w", err)
	}
	path := f.Name()
	f.Close()

	capture, rate := r.open()
	if capture == nil {
		os.Remove(path)
		r.log.Error().Ints("rates", r.rates).Msg("no sample rate accepted by capture device")
		return ErrDeviceUnavailable
	}

	meter := &audio.Meter{}
	w, err := audio.CreateWAV(path, rate, meter)
	if err != nil {
		capture.Release()
		os.Remove(path)
		return err
	}
	if err := capture.Start(w); err != nil {
		capture.Release()
		w.Close()
		os.Remove(path)
		r.log.Error().Err(err).Int("rate", rate).Msg("capture start failed")
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.recipient = recipient
	r.rawPath = path
	r.capture = capture
	r.wav = w
	r.stop = make(chan struct{})
	r.sampling = make(chan struct{})
	go r.sample(meter, r.stop, r.sampling)

	r.volume.SetVisible(true)
	r.notify.Notify(NoticeRecording)
	r.state = StateRecording
	r.log.Info().Int("rate", rate).Str("recipient", recipient).Msg("recording started")
	return nil
}

// open tries each candidate rate in order and returns the first capture
// that opens.
func (r *Recorder) open() (Capture, int) {
	for _, rate := range r.rates {
		c, err := r.device.Open(rate)
		if err != nil {
			r.log.Debug().Err(err).Int("rate", rate).Msg("capture device rejected rate")
			continue
		}
		return c, rate
	}
	return nil, 0
}

// sample publishes the peak level every interval until stop is closed.
func (r *Recorder) sample(meter *audio.Meter, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			r.volume.ClearVolume()
			return
		case <-t.C:
			r.volume.SetVolumeLevel(meter.MaxAmplitude())
		}
	}
}

// Stop finishes the recording and sends it through the pipeline. The
// returned channel receives exactly one value: nil immediately when not
// recording, otherwise the pipeline's result. ctx bounds the pipeline.
func (r *Recorder) Stop(ctx context.Context) <-chan error {
	result := make(chan error, 1)

	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		result <- nil
		return result
	}

	werr := r.halt()
	job := &Job{RawPath: r.rawPath, Recipient: r.recipient}
	r.rawPath = ""
	r.recipient = ""
	r.state = StateStarted
	r.notify.Notify(NoticeTransmitting)
	r.jobs.Add(1)
	r.mu.Unlock()

	if werr != nil {
		r.log.Warn().Err(werr).Msg("raw file not finalized")
	}

	go func() {
		defer r.jobs.Done()
		result <- r.pipeline.Run(ctx, job)
	}()
	return result
}

// halt quiesces an active recording: sampler joined, capture stopped and
// released, WAV finalized. Caller holds r.mu.
func (r *Recorder) halt() error {
	close(r.stop)
	<-r.sampling
	r.stop, r.sampling = nil, nil

	var errs []error
	if err := r.capture.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}
	r.capture.Release()
	r.capture = nil

	if err := r.wav.Close(); err != nil {
		errs = append(errs, err)
	}
	r.wav = nil

	r.volume.SetVisible(false)
	return errors.Join(errs...)
}

func (r *Recorder) removeRaw() {
	if err := os.Remove(r.rawPath); err != nil && !os.IsNotExist(err) {
		r.log.Warn().Err(err).Str("path", r.rawPath).Msg("raw file not removed")
	}
	r.rawPath = ""
}

// Close aborts any recording in progress, waits for pending sends and
// leaves the recorder Idle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	var err error
	if r.state == StateRecording {
		err = r.halt()
		r.log.Info().Msg("recording aborted")
	}
	if r.rawPath != "" {
		r.removeRaw()
	}
	r.state = StateIdle
	r.mu.Unlock()

	r.jobs.Wait()
	return err
}
