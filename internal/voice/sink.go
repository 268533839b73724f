// Package voice records, encodes, sends and plays back voice messages.
package voice

import (
	"context"
	"errors"
	"io"

	"github.com/satindergrewal/voicenote/internal/audio"
)

var (
	// ErrDeviceUnavailable means no candidate sample rate opened the capture device.
	ErrDeviceUnavailable = errors.New("voice: capture device unavailable")
	// ErrEmptyRecording means the capture produced no audio.
	ErrEmptyRecording = errors.New("voice: recording is empty")
	// ErrNotPrepared means a message has no payload yet and none was supplied.
	ErrNotPrepared = errors.New("voice: message not prepared")
	// ErrUnknownMessage means no payload is known for the message id.
	ErrUnknownMessage = errors.New("voice: unknown message")
	// ErrClosed is returned by a Playback after Close.
	ErrClosed = errors.New("voice: closed")
)

// User-visible notices.
const (
	NoticeRecording    = "recording"
	NoticeTransmitting = "encrypting and transmitting"
	NoticeSendFailed   = "error sending message"
)

// ProgressSink receives playback progress in the range 0..100.
type ProgressSink interface {
	SetProgress(percent int)
}

// VolumeSink shows the microphone level while recording.
type VolumeSink interface {
	SetVolumeLevel(level int)
	ClearVolume()
	SetVisible(visible bool)
}

// Notifier surfaces short user-visible notices.
type Notifier interface {
	Notify(msg string)
}

// Sender hands a finished voice message to the chat layer.
type Sender interface {
	Send(ctx context.Context, to string, payload []byte, mimeType string) error
}

// Capture is one open microphone handle.
type Capture interface {
	Start(w io.Writer) error
	Stop() error
	Release()
}

// Device opens captures. Open fails when the device cannot run at sampleRate.
type Device interface {
	Open(sampleRate int) (Capture, error)
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(sampleRate int) (Capture, error)

func (f DeviceFunc) Open(sampleRate int) (Capture, error) { return f(sampleRate) }

// Encoder writes PCM to a codec stream file.
type Encoder interface {
	Encode(ctx context.Context, src audio.PCM, dst string) error
}

// Converter packages a codec stream into a playable container.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
	Ext() string
	MimeType() string
}

// Player plays one materialized voice file. Position is in milliseconds.
type Player interface {
	Start() error
	Position() int
	Finished() bool
	Stop()
	Release() error
}

// PlayerOpener opens a prepared, paused Player on a file.
type PlayerOpener interface {
	Open(path string) (Player, error)
}

// PlayerOpenerFunc adapts a function to PlayerOpener.
type PlayerOpenerFunc func(path string) (Player, error)

func (f PlayerOpenerFunc) Open(path string) (Player, error) { return f(path) }

type nopVolume struct{}

func (nopVolume) SetVolumeLevel(int) {}
func (nopVolume) ClearVolume()       {}
func (nopVolume) SetVisible(bool)    {}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
