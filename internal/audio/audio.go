package audio

import "time"

const (
	TargetSampleRate = 16000 // codec-stream output rate
	Channels         = 1
	BitDepth         = 16
	FrameDuration    = 20 * time.Millisecond
	FrameSize        = TargetSampleRate * int(FrameDuration/time.Millisecond) / 1000 // samples per 20ms frame

	// PlaybackSampleRate is what Ogg/Opus decodes to and what the player runs at.
	PlaybackSampleRate = 48000

	// RTPClockRate is the Opus RTP clock; Ogg granule positions use it too.
	RTPClockRate = 48000
)

// DefaultSampleRates are tried in order when opening a capture device.
var DefaultSampleRates = []int{44100, 22050, 11025, 8000}

// MIME types handed to the send collaborator.
const (
	MimeOggOpus = "audio/ogg"
	MimeM4A     = "audio/mp4"
)

// PCM is a block of interleaved 16-bit samples.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playing time of the block.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}
