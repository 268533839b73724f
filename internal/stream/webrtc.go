package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/satindergrewal/voicenote/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// MessageSource resolves a stored message id to its payload file.
type MessageSource interface {
	Path(id string) (string, error)
}

// offerRequest is an SDP offer plus the message the browser wants to hear.
type offerRequest struct {
	webrtc.SessionDescription
	MessageID string `json:"message_id"`
}

// WebRTCHandler serves SDP negotiation for listening back to a stored
// voice message over a WebRTC audio track.
type WebRTCHandler struct {
	source MessageSource
	log    zerolog.Logger
	mu     sync.Mutex
	peers  []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC listen-back handler.
func NewWebRTCHandler(source MessageSource, log zerolog.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		source: source,
		log:    log.With().Str("component", "webrtc").Logger(),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}
	path, err := h.source.Path(req.MessageID)
	if err != nil {
		http.Error(w, "unknown message", http.StatusNotFound)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"voicenote",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(req.SessionDescription); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// Wait for ICE gathering to complete
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	<-gatherComplete

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()

	h.log.Info().Str("id", req.MessageID).Int("total", h.PeerCount()).Msg("peer connected")

	ctx, cancel := context.WithCancel(context.Background())

	// Clean up on disconnect
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			cancel()
			h.removePeer(pc)
			pc.Close()
			h.log.Info().Int("remaining", h.PeerCount()).Msg("peer disconnected")
		}
	})

	go func() {
		if err := streamFile(ctx, path, audioTrack); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Warn().Err(err).Str("id", req.MessageID).Msg("listen-back failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// sampleWriter is the part of a local track the streamers need.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// streamFile plays the file at path into track in real time. Ogg pages are
// forwarded as-is; other containers are decoded and re-encoded to Opus.
func streamFile(ctx context.Context, path string, track sampleWriter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open message: %w", err)
	}
	defer f.Close()

	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if n == 4 && bytes.Equal(head, []byte("OggS")) {
		return streamOgg(ctx, f, track)
	}
	f.Close()

	pcm, err := audio.DecodeFile(ctx, path)
	if err != nil {
		return err
	}
	return streamPCM(ctx, pcm, track)
}

func streamOgg(ctx context.Context, r io.ReadSeeker, track sampleWriter) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("ogg reader: %w", err)
	}

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ogg page: %w", err)
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		dur := time.Duration(samples) * time.Second / audio.RTPClockRate

		if err := track.WriteSample(media.Sample{Data: page, Duration: dur}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func streamPCM(ctx context.Context, pcm audio.PCM, track sampleWriter) error {
	enc, err := opus.NewEncoder(pcm.SampleRate, audio.Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}

	frameSize := pcm.SampleRate * int(audio.FrameDuration.Milliseconds()) / 1000
	frame := make([]int16, frameSize)
	opusBuf := make([]byte, 4000)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for off := 0; off < len(pcm.Samples); off += frameSize {
		n := copy(frame, pcm.Samples[off:])
		clear(frame[n:])

		size, err := enc.Encode(frame, opusBuf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		if err := track.WriteSample(media.Sample{
			Data:     opusBuf[:size],
			Duration: audio.FrameDuration,
		}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return
		}
	}
}
