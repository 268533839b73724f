package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/satindergrewal/voicenote/internal/audio"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	if b == nil {
		t.Fatal("NewBroadcaster returned nil")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	l1 := b.Subscribe()
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 subscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	b.Unsubscribe(l2)
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestBroadcastDelivers(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan Event, 10)

	go b.Run(ctx, source)

	source <- Event{Type: EventProgress, ID: "m1", Value: 42}

	select {
	case got := <-l.C:
		if got.Type != EventProgress || got.ID != "m1" || got.Value != 42 {
			t.Errorf("Received %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}

	cancel()
	b.Unsubscribe(l)
}

func TestBroadcastMultipleListeners(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	b.Publish(Event{Type: EventVolume, Value: 1234})

	for i, l := range listeners {
		select {
		case got := <-l.C:
			if got.Value != 1234 {
				t.Errorf("Listener %d got value %d, want 1234", i, got.Value)
			}
		case <-time.After(time.Second):
			t.Errorf("Listener %d timed out", i)
		}
	}

	for _, l := range listeners {
		b.Unsubscribe(l)
	}
}

func TestBroadcastDropsSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe()

	// Publish never blocks, even with a full buffer.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(Event{Type: EventProgress, Value: i % 101})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow listener")
	}

	if n := len(slow.C); n != 150 {
		t.Errorf("Slow listener buffered %d events, want 150", n)
	}
	b.Unsubscribe(slow)
}

func TestBroadcastStopsOnContextCancel(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan Event, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, source)
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// good
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after context cancel")
	}
}

func TestBroadcastStopsOnSourceClose(t *testing.T) {
	b := NewBroadcaster()
	source := make(chan Event, 10)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), source)
		close(done)
	}()

	close(source)

	select {
	case <-done:
		// good
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after source closed")
	}
}

func TestListenerDoneChannel(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	b.Unsubscribe(l)

	select {
	case <-l.Done():
		// good
	default:
		t.Error("Listener done channel not closed after unsubscribe")
	}
}

func TestSinksPublish(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	b.Progress("m7").SetProgress(55)
	b.Notices().Notify("recording")

	want := []Event{
		{Type: EventProgress, ID: "m7", Value: 55},
		{Type: EventNotice, Text: "recording"},
	}
	for i, w := range want {
		select {
		case got := <-l.C:
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		default:
			t.Fatalf("event %d missing", i)
		}
	}
}

func TestEventsHandlerStreams(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(NewEventsHandler(b, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	// The handler subscribes after writing headers.
	deadline := time.Now().Add(2 * time.Second)
	for b.ListenerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Notices().Notify("error sending message")

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
		if dataLine != "" {
			break
		}
	}
	if eventLine != EventNotice {
		t.Errorf("event = %q, want %q", eventLine, EventNotice)
	}
	var e Event
	if err := json.Unmarshal([]byte(dataLine), &e); err != nil {
		t.Fatalf("data %q: %v", dataLine, err)
	}
	if e.Text != "error sending message" {
		t.Errorf("text = %q", e.Text)
	}
}

type collectTrack struct {
	samples []media.Sample
}

func (c *collectTrack) WriteSample(s media.Sample) error {
	c.samples = append(c.samples, s)
	return nil
}

func TestStreamFileOgg(t *testing.T) {
	dir := t.TempDir()
	pcm := audio.PCM{Samples: make([]int16, audio.TargetSampleRate/5), SampleRate: audio.TargetSampleRate, Channels: 1}
	for i := range pcm.Samples {
		pcm.Samples[i] = int16((i % 40) * 500)
	}
	pkt := filepath.Join(dir, "voice.pkt")
	if err := audio.NewOpusEncoder(16000).Encode(context.Background(), pcm, pkt); err != nil {
		t.Fatal(err)
	}
	ogg := filepath.Join(dir, "voice.ogg")
	if err := (audio.OggConverter{}).Convert(context.Background(), pkt, ogg); err != nil {
		t.Fatal(err)
	}

	track := &collectTrack{}
	if err := streamFile(context.Background(), ogg, track); err != nil {
		t.Fatalf("streamFile: %v", err)
	}
	// 200ms of audio in 20ms packets
	if len(track.samples) != 10 {
		t.Errorf("wrote %d samples, want 10", len(track.samples))
	}
	for i, s := range track.samples {
		if len(s.Data) == 0 {
			t.Errorf("sample %d is empty", i)
		}
	}
}

func TestStreamFileCanceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.ogg")
	if err := os.WriteFile(path, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := streamFile(ctx, path, &collectTrack{}); err == nil {
		t.Error("streamFile succeeded on a non-audio file")
	}
}

type staticSource map[string]string

func (s staticSource) Path(id string) (string, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return "", errors.New("not found")
}

func TestWebRTCHandlerRejects(t *testing.T) {
	h := NewWebRTCHandler(staticSource{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	body := `{"type":"offer","sdp":"v=0","message_id":"nope"}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown message status = %d", rec.Code)
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d", h.PeerCount())
	}
}

func TestVolumeFeedThroughRun(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan Event, 4)
	go b.Run(ctx, source)

	vol := NewVolumeFeed(source, ctx.Done())
	vol.SetVisible(true)
	vol.SetVolumeLevel(900)
	vol.ClearVolume()

	want := []Event{
		{Type: EventVolumeVisible, Value: 1},
		{Type: EventVolume, Value: 900},
		{Type: EventVolumeClear},
	}
	for i, w := range want {
		select {
		case got := <-l.C:
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d missing", i)
		}
	}
}

func TestVolumeFeedNeverBlocksSampler(t *testing.T) {
	source := make(chan Event, 1)
	done := make(chan struct{})
	vol := NewVolumeFeed(source, done)

	vol.SetVolumeLevel(1)
	vol.SetVolumeLevel(2) // queue full, dropped
	if e := <-source; e.Value != 1 {
		t.Errorf("queued level = %d, want 1", e.Value)
	}

	source <- Event{}
	close(done)
	finished := make(chan struct{})
	go func() {
		vol.SetVisible(false)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("SetVisible blocked after done closed")
	}
}
