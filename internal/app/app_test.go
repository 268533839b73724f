package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/voicenote/internal/audio"
	"github.com/satindergrewal/voicenote/internal/chat"
	"github.com/satindergrewal/voicenote/internal/config"
	"github.com/satindergrewal/voicenote/internal/stream"
	"github.com/satindergrewal/voicenote/internal/voice"
)

// toneCapture writes half a second of a square wave on Start.
type toneCapture struct{ rate int }

func (c toneCapture) Start(w io.Writer) error {
	samples := make([]int16, c.rate/2)
	for i := range samples {
		if (i/50)%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	_, err := w.Write(audio.SamplesToBytes(samples))
	return err
}

func (toneCapture) Stop() error { return nil }
func (toneCapture) Release()    {}

type stubPlayer struct {
	mu      sync.Mutex
	stopped bool
}

func (p *stubPlayer) Start() error   { return nil }
func (p *stubPlayer) Position() int  { return 0 }
func (p *stubPlayer) Finished() bool { return false }
func (p *stubPlayer) Release() error { return nil }
func (p *stubPlayer) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	dir := t.TempDir()
	cfg.OutboxDir = filepath.Join(dir, "outbox")
	cfg.TempDir = filepath.Join(dir, "tmp")
	cfg.EncodeTimeout = 10 * time.Second
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, opts Options) (*App, *httptest.Server) {
	t.Helper()
	if opts.Device == nil {
		opts.Device = voice.DeviceFunc(func(rate int) (voice.Capture, error) {
			return toneCapture{rate: rate}, nil
		})
	}
	if opts.Opener == nil {
		opts.Opener = voice.PlayerOpenerFunc(func(string) (voice.Player, error) {
			return &stubPlayer{}, nil
		})
	}
	a, err := New(cfg, zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return a, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRecordingPublishesVolume(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t), Options{})
	l := a.Events.Subscribe()
	defer a.Events.Unsubscribe(l)

	if err := a.Recorder.Start("alice"); err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for !seen[stream.EventVolume] || !seen[stream.EventVolumeVisible] {
		select {
		case e := <-l.C:
			seen[e.Type] = true
		case <-deadline:
			t.Fatalf("volume events missing, saw %v", seen)
		}
	}
	if err := <-a.StopRecording(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordAndSendToOutbox(t *testing.T) {
	cfg := testConfig(t)
	a, srv := newTestApp(t, cfg, Options{})

	resp := postJSON(t, srv.URL+"/api/record/start", map[string]string{"to": "alice"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	if !a.Recorder.IsRecording() {
		t.Fatal("recorder not recording after start")
	}

	resp = postJSON(t, srv.URL+"/api/record/stop?wait=1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/api/messages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("outbox has %d messages, want 1", len(msgs))
	}
	if msgs[0].To != "alice" || msgs[0].MimeType != audio.MimeOggOpus {
		t.Errorf("message = %+v", msgs[0])
	}

	payload, err := a.Outbox.Payload(msgs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(payload, []byte("OggS")) {
		t.Error("payload is not an Ogg stream")
	}

	// Every intermediate file is gone.
	entries, err := os.ReadDir(cfg.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not empty: %d entries", len(entries))
	}
}

func TestRecordStartDeviceUnavailable(t *testing.T) {
	_, srv := newTestApp(t, testConfig(t), Options{
		Device: voice.DeviceFunc(func(int) (voice.Capture, error) {
			return nil, errors.New("busy")
		}),
	})

	resp := postJSON(t, srv.URL+"/api/record/start", map[string]string{"to": "bob"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRecordStartRequiresRecipient(t *testing.T) {
	_, srv := newTestApp(t, testConfig(t), Options{})
	resp := postJSON(t, srv.URL+"/api/record/start", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/api/record/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}
}

func TestPlayFromOutbox(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t), Options{})

	msg, err := a.Outbox.Store(context.Background(), "me", []byte("OggS fake voice"), audio.MimeOggOpus)
	if err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/api/play", map[string]string{"id": msg.ID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("play status = %d", resp.StatusCode)
	}
	if got := a.Playback.Playing(); got != msg.ID {
		t.Errorf("Playing = %q, want %q", got, msg.ID)
	}

	resp = postJSON(t, srv.URL+"/api/play/stop", nil)
	resp.Body.Close()
	if got := a.Playback.Playing(); got != "" {
		t.Errorf("Playing after stop = %q", got)
	}
}

func TestPlayUnknownMessage(t *testing.T) {
	_, srv := newTestApp(t, testConfig(t), Options{})
	resp := postJSON(t, srv.URL+"/api/play", map[string]string{"id": "nope"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPreparePublishesDuration(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t), Options{})
	payload := []byte("OggS twelve!")
	msg, err := a.Outbox.Store(context.Background(), "me", payload, audio.MimeOggOpus)
	if err != nil {
		t.Fatal(err)
	}

	l := a.Events.Subscribe()
	defer a.Events.Unsubscribe(l)

	resp := postJSON(t, srv.URL+"/api/prepare", map[string]string{"id": msg.ID})
	resp.Body.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-l.C:
			if e.Type != stream.EventDuration {
				continue
			}
			if e.ID != msg.ID || e.Value != len(payload) {
				t.Errorf("duration event = %+v", e)
			}
			if d, ok := a.Playback.Duration(msg.ID); !ok || d != len(payload) {
				t.Errorf("Duration = %d, %v", d, ok)
			}
			return
		case <-deadline:
			t.Fatal("no duration event")
		}
	}
}

func TestDeleteMessage(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t), Options{})
	msg, err := a.Outbox.Store(context.Background(), "me", []byte("OggS"), audio.MimeOggOpus)
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/messages/"+msg.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if _, err := a.Outbox.Get(msg.ID); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

// One instance can deliver into another through the chat client.
func TestChatClientAgainstServe(t *testing.T) {
	receiver, srv := newTestApp(t, testConfig(t), Options{})

	c := chat.NewClient(srv.URL, "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForHealthy(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForHealthy: %v", err)
	}
	if err := c.Send(ctx, "dave", []byte("OggS remote"), audio.MimeOggOpus); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := receiver.Outbox.List()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("List = %v, %v", msgs, err)
	}
	got, err := c.Fetch(ctx, msgs[0].ID)
	if err != nil || string(got) != "OggS remote" {
		t.Errorf("Fetch = %q, %v", got, err)
	}

	// A chat-mode sender loads missing messages from the server.
	cfg := testConfig(t)
	cfg.ChatURL = srv.URL
	sender, _ := newTestApp(t, cfg, Options{})
	if sender.Mode() != "chat" {
		t.Errorf("Mode = %q, want chat", sender.Mode())
	}
	payload, err := sender.LoadMessage(ctx, msgs[0].ID)
	if err != nil || string(payload) != "OggS remote" {
		t.Errorf("LoadMessage = %q, %v", payload, err)
	}
}

func TestImageUpload(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDimension = 50
	a, srv := newTestApp(t, cfg, Options{})

	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		for y := 0; y < 100; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var pic bytes.Buffer
	if err := jpeg.Encode(&pic, img, nil); err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("to", "erin")
	mw.WriteField("source", "camera")
	mw.WriteField("orientation", "90")
	fw, _ := mw.CreateFormFile("file", "shot.jpg")
	fw.Write(pic.Bytes())
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/image", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	msgs, err := a.Outbox.List()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("List = %v, %v", msgs, err)
	}
	if msgs[0].MimeType != "image/jpeg" || !strings.HasSuffix(msgs[0].File, ".jpg") {
		t.Errorf("message = %+v", msgs[0])
	}
	data, err := a.Outbox.Payload(msgs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	got, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	// rotated a quarter turn, longest side capped at 50
	if b := got.Bounds(); b.Dx() != 25 || b.Dy() != 50 {
		t.Errorf("image size = %dx%d, want 25x50", b.Dx(), b.Dy())
	}

	entries, _ := os.ReadDir(cfg.TempDir)
	if len(entries) != 0 {
		t.Errorf("temp dir not empty: %d entries", len(entries))
	}
}

func TestImageUploadGarbage(t *testing.T) {
	cfg := testConfig(t)
	a, srv := newTestApp(t, cfg, Options{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("to", "erin")
	fw, _ := mw.CreateFormFile("file", "x.jpg")
	fw.Write([]byte("definitely not an image"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/image", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	if msgs, _ := a.Outbox.List(); len(msgs) != 0 {
		t.Errorf("outbox has %d messages", len(msgs))
	}
}

func TestStatus(t *testing.T) {
	_, srv := newTestApp(t, testConfig(t), Options{})
	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st["mode"] != "outbox" || st["recorder"] != "started" || st["playing"] != "" {
		t.Errorf("status = %v", st)
	}
}
