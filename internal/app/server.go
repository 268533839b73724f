package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/satindergrewal/voicenote/internal/capture"
	"github.com/satindergrewal/voicenote/internal/chat"
	"github.com/satindergrewal/voicenote/internal/stream"
	"github.com/satindergrewal/voicenote/internal/voice"
)

const maxUpload = 32 << 20

// Handler returns the HTTP API of the app.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/events", stream.NewEventsHandler(a.Events, a.log))
	mux.Handle("/offer", a.WebRTC)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"mode":           a.Mode(),
			"recorder":       a.Recorder.State().String(),
			"playing":        a.Playback.Playing(),
			"sse_listeners":  a.Events.ListenerCount(),
			"webrtc_peers":   a.WebRTC.PeerCount(),
			"container":      a.cfg.Container,
			"max_dimension":  a.cfg.MaxDimension,
			"encode_timeout": a.cfg.EncodeTimeout.Seconds(),
		})
	})

	mux.HandleFunc("/api/record/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			To string `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
			http.Error(w, "invalid recipient", http.StatusBadRequest)
			return
		}
		if err := a.Recorder.Start(req.To); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, voice.ErrDeviceUnavailable) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "state": a.Recorder.State().String()})
	})

	mux.HandleFunc("/api/record/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		res := a.StopRecording()
		if r.URL.Query().Get("wait") == "" {
			writeJSON(w, map[string]any{"ok": true, "state": a.Recorder.State().String()})
			return
		}
		select {
		case err := <-res:
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeJSON(w, map[string]any{"ok": true, "state": a.Recorder.State().String()})
		case <-r.Context().Done():
		}
	})

	mux.HandleFunc("/api/prepare", func(w http.ResponseWriter, r *http.Request) {
		id, ok := decodeID(w, r)
		if !ok {
			return
		}
		a.Prepare(id)
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/play", func(w http.ResponseWriter, r *http.Request) {
		id, ok := decodeID(w, r)
		if !ok {
			return
		}
		if err := a.Play(r.Context(), id); err != nil {
			http.Error(w, err.Error(), playStatus(err))
			return
		}
		writeJSON(w, map[string]any{"ok": true, "playing": id})
	})

	mux.HandleFunc("/api/play/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		a.Playback.Stop()
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/attach", func(w http.ResponseWriter, r *http.Request) {
		id, ok := decodeID(w, r)
		if !ok {
			return
		}
		a.Playback.Attach(id, a.Events.Progress(id))
		writeJSON(w, map[string]any{"ok": true, "playing": a.Playback.IsPlaying(id)})
	})

	mux.HandleFunc("GET /api/messages", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := a.Outbox.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if msgs == nil {
			msgs = []chat.Message{}
		}
		writeJSON(w, msgs)
	})

	// Inbound delivery, so one instance can be another's chat server.
	mux.HandleFunc("POST /api/messages", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file required", http.StatusBadRequest)
			return
		}
		defer file.Close()
		payload, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "read upload failed", http.StatusBadRequest)
			return
		}
		msg, err := a.Outbox.Store(r.Context(), r.FormValue("to"), payload, hdr.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": msg.ID})
	})

	mux.HandleFunc("GET /api/messages/{id}/payload", func(w http.ResponseWriter, r *http.Request) {
		msg, err := a.Outbox.Get(r.PathValue("id"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		path, err := a.Outbox.Path(msg.ID)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", msg.MimeType)
		http.ServeFile(w, r, path)
	})

	mux.HandleFunc("DELETE /api/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		a.Playback.Forget(id)
		if err := a.Outbox.Delete(id); err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/image", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		to := r.FormValue("to")
		if to == "" {
			http.Error(w, "invalid recipient", http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		sess := a.NewCaptureSession()
		orientation, _ := strconv.Atoi(r.FormValue("orientation"))
		sess.SetOrientation(orientation)

		if err := a.captureImage(r.Context(), sess, r.FormValue("source"), file); err != nil {
			sess.Cancel()
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		path, err := sess.Accept()
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err := a.SendImage(r.Context(), to, path); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	return mux
}

// captureImage runs one capture: "camera" treats the upload as fresh
// shutter bytes, anything else as an existing picture.
func (a *App) captureImage(ctx context.Context, sess *capture.Controller, source string, src io.Reader) error {
	var ch <-chan capture.Result
	if source == "camera" {
		data, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		ch = sess.Shutter(ctx, data)
	} else {
		ch = sess.SelectExisting(ctx, src)
	}
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return "", false
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return "", false
	}
	return req.ID, true
}

func playStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, voice.ErrUnknownMessage):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrNotPrepared):
		return http.StatusConflict
	case errors.Is(err, voice.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}
