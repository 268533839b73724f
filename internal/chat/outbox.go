package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound means no message has the requested id.
var ErrNotFound = errors.New("chat: message not found")

// Message describes one stored message. It is written next to the
// payload as <id>.json.
type Message struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	File      string    `json:"file"`
	CreatedAt time.Time `json:"created_at"`
}

// Outbox stores sent messages on disk instead of delivering them.
type Outbox struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

// NewOutbox opens (creating if needed) an outbox directory.
func NewOutbox(dir string, log zerolog.Logger) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox: %w", err)
	}
	return &Outbox{dir: dir, log: log.With().Str("component", "outbox").Logger()}, nil
}

// Dir returns the outbox directory.
func (o *Outbox) Dir() string { return o.dir }

// Send stores payload under a new message id.
func (o *Outbox) Send(ctx context.Context, to string, payload []byte, mimeType string) error {
	_, err := o.Store(ctx, to, payload, mimeType)
	return err
}

// Store writes payload and its sidecar and returns the new message.
func (o *Outbox) Store(ctx context.Context, to string, payload []byte, mimeType string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	id := uuid.NewString()
	msg := Message{
		ID:        id,
		To:        to,
		MimeType:  mimeType,
		Size:      len(payload),
		File:      id + ExtForContentType(mimeType),
		CreatedAt: time.Now().UTC(),
	}
	meta, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return Message{}, fmt.Errorf("marshal sidecar: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	payloadPath := filepath.Join(o.dir, msg.File)
	if err := os.WriteFile(payloadPath, payload, 0o644); err != nil {
		return Message{}, fmt.Errorf("write payload: %w", err)
	}
	if err := os.WriteFile(filepath.Join(o.dir, id+".json"), meta, 0o644); err != nil {
		os.Remove(payloadPath)
		return Message{}, fmt.Errorf("write sidecar: %w", err)
	}

	o.log.Info().Str("id", id).Str("to", to).Str("mime", mimeType).Int("bytes", len(payload)).Msg("message stored")
	return msg, nil
}

// Get returns the sidecar of message id.
func (o *Outbox) Get(id string) (Message, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return Message{}, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(o.dir, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("read sidecar: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("parse sidecar %s: %w", id, err)
	}
	return msg, nil
}

// Path returns the payload file of message id.
func (o *Outbox) Path(id string) (string, error) {
	msg, err := o.Get(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(o.dir, msg.File), nil
}

// Payload reads the payload of message id.
func (o *Outbox) Payload(id string) ([]byte, error) {
	path, err := o.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

// List returns all stored messages, oldest first. Unreadable sidecars
// are skipped.
func (o *Outbox) List() ([]Message, error) {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}

	var msgs []Message
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		msg, err := o.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			o.log.Warn().Err(err).Str("file", name).Msg("skipping sidecar")
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// Delete removes message id and its sidecar.
func (o *Outbox) Delete(id string) error {
	path, err := o.Path(id)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload: %w", err)
	}
	if err := os.Remove(filepath.Join(o.dir, id+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar: %w", err)
	}
	return nil
}
