package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tally/internal/wire"
)

// CaptureWriter appends every raw frame to a JSON-lines file in the
// same envelope shape the replay source consumes. Wrap a Source's emit
// with Tap to record a session.
type CaptureWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

type captureLine struct {
	Type int             `json:"type"`
	Data json.RawMessage `json:"data"`
	Recv int64           `json:"recv_ms,omitempty"`
}

func NewCaptureWriter(path string) (*CaptureWriter, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return &CaptureWriter{path: path, file: f}, nil
}

func (w *CaptureWriter) Append(msg wire.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(captureLine{
		Type: int(msg.Code),
		Data: json.RawMessage(msg.Payload),
		Recv: msg.Recv.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if _, err := w.file.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Tap wraps an emit so every frame is recorded before delivery. Write
// errors are swallowed after the first; capture must never stall the
// feed.
func (w *CaptureWriter) Tap(next Emit) Emit {
	var failed bool
	return func(msg wire.RawMessage) {
		w.mu.Lock()
		dead := failed
		w.mu.Unlock()
		if !dead {
			if err := w.Append(msg); err != nil {
				w.mu.Lock()
				failed = true
				w.mu.Unlock()
			}
		}
		next(msg)
	}
}

func (w *CaptureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
