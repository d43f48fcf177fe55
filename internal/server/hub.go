package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/remoteree/patient-note-taker-asean/internal/transcript"
)

// eventWriteTimeout bounds one outbound event write. A stalled client must
// not block the pipeline goroutine pushing the event.
const eventWriteTimeout = 10 * time.Second

// transcriptUpdateEvent is the outbound TRANSCRIPT_UPDATE wire shape.
type transcriptUpdateEvent struct {
	Type             string `json:"type"`
	SessionID        string `json:"sessionId"`
	Transcript       string `json:"transcript"`
	IsFinal          bool   `json:"isFinal"`
	ProgressPercent  *int   `json:"progressPercent,omitempty"`
	ProcessedChunks  *int   `json:"processedChunks,omitempty"`
	TotalChunks      *int   `json:"totalChunks,omitempty"`
	DetectedLanguage string `json:"detectedLanguage,omitempty"`
}

// transcriptErrorEvent is the outbound TRANSCRIPT_ERROR wire shape.
type transcriptErrorEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

// eventWriter serialises event writes onto one WebSocket connection. Events
// for a session originate from several goroutines (stream consumer, tick
// loop, background pipeline), so every write goes through the mutex.
type eventWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *eventWriter) writeEvent(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// Hub routes transcript events to whichever connection is attached to each
// session. It implements [transcript.Notifier]; pushes for sessions with no
// attached connection are dropped, which covers batch pipelines finishing
// after the client disconnected.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*eventWriter
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*eventWriter)}
}

// attach binds w as the listener for sessionID, replacing any previous one.
func (h *Hub) attach(sessionID string, w *eventWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] = w
}

// detach removes w as the listener for sessionID. A newer writer attached in
// the meantime is left in place.
func (h *Hub) detach(sessionID string, w *eventWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[sessionID] == w {
		delete(h.conns, sessionID)
	}
}

func (h *Hub) writer(sessionID string) *eventWriter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[sessionID]
}

// PushUpdate implements [transcript.Notifier].
func (h *Hub) PushUpdate(u transcript.Update) {
	w := h.writer(u.SessionID)
	if w == nil {
		return
	}

	ev := transcriptUpdateEvent{
		Type:             "TRANSCRIPT_UPDATE",
		SessionID:        u.SessionID,
		Transcript:       u.Text,
		IsFinal:          u.IsFinal,
		DetectedLanguage: u.DetectedLanguage,
	}
	if u.Progress != nil {
		ev.ProgressPercent = &u.Progress.Percent
		ev.ProcessedChunks = &u.Progress.Processed
		ev.TotalChunks = &u.Progress.Total
	}

	if err := w.writeEvent(ev); err != nil {
		slog.Debug("transcript update push failed", "session_id", u.SessionID, "err", err)
	}
}

// PushError implements [transcript.Notifier].
func (h *Hub) PushError(sessionID, message string) {
	w := h.writer(sessionID)
	if w == nil {
		return
	}
	ev := transcriptErrorEvent{
		Type:      "TRANSCRIPT_ERROR",
		SessionID: sessionID,
		Error:     message,
	}
	if err := w.writeEvent(ev); err != nil {
		slog.Debug("transcript error push failed", "session_id", sessionID, "err", err)
	}
}
