package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/remoteree/patient-note-taker-asean/internal/session"
	"github.com/remoteree/patient-note-taker-asean/pkg/store"
)

// Application close codes in the 4000 range, distinguishing rejection causes
// for the connecting client.
const (
	closeMissingToken        = websocket.StatusCode(4001)
	closeMissingConsultation = websocket.StatusCode(4002)
	closeInvalidToken        = websocket.StatusCode(4003)
	closeNotRecordable       = websocket.StatusCode(4004)
	closeDuplicateAttach     = websocket.StatusCode(4005)
)

// handleTranscribe upgrades GET /ws/transcribe and runs the audio ingestion
// loop. Query parameters: consultation (record id), token (connection
// credential), detect_language (optional flag).
//
// Binary frames carry raw PCM audio; text frames are ignored. The session is
// stopped and finalised when the connection closes for any reason, so a
// dropped client still gets its audio transcribed and persisted.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "err", err)
		return
	}

	q := r.URL.Query()
	token := q.Get("token")
	consultationID := q.Get("consultation")
	detect := q.Get("detect_language") == "1" || q.Get("detect_language") == "true"

	if token == "" {
		conn.Close(closeMissingToken, "missing token")
		return
	}
	if consultationID == "" {
		conn.Close(closeMissingConsultation, "missing consultation id")
		return
	}
	if _, err := s.verifier.Verify(token, consultationID); err != nil {
		slog.Info("rejected connection credential", "consultation_id", consultationID, "err", err)
		conn.Close(closeInvalidToken, "invalid token")
		return
	}

	sess, err := s.controller.Start(r.Context(), consultationID, detect)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrDuplicateSession):
			conn.Close(closeDuplicateAttach, "consultation already has a live session")
		case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotRecordable):
			conn.Close(closeNotRecordable, "consultation not found or not recordable")
		default:
			slog.Error("session start failed", "consultation_id", consultationID, "err", err)
			conn.Close(websocket.StatusInternalError, "session start failed")
		}
		return
	}

	started := time.Now()
	s.metrics.RecordSessionStart(r.Context(), string(sess.Route.Mode), string(sess.Route.Provider))

	ew := &eventWriter{conn: conn}
	s.hub.attach(sess.ID, ew)
	defer s.hub.detach(sess.ID, ew)

	slog.Info("session attached",
		"consultation_id", sess.ID,
		"mode", sess.Route.Mode,
		"provider", sess.Route.Provider,
	)

	s.readLoop(r.Context(), conn, sess)

	// Finalisation must not die with the request context.
	ctx := context.WithoutCancel(r.Context())
	s.controller.Stop(ctx, sess)
	s.metrics.RecordSessionFinish(ctx, s.finalOutcome(ctx, sess.ID), time.Since(started).Seconds())
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop consumes frames until the connection closes. Binary frames are
// audio; anything else is ignored.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slog.Debug("connection read ended", "consultation_id", sess.ID, "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		s.metrics.AudioBytesReceived.Add(ctx, int64(len(data)))
		s.controller.HandleAudio(sess, data)
	}
}

// finalOutcome maps the consultation's stored status at disconnect time to a
// metric label. Batch pipelines may still be running, in which case the
// session counts as detached rather than completed.
func (s *Server) finalOutcome(ctx context.Context, consultationID string) string {
	cons, err := s.store.Get(ctx, consultationID)
	if err != nil {
		return "unknown"
	}
	switch cons.Status {
	case store.StatusCompleted:
		return "completed"
	case store.StatusPartial:
		return "partial"
	case store.StatusFailed:
		return "failed"
	case store.StatusScheduled:
		return "cancelled"
	default:
		return "detached"
	}
}

// handleCancel implements DELETE /sessions/{id}: abort the live session for
// the consultation, discard its audio container, and persist nothing further.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	consultationID := r.PathValue("id")

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}
	if _, err := s.verifier.Verify(token, consultationID); err != nil {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	sess, ok := s.registry.Get(consultationID)
	if !ok {
		http.Error(w, "no live session", http.StatusNotFound)
		return
	}

	s.controller.Cancel(r.Context(), sess)
	slog.Info("session cancelled", "consultation_id", consultationID)
	w.WriteHeader(http.StatusNoContent)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
