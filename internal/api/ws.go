package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS streams live timeline updates for the conversation named by the
// conversation_id query parameter. Opening it here has the same side effects
// as GET .../messages: the conversation becomes the viewer's open one and is
// marked read. The socket carries server-to-client traffic only; sends still
// go through POST.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	v, err := s.identity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	entries, err := v.TL.Open(conversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.logger.With(
		zap.String("participant_id", v.Sess.ParticipantID),
		zap.String("conversation_id", conversationID),
	)
	log.Info("websocket connected", zap.Int("backlog", len(entries)))

	// Read loop only watches for the client hanging up.
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Replay the transcript before live updates so the client never misses
	// entries that landed between Open and the first feed event.
	for _, e := range entries {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(timelineUpdate{Kind: "appended", ConversationID: conversationID, Entry: entryDTO(e)}); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case u, ok := <-v.TL.Updates():
			if !ok {
				return
			}
			// The viewer may open another conversation through a parallel
			// request; this socket only shows the one it opened.
			if u.ConversationID != conversationID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(updateDTO(u)); err != nil {
				log.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			log.Info("websocket closed by client")
			return
		case <-r.Context().Done():
			return
		}
	}
}
