package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleEvents upgrades the connection and streams bus events to the
// client as JSON frames until either side disconnects. Slow clients
// fall behind on the bus, not on the server: the subscription buffer
// drops events rather than blocking publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed disabled")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // accept any Origin for dev convenience
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	ch, cancel := s.bus.Subscribe(32)
	defer cancel()

	// CloseRead discards client frames and cancels the context when the
	// peer goes away; the feed is write-only from here.
	ctx := conn.CloseRead(r.Context())
	s.logger.Info("event feed connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				s.logger.Debug("event feed write ended", "error", err)
				return
			}
		}
	}
}
