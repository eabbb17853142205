package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsWriteTimeout bounds one status frame write.
const wsWriteTimeout = 5 * time.Second

// handleProgressWS streams pipeline status updates over a websocket. The
// current status is sent immediately on connect, then every change until
// the client disconnects.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	updates, cancel := s.tracker.Subscribe()
	defer cancel()

	write := func(v interface{}) error {
		writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer writeCancel()
		return wsjson.Write(writeCtx, conn, v)
	}

	if err := write(s.tracker.Current()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if err := write(status); err != nil {
				return
			}
		}
	}
}
