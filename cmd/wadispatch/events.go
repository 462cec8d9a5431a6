package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents streams queue status transitions to a websocket client until
// either side goes away.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Events == nil {
			http.Error(w, "event stream disabled", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Websocket upgrade failed")
			return
		}
		defer conn.CloseNow()

		events, cancel := s.deps.Events.Subscribe()
		defer cancel()

		// Inbound frames are not expected; CloseRead handles control frames
		// and cancels ctx once the peer disconnects.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				writeCtx, done := context.WithTimeout(ctx, eventWriteTimeout)
				err := wsjson.Write(writeCtx, conn, ev)
				done()
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						s.logger.WithError(err).Debug("Event stream write failed")
					}
					return
				}
			}
		}
	}
}
