package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/aristath/tremor/internal/bus"
)

const wsWriteTimeout = 10 * time.Second

// handleWebsocket streams every pipeline event over a websocket. Unlike the
// per-run SSE stream this feed covers all runs, so dashboards open one
// connection and watch the whole engine.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.CORSOrigins,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	s.log.Info().Msg("websocket client connected")

	// The feed is write-only; CloseRead surfaces client disconnects as
	// context cancellation.
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan bus.Event, 100)
	handler := func(ev bus.Event) {
		select {
		case eventChan <- ev:
		default:
			s.log.Warn().Str("topic", string(ev.Topic)).Msg("websocket channel full, dropping event")
		}
	}

	subs := make(map[bus.Topic]int, len(streamTopics))
	for _, topic := range streamTopics {
		subs[topic] = s.bus.Subscribe(topic, handler)
	}
	defer func() {
		for topic, id := range subs {
			s.bus.Unsubscribe(topic, id)
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("websocket client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case ev := <-eventChan:
			if err := writeWSEvent(ctx, conn, ev); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func writeWSEvent(ctx context.Context, conn *websocket.Conn, ev bus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
