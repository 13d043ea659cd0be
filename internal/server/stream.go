package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/tremor/internal/bus"
)

// streamTopics is every topic the live surfaces forward.
var streamTopics = []bus.Topic{
	bus.RunStarted,
	bus.RunProgress,
	bus.RunFinished,
	bus.FieldScored,
	bus.VetoRaised,
	bus.DecisionMade,
}

// handleRunStream streams one run's pipeline events as Server-Sent Events.
// ?topics=FIELD_SCORED,VETO_RAISED narrows the stream; the connection closes
// itself after the run's RUN_FINISHED event.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	allowed := topicFilter(r.URL.Query().Get("topics"))

	s.log.Info().Str("run", runID).Msg("client connected to run stream")

	// Buffered so a slow client drops events instead of blocking publishers.
	eventChan := make(chan bus.Event, 100)
	handler := func(ev bus.Event) {
		if ev.RunID != runID {
			return
		}
		if allowed != nil && !allowed[ev.Topic] && ev.Topic != bus.RunFinished {
			return
		}
		select {
		case eventChan <- ev:
		default:
			s.log.Warn().Str("topic", string(ev.Topic)).Msg("event channel full, dropping event")
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

	fmt.Fprintf(w, "data: %s\n\n", encodeStreamEvent(map[string]any{
		"type":   "connected",
		"run_id": runID,
	}))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			s.log.Info().Str("run", runID).Msg("client disconnected from run stream")
			return

		case ev := <-eventChan:
			fmt.Fprintf(w, "data: %s\n\n", encodeStreamEvent(map[string]any{
				"type":      string(ev.Topic),
				"run_id":    ev.RunID,
				"timestamp": ev.Timestamp.Format(time.RFC3339),
				"data":      ev.Data,
			}))
			flusher.Flush()
			if ev.Topic == bus.RunFinished {
				return
			}

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", encodeStreamEvent(map[string]any{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

// topicFilter parses the comma-separated topics parameter. Nil means all.
func topicFilter(raw string) map[bus.Topic]bool {
	if raw == "" {
		return nil
	}
	allowed := make(map[bus.Topic]bool)
	for _, t := range strings.Split(raw, ",") {
		allowed[bus.Topic(strings.TrimSpace(t))] = true
	}
	return allowed
}

func encodeStreamEvent(event map[string]any) string {
	data, err := json.Marshal(event)
	if err != nil {
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
