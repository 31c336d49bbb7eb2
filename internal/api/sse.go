package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

const sseHeartbeat = 25 * time.Second

type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEStream writes the event-stream headers; false when w cannot flush
func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) send(event string, data any) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type sseEvent struct {
	name string
	data any
}

// pump writes events until ctx ends or a write fails
func (s *sseStream) pump(ctx context.Context, events <-chan sseEvent) {
	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := s.send(ev.name, ev.data); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}

// offer hands ev to the stream without blocking past ctx
func offer(ctx context.Context, events chan<- sseEvent, ev sseEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
