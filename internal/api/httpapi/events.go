package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/app/notification"
)

// keepAliveInterval is how often an idle event stream gets a comment line.
var keepAliveInterval = 15 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	sub := s.service.Subscribe()
	defer s.service.Unsubscribe(sub.ID)

	zlog.Debug().Msgf("httpapi: event stream opened: id=%s", sub.ID)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			zlog.Debug().Msgf("httpapi: event stream closed by client: id=%s", sub.ID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				zlog.Debug().Msgf("httpapi: event stream ended: id=%s", sub.ID)
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent writes one event in text/event-stream framing.
func writeEvent(w io.Writer, ev notification.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		zlog.Warn().Msgf("httpapi: failed to encode event: type=%s err=%v", ev.Type, err)
		return nil
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SequenceNo, ev.Type, data)
	return err
}
