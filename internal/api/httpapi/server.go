// Package httpapi provides the REST and SSE surface of the daemon.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/app/notification"
	"github.com/osa030/speakd/internal/app/playback"
	"github.com/osa030/speakd/internal/app/speech"
	domain "github.com/osa030/speakd/internal/domain/speech"
	"github.com/osa030/speakd/internal/infra/config"
)

// Service is the set of speech operations exposed over HTTP.
type Service interface {
	Speak(ctx context.Context, req speech.SpeakRequest) (*speech.SpeakResult, error)
	SpeakDialogue(ctx context.Context, req speech.DialogueRequest) (*speech.DialogueResult, error)
	Replay(ctx context.Context, historyID string) (*speech.ReplayResult, error)
	Status(channel string) playback.Status
	Clear(channel string) int
	Skip() bool
	Seek(offset float64) bool
	Pause(channel string) playback.PauseState
	Resume(channel string) playback.PauseState
	History(limit, offset int, channel string) ([]domain.HistoryRecord, int)
	Voices() json.RawMessage
	Health() speech.Health
	Subscribe() *notification.Subscription
	Unsubscribe(id string)
}

// Ensure speech.Manager implements the interface.
var _ Service = (*speech.Manager)(nil)

// Server routes HTTP requests to the speech service.
type Server struct {
	service Service
	config  *config.Config
	mux     *http.ServeMux
}

// NewServer creates a new Server.
func NewServer(service Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		config:  cfg,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	admin := NewAdminAuth(s.config.Admin.Token)

	s.mux.HandleFunc("POST /speak", s.handleSpeak)
	s.mux.HandleFunc("POST /speak/dialogue", s.handleSpeakDialogue)
	s.mux.HandleFunc("GET /queue", s.handleQueueStatus)
	s.mux.Handle("POST /queue/clear", admin(http.HandlerFunc(s.handleQueueClear)))
	s.mux.Handle("POST /queue/skip", admin(http.HandlerFunc(s.handleQueueSkip)))
	s.mux.Handle("POST /queue/seek", admin(http.HandlerFunc(s.handleQueueSeek)))
	s.mux.Handle("POST /queue/pause", admin(http.HandlerFunc(s.handleQueuePause)))
	s.mux.Handle("POST /queue/resume", admin(http.HandlerFunc(s.handleQueueResume)))
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.Handle("POST /history/replay", admin(http.HandlerFunc(s.handleHistoryReplay)))
	s.mux.HandleFunc("GET /voices", s.handleVoices)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /portraits/{name...}", s.handlePortrait)
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return logRequests(NewOriginGuard(s.config.Server.AllowedOrigins)(s.mux))
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Msgf("httpapi: failed to write response: err=%v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
