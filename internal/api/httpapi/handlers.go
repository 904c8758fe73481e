package httpapi

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/app/speech"
	"github.com/osa030/speakd/internal/infra/elevenlabs"
)

const (
	maxBodyBytes = 1 << 20

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// rejectionMessages maps filter codes to caller-facing messages.
var rejectionMessages = map[string]string{
	"text_too_long":  "Text too long",
	"queue_full":     "Queue is full",
	"duplicate_text": "Same text is already queued",
}

type speakBody struct {
	Text     string  `json:"text"`
	Voice    *string `json:"voice"`
	Channel  *string `json:"channel"`
	Priority bool    `json:"priority"`
}

type dialogueBody struct {
	Dialogue []speech.DialogueLine `json:"dialogue"`
	Channel  *string               `json:"channel"`
	Priority bool                  `json:"priority"`
}

type channelBody struct {
	Channel *string `json:"channel"`
}

type seekBody struct {
	Offset any `json:"offset"`
}

type replayBody struct {
	ID string `json:"id"`
}

type seekResponse struct {
	Seeked bool    `json:"seeked"`
	Offset float64 `json:"offset"`
}

type pauseResponse struct {
	Paused  bool    `json:"paused"`
	Channel *string `json:"channel"`
}

type resumeResponse struct {
	Resumed bool    `json:"resumed"`
	Channel *string `json:"channel"`
}

type historyResponse struct {
	Entries any `json:"entries"`
	Total   int `json:"total"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var body speakBody
	if msg, ok := decodeBody(r, &body); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := s.service.Speak(r.Context(), speech.SpeakRequest{
		Text:     body.Text,
		Voice:    deref(body.Voice),
		Channel:  deref(body.Channel),
		Priority: body.Priority,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSpeakDialogue(w http.ResponseWriter, r *http.Request) {
	var body dialogueBody
	if msg, ok := decodeBody(r, &body); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := s.service.SpeakDialogue(r.Context(), speech.DialogueRequest{
		Lines:    body.Dialogue,
		Channel:  deref(body.Channel),
		Priority: body.Priority,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status(r.URL.Query().Get("channel")))
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	body, msg, ok := decodeChannel(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	n := s.service.Clear(deref(body.Channel))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleQueueSkip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"skipped": s.service.Skip()})
}

func (s *Server) handleQueueSeek(w http.ResponseWriter, r *http.Request) {
	var body seekBody
	if msg, ok := decodeBody(r, &body); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	var offset float64
	switch v := body.Offset.(type) {
	case nil:
		writeError(w, http.StatusBadRequest, "No offset provided")
		return
	case float64:
		offset = v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		offset = f
	default:
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	if !s.service.Seek(offset) {
		writeError(w, http.StatusConflict, "Nothing playing to seek")
		return
	}
	writeJSON(w, http.StatusOK, seekResponse{Seeked: true, Offset: offset})
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	body, msg, ok := decodeChannel(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	s.service.Pause(deref(body.Channel))
	writeJSON(w, http.StatusOK, pauseResponse{Paused: true, Channel: body.Channel})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	body, msg, ok := decodeChannel(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	s.service.Resume(deref(body.Channel))
	writeJSON(w, http.StatusOK, resumeResponse{Resumed: true, Channel: body.Channel})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = defaultHistoryLimit
	}
	limit = max(1, min(limit, maxHistoryLimit))

	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil {
		offset = 0
	}
	offset = max(0, offset)

	records, total := s.service.History(limit, offset, q.Get("channel"))
	entries := any(records)
	if records == nil {
		entries = []struct{}{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Total: total})
}

func (s *Server) handleHistoryReplay(w http.ResponseWriter, r *http.Request) {
	var body replayBody
	if msg, ok := decodeBody(r, &body); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := s.service.Replay(r.Context(), body.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.service.Voices())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Health())
}

// decodeBody decodes a required JSON object. On failure it returns the
// message to report.
func decodeBody(r *http.Request, v any) (string, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "Invalid JSON", false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return decodeMessage(err), false
	}
	return "", true
}

// decodeChannel decodes an optional {"channel"} body. Malformed bodies count
// as empty; only a channel of the wrong type is an error.
func decodeChannel(r *http.Request) (channelBody, string, bool) {
	var body channelBody
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(data) == 0 {
		return body, "", true
	}
	if err := json.Unmarshal(data, &body); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return channelBody{}, decodeMessage(err), false
		}
		return channelBody{}, "", true
	}
	return body, "", true
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return "Invalid JSON"
	}
	if typeErr.Field == "" {
		return "Expected JSON object"
	}

	field := typeErr.Field
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	field = strings.ToUpper(field[:1]) + field[1:]

	switch typeErr.Type.Kind() {
	case reflect.String:
		return field + " must be a string"
	case reflect.Bool:
		return field + " must be a boolean"
	case reflect.Slice:
		return field + " must be a list"
	case reflect.Struct:
		return field + " must be an object"
	default:
		return "Invalid " + strings.ToLower(field)
	}
}

// writeServiceError maps speech errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var rejected *speech.RejectedError
	var apiErr *elevenlabs.APIError

	switch {
	case errors.As(err, &rejected):
		status := http.StatusBadRequest
		if rejected.Code == "queue_full" {
			status = http.StatusTooManyRequests
		}
		msg, ok := rejectionMessages[rejected.Code]
		if !ok {
			msg = "Request rejected"
		}
		writeJSON(w, status, errorResponse{Error: msg, Code: rejected.Code})
	case errors.Is(err, speech.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speech.ErrNotFound):
		writeError(w, http.StatusNotFound, "Entry not found in history")
	case errors.Is(err, speech.ErrExpired):
		writeError(w, http.StatusNotFound, "Cached audio not found (may have expired)")
	case errors.Is(err, speech.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, speech.ErrNotConfigured.Error())
	case errors.Is(err, speech.ErrSynthesis) && errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Error())
	case errors.Is(err, speech.ErrSynthesis):
		writeError(w, http.StatusBadGateway, "Network: "+strings.TrimPrefix(err.Error(), "network: "))
	default:
		zlog.Error().Msgf("httpapi: unexpected error: %+v", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
