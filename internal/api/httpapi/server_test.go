package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/speakd/internal/app/notification"
	"github.com/osa030/speakd/internal/app/playback"
	"github.com/osa030/speakd/internal/app/speech"
	domain "github.com/osa030/speakd/internal/domain/speech"
	"github.com/osa030/speakd/internal/infra/config"
	"github.com/osa030/speakd/internal/infra/elevenlabs"
)

type fakeService struct {
	speakErr  error
	speakReq  speech.SpeakRequest
	dialogue  speech.DialogueRequest
	replayErr error

	seekOK     bool
	seekOffset float64
	paused     []string
	resumed    []string
	cleared    []string

	history     []domain.HistoryRecord
	historyArgs [3]any

	events       chan notification.Event
	unsubscribed chan string
}

func newFakeService() *fakeService {
	return &fakeService{
		events:       make(chan notification.Event, 8),
		unsubscribed: make(chan string, 1),
	}
}

func (f *fakeService) Speak(_ context.Context, req speech.SpeakRequest) (*speech.SpeakResult, error) {
	f.speakReq = req
	if f.speakErr != nil {
		return nil, f.speakErr
	}
	return &speech.SpeakResult{ID: "abcd1234", Position: 1, Voice: "Rachel", TextPreview: req.Text}, nil
}

func (f *fakeService) SpeakDialogue(_ context.Context, req speech.DialogueRequest) (*speech.DialogueResult, error) {
	f.dialogue = req
	return &speech.DialogueResult{ID: "dlg00001", Position: 2, Voices: "Adam + Rachel"}, nil
}

func (f *fakeService) Replay(_ context.Context, id string) (*speech.ReplayResult, error) {
	if f.replayErr != nil {
		return nil, f.replayErr
	}
	return &speech.ReplayResult{ID: "rep00001", Position: 1, Replaying: id}, nil
}

func (f *fakeService) Status(channel string) playback.Status {
	return playback.Status{Queued: 3, Total: 3, Items: []playback.Item{}, ChannelPaused: []string{channel}}
}

func (f *fakeService) Clear(channel string) int {
	f.cleared = append(f.cleared, channel)
	return 2
}

func (f *fakeService) Skip() bool { return true }

func (f *fakeService) Seek(offset float64) bool {
	f.seekOffset = offset
	return f.seekOK
}

func (f *fakeService) Pause(channel string) playback.PauseState {
	f.paused = append(f.paused, channel)
	return playback.PauseState{}
}

func (f *fakeService) Resume(channel string) playback.PauseState {
	f.resumed = append(f.resumed, channel)
	return playback.PauseState{}
}

func (f *fakeService) History(limit, offset int, channel string) ([]domain.HistoryRecord, int) {
	f.historyArgs = [3]any{limit, offset, channel}
	return f.history, 7
}

func (f *fakeService) Voices() json.RawMessage {
	return json.RawMessage(`[{"name":"Rachel","id":"r1"}]`)
}

func (f *fakeService) Health() speech.Health {
	return speech.Health{Status: "ok", Version: speech.Version, QueueSize: 4}
}

func (f *fakeService) Subscribe() *notification.Subscription {
	return &notification.Subscription{ID: "sub-1", C: f.events}
}

func (f *fakeService) Unsubscribe(id string) {
	f.unsubscribed <- id
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*fakeService, http.Handler) {
	t.Helper()
	var cfg config.Config
	require.NoError(t, defaults.Set(&cfg))
	if mutate != nil {
		mutate(&cfg)
	}
	svc := newFakeService()
	return svc, NewServer(svc, &cfg).Handler()
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIsLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "null", want: false},
		{origin: "http://localhost", want: true},
		{origin: "http://localhost:3000/", want: true},
		{origin: "http://127.0.0.1:7865", want: true},
		{origin: "http://[::1]:8080", want: true},
		{origin: "http://localhost.evil.com", want: false},
		{origin: "https://example.com", want: false},
		{origin: "https://dashboard.example.com", want: true},
	}

	allowed := []string{"https://dashboard.example.com/"}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLocalOrigin(tt.origin, allowed))
		})
	}
}

func TestOriginGuard(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(h, http.MethodPost, "/queue/skip", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Forbidden origin"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/queue/skip", "", map[string]string{"Origin": "null"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/queue/skip", "", map[string]string{"Origin": "http://localhost:5173"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code, "GET is not guarded")
}

func TestAdminAuth(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.Admin.Token = "secret" })

	rec := do(h, http.MethodPost, "/queue/skip", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/queue/skip", "", map[string]string{AdminTokenHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/queue/skip", "", map[string]string{AdminTokenHeader: "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/speak", `{"text":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "speak is not a control endpoint")
}

func TestHandleSpeak(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "ok",
			body:       `{"text":"hello","voice":"rachel","channel":"radio","priority":true}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"id":"abcd1234","position":1,"voice":"Rachel","text_preview":"hello"}`,
		},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid JSON"}`},
		{name: "not an object", body: `[1]`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Expected JSON object"}`},
		{name: "voice not a string", body: `{"text":"a","voice":3}`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Voice must be a string"}`},
		{
			name:       "invalid request",
			body:       `{"text":""}`,
			err:        errors.Mark(errors.New("No text provided"), speech.ErrInvalidRequest),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"No text provided"}`,
		},
		{
			name:       "not configured",
			body:       `{"text":"a"}`,
			err:        speech.ErrNotConfigured,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"ELEVENLABS_API_KEY not set"}`,
		},
		{
			name:       "api error",
			body:       `{"text":"a"}`,
			err:        errors.Mark(&elevenlabs.APIError{Status: 401, Body: "unauthorized"}, speech.ErrSynthesis),
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"error":"API 401: unauthorized"}`,
		},
		{
			name:       "network error",
			body:       `{"text":"a"}`,
			err:        errors.Mark(errors.Wrap(errors.New("connection refused"), "network"), speech.ErrSynthesis),
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"error":"Network: connection refused"}`,
		},
		{
			name:       "queue full",
			body:       `{"text":"a"}`,
			err:        &speech.RejectedError{Code: "queue_full"},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   `{"error":"Queue is full","code":"queue_full"}`,
		},
		{
			name:       "too long",
			body:       `{"text":"a"}`,
			err:        &speech.RejectedError{Code: "text_too_long"},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Text too long","code":"text_too_long"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, h := newTestServer(t, nil)
			svc.speakErr = tt.err

			rec := do(h, http.MethodPost, "/speak", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}

	svc, h := newTestServer(t, nil)
	do(h, http.MethodPost, "/speak", `{"text":"hello","voice":"rachel","channel":"radio","priority":true}`, nil)
	assert.Equal(t, speech.SpeakRequest{Text: "hello", Voice: "rachel", Channel: "radio", Priority: true}, svc.speakReq)
}

func TestHandleSpeakDialogue(t *testing.T) {
	svc, h := newTestServer(t, nil)

	rec := do(h, http.MethodPost, "/speak/dialogue",
		`{"dialogue":[{"text":"hi","voice":"adam"},{"text":"yo"}],"channel":"radio"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"dlg00001","position":2,"voices":"Adam + Rachel"}`, rec.Body.String())
	assert.Equal(t, []speech.DialogueLine{{Text: "hi", Voice: "adam"}, {Text: "yo"}}, svc.dialogue.Lines)
	assert.Equal(t, "radio", svc.dialogue.Channel)

	rec = do(h, http.MethodPost, "/speak/dialogue", `{"dialogue":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Dialogue must be a list"}`, rec.Body.String())
}

func TestQueueControl(t *testing.T) {
	svc, h := newTestServer(t, nil)

	rec := do(h, http.MethodGet, "/queue?channel=radio", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"playing":false,"queued":3,"total":3,"items":[],"paused":false,"channel_paused":["radio"]}`,
		rec.Body.String())

	rec = do(h, http.MethodPost, "/queue/clear", `{"channel":"radio"}`, nil)
	assert.JSONEq(t, `{"cleared":2}`, rec.Body.String())
	rec = do(h, http.MethodPost, "/queue/clear", `garbage`, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "malformed optional body counts as empty")
	assert.Equal(t, []string{"radio", ""}, svc.cleared)

	rec = do(h, http.MethodPost, "/queue/clear", `{"channel":5}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Channel must be a string"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/queue/skip", "", nil)
	assert.JSONEq(t, `{"skipped":true}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/queue/pause", `{"channel":"radio"}`, nil)
	assert.JSONEq(t, `{"paused":true,"channel":"radio"}`, rec.Body.String())
	rec = do(h, http.MethodPost, "/queue/resume", "", nil)
	assert.JSONEq(t, `{"resumed":true,"channel":null}`, rec.Body.String())
	assert.Equal(t, []string{"radio"}, svc.paused)
	assert.Equal(t, []string{""}, svc.resumed)

	rec = do(h, http.MethodGet, "/queue/skip", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSeek(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		seekOK     bool
		wantStatus int
		wantBody   string
	}{
		{name: "number", body: `{"offset":12.5}`, seekOK: true, wantStatus: http.StatusOK, wantBody: `{"seeked":true,"offset":12.5}`},
		{name: "numeric string", body: `{"offset":"3"}`, seekOK: true, wantStatus: http.StatusOK, wantBody: `{"seeked":true,"offset":3}`},
		{name: "idle", body: `{"offset":1}`, wantStatus: http.StatusConflict, wantBody: `{"error":"Nothing playing to seek"}`},
		{name: "missing", body: `{}`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"No offset provided"}`},
		{name: "invalid", body: `{"offset":"abc"}`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid offset"}`},
		{name: "bool", body: `{"offset":true}`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid offset"}`},
		{name: "nan string", body: `{"offset":"NaN"}`, seekOK: true, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid offset"}`},
		{name: "infinity string", body: `{"offset":"+Inf"}`, seekOK: true, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid offset"}`},
		{name: "negative infinity string", body: `{"offset":"-Infinity"}`, seekOK: true, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid offset"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, h := newTestServer(t, nil)
			svc.seekOK = tt.seekOK

			rec := do(h, http.MethodPost, "/queue/seek", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestHandleHistory(t *testing.T) {
	tests := []struct {
		query string
		want  [3]any
	}{
		{query: "", want: [3]any{50, 0, ""}},
		{query: "?limit=0&offset=-3", want: [3]any{1, 0, ""}},
		{query: "?limit=9999&offset=5&channel=radio", want: [3]any{500, 5, "radio"}},
		{query: "?limit=abc&offset=xyz", want: [3]any{50, 0, ""}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			svc, h := newTestServer(t, nil)
			rec := do(h, http.MethodGet, "/history"+tt.query, "", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"entries":[],"total":7}`, rec.Body.String())
			assert.Equal(t, tt.want, svc.historyArgs)
		})
	}
}

func TestHandleReplay(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "ok", body: `{"id":"old1"}`, wantStatus: http.StatusOK, wantBody: `{"id":"rep00001","position":1,"replaying":"old1"}`},
		{name: "unknown", body: `{"id":"x"}`, err: speech.ErrNotFound, wantStatus: http.StatusNotFound, wantBody: `{"error":"Entry not found in history"}`},
		{name: "expired", body: `{"id":"x"}`, err: speech.ErrExpired, wantStatus: http.StatusNotFound, wantBody: `{"error":"Cached audio not found (may have expired)"}`},
		{name: "bad id", body: `{"id":1}`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Id must be a string"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, h := newTestServer(t, nil)
			svc.replayErr = tt.err

			rec := do(h, http.MethodPost, "/history/replay", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestVoicesAndHealth(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(h, http.MethodGet, "/voices", "", nil)
	assert.JSONEq(t, `[{"name":"Rachel","id":"r1"}]`, rec.Body.String())

	rec = do(h, http.MethodGet, "/health", "", nil)
	assert.JSONEq(t, `{"status":"ok","version":"2.0","queue_size":4}`, rec.Body.String())
}

func TestHandleEvents(t *testing.T) {
	svc, h := newTestServer(t, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	svc.events <- notification.Event{SequenceNo: 1, Type: notification.EventState, Data: map[string]int{"queued": 0}}
	svc.events <- notification.Event{SequenceNo: 2, Type: notification.EventPauseState, Data: playback.PauseState{GlobalPaused: true}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(resp.Body)
	readFrame := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	assert.Equal(t, []string{"id: 1", "event: state", `data: {"queued":0}`}, readFrame())
	assert.Equal(t, []string{"id: 2", "event: pause_state", `data: {"global_paused":true,"channel_paused":null}`}, readFrame())

	close(svc.events)
	select {
	case id := <-svc.unsubscribed:
		assert.Equal(t, "sub-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not removed")
	}
}

func TestHandleIndex(t *testing.T) {
	dir := t.TempDir()
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.Dashboard.Dir = dir })

	rec := do(h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dashboard not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>speakd</html>"), 0644))
	rec = do(h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<html>speakd</html>", rec.Body.String())

	rec = do(h, http.MethodGet, "/index.html", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "only the root path serves the dashboard")
}

func TestHandlePortrait(t *testing.T) {
	dir := t.TempDir()
	portraits := filepath.Join(dir, "portraits")
	require.NoError(t, os.MkdirAll(filepath.Join(portraits, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.png"), []byte("TOPSECRET"), 0644))
	for _, name := range []string{"rachel.png", "adam.JPG", "bella.webp", "notes.txt", "sub/deep.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(portraits, name), []byte("img "+name), 0644))
	}
	require.NoError(t, os.Symlink(filepath.Join(dir, "secret.png"), filepath.Join(portraits, "escape.png")))

	_, h := newTestServer(t, func(cfg *config.Config) { cfg.Dashboard.Dir = dir })

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantType   string
	}{
		{name: "png", path: "/portraits/rachel.png", wantStatus: http.StatusOK, wantType: "image/png"},
		{name: "upper case jpg", path: "/portraits/adam.JPG", wantStatus: http.StatusOK, wantType: "image/jpeg"},
		{name: "webp", path: "/portraits/bella.webp", wantStatus: http.StatusOK, wantType: "image/webp"},
		{name: "unknown extension", path: "/portraits/notes.txt", wantStatus: http.StatusOK, wantType: "application/octet-stream"},
		{name: "nested", path: "/portraits/sub/deep.jpeg", wantStatus: http.StatusOK, wantType: "image/jpeg"},
		{name: "missing", path: "/portraits/nobody.png", wantStatus: http.StatusNotFound},
		{name: "directory", path: "/portraits/sub", wantStatus: http.StatusNotFound},
		{name: "symlink out of root", path: "/portraits/escape.png", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantType, rec.Header().Get("Content-Type"))
				assert.True(t, strings.HasPrefix(rec.Body.String(), "img "))
			} else {
				assert.NotContains(t, rec.Body.String(), "TOPSECRET")
			}
		})
	}
}

func TestHandlePortrait_TraversalIsRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "portraits"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.png"), []byte("TOPSECRET"), 0644))
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.Dashboard.Dir = dir })

	for _, path := range []string{
		"/portraits/..%2Fsecret.png",
		"/portraits/%2E%2E%2Fsecret.png",
		"/portraits/../secret.png",
		"/portraits/sub/..%2F..%2Fsecret.png",
	} {
		t.Run(path, func(t *testing.T) {
			rec := do(h, http.MethodGet, path, "", nil)
			assert.NotEqual(t, http.StatusOK, rec.Code)
			assert.NotContains(t, rec.Body.String(), "TOPSECRET")
		})
	}

	// The handler itself refuses non-local names even when routing lets them through.
	s := NewServer(newFakeService(), &config.Config{Dashboard: config.DashboardConfig{Dir: dir}})
	req := httptest.NewRequest(http.MethodGet, "/portraits/x", nil)
	req.SetPathValue("name", "../secret.png")
	rec := httptest.NewRecorder()
	s.handlePortrait(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "TOPSECRET")
}
