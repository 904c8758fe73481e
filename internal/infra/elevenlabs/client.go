// Package elevenlabs provides a client for the ElevenLabs speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.elevenlabs.io/v1"

// ErrNoAPIKey is returned when the client is used without an API key.
var ErrNoAPIKey = errors.New("elevenlabs API key is not set")

// APIError represents a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %d: %s", e.Status, e.Body)
}

// Config represents ElevenLabs client configuration.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	OutputFormat      string
	RequestsPerMinute int
	Timeout           time.Duration
	TempDir           string // Empty uses the system temp dir
	TempPrefix        string
}

// Voice represents a voice available to the account.
type Voice struct {
	ID   string `json:"voice_id"`
	Name string `json:"name"`
}

// DialogueLine is one input of a multi-speaker request.
type DialogueLine struct {
	VoiceID string `json:"voice_id"`
	Text    string `json:"text"`
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type dialogueRequest struct {
	Inputs  []DialogueLine `json:"inputs"`
	ModelID string         `json:"model_id"`
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

// Client is an ElevenLabs API client.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	tempDir      string
	tempPrefix   string
	httpClient   *http.Client
	rateLimiter  *rate.Limiter

	// Cache for the account voice list
	voices   []Voice
	voicesMu sync.RWMutex
}

// New creates a new ElevenLabs client. An empty API key is allowed; calls
// then fail with ErrNoAPIKey.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "eleven_v3"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.TempPrefix == "" {
		cfg.TempPrefix = "speakd-"
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		outputFormat: cfg.OutputFormat,
		tempDir:      cfg.TempDir,
		tempPrefix:   cfg.TempPrefix,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		rateLimiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Synthesize converts text to speech with the given voice and writes the
// audio to a new temp file. The caller owns the returned path.
// Reference: https://elevenlabs.io/docs/api-reference/text-to-speech/convert
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if text == "" || voiceID == "" {
		return "", errors.New("text and voice id are required")
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?%s",
		c.baseURL, url.PathEscape(voiceID), url.Values{"output_format": {c.outputFormat}}.Encode())

	audio, err := c.post(ctx, endpoint, speechRequest{Text: text, ModelID: c.model})
	if err != nil {
		return "", err
	}
	zlog.Debug().Msgf("elevenlabs: synthesized speech: voice=%s chars=%d bytes=%d", voiceID, len([]rune(text)), len(audio))
	return c.writeTemp(audio)
}

// SynthesizeDialogue converts a multi-speaker dialogue into one audio file.
// Reference: https://elevenlabs.io/docs/api-reference/text-to-dialogue/convert
func (c *Client) SynthesizeDialogue(ctx context.Context, lines []DialogueLine) (string, error) {
	if len(lines) == 0 {
		return "", errors.New("dialogue requires at least one line")
	}

	endpoint := fmt.Sprintf("%s/text-to-dialogue?%s",
		c.baseURL, url.Values{"output_format": {c.outputFormat}}.Encode())

	audio, err := c.post(ctx, endpoint, dialogueRequest{Inputs: lines, ModelID: c.model})
	if err != nil {
		return "", err
	}
	zlog.Debug().Msgf("elevenlabs: synthesized dialogue: lines=%d bytes=%d", len(lines), len(audio))
	return c.writeTemp(audio)
}

// ListVoices returns the account's voices. A successful result is cached for
// the lifetime of the client.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	c.voicesMu.RLock()
	if c.voices != nil {
		voices := c.voices
		c.voicesMu.RUnlock()
		return voices, nil
	}
	c.voicesMu.RUnlock()

	if !c.Configured() {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("xi-api-key", c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var response voicesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}

	voices := make([]Voice, 0, len(response.Voices))
	for _, v := range response.Voices {
		if v.ID == "" || v.Name == "" {
			continue
		}
		voices = append(voices, v)
	}

	c.voicesMu.Lock()
	c.voices = voices
	c.voicesMu.Unlock()

	zlog.Info().Msgf("elevenlabs: fetched account voices: count=%d", len(voices))
	return voices, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait cancelled")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (c *Client) writeTemp(audio []byte) (string, error) {
	f, err := os.CreateTemp(c.tempDir, c.tempPrefix+"*.mp3")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	path := f.Name()

	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", errors.Wrap(err, "failed to write audio")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", errors.Wrap(err, "failed to write audio")
	}
	return path, nil
}
