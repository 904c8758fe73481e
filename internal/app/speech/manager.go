package speech

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/app/filter"
	"github.com/osa030/speakd/internal/app/notification"
	"github.com/osa030/speakd/internal/app/playback"
	"github.com/osa030/speakd/internal/app/voice"
	"github.com/osa030/speakd/internal/domain/speech"
	"github.com/osa030/speakd/internal/infra/audio"
	"github.com/osa030/speakd/internal/infra/config"
	"github.com/osa030/speakd/internal/infra/elevenlabs"
)

// Version is reported by Health.
const Version = "2.0"

// Synthesizer defines the speech synthesis operations used by the manager.
type Synthesizer interface {
	Configured() bool
	Synthesize(ctx context.Context, text, voiceID string) (string, error)
	SynthesizeDialogue(ctx context.Context, lines []elevenlabs.DialogueLine) (string, error)
}

// Manager wires synthesis, admission filters, the playback queue and the
// event broadcaster together.
type Manager struct {
	config *config.Config

	// Components
	synth        Synthesizer
	resolver     *voice.Resolver
	filterChain  *filter.Chain
	queue        *playback.Queue
	notification *notification.Broadcaster
	cache        Cache
}

// Cache is the replay cache.
type Cache interface {
	playback.Cache
	Get(id string) ([]byte, bool)
}

// NewManager creates a new speech manager.
func NewManager(
	cfg *config.Config,
	synth Synthesizer,
	backend audio.Backend,
	cache Cache,
	resolver *voice.Resolver,
) (*Manager, error) {
	chain, err := filter.NewChainFromConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filter chain")
	}

	broadcaster := notification.NewBroadcaster(cfg.Events.BufferSize)

	// A nil Cache must reach the queue as an untyped nil.
	var queueCache playback.Cache
	if cache != nil {
		queueCache = cache
	}

	m := &Manager{
		config:       cfg,
		synth:        synth,
		resolver:     resolver,
		filterChain:  chain,
		notification: broadcaster,
		cache:        cache,
		queue: playback.NewQueue(backend, queueCache, broadcaster, playback.Config{
			HistorySize: cfg.Playback.HistorySize,
			ChunkMs:     cfg.Playback.ChunkMs,
		}),
	}
	return m, nil
}

// Run runs the playback worker until ctx is done, then discards pending
// entries and disconnects subscribers.
func (m *Manager) Run(ctx context.Context) {
	done := make(chan struct{})
	go m.playbackLoop(ctx, done)

	<-ctx.Done()
	m.queue.Close()
	<-done
	m.notification.Close()
}

// playbackLoop runs the queue worker, restarting it after a panic.
func (m *Manager) playbackLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if !m.runWorker(ctx) {
			return
		}
		zlog.Info().Msg("restarting playback worker")
	}
}

func (m *Manager) runWorker(ctx context.Context) (restart bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback worker panicked: %v", r)
			restart = ctx.Err() == nil
		}
	}()
	m.queue.Run(ctx)
	return false
}

// Speak synthesizes text and enqueues it.
func (m *Manager) Speak(ctx context.Context, req SpeakRequest) (*SpeakResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, invalid("No text provided")
	}

	if err := m.admit(ctx, filter.Request{
		Kind:     filter.KindSpeak,
		Texts:    []string{req.Text},
		FullText: req.Text,
		Channel:  req.Channel,
		Priority: req.Priority,
	}); err != nil {
		return nil, err
	}

	voiceID := m.resolver.Resolve(ctx, req.Voice)
	if !m.synth.Configured() {
		return nil, ErrNotConfigured
	}
	if voiceID == "" {
		return nil, invalid("No voice specified and ELEVENLABS_VOICE_ID not set")
	}

	path, err := m.synth.Synthesize(ctx, req.Text, voiceID)
	if err != nil {
		return nil, synthesisError(err)
	}

	entry := speech.NewEntry(path, req.Text, m.resolver.Label(voiceID))
	entry.Channel = req.Channel
	entry.Priority = req.Priority
	pos := m.queue.Enqueue(entry)

	zlog.Info().Msgf("speech enqueued: id=%s voice=%s channel=%s position=%d", entry.ID, entry.VoiceLabel, entry.Channel, pos)
	return &SpeakResult{
		ID:          entry.ID,
		Position:    pos,
		Voice:       entry.VoiceLabel,
		TextPreview: entry.TextPreview,
	}, nil
}

// SpeakDialogue synthesizes a multi-speaker dialogue and enqueues it as one entry.
func (m *Manager) SpeakDialogue(ctx context.Context, req DialogueRequest) (*DialogueResult, error) {
	if len(req.Lines) == 0 {
		return nil, invalid("No dialogue provided")
	}
	if !m.synth.Configured() {
		return nil, ErrNotConfigured
	}

	texts := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		if strings.TrimSpace(line.Text) == "" {
			return nil, invalid("Dialogue item %d missing 'text'", i)
		}
		texts[i] = line.Text
	}

	inputs := make([]elevenlabs.DialogueLine, len(req.Lines))
	labels := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		id := m.resolver.Resolve(ctx, line.Voice)
		if id == "" {
			return nil, invalid("Cannot resolve voice: %s", line.Voice)
		}
		inputs[i] = elevenlabs.DialogueLine{VoiceID: id, Text: line.Text}
		labels[i] = m.resolver.Label(id)
	}

	full := dialogueText(labels, texts, 0)
	if err := m.admit(ctx, filter.Request{
		Kind:     filter.KindDialogue,
		Texts:    texts,
		FullText: full,
		Channel:  req.Channel,
		Priority: req.Priority,
	}); err != nil {
		return nil, err
	}

	path, err := m.synth.SynthesizeDialogue(ctx, inputs)
	if err != nil {
		return nil, synthesisError(err)
	}

	segments := make([]speech.Segment, len(texts))
	for i := range texts {
		segments[i] = speech.Segment{Voice: labels[i], Text: texts[i], Chars: utf8.RuneCountInString(texts[i])}
	}

	entry := speech.NewEntry(path, full, joinLabels(labels))
	entry.Type = speech.EntryTypeDialogue
	entry.TextPreview = speech.Preview(dialogueText(labels, texts, 25), 100)
	entry.Segments = segments
	entry.Channel = req.Channel
	entry.Priority = req.Priority
	pos := m.queue.Enqueue(entry)

	zlog.Info().Msgf("dialogue enqueued: id=%s voices=%s lines=%d position=%d", entry.ID, entry.VoiceLabel, len(texts), pos)
	return &DialogueResult{
		ID:       entry.ID,
		Position: pos,
		Voices:   entry.VoiceLabel,
	}, nil
}

// Replay re-enqueues a played entry from the cache without synthesis.
func (m *Manager) Replay(ctx context.Context, historyID string) (*ReplayResult, error) {
	if historyID == "" {
		return nil, invalid("No id provided")
	}

	rec, ok := m.queue.FindHistory(historyID)
	if !ok {
		return nil, ErrNotFound
	}

	if err := m.admit(ctx, filter.Request{
		Kind:     filter.KindReplay,
		FullText: rec.Text,
		Channel:  rec.Channel,
	}); err != nil {
		return nil, err
	}

	if m.cache == nil {
		return nil, ErrExpired
	}
	data, ok := m.cache.Get(historyID)
	if !ok {
		return nil, ErrExpired
	}

	f, err := os.CreateTemp("", m.config.Playback.TempPrefix+"*.mp3")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp file")
	}
	path := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(errors.CombineErrors(werr, cerr), "failed to write replay audio")
	}

	id := speech.NewID()
	entry := &speech.Entry{
		ID:          id,
		AudioPath:   path,
		TextPreview: speech.Preview(rec.Text, 100),
		VoiceLabel:  rec.Voice,
		Type:        rec.Type,
		Channel:     rec.Channel,
		HistoryID:   id,
		FullText:    rec.Text,
		IsReplay:    true,
	}
	pos := m.queue.Enqueue(entry)

	zlog.Info().Msgf("replay enqueued: id=%s replaying=%s position=%d", id, historyID, pos)
	return &ReplayResult{ID: id, Position: pos, Replaying: historyID}, nil
}

// Status returns the queue status, filtered by channel when non-empty.
func (m *Manager) Status(channel string) playback.Status {
	return m.queue.Status(channel)
}

// Clear removes queued entries. See playback.Queue.Clear.
func (m *Manager) Clear(channel string) int {
	return m.queue.Clear(channel)
}

// Skip stops the active playback.
func (m *Manager) Skip() bool {
	return m.queue.Skip()
}

// Seek restarts the active playback at offset seconds (negative is clamped to 0).
func (m *Manager) Seek(offset float64) bool {
	if offset < 0 {
		offset = 0
	}
	return m.queue.Seek(offset)
}

// Pause pauses globally or per channel and publishes the new pause state.
func (m *Manager) Pause(channel string) playback.PauseState {
	m.queue.Pause(channel)
	return m.publishPauseState()
}

// Resume resumes globally or per channel and publishes the new pause state.
func (m *Manager) Resume(channel string) playback.PauseState {
	m.queue.Resume(channel)
	return m.publishPauseState()
}

func (m *Manager) publishPauseState() playback.PauseState {
	st := m.queue.PauseState()
	m.notification.Publish(notification.EventPauseState, st)
	return st
}

// History returns a page of history records and the total number kept.
func (m *Manager) History(limit, offset int, channel string) ([]speech.HistoryRecord, int) {
	return m.queue.History(limit, offset, channel), m.queue.HistoryLen()
}

// Voices returns the roster document.
func (m *Manager) Voices() json.RawMessage {
	return m.resolver.Roster().Raw()
}

// Health returns the liveness summary.
func (m *Manager) Health() Health {
	return Health{Status: "ok", Version: Version, QueueSize: m.queue.Len()}
}

// Subscribe registers an event subscriber. The first event is a state
// snapshot with the most recent history records.
func (m *Manager) Subscribe() *notification.Subscription {
	recent := m.config.Events.RecentHistory
	return m.notification.Subscribe(func() any {
		return m.queue.Snapshot(recent)
	})
}

// Unsubscribe removes an event subscriber.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
}

// SubscriberCount returns the number of event subscribers.
func (m *Manager) SubscriberCount() int {
	return m.notification.SubscriberCount()
}

// admit runs the filter chain.
func (m *Manager) admit(ctx context.Context, req filter.Request) error {
	result := m.filterChain.Execute(ctx, req, m.queue)
	if !result.Accepted {
		return &RejectedError{Code: result.Code}
	}
	return nil
}

func synthesisError(err error) error {
	var apiErr *elevenlabs.APIError
	if errors.As(err, &apiErr) {
		return errors.Mark(apiErr, ErrSynthesis)
	}
	if errors.Is(err, elevenlabs.ErrNoAPIKey) {
		return ErrNotConfigured
	}
	return errors.Mark(errors.Wrap(err, "network"), ErrSynthesis)
}

// dialogueText renders `label: "text"` pairs joined by " / ". Texts are cut
// to n characters when n > 0.
func dialogueText(labels, texts []string, n int) string {
	parts := make([]string, len(texts))
	for i, t := range texts {
		if n > 0 {
			t = speech.Preview(t, n)
		}
		parts[i] = labels[i] + `: "` + t + `"`
	}
	return strings.Join(parts, " / ")
}

// joinLabels returns the sorted unique labels joined by " + ".
func joinLabels(labels []string) string {
	seen := make(map[string]struct{}, len(labels))
	unique := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		unique = append(unique, l)
	}
	sort.Strings(unique)
	return strings.Join(unique, " + ")
}
