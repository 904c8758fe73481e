package playback

import (
	"context"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/app/notification"
	"github.com/osa030/speakd/internal/domain/speech"
	"github.com/osa030/speakd/internal/infra/audio"
)

// Cache receives a copy of every played file for later replay.
type Cache interface {
	CopyFile(id, path string) error
}

// Config holds queue configuration.
type Config struct {
	HistorySize int // Max history records kept (FIFO eviction)
	ChunkMs     int // Envelope chunk size in milliseconds
}

// Queue owns pending entries, the paused-channel set, the current entry and
// the history ring. A single worker started by Run turns entries into player
// process lifecycles. Entry points only mutate state and signal the worker.
type Queue struct {
	backend audio.Backend
	cache   Cache
	events  Publisher
	config  Config

	mu sync.Mutex

	// Queue management
	pending        []*speech.Entry
	pausedGlobal   bool
	pausedChannels map[string]struct{}
	history        *speech.History

	// Current entry state
	current   *speech.Entry
	process   audio.Process
	state     WorkerState
	playStart time.Time

	// Pending actions, re-examined after every process exit
	pauseRequested bool
	skipRequested  bool
	seekPending    bool
	seekOffset     float64

	wake   chan struct{}
	closed bool
	now    func() time.Time
}

// NewQueue creates a new playback queue. cache and events may be nil.
func NewQueue(backend audio.Backend, cache Cache, events Publisher, config Config) *Queue {
	if config.ChunkMs <= 0 {
		config.ChunkMs = 50
	}
	return &Queue{
		backend:        backend,
		cache:          cache,
		events:         events,
		config:         config,
		pausedChannels: make(map[string]struct{}),
		history:        speech.NewHistory(config.HistorySize),
		state:          StateIdle,
		wake:           make(chan struct{}, 1),
		now:            time.Now,
	}
}

// Enqueue adds an entry at the tail, or at the head when it has priority.
// The queue takes ownership of the entry's audio file. It returns the number
// of pending entries after insertion.
func (q *Queue) Enqueue(e *speech.Entry) int {
	e.Normalize()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		removeFile(e.AudioPath)
		return 0
	}
	if e.Priority {
		q.pending = append([]*speech.Entry{e}, q.pending...)
	} else {
		q.pending = append(q.pending, e)
	}
	n := len(q.pending)
	q.mu.Unlock()

	zlog.Debug().Msgf("playback: enqueued: id=%s channel=%s priority=%v position=%d", e.ID, e.Channel, e.Priority, n)
	q.signal()
	return n
}

// Status returns the current and queued entries, filtered by channel when
// channel is non-empty.
func (q *Queue) Status(channel string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked(channel)
}

func (q *Queue) statusLocked(channel string) Status {
	items := make([]Item, 0, len(q.pending)+1)
	if q.current != nil && (channel == "" || q.current.Channel == channel) {
		items = append(items, itemFor(q.current, 0, "playing"))
	}
	for i, e := range q.pending {
		if channel != "" && e.Channel != channel {
			continue
		}
		items = append(items, itemFor(e, i+1, "queued"))
	}

	return Status{
		Playing:       q.current != nil,
		Queued:        len(q.pending),
		Total:         len(items),
		Items:         items,
		Paused:        q.pausedGlobal,
		ChannelPaused: q.channelPausedLocked(),
	}
}

// Snapshot returns the status together with the most recent history records.
func (q *Queue) Snapshot(recent int) Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Status:        q.statusLocked(""),
		RecentHistory: q.history.Recent(recent, 0, ""),
	}
}

// Clear removes queued entries and deletes their audio files. Without a
// channel it also stops the active playback, which counts as one cleared
// entry. With a channel only that channel's queued entries are removed.
func (q *Queue) Clear(channel string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := 0
	if channel == "" {
		for _, e := range q.pending {
			removeFile(e.AudioPath)
			cleared++
		}
		q.pending = nil
		if q.killLocked(&q.skipRequested) {
			cleared++
		}
	} else {
		kept := q.pending[:0]
		for _, e := range q.pending {
			if e.Channel == channel {
				removeFile(e.AudioPath)
				cleared++
				continue
			}
			kept = append(kept, e)
		}
		for i := len(kept); i < len(q.pending); i++ {
			q.pending[i] = nil
		}
		q.pending = kept
	}

	zlog.Info().Msgf("playback: cleared: channel=%s count=%d", channel, cleared)
	return cleared
}

// Skip stops the active playback. The skipped entry is not recorded as
// failed. It returns false when nothing is playing.
func (q *Queue) Skip() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.killLocked(&q.skipRequested) {
		return false
	}
	zlog.Info().Msgf("playback: skipped: id=%s", q.current.ID)
	return true
}

// Seek restarts the active playback from offset seconds. It returns false
// when nothing is playing, the offset is not finite or the process could
// not be stopped.
func (q *Queue) Seek(offset float64) bool {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil || q.process == nil || q.process.Exited() {
		return false
	}
	q.seekOffset = math.Max(0, offset)
	q.seekPending = true
	if err := q.process.Kill(); err != nil {
		q.seekPending = false
		q.seekOffset = 0
		return false
	}
	zlog.Info().Msgf("playback: seek requested: id=%s offset=%.2f", q.current.ID, offset)
	return true
}

// Pause pauses globally when channel is empty, otherwise only that channel.
// A global pause stops the active process and remembers its position.
func (q *Queue) Pause(channel string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if channel != "" {
		q.pausedChannels[channel] = struct{}{}
		zlog.Info().Msgf("playback: channel paused: channel=%s", channel)
		return
	}

	q.pausedGlobal = true
	if q.killLocked(&q.pauseRequested) {
		zlog.Info().Msg("playback: paused, active process stopped")
	} else {
		zlog.Info().Msg("playback: paused, no active process")
	}
}

// Resume lifts a global pause when channel is empty, otherwise a channel pause.
func (q *Queue) Resume(channel string) {
	q.mu.Lock()
	if channel != "" {
		delete(q.pausedChannels, channel)
	} else {
		q.pausedGlobal = false
	}
	q.mu.Unlock()

	zlog.Info().Msgf("playback: resumed: channel=%s", channel)
	q.signal()
}

// PauseState returns the current pause flags.
func (q *Queue) PauseState() PauseState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return PauseState{
		GlobalPaused:  q.pausedGlobal,
		ChannelPaused: q.channelPausedLocked(),
	}
}

// History returns records most recent first.
func (q *Queue) History(limit, offset int, channel string) []speech.HistoryRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Recent(limit, offset, channel)
}

// FindHistory returns the most recent record with the given id.
func (q *Queue) FindHistory(id string) (speech.HistoryRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Find(id)
}

// HistoryLen returns the number of history records kept.
func (q *Queue) HistoryLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Len()
}

// Len returns pending entries plus the one being played.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}

// HasPendingText reports whether a queued or playing entry carries text.
func (q *Queue) HasPendingText(text string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.HistoryText() == text {
		return true
	}
	for _, e := range q.pending {
		if e.HistoryText() == text {
			return true
		}
	}
	return false
}

// State returns the worker state.
func (q *Queue) State() WorkerState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Close stops the active process and deletes every pending audio file.
// Entries enqueued afterwards are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for _, e := range q.pending {
		removeFile(e.AudioPath)
	}
	q.pending = nil
	q.killLocked(&q.skipRequested)
	q.mu.Unlock()

	q.signal()
}

// Run is the worker loop. It returns when ctx is done or the queue is closed.
func (q *Queue) Run(ctx context.Context) {
	zlog.Info().Msg("playback: worker started")
	defer zlog.Info().Msg("playback: worker stopped")

	for {
		e, ok := q.next(ctx)
		if !ok {
			return
		}
		q.play(ctx, e)
	}
}

// next blocks until an entry can be picked.
func (q *Queue) next(ctx context.Context) (*speech.Entry, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 && !q.pausedGlobal {
			if e := q.pickLocked(); e != nil {
				q.current = e
				q.state = StatePreparing
				q.pauseRequested = false
				q.skipRequested = false
				q.seekPending = false
				q.mu.Unlock()
				return e, true
			}
		}
		if len(q.pending) == 0 {
			q.state = StateIdle
		} else {
			q.state = StateSelecting
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

// pickLocked removes the first entry whose channel is not paused. Entries of
// paused channels stay in place.
func (q *Queue) pickLocked() *speech.Entry {
	for i, e := range q.pending {
		if e.Channel != "" {
			if _, paused := q.pausedChannels[e.Channel]; paused {
				continue
			}
		}
		copy(q.pending[i:], q.pending[i+1:])
		q.pending[len(q.pending)-1] = nil
		q.pending = q.pending[:len(q.pending)-1]
		return e
	}
	return nil
}

// cycle holds the per-entry state of one play/pause/seek cycle. It owns at
// most two live files: the original audio and the current trimmed copy.
type cycle struct {
	entry       *speech.Entry
	duration    float64
	hasDuration bool
	envelope    []float64
	offset      float64
	trimmed     string
	failed      bool
}

func (q *Queue) play(ctx context.Context, e *speech.Entry) {
	c := &cycle{entry: e}
	defer q.finalize(c)

	c.duration, c.hasDuration, c.envelope = q.probe(ctx, e.AudioPath)

	if q.cache != nil {
		if err := q.cache.CopyFile(e.HistoryID, e.AudioPath); err != nil {
			zlog.Debug().Msgf("playback: cache copy skipped: id=%s err=%v", e.HistoryID, err)
		}
	}

	if e.Type == speech.EntryTypeDialogue && c.hasDuration {
		speech.ApportionSegments(e.Segments, c.duration)
	}

	for {
		if !q.awaitResume(ctx) {
			return
		}

		playFile := e.AudioPath
		playDuration, playHasDuration, envelope := c.duration, c.hasDuration, c.envelope
		if c.offset > 0 {
			trimmed, err := q.backend.Trim(ctx, e.AudioPath, c.offset)
			if err != nil {
				zlog.Error().Msgf("playback: trim failed: id=%s offset=%.2f err=%v", e.ID, c.offset, err)
				c.failed = true
				return
			}
			c.trimmed = trimmed
			playFile = trimmed
			playDuration, playHasDuration, envelope = q.probe(ctx, trimmed)
		}

		q.mu.Lock()
		q.playStart = q.now()
		proc, err := q.backend.Play(ctx, playFile)
		if err != nil {
			q.mu.Unlock()
			zlog.Error().Msgf("playback: player failed to start: id=%s err=%v", e.ID, err)
			c.failed = true
			return
		}
		q.process = proc
		q.state = StatePlaying
		event := q.voiceActiveLocked(c, playDuration, playHasDuration, envelope)
		q.mu.Unlock()

		q.publish(notification.EventVoiceActive, event)

		code, waitErr := proc.Wait()
		q.releaseTrimmed(c)

		q.mu.Lock()
		q.process = nil
		elapsed := q.now().Sub(q.playStart).Seconds()
		seekPending, seekOffset := q.seekPending, q.seekOffset
		pauseRequested, skipRequested := q.pauseRequested, q.skipRequested
		q.seekPending, q.pauseRequested, q.skipRequested = false, false, false

		switch {
		case seekPending:
			q.state = StateSeeking
			c.offset = seekOffset
			q.mu.Unlock()
			zlog.Info().Msgf("playback: seeking: id=%s offset=%.2f", e.ID, c.offset)
			continue
		case pauseRequested:
			q.state = StatePaused
			c.offset += math.Max(0, elapsed)
			q.mu.Unlock()
			zlog.Info().Msgf("playback: paused: id=%s offset=%.2f", e.ID, c.offset)
			continue
		}

		if ctx.Err() == nil && !skipRequested && (code != 0 || waitErr != nil) {
			c.failed = true
			q.state = StateFailed
			zlog.Warn().Msgf("playback: player exited abnormally: id=%s code=%d err=%v", e.ID, code, waitErr)
		} else {
			q.state = StateCompleted
		}
		q.mu.Unlock()
		return
	}
}

// awaitResume blocks while the queue is globally paused.
func (q *Queue) awaitResume(ctx context.Context) bool {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return false
		}
		if !q.pausedGlobal {
			q.mu.Unlock()
			return true
		}
		q.state = StatePaused
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-q.wake:
		}
	}
}

// finalize releases the entry's files, records history and publishes the
// idle marker.
func (q *Queue) finalize(c *cycle) {
	e := c.entry
	q.releaseTrimmed(c)
	removeFile(e.AudioPath)

	var rec *speech.HistoryRecord
	q.mu.Lock()
	if !e.IsReplay {
		r := speech.NewHistoryRecord(e, c.duration, c.hasDuration, c.failed)
		q.history.Append(r)
		rec = &r
	}
	q.current = nil
	q.process = nil
	idle := VoiceActive{Type: IdleType, Queued: len(q.pending)}
	q.mu.Unlock()

	zlog.Info().Msgf("playback: finished: id=%s failed=%v replay=%v", e.ID, c.failed, e.IsReplay)

	if rec != nil {
		q.publish(notification.EventHistoryUpdate, *rec)
	}
	q.publish(notification.EventVoiceActive, idle)
}

// probe gathers duration and envelope concurrently.
func (q *Queue) probe(ctx context.Context, path string) (float64, bool, []float64) {
	var (
		wg       sync.WaitGroup
		duration float64
		ok       bool
		envelope []float64
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		duration, ok = q.backend.Duration(ctx, path)
	}()
	go func() {
		defer wg.Done()
		envelope = q.backend.Envelope(ctx, path, q.config.ChunkMs)
	}()
	wg.Wait()

	if envelope == nil {
		envelope = []float64{}
	}
	return duration, ok, envelope
}

func (q *Queue) releaseTrimmed(c *cycle) {
	if c.trimmed != "" {
		removeFile(c.trimmed)
		c.trimmed = ""
	}
}

func (q *Queue) voiceActiveLocked(c *cycle, playDuration float64, playHasDuration bool, envelope []float64) VoiceActive {
	e := c.entry
	offset := round3(c.offset)
	ev := VoiceActive{
		ID:            &e.ID,
		Voice:         &e.VoiceLabel,
		Type:          string(e.Type),
		Text:          &e.TextPreview,
		Duration:      rounded(playDuration, playHasDuration),
		TotalDuration: rounded(c.duration, c.hasDuration),
		Offset:        &offset,
		Envelope:      envelope,
		ChunkMs:       q.config.ChunkMs,
		Queued:        len(q.pending),
		Channel:       optional(e.Channel),
		Priority:      e.Priority,
	}
	if e.Type == speech.EntryTypeDialogue {
		ev.Segments = append([]speech.Segment(nil), e.Segments...)
	}
	return ev
}

// killLocked kills the active process and sets flag. It reports whether a
// live process was found and stopped.
func (q *Queue) killLocked(flag *bool) bool {
	if q.process == nil || q.process.Exited() {
		return false
	}
	*flag = true
	if err := q.process.Kill(); err != nil {
		zlog.Warn().Msgf("playback: kill failed: err=%v", err)
		*flag = false
		return false
	}
	return true
}

func (q *Queue) channelPausedLocked() []string {
	out := make([]string, 0, len(q.pausedChannels))
	for ch := range q.pausedChannels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (q *Queue) publish(eventType string, data any) {
	if q.events != nil {
		q.events.Publish(eventType, data)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func itemFor(e *speech.Entry, position int, status string) Item {
	return Item{
		Position: position,
		Status:   status,
		ID:       e.ID,
		Voice:    e.VoiceLabel,
		Text:     e.TextPreview,
		Channel:  optional(e.Channel),
		Priority: e.Priority,
	}
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		zlog.Debug().Msgf("playback: failed to remove audio file: path=%s err=%v", path, err)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
