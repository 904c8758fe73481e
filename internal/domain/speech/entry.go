// Package speech provides the queue entry and history record domain entities.
package speech

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryType represents the kind of synthesized audio in an entry.
type EntryType string

const (
	EntryTypeSpeak    EntryType = "speak"
	EntryTypeDialogue EntryType = "dialogue"
)

// Segment represents one line of a dialogue entry.
type Segment struct {
	Voice string  `json:"voice"`
	Text  string  `json:"text"`
	Chars int     `json:"chars"`
	Start float64 `json:"start"` // Offset in seconds, filled in during playback
	End   float64 `json:"end"`
}

// Entry represents an item waiting in (or being played by) the playback queue.
// Once enqueued, the queue owns AudioPath and deletes it exactly once.
type Entry struct {
	ID          string
	AudioPath   string
	TextPreview string
	VoiceLabel  string
	CreatedAt   time.Time
	Type        EntryType
	Segments    []Segment
	Channel     string // Empty means the default lane
	Priority    bool
	HistoryID   string // Defaults to ID
	FullText    string
	IsReplay    bool
}

// NewEntry creates a speak entry with a fresh ID.
func NewEntry(audioPath, text, voiceLabel string) *Entry {
	id := NewID()
	return &Entry{
		ID:          id,
		AudioPath:   audioPath,
		TextPreview: Preview(text, 100),
		VoiceLabel:  voiceLabel,
		CreatedAt:   time.Now(),
		Type:        EntryTypeSpeak,
		HistoryID:   id,
		FullText:    text,
	}
}

// Normalize fills defaulted fields.
func (e *Entry) Normalize() {
	if e.HistoryID == "" {
		e.HistoryID = e.ID
	}
	if e.Type == "" {
		e.Type = EntryTypeSpeak
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
}

// HistoryText returns the text recorded in history for this entry.
func (e *Entry) HistoryText() string {
	if e.FullText != "" {
		return e.FullText
	}
	return e.TextPreview
}

// NewID returns a short opaque identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Preview truncates text to at most n runes.
func Preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

// ApportionSegments fills Start/End of each segment proportionally to its
// character count. Segments with no characters count as one.
func ApportionSegments(segments []Segment, duration float64) {
	if len(segments) == 0 || duration <= 0 {
		return
	}

	total := 0
	for _, s := range segments {
		total += segmentChars(s)
	}
	if total < 1 {
		total = 1
	}

	offset := 0.0
	for i := range segments {
		d := float64(segmentChars(segments[i])) / float64(total) * duration
		segments[i].Start = round3(offset)
		segments[i].End = round3(offset + d)
		offset += d
	}
}

func segmentChars(s Segment) int {
	if s.Chars <= 0 {
		return 1
	}
	return s.Chars
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
