package playback

import "github.com/osa030/speakd/internal/domain/speech"

// Publisher receives queue events.
type Publisher interface {
	Publish(eventType string, data any)
}

// VoiceActive is the now-playing payload. Every key is always written;
// idle markers leave the entry fields null.
type VoiceActive struct {
	ID            *string          `json:"id"`
	Voice         *string          `json:"voice"`
	Type          string           `json:"type"`
	Text          *string          `json:"text"`
	Duration      *float64         `json:"duration"`
	TotalDuration *float64         `json:"total_duration"`
	Offset        *float64         `json:"offset"`
	Segments      []speech.Segment `json:"segments"`
	Envelope      []float64        `json:"envelope"`
	ChunkMs       int              `json:"chunk_ms"`
	Queued        int              `json:"queued"`
	Channel       *string          `json:"channel"`
	Priority      bool             `json:"priority"`
}

// IdleType is the VoiceActive type published when nothing is playing.
const IdleType = "idle"

// PauseState is the pause flags payload.
type PauseState struct {
	GlobalPaused  bool     `json:"global_paused"`
	ChannelPaused []string `json:"channel_paused"`
}

// Item is one row of a status listing. Position 0 is the playing entry.
type Item struct {
	Position int     `json:"position"`
	Status   string  `json:"status"`
	ID       string  `json:"id"`
	Voice    string  `json:"voice"`
	Text     string  `json:"text"`
	Channel  *string `json:"channel"`
	Priority bool    `json:"priority"`
}

// Status is a snapshot of the queue.
type Status struct {
	Playing       bool     `json:"playing"`
	Queued        int      `json:"queued"`
	Total         int      `json:"total"`
	Items         []Item   `json:"items"`
	Paused        bool     `json:"paused"`
	ChannelPaused []string `json:"channel_paused"`
}

// Snapshot is the payload of the initial state event sent to subscribers.
type Snapshot struct {
	Status
	RecentHistory []speech.HistoryRecord `json:"recent_history"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rounded(v float64, ok bool) *float64 {
	if !ok || v <= 0 {
		return nil
	}
	r := round3(v)
	return &r
}
