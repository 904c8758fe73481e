package speech

import "time"

// HistoryRecord represents a finished playback. It is immutable once appended.
type HistoryRecord struct {
	ID        string    `json:"id"`
	Voice     string    `json:"voice"`
	Text      string    `json:"text"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Duration  *float64  `json:"duration"`
	Type      EntryType `json:"type"`
	Failed    bool      `json:"failed"`
}

// NewHistoryRecord builds the record for a finished entry.
func NewHistoryRecord(e *Entry, duration float64, hasDuration, failed bool) HistoryRecord {
	rec := HistoryRecord{
		ID:        e.HistoryID,
		Voice:     e.VoiceLabel,
		Text:      e.HistoryText(),
		Channel:   e.Channel,
		Timestamp: e.CreatedAt,
		Type:      e.Type,
		Failed:    failed,
	}
	if hasDuration && duration > 0 {
		d := round3(duration)
		rec.Duration = &d
	}
	return rec
}

// History is a bounded ring of history records. The oldest record is
// evicted first once capacity is exceeded. It is not safe for concurrent use.
type History struct {
	records  []HistoryRecord
	start    int
	size     int
	capacity int
}

// NewHistory creates a history ring with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{
		records:  make([]HistoryRecord, capacity),
		capacity: capacity,
	}
}

// Append adds a record, evicting the oldest when full.
func (h *History) Append(rec HistoryRecord) {
	if h.size < h.capacity {
		h.records[(h.start+h.size)%h.capacity] = rec
		h.size++
		return
	}
	h.records[h.start] = rec
	h.start = (h.start + 1) % h.capacity
}

// Len returns the number of records held.
func (h *History) Len() int {
	return h.size
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return h.capacity
}

// at returns the i-th record counting from the most recent (0 = newest).
func (h *History) at(i int) HistoryRecord {
	return h.records[(h.start+h.size-1-i)%h.capacity]
}

// Recent returns up to limit records most-recent-first, skipping offset
// matches, optionally restricted to a channel.
func (h *History) Recent(limit, offset int, channel string) []HistoryRecord {
	result := make([]HistoryRecord, 0)
	if limit <= 0 {
		return result
	}
	if offset < 0 {
		offset = 0
	}

	skipped := 0
	for i := 0; i < h.size && len(result) < limit; i++ {
		rec := h.at(i)
		if channel != "" && rec.Channel != channel {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, rec)
	}
	return result
}

// Find returns the most recent record with the given id.
func (h *History) Find(id string) (HistoryRecord, bool) {
	for i := 0; i < h.size; i++ {
		if rec := h.at(i); rec.ID == id {
			return rec, true
		}
	}
	return HistoryRecord{}, false
}
