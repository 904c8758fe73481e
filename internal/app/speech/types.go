package speech

// SpeakRequest represents a single-voice speech request.
type SpeakRequest struct {
	Text     string
	Voice    string // Roster name, account voice name or raw voice ID; empty uses the default
	Channel  string
	Priority bool
}

// SpeakResult represents an accepted speech request.
type SpeakResult struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	Voice       string `json:"voice"`
	TextPreview string `json:"text_preview"`
}

// DialogueLine represents one speaker turn.
type DialogueLine struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// DialogueRequest represents a multi-speaker request.
type DialogueRequest struct {
	Lines    []DialogueLine
	Channel  string
	Priority bool
}

// DialogueResult represents an accepted dialogue request.
type DialogueResult struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Voices   string `json:"voices"`
}

// ReplayResult represents an accepted replay.
type ReplayResult struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	Replaying string `json:"replaying"`
}

// Health represents the liveness summary.
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	QueueSize int    `json:"queue_size"`
}
