// Package playback provides the single-consumer playback queue and its worker.
package playback

// WorkerState represents the playback worker state.
type WorkerState int

const (
	StateIdle      WorkerState = iota // No pending entries
	StateSelecting                    // Entries pending but gated by pause
	StatePreparing                    // Probing and caching the picked entry
	StatePlaying                      // Player process running
	StateSeeking                      // Restarting from a requested offset
	StatePaused                       // Interrupted by global pause, waiting for resume
	StateCompleted                    // Entry finished normally or was skipped
	StateFailed                       // Player failed for a reason other than an interrupt
)

// String returns the string representation of the state.
func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StatePreparing:
		return "preparing"
	case StatePlaying:
		return "playing"
	case StateSeeking:
		return "seeking"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
