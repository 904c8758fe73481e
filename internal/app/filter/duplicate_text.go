package filter

import (
	"context"
)

// DuplicateTextFilter rejects a request whose text is identical to an entry
// that is still queued or playing.
type DuplicateTextFilter struct{}

// NewDuplicateTextFilter creates a new duplicate text filter.
func NewDuplicateTextFilter() *DuplicateTextFilter {
	return &DuplicateTextFilter{}
}

// Name returns the filter name.
func (f *DuplicateTextFilter) Name() string {
	return "duplicate_text_filter"
}

// Description returns the filter description.
func (f *DuplicateTextFilter) Description() string {
	return "Rejects text identical to an entry that is queued or playing"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTextFilter) ReturnCodes() []string {
	return []string{"duplicate_text"}
}

// AppliesTo returns which request kinds this filter applies to.
func (f *DuplicateTextFilter) AppliesTo(kind RequestKind) bool {
	// Replays are explicit repeats
	return kind == KindSpeak || kind == KindDialogue
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTextFilter) ValidateConfig(map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the text is already pending.
func (f *DuplicateTextFilter) Check(_ context.Context, req Request, q QueueView) Result {
	if q == nil || req.FullText == "" {
		return Accept()
	}
	if q.HasPendingText(req.FullText) {
		return Reject("duplicate_text")
	}
	return Accept()
}

func init() {
	Register("duplicate_text_filter", func() Filter {
		return NewDuplicateTextFilter()
	})
}
