// Package voice resolves user-supplied voice names to synthesis voice IDs.
package voice

import (
	"context"
	"strings"

	"github.com/osa030/speakd/internal/infra/elevenlabs"
)

// Provider is the interface for voice name lookups.
// Different implementations resolve names from different sources
// (e.g., the local roster file, the account voice list).
type Provider interface {
	// Resolve returns the voice ID for name. ok is false when the provider
	// does not know the name.
	Resolve(ctx context.Context, name string) (id string, ok bool, err error)

	// Name returns the provider name (used in logs).
	Name() string
}

// VoiceLister defines the synthesis API operations needed by the API provider.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]elevenlabs.Voice, error)
}

// RosterProvider resolves names from the roster file.
type RosterProvider struct {
	store *RosterStore
}

// NewRosterProvider creates a roster-backed provider.
func NewRosterProvider(store *RosterStore) *RosterProvider {
	return &RosterProvider{store: store}
}

func (p *RosterProvider) Resolve(_ context.Context, name string) (string, bool, error) {
	id, ok := p.store.Roster().Lookup(name)
	return id, ok, nil
}

func (p *RosterProvider) Name() string { return "roster" }

// APIProvider resolves names from the account voice list.
type APIProvider struct {
	client VoiceLister
}

// NewAPIProvider creates an API-backed provider.
func NewAPIProvider(client VoiceLister) *APIProvider {
	return &APIProvider{client: client}
}

func (p *APIProvider) Resolve(ctx context.Context, name string) (string, bool, error) {
	voices, err := p.client.ListVoices(ctx)
	if err != nil {
		return "", false, err
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, v := range voices {
		if strings.ToLower(v.Name) == want {
			return v.ID, true, nil
		}
	}
	return "", false, nil
}

func (p *APIProvider) Name() string { return "api" }
