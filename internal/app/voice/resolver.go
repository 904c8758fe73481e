package voice

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/domain/voice"
)

// Resolver tries providers in order and falls back to treating the input as
// a raw voice ID.
type Resolver struct {
	defaultID string
	roster    *RosterStore
	providers []Provider
}

// NewResolver creates a new resolver. Providers are tried in order.
func NewResolver(defaultID string, roster *RosterStore, providers ...Provider) *Resolver {
	return &Resolver{
		defaultID: defaultID,
		roster:    roster,
		providers: providers,
	}
}

// Resolve maps a voice name or ID to a voice ID. An empty name resolves to
// the default voice, which may itself be empty.
func (r *Resolver) Resolve(ctx context.Context, name string) string {
	if name == "" {
		return r.defaultID
	}

	for _, p := range r.providers {
		id, ok, err := p.Resolve(ctx, name)
		if err != nil {
			zlog.Warn().Msgf("voice provider failed, trying next: provider=%s error=%v", p.Name(), err)
			continue
		}
		if ok {
			zlog.Debug().Msgf("voice resolved: name=%s id=%s provider=%s", name, id, p.Name())
			return id
		}
	}
	return name
}

// Label returns the display label for a voice ID.
func (r *Resolver) Label(id string) string {
	return r.roster.Roster().Label(id)
}

// Roster returns the current roster.
func (r *Resolver) Roster() *voice.Roster {
	return r.roster.Roster()
}

// DefaultID returns the configured default voice ID.
func (r *Resolver) DefaultID() string {
	return r.defaultID
}
