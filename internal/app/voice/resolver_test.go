package voice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/speakd/internal/infra/elevenlabs"
)

type fakeLister struct {
	voices []elevenlabs.Voice
	err    error
	calls  int
}

func (f *fakeLister) ListVoices(_ context.Context) ([]elevenlabs.Voice, error) {
	f.calls++
	return f.voices, f.err
}

func writeRoster(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestResolver_Resolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.json")
	writeRoster(t, path, `[{"name":"Rachel","id":"roster-rachel"}]`)

	store, err := NewRosterStore(path)
	require.NoError(t, err)

	lister := &fakeLister{voices: []elevenlabs.Voice{
		{ID: "api-adam", Name: "Adam"},
		{ID: "api-rachel", Name: "Rachel"},
	}}
	r := NewResolver("default-id", store, NewRosterProvider(store), NewAPIProvider(lister))

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty uses default", input: "", want: "default-id"},
		{name: "roster wins", input: "rachel", want: "roster-rachel"},
		{name: "api fallback", input: "ADAM", want: "api-adam"},
		{name: "raw id passthrough", input: "pNInz6obpgDQGcFmaJgB", want: "pNInz6obpgDQGcFmaJgB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(context.Background(), tt.input))
		})
	}

	assert.Equal(t, "Rachel", r.Label("roster-rachel"))
	assert.Equal(t, "pNInz6obpgDQ", r.Label("pNInz6obpgDQGcFmaJgB"))
	assert.Equal(t, "default-id", r.DefaultID())
}

func TestResolver_ProviderErrorFallsThrough(t *testing.T) {
	store, err := NewRosterStore("")
	require.NoError(t, err)

	lister := &fakeLister{err: errors.New("network down")}
	r := NewResolver("", store, NewRosterProvider(store), NewAPIProvider(lister))

	assert.Equal(t, "Someone", r.Resolve(context.Background(), "Someone"))
	assert.Equal(t, 1, lister.calls)
	assert.Equal(t, "", r.Resolve(context.Background(), ""))
}

func TestRosterStore_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.json")
	writeRoster(t, path, `[{"name":"Rachel","id":"r1"}]`)

	store, err := NewRosterStore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Roster().Len())

	writeRoster(t, path, `{"not":"a list"}`)
	assert.Error(t, store.Reload())
	assert.Equal(t, 1, store.Roster().Len())
}

func TestRosterStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.json")
	writeRoster(t, path, `[]`)

	store, err := NewRosterStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// The watcher registers asynchronously; keep rewriting until it notices.
	require.Eventually(t, func() bool {
		writeRoster(t, path, `[{"name":"Adam","id":"a1"}]`)
		_, ok := store.Roster().Lookup("adam")
		return ok
	}, 3*time.Second, 50*time.Millisecond)
}
