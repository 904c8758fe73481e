package voice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoster(t *testing.T) {
	data := []byte(`[
		{"name": "Rachel", "id": "21m00Tcm4TlvDq8ikWAM", "portrait": "rachel.png"},
		{"name": "  Adam ", "id": "pNInz6obpgDQGcFmaJgB"},
		{"name": 42, "id": "bad"},
		"not an object",
		{"name": "", "id": "empty"}
	]`)

	r, err := ParseRoster(data)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	id, ok := r.Lookup("rachel")
	assert.True(t, ok)
	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", id)

	id, ok = r.Lookup("ADAM")
	assert.True(t, ok)
	assert.Equal(t, "pNInz6obpgDQGcFmaJgB", id)

	_, ok = r.Lookup("bad")
	assert.False(t, ok)

	assert.JSONEq(t, string(data), string(r.Raw()))
}

func TestParseRoster_NotAList(t *testing.T) {
	_, err := ParseRoster([]byte(`{"name": "Rachel"}`))
	assert.Error(t, err)
}

func TestRoster_Label(t *testing.T) {
	r, err := ParseRoster([]byte(`[{"name": "Rachel", "id": "21m00Tcm4TlvDq8ikWAM"}]`))
	require.NoError(t, err)

	tests := []struct {
		name     string
		id       string
		expected string
	}{
		{name: "known voice", id: "21m00Tcm4TlvDq8ikWAM", expected: "Rachel"},
		{name: "unknown long id", id: "abcdefghijklmnopqrst", expected: "abcdefghijkl"},
		{name: "unknown short id", id: "short", expected: "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Label(tt.id))
		})
	}
}

func TestLoadRoster(t *testing.T) {
	dir := t.TempDir()

	r, err := LoadRoster(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
	assert.JSONEq(t, `[]`, string(r.Raw()))

	path := filepath.Join(dir, "voices.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name": "Bella", "id": "EXAVITQu4vr4xnSDxMaL"}]`), 0644))

	r, err = LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "Bella", r.Voices()[0].Name)
}
