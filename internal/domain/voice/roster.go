// Package voice provides the voice roster domain entity.
package voice

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// Voice represents a named voice from the roster file.
type Voice struct {
	ID   string
	Name string
}

// Roster maps voice IDs to display labels and names to IDs.
// A Roster is immutable after construction.
type Roster struct {
	voices []Voice
	byID   map[string]string // id -> name
	byName map[string]string // lower(name) -> id
	raw    json.RawMessage
}

// EmptyRoster returns a roster with no voices.
func EmptyRoster() *Roster {
	return &Roster{
		byID:   make(map[string]string),
		byName: make(map[string]string),
		raw:    json.RawMessage("[]"),
	}
}

// ParseRoster parses a roster document: a JSON list of objects with string
// "name" and "id" fields. Malformed items are skipped.
func ParseRoster(data []byte) (*Roster, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, "roster is not a JSON list")
	}

	r := EmptyRoster()
	r.raw = append(json.RawMessage(nil), data...)

	for _, item := range items {
		var v struct {
			Name any `json:"name"`
			ID   any `json:"id"`
		}
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		name, ok1 := v.Name.(string)
		id, ok2 := v.ID.(string)
		if !ok1 || !ok2 {
			continue
		}
		name = strings.TrimSpace(name)
		id = strings.TrimSpace(id)
		if name == "" || id == "" {
			continue
		}
		r.voices = append(r.voices, Voice{ID: id, Name: name})
		r.byID[id] = name
		r.byName[strings.ToLower(name)] = id
	}

	return r, nil
}

// LoadRoster reads a roster file. A missing file yields an empty roster.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		return EmptyRoster(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptyRoster(), nil
		}
		return nil, errors.Wrap(err, "failed to read roster file")
	}
	return ParseRoster(data)
}

// Lookup returns the voice ID for a case-insensitive name.
func (r *Roster) Lookup(name string) (string, bool) {
	id, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// Label returns the display label for a voice ID.
// Unknown IDs are shortened to their first 12 characters.
func (r *Roster) Label(id string) string {
	if name, ok := r.byID[id]; ok {
		return name
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Voices returns a copy of the roster voices.
func (r *Roster) Voices() []Voice {
	result := make([]Voice, len(r.voices))
	copy(result, r.voices)
	return result
}

// Len returns the number of voices.
func (r *Roster) Len() int {
	return len(r.voices)
}

// Raw returns the roster document as loaded.
func (r *Roster) Raw() json.RawMessage {
	return r.raw
}
