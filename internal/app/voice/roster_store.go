package voice

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/domain/voice"
)

// RosterStore holds the current roster and reloads it when the file changes.
type RosterStore struct {
	path   string
	roster atomic.Pointer[voice.Roster]
}

// NewRosterStore loads the roster at path. A missing file yields an empty roster.
func NewRosterStore(path string) (*RosterStore, error) {
	s := &RosterStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Roster returns the current roster.
func (s *RosterStore) Roster() *voice.Roster {
	return s.roster.Load()
}

// Reload reads the roster file again. On error the previous roster is kept.
func (s *RosterStore) Reload() error {
	r, err := voice.LoadRoster(s.path)
	if err != nil {
		if s.roster.Load() == nil {
			s.roster.Store(voice.EmptyRoster())
		}
		return errors.Wrapf(err, "failed to load roster %s", s.path)
	}
	s.roster.Store(r)
	zlog.Debug().Msgf("voice roster loaded: path=%s voices=%d", s.path, r.Len())
	return nil
}

// Watch reloads the roster whenever the file is written, created or replaced.
// It blocks until ctx is done. The parent directory is watched so editors
// that replace the file are picked up.
func (s *RosterStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create roster watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}
	zlog.Info().Msgf("watching voice roster: path=%s", s.path)

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := s.Reload(); err != nil {
				zlog.Warn().Msgf("voice roster reload failed: error=%v", err)
				continue
			}
			zlog.Info().Msgf("voice roster reloaded: voices=%d", s.Roster().Len())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zlog.Warn().Msgf("voice roster watcher error: error=%v", err)
		}
	}
}
