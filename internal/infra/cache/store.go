// Package cache provides the on-disk audio cache used for history replay.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	zlog "github.com/rs/zerolog/log"
)

const (
	plainExt      = ".mp3"
	compressedExt = ".mp3.zst"
)

// ErrInvalidKey is returned for keys that cannot name a cache file.
var ErrInvalidKey = errors.New("invalid cache key")

// Config represents cache store configuration.
type Config struct {
	Dir              string
	CompressionLevel int // zstd level 1-22; 0 stores raw bytes
}

// Store keeps one audio file per history id and sweeps files by age.
type Store struct {
	dir string

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu  sync.Mutex
	now func() time.Time
}

// New creates a cache store, creating the directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	s := &Store{dir: cfg.Dir, now: time.Now}

	if cfg.CompressionLevel > 0 {
		var err error
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd encoder")
		}
		s.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd decoder")
		}
	}

	return s, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Put stores data under id, replacing any previous copy.
func (s *Store) Put(id string, data []byte) error {
	if !validKey(id) {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ext := plainExt
	if s.encoder != nil {
		data = s.encoder.EncodeAll(data, nil)
		ext = compressedExt
	}

	final := filepath.Join(s.dir, id+ext)
	tmp := final + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to write cache file")
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to commit cache file")
	}
	return nil
}

// CopyFile stores the contents of the file at path under id.
func (s *Store) CopyFile(id, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read audio file")
	}
	return s.Put(id, data)
}

// Get returns the cached bytes for id. A missing, unreadable or corrupt file
// reports false.
func (s *Store) Get(id string) ([]byte, bool) {
	if !validKey(id) {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if data, err := os.ReadFile(filepath.Join(s.dir, id+plainExt)); err == nil {
		return data, true
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+compressedExt))
	if err != nil {
		return nil, false
	}
	dec := s.decoder
	if dec == nil {
		// Written by an earlier run with compression enabled.
		var derr error
		dec, derr = zstd.NewReader(nil)
		if derr != nil {
			return nil, false
		}
		defer dec.Close()
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		zlog.Warn().Msgf("cache: corrupt entry removed: id=%s err=%v", id, err)
		_ = os.Remove(filepath.Join(s.dir, id+compressedExt))
		return nil, false
	}
	return out, true
}

// Sweep removes cache files last modified more than maxAge ago.
// It returns the number of files removed and the bytes freed.
func (s *Store) Sweep(maxAge time.Duration) (int, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	var freed int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			continue
		}
		removed++
		freed += info.Size()
	}
	return removed, freed
}

// Run sweeps once immediately, then every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval, maxAge time.Duration) {
	s.sweepAndLog(maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(maxAge)
		}
	}
}

func (s *Store) sweepAndLog(maxAge time.Duration) {
	removed, freed := s.Sweep(maxAge)
	if removed > 0 {
		zlog.Info().Msgf("cache: swept expired audio: files=%d freed=%s", removed, humanize.Bytes(uint64(freed)))
	} else {
		zlog.Debug().Msg("cache: sweep found nothing to remove")
	}
}

// Close releases compression resources.
func (s *Store) Close() {
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
}

func validKey(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}
