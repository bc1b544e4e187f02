package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/replchat/replchat/internal/state"
)

// Store persists one replica's state machine as a gob snapshot at a fixed
// path. Every Save rewrites the whole file: encode into a temp file in the
// same directory, sync, then rename over the previous snapshot so a crash
// mid-write leaves the old snapshot intact.
type Store struct {
	path string
}

// New returns a store bound to path. Nothing is touched until Load or Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path reports where snapshots are written.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is a normal first boot and an
// unreadable or undecodable one is treated the same way: both return a
// fresh empty state, so a replica can always start.
func (s *Store) Load() *state.State {
	st := state.New()

	f, err := os.Open(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.path).Msg("snapshot unreadable, starting fresh")
		}
		return st
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(st); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("snapshot corrupt, starting fresh")
		return state.New()
	}
	return st
}

// Save atomically replaces the snapshot with the current state. Callers
// treat a returned error as fatal: replying to a client before the state is
// on disk would break the durability contract.
func (s *Store) Save(st *state.State) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}

	if err := gob.NewEncoder(tmp).Encode(st); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
