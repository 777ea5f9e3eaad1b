package seasons

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Store - Holds the live config snapshot. Reload swaps the whole snapshot
// atomically; operations already in flight keep the snapshot they started
// with and never observe a torn config.
type Store struct {
	snap   atomic.Pointer[Snapshot]
	source func() (Definitions, error)
}

// NewStore - Create a store backed by a definitions source. The source is
// called on every Reload; FileSource is the usual one.
func NewStore(source func() (Definitions, error)) *Store {
	return &Store{source: source}
}

// Reload - Load and validate a fresh snapshot from the source. On any
// failure the previous snapshot (if any) stays in effect.
func (st *Store) Reload() error {
	defs, err := st.source()
	if err != nil {
		return err
	}
	snap, err := Load(defs)
	if err != nil {
		return err
	}
	st.snap.Store(snap)
	log.Info().
		Int("roles", len(snap.roles)).
		Int("presets", len(snap.presets)).
		Int("seasons", len(snap.seasons)).
		Str("active", snap.current).
		Msg("config snapshot loaded")
	return nil
}

// Snapshot - The current snapshot, or nil before the first successful load.
func (st *Store) Snapshot() *Snapshot {
	return st.snap.Load()
}

// FileSource - Definitions source reading the production config layout:
//
//	<dir>/roles.json        {"roles": [...]}
//	<dir>/permissions.json  {"definitions": {...}}
//	<dir>/seasons/*.json    one season per file
func FileSource(dir string) func() (Definitions, error) {
	return func() (Definitions, error) {
		var defs Definitions

		var rolesFile struct {
			Roles []Role `json:"roles"`
		}
		if err := readJSON(filepath.Join(dir, "roles.json"), &rolesFile); err != nil {
			return defs, err
		}
		defs.Roles = rolesFile.Roles

		var permsFile struct {
			Definitions map[string]PermissionPreset `json:"definitions"`
		}
		if err := readJSON(filepath.Join(dir, "permissions.json"), &permsFile); err != nil {
			return defs, err
		}
		defs.Presets = permsFile.Definitions

		seasonDir := filepath.Join(dir, "seasons")
		entries, err := os.ReadDir(seasonDir)
		if err != nil {
			return defs, &ConfigError{Path: seasonDir, Err: err}
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(seasonDir, name)
			season, err := readSeason(path)
			if err != nil {
				return defs, err
			}
			defs.Seasons = append(defs.Seasons, season)
		}
		return defs, nil
	}
}

func readSeason(path string) (Season, error) {
	var season Season
	season.Active = true
	if err := readJSON(path, &season); err != nil {
		// Legacy format: a bare array of roster entries, season id taken
		// from the filename.
		var roster []RosterEntry
		if legacyErr := readJSON(path, &roster); legacyErr != nil {
			return season, err
		}
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		return Season{ID: id, Name: id, Active: true, Roster: roster}, nil
	}
	if season.ID == "" {
		season.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if season.Name == "" {
		season.Name = season.ID
	}
	return season, nil
}

func readJSON(path string, v any) error {
	bts, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if err := json.Unmarshal(bts, v); err != nil {
		return &ConfigError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}
	return nil
}
