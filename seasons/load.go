package seasons

import (
	"fmt"
)

// ConfigError - A malformed or inconsistent declarative config. Fatal to
// the load that produced it, never to the running process: the previous
// snapshot stays in effect.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Snapshot - Immutable validated view of roles, presets and seasons.
// Lookups are total once Load has succeeded.
type Snapshot struct {
	roles   map[string]Role
	presets map[string]PermissionPreset
	seasons map[string]*Season
	current string
}

// Load - Validate raw definitions into a Snapshot. Fails closed: any
// validation error aborts the entire load.
func Load(defs Definitions) (*Snapshot, error) {
	snap := &Snapshot{
		roles:   make(map[string]Role, len(defs.Roles)),
		presets: make(map[string]PermissionPreset, len(defs.Presets)),
		seasons: make(map[string]*Season, len(defs.Seasons)),
	}

	defaultRole := ""
	for _, r := range defs.Roles {
		if r.Name == "" {
			return nil, &ConfigError{Err: fmt.Errorf("role with empty name")}
		}
		if _, dup := snap.roles[r.Name]; dup {
			return nil, &ConfigError{Err: fmt.Errorf("duplicate role %q", r.Name)}
		}
		if r.IsDefaultMemberRole {
			if defaultRole != "" {
				return nil, &ConfigError{Err: fmt.Errorf("roles %q and %q both claim is_default_member_role", defaultRole, r.Name)}
			}
			defaultRole = r.Name
		}
		snap.roles[r.Name] = r
	}

	for name, p := range defs.Presets {
		denied := make(map[string]bool, len(p.Deny))
		for _, c := range p.Deny {
			denied[c] = true
		}
		for _, c := range p.Allow {
			if denied[c] {
				return nil, &ConfigError{Err: fmt.Errorf("preset %q both allows and denies %q", name, c)}
			}
		}
		if _, _, err := PresetBits(p); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("preset %q: %w", name, err)}
		}
		// The snapshot owns its data; sources may reuse the slices and maps
		// they hand in across reloads.
		p.Allow = append([]string(nil), p.Allow...)
		p.Deny = append([]string(nil), p.Deny...)
		snap.presets[name] = p
	}

	for i := range defs.Seasons {
		s := defs.Seasons[i]
		if s.ID == "" {
			return nil, &ConfigError{Err: fmt.Errorf("season with empty season_id")}
		}
		if _, dup := snap.seasons[s.ID]; dup {
			return nil, &ConfigError{Err: fmt.Errorf("duplicate season %q", s.ID)}
		}
		if s.MemberRole == "" {
			s.MemberRole = defaultRole
		}
		if s.MemberRole == "" {
			return nil, &ConfigError{Err: fmt.Errorf("season %q has no member_role and no default member role is defined", s.ID)}
		}
		if _, ok := snap.roles[s.MemberRole]; !ok {
			return nil, &ConfigError{Err: fmt.Errorf("season %q: member_role %q is not a defined role", s.ID, s.MemberRole)}
		}
		for _, ch := range s.Channels {
			if ch.Name == "" {
				return nil, &ConfigError{Err: fmt.Errorf("season %q has a channel with empty name", s.ID)}
			}
			if ch.Kind != "" && !validKind(ch.Kind) {
				return nil, &ConfigError{Err: fmt.Errorf("season %q channel %q: unknown type %q", s.ID, ch.Name, ch.Kind)}
			}
			for roleName, presetName := range ch.RolePermissions {
				if _, ok := snap.roles[roleName]; !ok {
					return nil, &ConfigError{Err: fmt.Errorf("season %q channel %q: role %q is not a defined role", s.ID, ch.Name, roleName)}
				}
				if _, ok := snap.presets[presetName]; !ok {
					return nil, &ConfigError{Err: fmt.Errorf("season %q channel %q: preset %q is not a defined preset", s.ID, ch.Name, presetName)}
				}
			}
		}
		seen := make(map[string]bool, len(s.Roster))
		for _, entry := range s.Roster {
			if entry.ExternalID == "" {
				return nil, &ConfigError{Err: fmt.Errorf("season %q: roster entry %q has no id", s.ID, entry.Name)}
			}
			if seen[entry.ExternalID] {
				return nil, &ConfigError{Err: fmt.Errorf("season %q: duplicate roster id %q", s.ID, entry.ExternalID)}
			}
			seen[entry.ExternalID] = true
		}
		if s.Active {
			if snap.current != "" {
				return nil, &ConfigError{Err: fmt.Errorf("seasons %q and %q are both active; exactly one season may be active", snap.current, s.ID)}
			}
			snap.current = s.ID
		}

		if len(s.Channels) > 0 {
			channels := make([]ChannelSpec, len(s.Channels))
			for j, ch := range s.Channels {
				if ch.RolePermissions != nil {
					rp := make(map[string]string, len(ch.RolePermissions))
					for role, preset := range ch.RolePermissions {
						rp[role] = preset
					}
					ch.RolePermissions = rp
				}
				channels[j] = ch
			}
			s.Channels = channels
		}
		s.Roster = append([]RosterEntry(nil), s.Roster...)
		snap.seasons[s.ID] = &s
	}

	if len(snap.seasons) > 0 && snap.current == "" {
		return nil, &ConfigError{Err: fmt.Errorf("no active season; exactly one season must be active")}
	}

	return snap, nil
}

// RoleByName - Look up a role definition. ok is false only for names the
// config never declared.
func (s *Snapshot) RoleByName(name string) (Role, bool) {
	r, ok := s.roles[name]
	return r, ok
}

// PresetByName - Look up a permission preset definition.
func (s *Snapshot) PresetByName(name string) (PermissionPreset, bool) {
	p, ok := s.presets[name]
	return p, ok
}

// SeasonByID - Look up a season, active or not. Inactive seasons are
// retained for historical lookup but are never reconciled.
func (s *Snapshot) SeasonByID(id string) (*Season, bool) {
	season, ok := s.seasons[id]
	return season, ok
}

// CurrentSeason - The single active season, or nil when no seasons are
// configured.
func (s *Snapshot) CurrentSeason() *Season {
	if s.current == "" {
		return nil
	}
	return s.seasons[s.current]
}

// ManagedRoles - Names of every role the config declared. The planner only
// ever touches roles inside this set.
func (s *Snapshot) ManagedRoles() map[string]bool {
	managed := make(map[string]bool, len(s.roles))
	for name := range s.roles {
		managed[name] = true
	}
	return managed
}

// Seasons - All seasons in the snapshot, keyed by ID.
func (s *Snapshot) Seasons() map[string]*Season {
	return s.seasons
}
