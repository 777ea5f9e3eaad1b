package access

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/ksg-dk/gatekeeper/seasons"
)

// Provisioner - The guild-structure write side: declared roles and season
// channels. Ensure calls are phrased as desired end state, so re-running
// provisioning against an already-provisioned guild changes nothing.
type Provisioner interface {
	EnsureRole(ctx context.Context, guildID string, role seasons.Role) (created bool, err error)
	EnsureChannel(ctx context.Context, guildID string, ch seasons.ChannelSpec, parentID string) (id string, created bool, err error)
}

// ProvisionRoles - Create every declared role the guild lacks and bring the
// appearance (color, hoist, mentionable) of existing ones in line with the
// declaration.
func (e *Engine) ProvisionRoles(ctx context.Context) (created int, err error) {
	snap := e.Config.Snapshot()
	if snap == nil {
		return 0, errors.New("no config snapshot loaded")
	}

	names := make([]string, 0)
	for name := range snap.ManagedRoles() {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		role, _ := snap.RoleByName(name)
		made, err := e.Provisioner.EnsureRole(ctx, e.GuildID, role)
		if err != nil {
			return created, fmt.Errorf("role %q: %w", name, err)
		}
		if made {
			created++
		}
	}
	log.Info().Int("roles", len(names)).Int("created", created).Msg("guild roles provisioned")
	return created, nil
}

// ProvisionChannels - Create the active season's channel structure. A
// category spec parents the channels declared after it, so season files can
// lay out a category with its channels in order.
func (e *Engine) ProvisionChannels(ctx context.Context) (created int, err error) {
	snap := e.Config.Snapshot()
	if snap == nil {
		return 0, errors.New("no config snapshot loaded")
	}
	season := snap.CurrentSeason()
	if season == nil {
		return 0, errors.New("no active season")
	}

	parentID := ""
	for _, ch := range season.Channels {
		id, made, err := e.Provisioner.EnsureChannel(ctx, e.GuildID, ch, parentID)
		if err != nil {
			return created, fmt.Errorf("channel %q: %w", ch.Name, err)
		}
		if ch.Kind == seasons.KindCategory {
			parentID = id
		}
		if made {
			created++
		}
	}
	log.Info().
		Str("season", season.ID).
		Int("channels", len(season.Channels)).
		Int("created", created).
		Msg("season channels provisioned")
	return created, nil
}
