package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ksg-dk/gatekeeper/database"
	"github.com/ksg-dk/gatekeeper/seasons"
)

// ErrInvariant - The snapshot lost a role or preset between load and use.
// Load validates all references, so hitting this is a bug class: it gets
// logged loudly and fails the single user's pass, never the process.
var ErrInvariant = errors.New("config snapshot invariant violated")

// Plan - Compute the ordered mutation list that converges the user's
// observed platform state to the season's declared state.
//
// The planner only ever adds or removes roles and overwrites it declared
// itself in the config (the managed set); anything placed manually by
// server admins is left alone. Re-planning against already-converged state
// yields an empty plan.
//
// Ordering: role grants come before overwrite writes so a permission
// evaluation during the race window never sees channel access without the
// member role, and member-role revokes come after overwrite clears. Best
// effort, not transactional.
func Plan(snap *seasons.Snapshot, season *seasons.Season, user database.UserRecord, observed ObservedState, dir Directory) ([]MutationOp, error) {
	if _, ok := snap.RoleByName(season.MemberRole); !ok {
		return nil, fmt.Errorf("%w: season %q member role %q missing from snapshot", ErrInvariant, season.ID, season.MemberRole)
	}
	memberRoleID, ok := dir.Roles[season.MemberRole]
	if !ok {
		return nil, fmt.Errorf("role %q is not present in the guild", season.MemberRole)
	}

	managed := snap.ManagedRoles()
	observedRoles := make(map[string]bool, len(observed.Roles))
	for _, id := range observed.Roles {
		observedRoles[id] = true
	}

	var grants, revokes, sets, clears []MutationOp

	// Desired role set: the season's member role. Every other managed role
	// the user holds gets revoked; roles outside the managed set are not
	// ours to touch.
	if !observedRoles[memberRoleID] {
		grants = append(grants, MutationOp{
			Kind:     OpGrantRole,
			UserID:   user.PlatformID,
			RoleID:   memberRoleID,
			RoleName: season.MemberRole,
		})
	}
	managedNames := make([]string, 0, len(managed))
	for name := range managed {
		managedNames = append(managedNames, name)
	}
	sort.Strings(managedNames)
	for _, name := range managedNames {
		if name == season.MemberRole {
			continue
		}
		id, ok := dir.Roles[name]
		if !ok {
			continue
		}
		if observedRoles[id] {
			revokes = append(revokes, MutationOp{
				Kind:     OpRevokeRole,
				UserID:   user.PlatformID,
				RoleID:   id,
				RoleName: name,
			})
		}
	}

	var nickOps []MutationOp
	if user.DisplayName != "" && observed.Nickname != user.DisplayName {
		nickOps = append(nickOps, MutationOp{
			Kind:     OpSetNickname,
			UserID:   user.PlatformID,
			Nickname: user.DisplayName,
		})
	}

	for _, ch := range season.Channels {
		channelID, ok := dir.Channels[ch.Name]
		if !ok {
			return nil, fmt.Errorf("channel %q is not present in the guild", ch.Name)
		}
		current, hasCurrent := observed.Overwrites[channelID]

		presetName, bound := ch.RolePermissions[season.MemberRole]
		if !bound {
			// No binding: the channel inherits category/guild defaults. Any
			// overwrite we previously wrote for the member role is ours and
			// gets cleared.
			if hasCurrent {
				clears = append(clears, MutationOp{
					Kind:        OpClearChannelOverwrite,
					UserID:      user.PlatformID,
					RoleID:      memberRoleID,
					RoleName:    season.MemberRole,
					ChannelID:   channelID,
					ChannelName: ch.Name,
				})
			}
			continue
		}

		preset, ok := snap.PresetByName(presetName)
		if !ok {
			return nil, fmt.Errorf("%w: channel %q preset %q missing from snapshot", ErrInvariant, ch.Name, presetName)
		}
		allow, deny, err := seasons.PresetBits(preset)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %q preset %q: %v", ErrInvariant, ch.Name, presetName, err)
		}
		if hasCurrent && current.Allow == allow && current.Deny == deny {
			continue
		}
		sets = append(sets, MutationOp{
			Kind:        OpSetChannelOverwrite,
			UserID:      user.PlatformID,
			RoleID:      memberRoleID,
			RoleName:    season.MemberRole,
			ChannelID:   channelID,
			ChannelName: ch.Name,
			Allow:       allow,
			Deny:        deny,
		})
	}

	plan := make([]MutationOp, 0, len(grants)+len(nickOps)+len(sets)+len(clears)+len(revokes))
	plan = append(plan, grants...)
	plan = append(plan, nickOps...)
	plan = append(plan, sets...)
	plan = append(plan, clears...)
	plan = append(plan, revokes...)
	return plan, nil
}
