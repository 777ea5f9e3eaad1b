package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/ksg-dk/gatekeeper/planner"
	"github.com/ksg-dk/gatekeeper/reconciler"
	"github.com/ksg-dk/gatekeeper/seasons"
)

// Discord - Platform client backed by a discordgo session. Implements the
// reconciler's mutation surface and the observation reads the planner
// diffs against.
type Discord struct {
	s *discordgo.Session
}

// New - Adapter over an opened discordgo session.
func New(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

// GrantRole - Ensure the member holds the role.
func (d *Discord) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return classify(d.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// RevokeRole - Ensure the member does not hold the role.
func (d *Discord) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	return classify(d.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// SetNickname - Ensure the member's guild nickname.
func (d *Discord) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	return classify(d.s.GuildMemberNickname(guildID, userID, nick, discordgo.WithContext(ctx)))
}

// SetChannelOverwrite - Ensure the channel carries exactly this role
// overwrite.
func (d *Discord) SetChannelOverwrite(ctx context.Context, channelID, roleID string, allow, deny int64) error {
	return classify(d.s.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, allow, deny, discordgo.WithContext(ctx)))
}

// ClearChannelOverwrite - Ensure the channel carries no overwrite for the
// role. Discord returns 404 for a missing overwrite target; that already
// is the desired end state, so it maps to success here.
func (d *Discord) ClearChannelOverwrite(ctx context.Context, channelID, roleID string) error {
	err := classify(d.s.ChannelPermissionDelete(channelID, roleID, discordgo.WithContext(ctx)))
	var perr *reconciler.PlatformError
	if errors.As(err, &perr) && perr.Kind == reconciler.KindNotFound {
		return nil
	}
	return err
}

// EnsureRole - Create the declared role if the guild lacks it, or bring an
// existing role's appearance in line with the declaration. Matching is by
// name; permissions are left alone, those belong to channel overwrites.
func (d *Discord) EnsureRole(ctx context.Context, guildID string, role seasons.Role) (bool, error) {
	color, err := parseColor(role.Color)
	if err != nil {
		return false, err
	}
	params := &discordgo.RoleParams{
		Name:        role.Name,
		Hoist:       &role.Hoist,
		Mentionable: &role.Mentionable,
	}
	if role.Color != "" {
		params.Color = &color
	}

	roles, err := d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, classify(err)
	}
	for _, r := range roles {
		if r.Name != role.Name {
			continue
		}
		if r.Hoist == role.Hoist && r.Mentionable == role.Mentionable && (role.Color == "" || r.Color == color) {
			return false, nil
		}
		if _, err := d.s.GuildRoleEdit(guildID, r.ID, params, discordgo.WithContext(ctx)); err != nil {
			return false, classify(err)
		}
		return false, nil
	}
	if _, err := d.s.GuildRoleCreate(guildID, params, discordgo.WithContext(ctx)); err != nil {
		return false, classify(err)
	}
	return true, nil
}

// EnsureChannel - Create the declared channel if the guild lacks it, or move
// an existing one to the declared position and parent. Matching is by name
// and type.
func (d *Discord) EnsureChannel(ctx context.Context, guildID string, spec seasons.ChannelSpec, parentID string) (string, bool, error) {
	kind := channelType(spec.Kind)

	channels, err := d.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", false, classify(err)
	}
	for _, c := range channels {
		if c.Name != spec.Name || c.Type != kind {
			continue
		}
		if c.ParentID == parentID && (spec.Position == 0 || c.Position == spec.Position) {
			return c.ID, false, nil
		}
		edit := &discordgo.ChannelEdit{ParentID: parentID}
		if spec.Position != 0 {
			pos := spec.Position
			edit.Position = &pos
		}
		if _, err := d.s.ChannelEdit(c.ID, edit, discordgo.WithContext(ctx)); err != nil {
			return c.ID, false, classify(err)
		}
		return c.ID, false, nil
	}

	created, err := d.s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     spec.Name,
		Type:     kind,
		Position: spec.Position,
		ParentID: parentID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", false, classify(err)
	}
	return created.ID, true, nil
}

func channelType(kind string) discordgo.ChannelType {
	switch kind {
	case seasons.KindVoice:
		return discordgo.ChannelTypeGuildVoice
	case seasons.KindForum:
		return discordgo.ChannelTypeGuildForum
	case seasons.KindStage:
		return discordgo.ChannelTypeGuildStageVoice
	case seasons.KindNews:
		return discordgo.ChannelTypeGuildNews
	case seasons.KindCategory:
		return discordgo.ChannelTypeGuildCategory
	}
	return discordgo.ChannelTypeGuildText
}

func parseColor(hex string) (int, error) {
	if hex == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("role color %q: %w", hex, err)
	}
	return int(v), nil
}

// Directory - Map config names to live guild role and channel IDs.
func (d *Discord) Directory(ctx context.Context, guildID string) (planner.Directory, error) {
	dir := planner.Directory{
		Roles:    make(map[string]string),
		Channels: make(map[string]string),
	}
	roles, err := d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return dir, classify(err)
	}
	for _, r := range roles {
		dir.Roles[r.Name] = r.ID
	}
	channels, err := d.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return dir, classify(err)
	}
	for _, c := range channels {
		dir.Channels[c.Name] = c.ID
	}
	return dir, nil
}

// Observe - Read the member's current roles and nickname plus the member
// role's overwrites on the given channels.
func (d *Discord) Observe(ctx context.Context, guildID, userID, roleID string, channelIDs []string) (planner.ObservedState, error) {
	var observed planner.ObservedState

	member, err := d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return observed, classify(err)
	}
	observed.Roles = member.Roles
	observed.Nickname = member.Nick

	wanted := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		wanted[id] = true
	}
	observed.Overwrites = make(map[string]planner.Overwrite, len(channelIDs))

	channels, err := d.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return observed, classify(err)
	}
	for _, c := range channels {
		if !wanted[c.ID] {
			continue
		}
		for _, ow := range c.PermissionOverwrites {
			if ow.Type == discordgo.PermissionOverwriteTypeRole && ow.ID == roleID {
				observed.Overwrites[c.ID] = planner.Overwrite{Allow: ow.Allow, Deny: ow.Deny}
				break
			}
		}
	}
	return observed, nil
}

// classify - Map discordgo errors onto the reconciler's taxonomy. Missing
// permissions and role hierarchy violations come back as JSON code 50013 /
// HTTP 403 and are terminal; unknown member/role/channel are not-found;
// everything else (timeouts, 5xx, rate limits) is worth a retry.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return &reconciler.PlatformError{Kind: reconciler.KindRateLimited, Err: err}
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
				return &reconciler.PlatformError{Kind: reconciler.KindForbidden, Err: err}
			case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownGuild,
				discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownRole,
				discordgo.ErrCodeUnknownUser:
				return &reconciler.PlatformError{Kind: reconciler.KindNotFound, Err: err}
			}
		}
		if restErr.Response != nil {
			switch restErr.Response.StatusCode {
			case http.StatusForbidden, http.StatusUnauthorized:
				return &reconciler.PlatformError{Kind: reconciler.KindForbidden, Err: err}
			case http.StatusNotFound:
				return &reconciler.PlatformError{Kind: reconciler.KindNotFound, Err: err}
			}
		}
	}

	return &reconciler.PlatformError{Kind: reconciler.KindTransient, Err: err}
}
