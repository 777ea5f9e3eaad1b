package seasons

// PermissionPreset - Named allow/deny capability bundle applied to channel
// overwrites. Allow and Deny must be disjoint; Load enforces this.
type PermissionPreset struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// Role - Declarative definition of a guild role managed by the bot.
type Role struct {
	Name                string `json:"name"`
	Color               string `json:"color,omitempty"`
	Hoist               bool   `json:"hoist,omitempty"`
	Mentionable         bool   `json:"mentionable,omitempty"`
	IsDefaultMemberRole bool   `json:"is_default_member_role,omitempty"`
}

// ChannelSpec - A channel that belongs to a season, with per-role preset
// bindings. RolePermissions maps role name to preset name; a role with no
// binding gets no explicit overwrite and inherits category/guild defaults.
type ChannelSpec struct {
	Name            string            `json:"name"`
	Kind            string            `json:"type"`
	Position        int               `json:"position,omitempty"`
	RolePermissions map[string]string `json:"role_permissions,omitempty"`
}

// RosterEntry - A member expected to verify for a season. The DiscordId
// wire name is historical: it carries the verification UUID handed out to
// the member, not a Discord snowflake.
type RosterEntry struct {
	Name       string `json:"Name"`
	ExternalID string `json:"DiscordId"`
	Email      string `json:"email,omitempty"`
}

// Season - A time-boxed configuration epoch: one member role plus the
// channels and roster bound to it.
type Season struct {
	ID         string        `json:"season_id"`
	Name       string        `json:"name"`
	Active     bool          `json:"active"`
	MemberRole string        `json:"member_role"`
	Channels   []ChannelSpec `json:"channels"`
	Roster     []RosterEntry `json:"users"`
}

// Definitions - Raw config as it comes off disk, before validation.
type Definitions struct {
	Roles   []Role                      `json:"roles"`
	Presets map[string]PermissionPreset `json:"presets"`
	Seasons []Season                    `json:"seasons"`
}

// Channel kinds accepted in ChannelSpec.Kind.
const (
	KindText     = "text"
	KindVoice    = "voice"
	KindForum    = "forum"
	KindStage    = "stage"
	KindNews     = "news"
	KindCategory = "category"
)

func validKind(k string) bool {
	switch k {
	case KindText, KindVoice, KindForum, KindStage, KindNews, KindCategory:
		return true
	}
	return false
}
