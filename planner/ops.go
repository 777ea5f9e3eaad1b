package planner

import "fmt"

// OpKind - The kind of platform mutation an op performs.
type OpKind int

const (
	OpGrantRole OpKind = iota
	OpRevokeRole
	OpSetNickname
	OpSetChannelOverwrite
	OpClearChannelOverwrite
)

func (k OpKind) String() string {
	switch k {
	case OpGrantRole:
		return "grant_role"
	case OpRevokeRole:
		return "revoke_role"
	case OpSetNickname:
		return "set_nickname"
	case OpSetChannelOverwrite:
		return "set_channel_overwrite"
	case OpClearChannelOverwrite:
		return "clear_channel_overwrite"
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// MutationOp - One platform mutation, pure data until the reconciler
// executes it. Every op is phrased as desired end state ("ensure role X is
// present"), so re-applying an already-applied op is a safe no-op.
type MutationOp struct {
	Kind   OpKind
	UserID string

	// GrantRole / RevokeRole / SetChannelOverwrite
	RoleID   string
	RoleName string

	// SetNickname
	Nickname string

	// SetChannelOverwrite / ClearChannelOverwrite
	ChannelID   string
	ChannelName string
	Allow       int64
	Deny        int64
}

func (op MutationOp) String() string {
	switch op.Kind {
	case OpGrantRole, OpRevokeRole:
		return fmt.Sprintf("%s(%s)", op.Kind, op.RoleName)
	case OpSetNickname:
		return fmt.Sprintf("%s(%q)", op.Kind, op.Nickname)
	case OpSetChannelOverwrite:
		return fmt.Sprintf("%s(%s, %s, allow=%d, deny=%d)", op.Kind, op.ChannelName, op.RoleName, op.Allow, op.Deny)
	case OpClearChannelOverwrite:
		return fmt.Sprintf("%s(%s, %s)", op.Kind, op.ChannelName, op.RoleName)
	}
	return op.Kind.String()
}

// Overwrite - A channel permission overwrite as observed or desired.
type Overwrite struct {
	Allow int64
	Deny  int64
}

// ObservedState - A user's actual platform state, read before planning.
// Overwrites holds, per channel ID, the overwrite targeting the season's
// member role (absent entry = no explicit overwrite).
type ObservedState struct {
	Roles      []string
	Nickname   string
	Overwrites map[string]Overwrite
}

// Directory - Mapping from config names to live guild identifiers. Built
// from the guild's role and channel lists right before planning.
type Directory struct {
	Roles    map[string]string
	Channels map[string]string
}
