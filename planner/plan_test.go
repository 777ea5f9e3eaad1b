package planner

import (
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/ksg-dk/gatekeeper/database"
	"github.com/ksg-dk/gatekeeper/seasons"
)

func testSnapshot(t *testing.T) (*seasons.Snapshot, *seasons.Season) {
	t.Helper()
	snap, err := seasons.Load(seasons.Definitions{
		Roles: []seasons.Role{
			{Name: "Medlem", IsDefaultMemberRole: true},
			{Name: "Alumni"},
		},
		Presets: map[string]seasons.PermissionPreset{
			"read":      {Allow: []string{"VIEW_CHANNEL", "READ_MESSAGE_HISTORY"}, Deny: []string{"SEND_MESSAGES"}},
			"readwrite": {Allow: []string{"VIEW_CHANNEL", "READ_MESSAGE_HISTORY", "SEND_MESSAGES", "ATTACH_FILES", "ADD_REACTIONS"}},
		},
		Seasons: []seasons.Season{{
			ID:         "2025E",
			Name:       "2025 Efterår",
			Active:     true,
			MemberRole: "Medlem",
			Channels: []seasons.ChannelSpec{
				{Name: "general", Kind: seasons.KindText, RolePermissions: map[string]string{"Medlem": "readwrite"}},
				{Name: "lounge", Kind: seasons.KindText},
			},
		}},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return snap, snap.CurrentSeason()
}

func testDirectory() Directory {
	return Directory{
		Roles:    map[string]string{"Medlem": "r-medlem", "Alumni": "r-alumni"},
		Channels: map[string]string{"general": "c-general", "lounge": "c-lounge"},
	}
}

const readwriteAllow = discordgo.PermissionViewChannel |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionSendMessages |
	discordgo.PermissionAttachFiles |
	discordgo.PermissionAddReactions

func TestPlanFreshUser(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	ops, err := Plan(snap, season, user, ObservedState{}, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	want := []MutationOp{
		{Kind: OpGrantRole, UserID: "plat-1", RoleID: "r-medlem", RoleName: "Medlem"},
		{Kind: OpSetNickname, UserID: "plat-1", Nickname: "Ann"},
		{Kind: OpSetChannelOverwrite, UserID: "plat-1", RoleID: "r-medlem", RoleName: "Medlem",
			ChannelID: "c-general", ChannelName: "general", Allow: readwriteAllow},
	}
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %d: %v", len(want), len(ops), ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("op %d:\n got  %+v\n want %+v", i, ops[i], want[i])
		}
	}
}

func TestPlanConverged(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	observed := ObservedState{
		Roles:    []string{"r-medlem"},
		Nickname: "Ann",
		Overwrites: map[string]Overwrite{
			"c-general": {Allow: readwriteAllow},
		},
	}
	ops, err := Plan(snap, season, user, observed, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected empty plan on converged state, got %v", ops)
	}
}

func TestPlanIsIdempotent(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}
	dir := testDirectory()

	observed := ObservedState{Roles: []string{"r-alumni", "r-unmanaged"}, Nickname: "old"}
	ops, err := Plan(snap, season, user, observed, dir)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	// Simulate applying the plan, then re-plan: it must come out empty.
	next := applyToObserved(observed, ops)
	ops2, err := Plan(snap, season, user, next, dir)
	if err != nil {
		t.Fatalf("re-plan: %v", err)
	}
	if len(ops2) != 0 {
		t.Fatalf("expected empty plan after applying previous plan, got %v", ops2)
	}
}

func TestPlanLeavesUnmanagedRolesAlone(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	observed := ObservedState{
		Roles:    []string{"r-medlem", "r-admin", "r-booster"},
		Nickname: "Ann",
		Overwrites: map[string]Overwrite{
			"c-general": {Allow: readwriteAllow},
		},
	}
	ops, err := Plan(snap, season, user, observed, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("roles outside the managed set must not be revoked, got %v", ops)
	}
}

func TestPlanRevokesStaleManagedRole(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	observed := ObservedState{
		Roles:    []string{"r-medlem", "r-alumni"},
		Nickname: "Ann",
		Overwrites: map[string]Overwrite{
			"c-general": {Allow: readwriteAllow},
		},
	}
	ops, err := Plan(snap, season, user, observed, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != OpRevokeRole || ops[0].RoleID != "r-alumni" {
		t.Fatalf("expected single Alumni revoke, got %v", ops)
	}
}

func TestPlanClearsUnboundOverwrite(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	// lounge has no role binding in the config, so a leftover overwrite
	// there is ours to remove.
	observed := ObservedState{
		Roles:    []string{"r-medlem"},
		Nickname: "Ann",
		Overwrites: map[string]Overwrite{
			"c-general": {Allow: readwriteAllow},
			"c-lounge":  {Allow: discordgo.PermissionViewChannel},
		},
	}
	ops, err := Plan(snap, season, user, observed, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != OpClearChannelOverwrite || ops[0].ChannelID != "c-lounge" {
		t.Fatalf("expected single lounge overwrite clear, got %v", ops)
	}
}

func TestPlanCorrectsDriftedOverwrite(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	observed := ObservedState{
		Roles:    []string{"r-medlem"},
		Nickname: "Ann",
		Overwrites: map[string]Overwrite{
			"c-general": {Allow: discordgo.PermissionViewChannel, Deny: discordgo.PermissionSendMessages},
		},
	}
	ops, err := Plan(snap, season, user, observed, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != OpSetChannelOverwrite {
		t.Fatalf("expected single overwrite set, got %v", ops)
	}
	if ops[0].Allow != readwriteAllow || ops[0].Deny != 0 {
		t.Fatalf("unexpected overwrite bits: allow=%d deny=%d", ops[0].Allow, ops[0].Deny)
	}
}

func TestPlanOrdering(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	// Everything at once: needs the member role, a nickname, the general
	// overwrite, a lounge overwrite cleared, and Alumni revoked.
	observed := ObservedState{
		Roles:    []string{"r-alumni"},
		Nickname: "old",
		Overwrites: map[string]Overwrite{
			"c-lounge": {Allow: discordgo.PermissionViewChannel},
		},
	}
	ops, err := Plan(snap, season, user, observed, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	got := make([]OpKind, len(ops))
	for i, op := range ops {
		got[i] = op.Kind
	}
	want := []OpKind{OpGrantRole, OpSetNickname, OpSetChannelOverwrite, OpClearChannelOverwrite, OpRevokeRole}
	if len(got) != len(want) {
		t.Fatalf("expected kinds %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d: expected %v, got %v (full plan %v)", i, want[i], got[i], ops)
		}
	}
}

func TestPlanSkipsNicknameWithoutDisplayName(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{ExternalID: "ext-1", PlatformID: "plat-1"}

	ops, err := Plan(snap, season, user, ObservedState{Nickname: "whatever"}, testDirectory())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, op := range ops {
		if op.Kind == OpSetNickname {
			t.Fatalf("no nickname op expected for empty display name, got %v", ops)
		}
	}
}

func TestPlanMissingGuildEntities(t *testing.T) {
	snap, season := testSnapshot(t)
	user := database.UserRecord{DisplayName: "Ann", ExternalID: "ext-1", PlatformID: "plat-1"}

	noRole := testDirectory()
	delete(noRole.Roles, "Medlem")
	if _, err := Plan(snap, season, user, ObservedState{}, noRole); err == nil || errors.Is(err, ErrInvariant) {
		t.Fatalf("expected plain error for role missing from guild, got %v", err)
	}

	noChannel := testDirectory()
	delete(noChannel.Channels, "general")
	_, err := Plan(snap, season, user, ObservedState{}, noChannel)
	if err == nil || !strings.Contains(err.Error(), "general") {
		t.Fatalf("expected error naming the missing channel, got %v", err)
	}
}

// applyToObserved simulates the reconciler executing a plan against the
// observed state, for convergence checks.
func applyToObserved(s ObservedState, ops []MutationOp) ObservedState {
	roles := map[string]bool{}
	for _, id := range s.Roles {
		roles[id] = true
	}
	next := ObservedState{Nickname: s.Nickname, Overwrites: map[string]Overwrite{}}
	for id, ow := range s.Overwrites {
		next.Overwrites[id] = ow
	}
	for _, op := range ops {
		switch op.Kind {
		case OpGrantRole:
			roles[op.RoleID] = true
		case OpRevokeRole:
			delete(roles, op.RoleID)
		case OpSetNickname:
			next.Nickname = op.Nickname
		case OpSetChannelOverwrite:
			next.Overwrites[op.ChannelID] = Overwrite{Allow: op.Allow, Deny: op.Deny}
		case OpClearChannelOverwrite:
			delete(next.Overwrites, op.ChannelID)
		}
	}
	for id := range roles {
		next.Roles = append(next.Roles, id)
	}
	return next
}
