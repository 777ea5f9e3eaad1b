package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/rs/zerolog/log"

	"github.com/ksg-dk/gatekeeper/access"
	"github.com/ksg-dk/gatekeeper/database"
	"github.com/ksg-dk/gatekeeper/reconciler"
	"github.com/ksg-dk/gatekeeper/seasons"
	"github.com/ksg-dk/gatekeeper/verification"
)

// Handlers - Command and event handlers with their collaborators wired in.
type Handlers struct {
	Engine          *access.Engine
	Config          *seasons.Store
	Store           *database.IdentityStore
	Verifier        *verification.Manager
	BaseURL         string
	OperatorChannel string
}

// Register - Bind all chat commands onto the router.
func (h *Handlers) Register(router *exrouter.Route) {
	router.On("verify", h.VerifyHandler).Desc("Verify with your verification ID: !verify <id>")
	router.On("sync", h.SyncHandler).Desc("Re-sync access for mentioned users, or everyone: !sync @user | !sync all")
	router.On("reload", h.ReloadHandler).Desc("Reload the season configuration")
	router.On("whois", h.WhoisHandler).Desc("Show the verified identity behind a mention: !whois @user")
	router.On("update-roles", h.UpdateRolesHandler).Desc("Create or update the declared guild roles")
	router.On("update-channels", h.UpdateChannelsHandler).Desc("Create the active season's channel structure")
}

// VerifyHandler - Handle a verification ID typed directly at the bot. The
// author's account is the platform identity; the argument is the claim.
func (h *Handlers) VerifyHandler(ctx *exrouter.Context) {
	// Delete the message so the ID does not linger in the channel
	if ctx.Msg.GuildID != "" {
		ctx.Ses.ChannelMessageDelete(ctx.Msg.ChannelID, ctx.Msg.ID)
	}

	claim := strings.TrimSpace(ctx.Args.Get(1))
	if claim == "" {
		dmReply(ctx, fmt.Sprintf("Use `!verify <your-id>`, or open %s/verify/<your-id> in a browser.", h.BaseURL))
		return
	}

	report := h.Engine.VerifyClaim(context.Background(), ctx.Msg.Author.ID, claim, "")
	switch report.Verification.State {
	case verification.StateVerified:
		if report.Verification.Reverified {
			dmReply(ctx, "You are already verified.")
			return
		}
		dmReply(ctx, fmt.Sprintf("Welcome, %s! You are verified and your access has been set up.", report.Verification.User.DisplayName))
		h.reportFailures(ctx, ctx.Msg.Author.ID, report.Outcomes)
	case verification.StateRejected:
		dmReply(ctx, report.Verification.Reason.Message())
	default:
		dmReply(ctx, "Something went wrong, please try again.")
	}
}

// SyncHandler - Re-run reconciliation for the mentioned users, or for every
// verified user of the active season with `!sync all`.
func (h *Handlers) SyncHandler(ctx *exrouter.Context) {
	if !isModerator(ctx) {
		replyDel(ctx, "You need Manage Roles perms to use this command.", 15)
		return
	}

	if strings.EqualFold(ctx.Args.Get(1), "all") {
		users, failed, err := h.Engine.SyncAll(context.Background())
		if err != nil {
			replyDel(ctx, fmt.Sprintf("Sync failed.\n```%v```", err), 15)
			return
		}
		replyDel(ctx, fmt.Sprintf("Synced %v users, %v with failures.", users, failed), 15)
		return
	}

	users := ctx.Msg.Mentions
	if len(users) == 0 {
		replyDel(ctx, "Please include at least one user mention, or use `!sync all`.", 15)
		return
	}

	seasonID := h.currentSeasonID()
	for _, u := range users {
		rec, err := h.Store.FindByPlatformID(seasonID, u.ID)
		if err != nil {
			replyDel(ctx, fmt.Sprintf("<@%v> is not verified for season %v.", u.ID, seasonID), 15)
			continue
		}
		outcomes, err := h.Engine.SyncUser(context.Background(), rec)
		if err != nil {
			replyDel(ctx, fmt.Sprintf("Failed to sync <@%v>.\n```%v```", u.ID, err), 15)
			continue
		}
		failed := reconciler.Failed(outcomes)
		if len(failed) > 0 {
			replyDel(ctx, fmt.Sprintf("Synced <@%v> with %v failed operations.", u.ID, len(failed)), 15)
			h.reportFailures(ctx, u.ID, outcomes)
			continue
		}
		replyDel(ctx, fmt.Sprintf("Synced <@%v> (%v operations).", u.ID, len(outcomes)), 15)
	}
}

// ReloadHandler - Reload the config snapshot and reseed the identity store.
// A bad config keeps the previous snapshot in effect.
func (h *Handlers) ReloadHandler(ctx *exrouter.Context) {
	if !isModerator(ctx) {
		replyDel(ctx, "You need Manage Roles perms to use this command.", 15)
		return
	}

	if err := h.Config.Reload(); err != nil {
		replyDel(ctx, fmt.Sprintf("Config reload failed, previous config is still active.\n```%v```", err), 30)
		return
	}
	if err := access.SeedIdentities(h.Store, h.Config.Snapshot()); err != nil {
		replyDel(ctx, fmt.Sprintf("Config loaded, but seeding identities failed.\n```%v```", err), 30)
		return
	}
	replyDel(ctx, "Config reloaded.", 15)
}

// WhoisHandler - Show the roster identity behind a Discord account.
func (h *Handlers) WhoisHandler(ctx *exrouter.Context) {
	if !isModerator(ctx) {
		replyDel(ctx, "You need Manage Roles perms to use this command.", 15)
		return
	}

	users := ctx.Msg.Mentions
	if len(users) == 0 {
		replyDel(ctx, "Please include at least one user mention.", 15)
		return
	}
	seasonID := h.currentSeasonID()
	for _, u := range users {
		rec, err := h.Store.FindByPlatformID(seasonID, u.ID)
		if err != nil {
			replyDel(ctx, fmt.Sprintf("<@%v> is not verified for season %v.", u.ID, seasonID), 15)
			continue
		}
		replyDel(ctx, fmt.Sprintf("<@%v> is **%v** (season %v, verified %v).", u.ID, rec.DisplayName, rec.SeasonID, rec.BoundAt.Format("2006-01-02")), 30)
	}
}

// UpdateRolesHandler - Provision the declared roles on the guild.
func (h *Handlers) UpdateRolesHandler(ctx *exrouter.Context) {
	if !isModerator(ctx) {
		replyDel(ctx, "You need Manage Roles perms to use this command.", 15)
		return
	}

	created, err := h.Engine.ProvisionRoles(context.Background())
	if err != nil {
		replyDel(ctx, fmt.Sprintf("Role update failed.\n```%v```", err), 15)
		return
	}
	replyDel(ctx, fmt.Sprintf("Roles are up to date (%v created).", created), 15)
}

// UpdateChannelsHandler - Provision the active season's channel structure.
func (h *Handlers) UpdateChannelsHandler(ctx *exrouter.Context) {
	if !isModerator(ctx) {
		replyDel(ctx, "You need Manage Roles perms to use this command.", 15)
		return
	}

	created, err := h.Engine.ProvisionChannels(context.Background())
	if err != nil {
		replyDel(ctx, fmt.Sprintf("Channel update failed.\n```%v```", err), 15)
		return
	}
	replyDel(ctx, fmt.Sprintf("Channels are up to date (%v created).", created), 15)
}

func (h *Handlers) currentSeasonID() string {
	snap := h.Config.Snapshot()
	if snap == nil {
		return ""
	}
	if season := snap.CurrentSeason(); season != nil {
		return season.ID
	}
	return ""
}

// reportFailures - Surface terminal mutation failures to the operator
// channel. Forbidden outcomes usually mean the bot role sits below the
// target role in the hierarchy.
func (h *Handlers) reportFailures(ctx *exrouter.Context, userID string, outcomes []reconciler.Outcome) {
	failed := reconciler.Failed(outcomes)
	if len(failed) == 0 || h.OperatorChannel == "" {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Failed to fully set up access for <@%v>:\n", userID)
	for _, o := range failed {
		fmt.Fprintf(&sb, "- `%v`: %v\n", o.Op, o.Err)
		if reconciler.Forbidden(o.Err) {
			sb.WriteString("  *This is most likely the bot role sitting below the target role. Move the bot role up and run `!sync`.*\n")
		}
	}
	if _, err := ctx.Ses.ChannelMessageSend(h.OperatorChannel, sb.String()); err != nil {
		log.Warn().Err(err).Msg("failed to notify operator channel")
	}
}
