package handlers

import (
	"time"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// replyDel - Reply in channel and delete the reply after a delay, so
// moderation chatter does not pile up.
func replyDel(ctx *exrouter.Context, msg string, timer time.Duration) {
	newMsg, err := ctx.Reply(msg)
	if err != nil || newMsg == nil {
		log.Debug().Err(err).Msg("failed to send reply")
		return
	}
	go func() {
		time.Sleep(time.Second * timer)
		ctx.Ses.ChannelMessageDelete(ctx.Msg.ChannelID, newMsg.ID)
	}()
}

// dmReply - Answer in the author's DMs. Verification results never belong
// in a public channel.
func dmReply(ctx *exrouter.Context, msg string) {
	dmChan, err := ctx.Ses.UserChannelCreate(ctx.Msg.Author.ID)
	if err != nil {
		// User DMs closed
		return
	}
	if _, err := ctx.Ses.ChannelMessageSend(dmChan.ID, msg); err != nil {
		log.Debug().Err(err).Msg("failed to send DM")
	}
}

// isModerator - Whether the author may run admin commands.
func isModerator(ctx *exrouter.Context) bool {
	perms, err := ctx.Ses.UserChannelPermissions(ctx.Msg.Author.ID, ctx.Msg.ChannelID)
	if err != nil {
		log.Debug().Err(err).Msg("failed to check author perms")
		return false
	}
	return perms&discordgo.PermissionManageRoles == discordgo.PermissionManageRoles
}
