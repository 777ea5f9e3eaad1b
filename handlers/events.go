package handlers

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// GuildMemberAdd - Greet new members and open a verification session for
// them. The DM explains both claim paths: the web link and the command.
func (h *Handlers) GuildMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	// Ignore self and other bots
	if e.User.ID == s.State.User.ID || e.User.Bot {
		return
	}

	h.Verifier.Begin(e.User.ID, "")

	dmChan, err := s.UserChannelCreate(e.User.ID)
	if err != nil {
		// User DMs closed
		log.Debug().Str("user", e.User.ID).Msg("could not open DM for welcome message")
		return
	}
	msg := fmt.Sprintf(
		"Welcome! To get access to the member channels you need to verify.\n"+
			"Open %s/verify/<your-id> in a browser, or reply here with `!verify <your-id>`.\n"+
			"Your ID is in the welcome mail you received.", h.BaseURL)
	if _, err := s.ChannelMessageSend(dmChan.ID, msg); err != nil {
		log.Debug().Err(err).Str("user", e.User.ID).Msg("failed to send welcome DM")
	}
}

// GuildMemberRemove - Drop the member's verification session; the durable
// binding stays so a returning member does not have to verify again.
func (h *Handlers) GuildMemberRemove(s *discordgo.Session, e *discordgo.GuildMemberRemove) {
	if sess, ok := h.Verifier.Drop(e.User.ID); ok {
		log.Debug().Str("user", e.User.ID).Str("state", sess.State.String()).Msg("dropped verification session for departing member")
	}
}
