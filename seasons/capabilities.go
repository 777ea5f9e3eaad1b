package seasons

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// capabilityBits - Capability names accepted in permission presets, mapped
// to Discord permission bits. Names mirror the Discord API constants.
var capabilityBits = map[string]int64{
	"CREATE_INSTANT_INVITE":    discordgo.PermissionCreateInstantInvite,
	"KICK_MEMBERS":             discordgo.PermissionKickMembers,
	"BAN_MEMBERS":              discordgo.PermissionBanMembers,
	"ADMINISTRATOR":            discordgo.PermissionAdministrator,
	"MANAGE_CHANNELS":          discordgo.PermissionManageChannels,
	"MANAGE_GUILD":             discordgo.PermissionManageServer,
	"ADD_REACTIONS":            discordgo.PermissionAddReactions,
	"VIEW_AUDIT_LOG":           discordgo.PermissionViewAuditLogs,
	"PRIORITY_SPEAKER":         discordgo.PermissionVoicePrioritySpeaker,
	"STREAM":                   discordgo.PermissionVoiceStreamVideo,
	"VIEW_CHANNEL":             discordgo.PermissionViewChannel,
	"SEND_MESSAGES":            discordgo.PermissionSendMessages,
	"SEND_TTS_MESSAGES":        discordgo.PermissionSendTTSMessages,
	"MANAGE_MESSAGES":          discordgo.PermissionManageMessages,
	"EMBED_LINKS":              discordgo.PermissionEmbedLinks,
	"ATTACH_FILES":             discordgo.PermissionAttachFiles,
	"READ_MESSAGE_HISTORY":     discordgo.PermissionReadMessageHistory,
	"MENTION_EVERYONE":         discordgo.PermissionMentionEveryone,
	"USE_EXTERNAL_EMOJIS":      discordgo.PermissionUseExternalEmojis,
	"CONNECT":                  discordgo.PermissionVoiceConnect,
	"SPEAK":                    discordgo.PermissionVoiceSpeak,
	"MUTE_MEMBERS":             discordgo.PermissionVoiceMuteMembers,
	"DEAFEN_MEMBERS":           discordgo.PermissionVoiceDeafenMembers,
	"MOVE_MEMBERS":             discordgo.PermissionVoiceMoveMembers,
	"USE_VAD":                  discordgo.PermissionVoiceUseVAD,
	"CHANGE_NICKNAME":          discordgo.PermissionChangeNickname,
	"MANAGE_NICKNAMES":         discordgo.PermissionManageNicknames,
	"MANAGE_ROLES":             discordgo.PermissionManageRoles,
	"MANAGE_WEBHOOKS":          discordgo.PermissionManageWebhooks,
	"MANAGE_EMOJIS":            discordgo.PermissionManageEmojis,
	"USE_APPLICATION_COMMANDS": discordgo.PermissionUseSlashCommands,
	"MANAGE_THREADS":           discordgo.PermissionManageThreads,
	"CREATE_PUBLIC_THREADS":    discordgo.PermissionCreatePublicThreads,
	"CREATE_PRIVATE_THREADS":   discordgo.PermissionCreatePrivateThreads,
	"USE_EXTERNAL_STICKERS":    discordgo.PermissionUseExternalStickers,
	"SEND_MESSAGES_IN_THREADS": discordgo.PermissionSendMessagesInThreads,
	"MODERATE_MEMBERS":         discordgo.PermissionModerateMembers,
}

// ParseCapabilities - Fold capability names into a Discord permission bit
// set. Unknown names are an error so bad config dies at load, not at apply.
func ParseCapabilities(names []string) (int64, error) {
	var bits int64
	for _, name := range names {
		b, ok := capabilityBits[name]
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", name)
		}
		bits |= b
	}
	return bits, nil
}

// PresetBits - Resolve a preset to its allow/deny permission bits.
func PresetBits(p PermissionPreset) (allow, deny int64, err error) {
	if allow, err = ParseCapabilities(p.Allow); err != nil {
		return 0, 0, err
	}
	if deny, err = ParseCapabilities(p.Deny); err != nil {
		return 0, 0, err
	}
	return allow, deny, nil
}
