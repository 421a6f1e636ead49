package convert

// Discord permission bits referenced by the flag table.
const (
	permCreateInstantInvite = 0x00000001
	permKickAndBan          = 0x00000006
	permManageChannels      = 0x00000010
	permManageGuild         = 0x00000020
	permStream              = 0x00000200
	permViewChannel         = 0x00000400
	permSendMessages        = 0x00000800
	permManageMessages      = 0x00002000
	permAttachFiles         = 0x00008000
	permMentionEveryone     = 0x00020000
	permManageEvents        = 0x00100000
	permConnect             = 0x00100000
	permSpeak               = 0x00200000
	permMuteMembers         = 0x00400000
	permDeafenMembers       = 0x00800000
	permMoveMembers         = 0x01000000
	permUseVAD              = 0x02000000
	permChangeNickname      = 0x04000000
	permManageNicknames     = 0x08000000
	permManageRoles         = 0x10000000
	permManageWebhooks      = 0x20000000
	permManageEmojis        = 0x40000000
	permCreatePublicThreads = 0x0000800000000000
	permManageThreads       = 0x0004000000000000
)

// permissionBits maps Guilded permission flag names to Discord
// permission bitmasks.  Several Guilded flags collapse onto one
// Discord bit;  CanBypassSlowMode maps to nothing on purpose.
var permissionBits = map[string]uint64{
	"CanUpdateTeam":       permManageGuild,
	"CanManageRoles":      permManageRoles,
	"CanInviteMembers":    permCreateInstantInvite,
	"CanKickMembers":      permKickAndBan,
	"CanManageChannels":   permManageChannels,
	"CanManageWebhooks":   permManageWebhooks,
	"CanMentionEveryone":  permMentionEveryone,
	"CanModerateChannels": permManageMessages,
	"CanBypassSlowMode":   0,
	"CanManageGroups":     permManageChannels,

	"CanReadChats":             permViewChannel,
	"CanCreateChats":           permSendMessages,
	"CanUploadChatMedia":       permAttachFiles,
	"CanManageChats":           permManageMessages,
	"CanCreateChatThreads":     permCreatePublicThreads,
	"CanReplyToChatThreads":    permCreatePublicThreads,
	"CanCreatePrivateMessages": permSendMessages,
	"CanManageChatThreads":     permManageThreads,

	"CanListenVoice":       permConnect,
	"CanAddVoice":          permSpeak,
	"CanMuteMembers":       permMuteMembers,
	"CanDeafenMembers":     permDeafenMembers,
	"CanAssignVoiceGroup":  permMoveMembers,
	"CanBroadcastVoice":    permSpeak,
	"CanDirectVoice":       permSpeak,
	"CanPrioritizeVoice":   permSpeak,
	"CanUseVoiceActivity":  permUseVAD,
	"CanManageVoiceGroups": permManageChannels,
	"CanSendVoiceMessages": permSendMessages,

	"CanReadAnnouncements":     permViewChannel,
	"CanCreateAnnouncementsV2": permSendMessages,
	"CanManageAnnouncements":   permManageMessages,

	"CanReadEvents":     permViewChannel,
	"CanCreateEvents":   permManageEvents,
	"CanEditEvents":     permManageEvents,
	"CanDeleteEvents":   permManageEvents,
	"CanEditEventRsvps": permManageEvents,

	"CanReadForums":          permViewChannel,
	"CanCreateThreads":       permCreatePublicThreads,
	"CanCreateThreadReplies": permSendMessages,
	"CanDeleteOtherPosts":    permManageMessages,
	"CanStickyPosts":         permManageMessages,
	"CanLockThreads":         permManageThreads,

	"CanReadMedia":   permViewChannel,
	"CanAddMedia":    permAttachFiles,
	"CanEditMedia":   permManageMessages,
	"CanDeleteMedia": permManageMessages,

	"CanManageCustomReactions": permManageEmojis,
	"CanChangeNickname":        permChangeNickname,
	"CanManageNicknames":       permManageNicknames,

	"CanReadStreams":              permViewChannel,
	"CanJoinStreamVoice":          permConnect,
	"CanCreateStreams":            permStream,
	"CanSendStreamMessages":       permSendMessages,
	"CanAddStreamVoice":           permSpeak,
	"CanUseVoiceActivityInStream": permUseVAD,
}

// Permissions folds a Guilded permission set (category -> flag ->
// granted) into one Discord bitmask.  Granted flags without a table
// entry contribute nothing and are reported to r.
func Permissions(pp map[string]map[string]bool, r *Reporter) uint64 {
	var mask uint64
	for _, flags := range pp {
		for name, granted := range flags {
			if !granted {
				continue
			}
			bit, ok := permissionBits[name]
			if !ok {
				r.Report("permission", name)
				continue
			}
			mask |= bit
		}
	}
	return mask
}
