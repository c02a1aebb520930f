package wire

import "strings"

// Broker subject layout. Identities contain "@", which is not a legal
// subject character, so addresses are flattened to dot-separated
// tokens before use.
const (
	subjAuth        = "tap.auth.login"
	subjPing        = "tap.ping"
	subjRoster      = "tap.roster"
	subjOfflineList = "tap.offline.headers"
	subjOfflineGet  = "tap.offline.fetch"
	subjOfflineDel  = "tap.offline.delete"

	subjRoomCreate = "tap.room.create"
	subjRoomJoin   = "tap.room.join"
	subjRoomMember = "tap.room.members"
	subjRoomOwner  = "tap.room.owners"
	subjRoomGrantM = "tap.room.grant.member"
	subjRoomGrantO = "tap.room.grant.owner"
	subjRoomInvite = "tap.room.invite"

	inboxPrefix      = "tap.inbox."
	presencePrefix   = "tap.presence."
	roomMsgPrefix    = "tap.room.msg."
	roomStatusPrefix = "tap.room.status."
)

func flatten(identity string) string {
	return strings.ReplaceAll(identity, "@", ".")
}

func inboxSubject(identity string) string { return inboxPrefix + flatten(identity) }
func presenceSubject(identity string) string { return presencePrefix + flatten(identity) }
func roomMsgSubject(room string) string { return roomMsgPrefix + flatten(room) }
func roomStatusSubject(room string) string { return roomStatusPrefix + flatten(room) }
