package router

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/timeutil"
)

// roomIdentity derives the room address from a display name.
func (r *Router) roomIdentity(name string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	return fmt.Sprintf("%s@conference.%s", slug, r.cfg.Domain)
}

// CreateRoom provisions a members-only room: every invitee is granted
// membership and ownership before the invite goes out, so any member
// can later manage the room.
func (r *Router) CreateRoom(ctx context.Context, name string, members []string) (string, error) {
	room := r.roomIdentity(name)
	if err := r.client.CreateRoom(ctx, room); err != nil {
		return "", err
	}

	all := []string{string(r.self)}
	for _, member := range members {
		if member == string(r.self) {
			continue
		}
		if err := r.client.GrantMembership(ctx, room, member); err != nil {
			r.logger.Warn("grant membership failed", zap.String("member", member), zap.Error(err))
			continue
		}
		if err := r.client.GrantOwnership(ctx, room, member); err != nil {
			r.logger.Warn("grant ownership failed", zap.String("member", member), zap.Error(err))
		}
		if err := r.client.InviteToRoom(ctx, room, member, name); err != nil {
			r.logger.Warn("invite failed", zap.String("member", member), zap.Error(err))
			continue
		}
		all = append(all, member)
	}

	if err := r.client.JoinRoom(ctx, room, r.self.Local(), 0); err != nil {
		return "", err
	}
	err := r.db.CreateConversation(&store.Conversation{
		Identity:    room,
		DisplayName: name,
		IsGroup:     true,
		Members:     all,
		CreatedBy:   string(r.self),
	})
	if err != nil {
		return "", err
	}
	r.bus.Emit(bus.KindRoomCreated, room)
	return room, nil
}

// JoinAll rejoins every known room, asking each for history back to
// the conversation's last stored message.
func (r *Router) JoinAll(ctx context.Context) error {
	rooms, err := r.db.GroupConversationIDs()
	if err != nil {
		return err
	}
	now := r.now()
	for _, room := range rooms {
		conv, err := r.db.GetConversation(room)
		if err != nil || conv == nil {
			continue
		}
		since := timeutil.SinceLocal(now, conv.LastMessageDate, conv.LastMessageTime)
		if err := r.client.JoinRoom(ctx, room, r.self.Local(), since); err != nil {
			r.logger.Warn("rejoin failed", zap.String("room", room), zap.Error(err))
		}
	}
	return nil
}
