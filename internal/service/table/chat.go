package table

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	appErr "maca-service/pkg/errors"

	"github.com/google/uuid"
)

const (
	MaxReactionLength = 16
	ReactionInterval  = 300 * time.Millisecond

	// maxRawChatBytes bounds what the filter is asked to look at; longer
	// messages are refused rather than truncated.
	maxRawChatBytes = 4096
)

// interactionTable picks the table a chat or reaction is aimed at: the
// requested one when the caller is attached to it, else their seat, else
// the table they watch. Only seated players may write.
func (m *Manager) interactionTable(connID, userID, requested string) (string, error) {
	seated := m.seatedTable(userID)
	watching := m.presence.Spectating(connID)
	requested = strings.TrimSpace(requested)

	target := ""
	switch {
	case requested != "" && (requested == seated || requested == watching):
		target = requested
	case seated != "":
		target = seated
	default:
		target = watching
	}
	if target == "" {
		return "", appErr.ErrNotSeated
	}
	if target != seated {
		return "", appErr.ErrSpectatorReadOnly
	}
	return target, nil
}

func blockedErr(rt *Runtime, userID string, now time.Time) error {
	if rt.banned[userID] {
		return fmt.Errorf("%w: banned", appErr.ErrChatBlocked)
	}
	if muted, secs := rt.mutedLocked(userID, now); muted {
		return fmt.Errorf("%w: muted for %ds", appErr.ErrChatBlocked, secs)
	}
	return nil
}

// SendTableChat posts a filtered message to the caller's table and keeps it
// in the bounded history.
func (m *Manager) SendTableChat(connID, tableID, message string) (ChatMessage, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return ChatMessage{}, err
	}
	tableID, err = m.interactionTable(connID, identity.UserID, tableID)
	if err != nil {
		return ChatMessage{}, err
	}
	if len(message) > maxRawChatBytes {
		return ChatMessage{}, appErr.ErrMessageTooLong
	}
	players := m.players(tableID)

	rt := m.runtime(tableID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := m.now()
	if err := blockedErr(rt, identity.UserID, now); err != nil {
		return ChatMessage{}, err
	}
	clean, filtered := m.filter.Sanitize(message)
	if clean == "" {
		return ChatMessage{}, appErr.ErrMessageEmpty
	}

	msg := ChatMessage{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		TableID:   tableID,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Message:   clean,
		Filtered:  filtered,
		CreatedAt: now,
	}
	rt.appendChatLocked(msg)
	m.broadcast(tableID, players, EventChatMessage, msg)
	return msg, nil
}

// SendTableReaction broadcasts a short emoji reaction, at most one per
// connection every ReactionInterval.
func (m *Manager) SendTableReaction(connID, tableID, emoji string) (Reaction, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return Reaction{}, err
	}
	tableID, err = m.interactionTable(connID, identity.UserID, tableID)
	if err != nil {
		return Reaction{}, err
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > MaxReactionLength {
		return Reaction{}, appErr.ErrEmojiInvalid
	}
	players := m.players(tableID)

	rt := m.runtime(tableID)
	rt.mu.Lock()
	now := m.now()
	err = blockedErr(rt, identity.UserID, now)
	rt.mu.Unlock()
	if err != nil {
		return Reaction{}, err
	}
	if !m.presence.AllowReaction(connID, now, ReactionInterval) {
		return Reaction{}, appErr.ErrReactionTooFast
	}

	r := Reaction{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		TableID:   tableID,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Emoji:     emoji,
		CreatedAt: now,
	}
	m.broadcast(tableID, players, EventReaction, r)
	return r, nil
}
