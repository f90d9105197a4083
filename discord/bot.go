// Package discord adapts a discordgo session to volcano's Client capability
// and bridges the gateway's voice credential events into player voice
// updates. Joining and leaving voice channels stays the host's job.
package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/jay3332/volcano"
)

// Bot wraps a discordgo session as a volcano host handle.
type Bot struct {
	session *discordgo.Session
}

func Wrap(s *discordgo.Session) *Bot { return &Bot{session: s} }

// UserID reports the bot user's id for the node handshake. Empty until the
// gateway READY has populated the session state.
func (b *Bot) UserID() string {
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID
	}
	return ""
}

func (b *Bot) Session() *discordgo.Session { return b.session }

// AttachPool registers gateway handlers that forward voice credentials
// (session id from VOICE_STATE_UPDATE, token and endpoint from
// VOICE_SERVER_UPDATE) to the guild's player. The returned function detaches
// the handlers.
func (b *Bot) AttachPool(pool *volcano.Pool[*Bot]) func() {
	var mu sync.Mutex
	sessionIDs := make(map[string]string)

	removeState := b.session.AddHandler(func(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		if s.State == nil || s.State.User == nil || e.UserID != s.State.User.ID {
			return
		}
		mu.Lock()
		sessionIDs[e.GuildID] = e.SessionID
		mu.Unlock()
	})
	removeServer := b.session.AddHandler(func(s *discordgo.Session, e *discordgo.VoiceServerUpdate) {
		mu.Lock()
		sessionID := sessionIDs[e.GuildID]
		mu.Unlock()
		if sessionID == "" {
			return
		}
		player, err := pool.GetPlayer(e.GuildID)
		if err != nil {
			return
		}
		_ = player.OnVoiceUpdate(context.Background(), sessionID, e.Token, e.Endpoint)
	})

	return func() {
		removeState()
		removeServer()
	}
}
