package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Embed colors
const (
	colorBlue   = 0x3498db
	colorGreen  = 0x2ecc71
	colorPurple = 0x9b59b6
	colorGold   = 0xf1c40f
	colorRed    = 0xff0000
)

// Rate-limiting configuration
const (
	messageLimit = 5
	timeWindow   = 1 * time.Second
)

// Platform is what the bot needs from the chat gateway.
type Platform interface {
	Guild(guildID string) (*discordgo.Guild, error)
	Channel(guildID, channelID string) (*discordgo.Channel, error)
	SendText(channelID, content string) error
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
	IsAdmin(guildID, channelID, userID string) (bool, error)
}

var errWrongGuild = errors.New("channel belongs to another guild")

// DiscordPlatform implements Platform on a discordgo session, preferring the
// state cache and falling back to REST.
type DiscordPlatform struct {
	s *discordgo.Session

	// sliding-window limiter shared by every send
	tsMutex sync.Mutex
	times   []time.Time
}

func NewDiscordPlatform(s *discordgo.Session) *DiscordPlatform {
	return &DiscordPlatform{s: s}
}

func (p *DiscordPlatform) Guild(guildID string) (*discordgo.Guild, error) {
	if p.s.State != nil {
		if g, err := p.s.State.Guild(guildID); err == nil {
			return g, nil
		}
	}
	return p.s.Guild(guildID)
}

func (p *DiscordPlatform) Channel(guildID, channelID string) (*discordgo.Channel, error) {
	var ch *discordgo.Channel
	if p.s.State != nil {
		ch, _ = p.s.State.Channel(channelID)
	}
	if ch == nil {
		var err error
		if ch, err = p.s.Channel(channelID); err != nil {
			return nil, err
		}
	}
	if ch.GuildID != guildID {
		return nil, fmt.Errorf("channel %s: %w", channelID, errWrongGuild)
	}
	return ch, nil
}

func (p *DiscordPlatform) SendText(channelID, content string) error {
	p.wait()
	_, err := p.s.ChannelMessageSend(channelID, content)
	return err
}

func (p *DiscordPlatform) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	p.wait()
	p.createFooter(embed)
	_, err := p.s.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// createFooter stamps "<bot name> | v<VERSION>" on embeds that have no footer.
func (p *DiscordPlatform) createFooter(embed *discordgo.MessageEmbed) {
	if embed.Footer != nil {
		return
	}
	name := "quotebot"
	if p.s.State != nil && p.s.State.User != nil {
		name = p.s.State.User.Username
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: name + " | v" + VERSION}
}

func (p *DiscordPlatform) IsAdmin(guildID, channelID, userID string) (bool, error) {
	if g, err := p.Guild(guildID); err == nil && g.OwnerID == userID {
		return true, nil
	}
	perms, err := p.s.UserChannelPermissions(userID, channelID)
	if err != nil {
		return false, err
	}
	return perms&discordgo.PermissionAdministrator != 0, nil
}

// wait blocks until the sliding window has room for one more message.
func (p *DiscordPlatform) wait() {
	for {
		p.tsMutex.Lock()
		now := time.Now()
		// remove old timestamps
		clean := 0
		for i, t := range p.times {
			if now.Sub(t) >= timeWindow {
				clean = i + 1
			} else {
				break
			}
		}
		if clean > 0 {
			p.times = p.times[clean:]
		}
		if len(p.times) < messageLimit {
			p.times = append(p.times, now)
			p.tsMutex.Unlock()
			return
		}
		p.tsMutex.Unlock()
		time.Sleep(100 * time.Millisecond)
	}
}
