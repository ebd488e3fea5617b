package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
)

// ===================== memBackend =====================

type memBackend struct {
	mu      sync.Mutex
	data    []byte
	loadErr error
	saveErr error
	saves   int
}

func (m *memBackend) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memBackend) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memBackend) Location() string { return "mem" }

func newTestStore(t testing.TB) (*Store, *memBackend) {
	t.Helper()
	b := &memBackend{}
	s, err := OpenStore(b)
	if err != nil {
		t.Fatal(err)
	}
	return s, b
}

// ===================== fakePlatform =====================

type sentMessage struct {
	ChannelID string
	Text      string
	Embed     *discordgo.MessageEmbed
}

type fakePlatform struct {
	mu       sync.Mutex
	guilds   map[string]bool
	channels map[string]string // channel id -> guild id
	admins   map[string]bool
	panicOn  string // guild id whose lookup panics
	sendErr  error
	sent     []sentMessage
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		guilds:   make(map[string]bool),
		channels: make(map[string]string),
		admins:   make(map[string]bool),
	}
}

func (p *fakePlatform) addChannel(guildID, channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guilds[guildID] = true
	p.channels[channelID] = guildID
}

func (p *fakePlatform) Guild(guildID string) (*discordgo.Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if guildID == p.panicOn {
		panic("guild lookup exploded")
	}
	if !p.guilds[guildID] {
		return nil, fmt.Errorf("unknown guild %s", guildID)
	}
	return &discordgo.Guild{ID: guildID}, nil
}

func (p *fakePlatform) Channel(guildID, channelID string) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	if g != guildID {
		return nil, errWrongGuild
	}
	return &discordgo.Channel{ID: channelID, GuildID: guildID}, nil
}

func (p *fakePlatform) SendText(channelID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, sentMessage{ChannelID: channelID, Text: content})
	return nil
}

func (p *fakePlatform) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, sentMessage{ChannelID: channelID, Embed: embed})
	return nil
}

func (p *fakePlatform) IsAdmin(_, _, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if userID == "broken" {
		return false, errors.New("permission lookup failed")
	}
	return p.admins[userID], nil
}

func (p *fakePlatform) messages() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

func (p *fakePlatform) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

// ===================== fakeSearcher =====================

type fakeSearcher struct {
	mu      sync.Mutex
	results []SearchResult
	err     error
	calls   int
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
