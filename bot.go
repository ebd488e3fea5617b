package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"
)

// User-facing messages that do not depend on the command.
const (
	msgPermission   = "❌ このコマンドを実行する権限がありません（管理者権限が必要です）"
	msgStorage      = "❌ 設定の保存に失敗しました。時間をおいて再試行してください。"
	msgGenericError = "❌ エラーが発生しました。"
)

var errMediaDisabled = errors.New("media search is not configured")

// IncomingMessage is the platform-neutral view of a message event.
type IncomingMessage struct {
	GuildID     string
	ChannelID   string
	AuthorID    string
	AuthorBot   bool
	Content     string
	Attachments []*discordgo.MessageAttachment
}

// Invocation is a parsed prefix command.
type Invocation struct {
	IncomingMessage
	Name string
	Args string
}

// Bot ties the store, the platform and the media fetcher together and
// turns inbound messages into replies and store mutations.
type Bot struct {
	cfg      *Config
	store    *Store
	platform Platform
	media    *MediaFetcher

	commands map[string]*command
	ordered  []*command
}

// NewBot builds a bot. media may be nil when no search backend is set up.
func NewBot(cfg *Config, store *Store, platform Platform, media *MediaFetcher) *Bot {
	b := &Bot{
		cfg:      cfg,
		store:    store,
		platform: platform,
		media:    media,
		commands: make(map[string]*command),
	}
	for _, c := range commandTable(cfg) {
		b.register(c)
	}
	return b
}

func (b *Bot) register(c *command) {
	b.ordered = append(b.ordered, c)
	b.commands[c.name] = c
	for _, alias := range c.aliases {
		b.commands[alias] = c
	}
}

// HandleMessage is the entry point for every inbound guild message.
func (b *Bot) HandleMessage(ctx context.Context, msg IncomingMessage) {
	if msg.AuthorBot || msg.GuildID == "" {
		return
	}

	if inv, ok := b.parseCommand(msg); ok {
		b.dispatch(ctx, inv)
		return
	}

	g := b.store.GetOrCreate(msg.GuildID)
	if resp, ok := MatchTrigger(g, msg.Content); ok {
		b.send(msg.ChannelID, resp)
		observeTriggerReply()
	}
	if b.cfg.QuoteEcho {
		if q, ok := MatchQuote(g, msg.Content); ok {
			if err := sendQuote(ctx, b.platform, msg.ChannelID, q); err != nil {
				slog.Warn("quote echo failed", slog.String("guild", msg.GuildID), slog.String("channel", msg.ChannelID), slog.Any("err", err))
			}
			observeTriggerReply()
		}
	}
}

// parseCommand recognizes "<prefix><name> <args...>" for registered names.
func (b *Bot) parseCommand(msg IncomingMessage) (Invocation, bool) {
	if !strings.HasPrefix(msg.Content, b.cfg.Prefix) {
		return Invocation{}, false
	}
	body := strings.TrimPrefix(msg.Content, b.cfg.Prefix)
	name, args := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, args = body[:i], body[i:]
	}
	if _, ok := b.commands[name]; !ok {
		return Invocation{}, false
	}
	return Invocation{IncomingMessage: msg, Name: name, Args: strings.TrimSpace(args)}, true
}

func (b *Bot) dispatch(ctx context.Context, inv Invocation) {
	cmd := b.commands[inv.Name]
	ctx = withCorrelation(ctx)
	logger := loggerFrom(ctx).With(
		slog.String("command", cmd.name),
		slog.String("guild", inv.GuildID),
		slog.String("author", inv.AuthorID),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("command panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			observeCommand(cmd.name, "panic")
			b.send(inv.ChannelID, msgGenericError)
		}
	}()

	if cmd.admin {
		ok, err := b.platform.IsAdmin(inv.GuildID, inv.ChannelID, inv.AuthorID)
		if err != nil {
			logger.Warn("permission check failed", slog.Any("err", err))
		}
		if err != nil || !ok {
			observeCommand(cmd.name, "denied")
			b.replyError(inv, cmd, ErrPermission)
			return
		}
	}

	logger.Debug("command invoked", slog.String("args", inv.Args))
	if err := cmd.run(ctx, b, inv); err != nil {
		observeCommand(cmd.name, "error")
		logger.Warn("command failed", slog.Any("err", err))
		b.replyError(inv, cmd, err)
		return
	}
	observeCommand(cmd.name, "ok")
}

// replyError turns a typed error into the message the user sees.
func (b *Bot) replyError(inv Invocation, cmd *command, err error) {
	b.send(inv.ChannelID, errorMessage(b.cfg, cmd, err))
}

func errorMessage(cfg *Config, cmd *command, err error) string {
	var (
		verr *ValidationError
		nf   *NotFoundError
		sw   *StorageWriteError
		sc   *StorageCorruptError
		rl   *RateLimitedError
		up   *UpstreamError
	)
	switch {
	case errors.Is(err, ErrPermission):
		return msgPermission
	case errors.As(err, &verr):
		return fmt.Sprintf("❌ %s\n使い方: `%s%s`", validationText(verr), cfg.Prefix, cmd.usage)
	case errors.As(err, &nf):
		if nf.Kind == "trigger" {
			return fmt.Sprintf("❌ 反応ワード `%s` が見つかりませんでした", nf.Key)
		}
		return "❌ 語録が見つかりませんでした"
	case errors.As(err, &sw), errors.As(err, &sc):
		return msgStorage
	case errors.As(err, &rl):
		wait := "30分"
		if rl.RetryAfter > 0 {
			wait = rl.RetryAfter.String()
		}
		return fmt.Sprintf("❌ Twitter APIのレート制限に達しました。%s後に再試行してください。", wait)
	case errors.As(err, &up):
		return fmt.Sprintf("❌ Twitter APIエラー: %v", up.Err)
	case errors.Is(err, ErrNoMedia):
		return fmt.Sprintf("❌ #%s の画像付きツイートが見つかりませんでした", cfg.Media.Hashtag)
	case errors.Is(err, errMediaDisabled):
		return "❌ Twitter APIが設定されていません"
	default:
		return msgGenericError
	}
}

func validationText(e *ValidationError) string {
	switch e.Msg {
	case msgMissingArgument:
		return fmt.Sprintf("引数が不足しています: `%s`", e.Field)
	default:
		return e.Msg
	}
}

func (b *Bot) send(channelID, content string) {
	if err := b.platform.SendText(channelID, content); err != nil {
		slog.Warn("send failed", slog.String("channel", channelID), slog.Any("err", err))
	}
}

func (b *Bot) sendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	return b.platform.SendEmbed(channelID, embed)
}
