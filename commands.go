package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	msgMissingArgument = "missing argument"

	// Discord limits
	maxEmbedFields      = 25
	maxEmbedDescription = 4000
	maxFieldName        = 256
	maxFieldValue       = 1024
	mediaTextLimit      = 200
)

var channelMention = regexp.MustCompile(`^<#(\d+)>$`)

type commandFunc func(ctx context.Context, b *Bot, inv Invocation) error

type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	admin   bool
	run     commandFunc
}

func commandTable(cfg *Config) []*command {
	return []*command{
		{name: "set_channel", usage: "set_channel [#チャンネル]", help: "語録を投稿するチャンネルを設定", admin: true, run: cmdSetChannel},
		{name: "add_trigger", usage: "add_trigger <ワード> <応答>", help: "反応ワードと応答を追加", admin: true, run: cmdAddTrigger},
		{name: "remove_trigger", usage: "remove_trigger <ワード>", help: "反応ワードを削除", admin: true, run: cmdRemoveTrigger},
		{name: "list_triggers", usage: "list_triggers", help: "反応ワード一覧を表示", run: cmdListTriggers},
		{name: "add_quote", usage: "add_quote <語録>", help: "語録を追加（画像を添付すると画像付きで保存）", admin: true, run: cmdAddQuote},
		{name: "remove_quote", usage: "remove_quote <語録>", help: "語録を削除", admin: true, run: cmdRemoveQuote},
		{name: "list_quotes", usage: "list_quotes", help: "語録一覧を表示", run: cmdListQuotes},
		{name: "test_quote", usage: "test_quote", help: "ランダムに語録を投稿（テスト用）", run: cmdTestQuote},
		{name: "show_config", usage: "show_config", help: "現在のサーバー設定を表示", run: cmdShowConfig},
		{name: cfg.Media.Command, usage: cfg.Media.Command, help: fmt.Sprintf("#%s から画像をランダムに取得", cfg.Media.Hashtag), run: cmdMedia},
		{name: "help", aliases: []string{"help_bot"}, usage: "help", help: "このヘルプを表示", run: cmdHelp},
	}
}

func missing(field string) error {
	return &ValidationError{Field: field, Msg: msgMissingArgument}
}

func cmdSetChannel(_ context.Context, b *Bot, inv Invocation) error {
	target := inv.ChannelID
	if arg := strings.TrimSpace(inv.Args); arg != "" {
		if m := channelMention.FindStringSubmatch(arg); m != nil {
			target = m[1]
		} else {
			target = arg
		}
	}
	id, err := ParseSnowflake(target)
	if err != nil {
		return &ValidationError{Field: "channel", Msg: fmt.Sprintf("%q はチャンネルではありません", target)}
	}
	if _, err := b.platform.Channel(inv.GuildID, id.String()); err != nil {
		return &ValidationError{Field: "channel", Msg: fmt.Sprintf("チャンネル <#%s> が見つかりません", id)}
	}
	if err := b.store.SetChannel(inv.GuildID, id); err != nil {
		return err
	}
	b.send(inv.ChannelID, fmt.Sprintf("✅ 語録投稿チャンネルを <#%s> に設定しました", id))
	return nil
}

// splitWord returns the first argument and the rest. A word in double
// quotes may contain spaces: `"good morning" おはよう`.
func splitWord(args string) (word, rest string) {
	args = strings.TrimLeftFunc(args, unicode.IsSpace)
	if strings.HasPrefix(args, `"`) {
		if end := strings.IndexByte(args[1:], '"'); end >= 0 {
			return args[1 : end+1], strings.TrimSpace(args[end+2:])
		}
	}
	if i := strings.IndexFunc(args, unicode.IsSpace); i >= 0 {
		return args[:i], strings.TrimSpace(args[i:])
	}
	return args, ""
}

func cmdAddTrigger(_ context.Context, b *Bot, inv Invocation) error {
	word, response := splitWord(inv.Args)
	if strings.TrimSpace(word) == "" {
		return missing("word")
	}
	if response == "" {
		return missing("response")
	}
	t, err := b.store.AddTrigger(inv.GuildID, word, response)
	if err != nil {
		return err
	}
	b.send(inv.ChannelID, fmt.Sprintf("✅ 反応ワードを追加しました\nワード: `%s`\n応答: `%s`", t.Word, t.Response))
	return nil
}

func cmdRemoveTrigger(_ context.Context, b *Bot, inv Invocation) error {
	word, _ := splitWord(inv.Args)
	if strings.TrimSpace(word) == "" {
		return missing("word")
	}
	if err := b.store.RemoveTrigger(inv.GuildID, word); err != nil {
		return err
	}
	b.send(inv.ChannelID, fmt.Sprintf("✅ 反応ワード `%s` を削除しました", word))
	return nil
}

func cmdListTriggers(_ context.Context, b *Bot, inv Invocation) error {
	g := b.store.GetOrCreate(inv.GuildID)
	if len(g.Triggers) == 0 {
		b.send(inv.ChannelID, "設定された反応ワードがありません")
		return nil
	}
	for start := 0; start < len(g.Triggers); start += maxEmbedFields {
		end := min(start+maxEmbedFields, len(g.Triggers))
		embed := &discordgo.MessageEmbed{Title: "反応ワード一覧", Color: colorBlue}
		for _, t := range g.Triggers[start:end] {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  truncateRunes("ワード: "+t.Word, maxFieldName-3),
				Value: truncateRunes("応答: "+t.Response, maxFieldValue-3),
			})
		}
		if err := b.sendEmbed(inv.ChannelID, embed); err != nil {
			return err
		}
	}
	return nil
}

// quoteImage returns the URL of the first image attachment, if any.
func quoteImage(atts []*discordgo.MessageAttachment) string {
	if len(atts) == 0 || atts[0] == nil {
		return ""
	}
	if isImageFilename(atts[0].Filename) {
		return atts[0].URL
	}
	return ""
}

func cmdAddQuote(_ context.Context, b *Bot, inv Invocation) error {
	if inv.Args == "" {
		return missing("quote")
	}
	q, err := b.store.AddQuote(inv.GuildID, inv.Args, quoteImage(inv.Attachments))
	if err != nil {
		return err
	}
	if q.HasImage() {
		b.send(inv.ChannelID, fmt.Sprintf("✅ 語録（画像付き）を追加しました: `%s`", q.Text))
	} else {
		b.send(inv.ChannelID, fmt.Sprintf("✅ 語録を追加しました: `%s`", q.Text))
	}
	return nil
}

func cmdRemoveQuote(_ context.Context, b *Bot, inv Invocation) error {
	if inv.Args == "" {
		return missing("quote")
	}
	if err := b.store.RemoveQuote(inv.GuildID, inv.Args); err != nil {
		return err
	}
	b.send(inv.ChannelID, fmt.Sprintf("✅ 語録を削除しました: `%s`", inv.Args))
	return nil
}

func cmdListQuotes(_ context.Context, b *Bot, inv Invocation) error {
	quotes := ListQuotes(b.store.GetOrCreate(inv.GuildID))
	if len(quotes) == 0 {
		b.send(inv.ChannelID, "登録された語録がありません")
		return nil
	}
	for _, page := range paginate(formatQuoteList(quotes), maxEmbedDescription) {
		embed := &discordgo.MessageEmbed{Title: "語録一覧", Description: page, Color: colorGreen}
		if err := b.sendEmbed(inv.ChannelID, embed); err != nil {
			return err
		}
	}
	return nil
}

// paginate joins lines with newlines into pages no longer than limit bytes.
// A single line longer than limit gets a page of its own.
func paginate(lines []string, limit int) []string {
	var pages []string
	var cur strings.Builder
	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			pages = append(pages, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		pages = append(pages, cur.String())
	}
	return pages
}

func cmdTestQuote(ctx context.Context, b *Bot, inv Invocation) error {
	q, ok := PickRandom(b.store.GetOrCreate(inv.GuildID), nil)
	if !ok {
		b.send(inv.ChannelID, "語録が登録されていません")
		return nil
	}
	return sendQuote(ctx, b.platform, inv.ChannelID, q)
}

func cmdShowConfig(_ context.Context, b *Bot, inv Invocation) error {
	if !b.store.Has(inv.GuildID) {
		b.send(inv.ChannelID, "このサーバーの設定がありません")
		return nil
	}
	g := b.store.GetOrCreate(inv.GuildID)

	channel := "未設定"
	if g.HasChannel() {
		if _, err := b.platform.Channel(inv.GuildID, g.QuoteChannelID.String()); err == nil {
			channel = fmt.Sprintf("<#%s>", g.QuoteChannelID)
		}
	}
	embed := &discordgo.MessageEmbed{
		Title: "サーバー設定",
		Color: colorPurple,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "語録投稿チャンネル", Value: channel},
			{Name: "反応ワード数", Value: fmt.Sprintf("%d個", len(g.Triggers))},
			{Name: "語録数", Value: fmt.Sprintf("%d個", len(g.Quotes))},
		},
	}
	return b.sendEmbed(inv.ChannelID, embed)
}

func cmdMedia(ctx context.Context, b *Bot, inv Invocation) error {
	if b.media == nil {
		return errMediaDisabled
	}
	hashtag := b.cfg.Media.Hashtag
	img, cached, err := b.media.Fetch(ctx, hashtag, func() {
		b.send(inv.ChannelID, fmt.Sprintf("🔍 #%s から画像を検索中...", hashtag))
	})
	if err != nil {
		return err
	}
	return b.sendEmbed(inv.ChannelID, mediaEmbed(img, cached))
}

func mediaEmbed(img MediaImage, cached bool) *discordgo.MessageEmbed {
	footer := "Tweet ID: " + img.SourceID
	if cached {
		footer += " (キャッシュ)"
	}
	return &discordgo.MessageEmbed{
		Description: truncateRunes(img.Text, mediaTextLimit),
		Color:       colorBlue,
		Image:       &discordgo.MessageEmbedImage{URL: img.ImageURL},
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
}

// truncateRunes cuts s to n runes and appends "..." when it was longer.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func cmdHelp(_ context.Context, b *Bot, inv Invocation) error {
	embed := &discordgo.MessageEmbed{
		Title:       "Botコマンド一覧",
		Description: "管理者のみ実行可能なコマンドには🔒マークがついています",
		Color:       colorGold,
	}
	for _, c := range b.ordered {
		name := b.cfg.Prefix + c.usage
		if c.admin {
			name = "🔒 " + name
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: c.help})
	}
	return b.sendEmbed(inv.ChannelID, embed)
}
