package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	adminID  = "100"
	memberID = "200"
)

func newTestBot(t *testing.T) (*Bot, *fakePlatform, *memBackend) {
	t.Helper()
	cfg := defaultConfig()
	s, backend := newTestStore(t)
	p := newFakePlatform()
	p.admins[adminID] = true
	p.addChannel("1", "10")
	p.addChannel("2", "20")
	return NewBot(&cfg, s, p, nil), p, backend
}

func say(b *Bot, guildID, authorID, content string) {
	channelID := guildID + "0"
	b.HandleMessage(context.Background(), IncomingMessage{
		GuildID:   guildID,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
	})
}

func lastText(t *testing.T, p *fakePlatform) string {
	t.Helper()
	msgs := p.messages()
	if len(msgs) == 0 {
		t.Fatal("no messages sent")
	}
	return msgs[len(msgs)-1].Text
}

// ===================== triggers =====================

func TestBot_TriggerScenario(t *testing.T) {
	b, p, _ := newTestBot(t)

	say(b, "1", adminID, "!add_trigger hello hi!")
	if got := lastText(t, p); got != "✅ 反応ワードを追加しました\nワード: `hello`\n応答: `hi!`" {
		t.Errorf("confirmation = %q", got)
	}

	p.reset()
	say(b, "1", memberID, "oh hello there")
	if msgs := p.messages(); len(msgs) != 1 || msgs[0].Text != "hi!" || msgs[0].ChannelID != "10" {
		t.Errorf("guild 1 reply = %+v", msgs)
	}

	p.reset()
	say(b, "2", memberID, "oh hello there")
	if msgs := p.messages(); len(msgs) != 0 {
		t.Errorf("guild 2 should stay silent, got %+v", msgs)
	}
}

func TestBot_IgnoresBotsAndDMs(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", adminID, "!add_trigger hello hi!")
	p.reset()

	b.HandleMessage(context.Background(), IncomingMessage{GuildID: "1", ChannelID: "10", AuthorID: "300", AuthorBot: true, Content: "hello"})
	b.HandleMessage(context.Background(), IncomingMessage{ChannelID: "dm", AuthorID: memberID, Content: "hello"})
	if msgs := p.messages(); len(msgs) != 0 {
		t.Errorf("expected no replies, got %+v", msgs)
	}
}

func TestBot_CommandsSkipTriggers(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", adminID, "!add_trigger list hi!")
	p.reset()

	say(b, "1", memberID, "!list_triggers")
	for _, m := range p.messages() {
		if m.Text == "hi!" {
			t.Error("command message fired a trigger")
		}
	}
}

func TestBot_RemoveTrigger(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", adminID, "!add_trigger hello hi!")
	say(b, "1", adminID, "!add_trigger hello yo")

	say(b, "1", adminID, "!remove_trigger hello")
	if got := lastText(t, p); got != "✅ 反応ワード `hello` を削除しました" {
		t.Errorf("got %q", got)
	}
	if n := len(b.store.GetOrCreate("1").Triggers); n != 0 {
		t.Errorf("%d triggers left", n)
	}

	say(b, "1", adminID, "!remove_trigger hello")
	if got := lastText(t, p); got != "❌ 反応ワード `hello` が見つかりませんでした" {
		t.Errorf("got %q", got)
	}
}

func TestBot_ListTriggersChunksFields(t *testing.T) {
	b, p, _ := newTestBot(t)
	for i := 0; i < 30; i++ {
		if _, err := b.store.AddTrigger("1", fmt.Sprintf("w%d", i), "r"); err != nil {
			t.Fatal(err)
		}
	}
	say(b, "1", memberID, "!list_triggers")
	msgs := p.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 embeds, got %d", len(msgs))
	}
	if len(msgs[0].Embed.Fields) != 25 || len(msgs[1].Embed.Fields) != 5 {
		t.Errorf("field counts = %d, %d", len(msgs[0].Embed.Fields), len(msgs[1].Embed.Fields))
	}

	p.reset()
	say(b, "2", memberID, "!list_triggers")
	if got := lastText(t, p); got != "設定された反応ワードがありません" {
		t.Errorf("empty list = %q", got)
	}
}

func TestBot_QuotedTriggerWord(t *testing.T) {
	b, p, _ := newTestBot(t)

	say(b, "1", adminID, `!add_trigger "good morning" おはよう`)
	if got := lastText(t, p); got != "✅ 反応ワードを追加しました\nワード: `good morning`\n応答: `おはよう`" {
		t.Errorf("confirmation = %q", got)
	}
	g := b.store.GetOrCreate("1")
	if len(g.Triggers) != 1 || g.Triggers[0] != (Trigger{Word: "good morning", Response: "おはよう"}) {
		t.Fatalf("triggers = %+v", g.Triggers)
	}

	p.reset()
	say(b, "1", memberID, "good morning all")
	if got := lastText(t, p); got != "おはよう" {
		t.Errorf("reply = %q", got)
	}

	say(b, "1", adminID, `!remove_trigger "good morning"`)
	if got := lastText(t, p); got != "✅ 反応ワード `good morning` を削除しました" {
		t.Errorf("remove = %q", got)
	}
	if n := len(b.store.GetOrCreate("1").Triggers); n != 0 {
		t.Errorf("%d triggers left", n)
	}
}

func TestSplitWord(t *testing.T) {
	tests := []struct {
		args, word, rest string
	}{
		{"hello hi there", "hello", "hi there"},
		{`"good morning" おはよう`, "good morning", "おはよう"},
		{`"good morning"`, "good morning", ""},
		{"ねこ　にゃー", "ねこ", "にゃー"},
		{`"unterminated word`, `"unterminated`, "word"},
		{"single", "single", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			word, rest := splitWord(tt.args)
			if word != tt.word || rest != tt.rest {
				t.Errorf("splitWord(%q) = (%q, %q), want (%q, %q)", tt.args, word, rest, tt.word, tt.rest)
			}
		})
	}
}

func TestBot_ListTriggersTruncatesLongFields(t *testing.T) {
	b, p, _ := newTestBot(t)
	if _, err := b.store.AddTrigger("1", strings.Repeat("w", 400), strings.Repeat("r", 2000)); err != nil {
		t.Fatal(err)
	}
	say(b, "1", memberID, "!list_triggers")
	msgs := p.messages()
	if len(msgs) != 1 || msgs[0].Embed == nil {
		t.Fatalf("got %+v", msgs)
	}
	f := msgs[0].Embed.Fields[0]
	if n := len([]rune(f.Name)); n > maxFieldName {
		t.Errorf("field name has %d runes", n)
	}
	if n := len([]rune(f.Value)); n > maxFieldValue {
		t.Errorf("field value has %d runes", n)
	}
}

// ===================== quotes =====================

func TestBot_QuoteScenario(t *testing.T) {
	b, p, _ := newTestBot(t)

	say(b, "1", adminID, "!add_quote life is good")
	if got := lastText(t, p); got != "✅ 語録を追加しました: `life is good`" {
		t.Errorf("add = %q", got)
	}

	p.reset()
	say(b, "1", memberID, "!list_quotes")
	msgs := p.messages()
	if len(msgs) != 1 || msgs[0].Embed == nil || msgs[0].Embed.Description != "1: life is good" {
		t.Fatalf("list = %+v", msgs)
	}

	say(b, "1", adminID, "!remove_quote life is good")
	if got := lastText(t, p); got != "✅ 語録を削除しました: `life is good`" {
		t.Errorf("remove = %q", got)
	}

	p.reset()
	say(b, "1", memberID, "!list_quotes")
	if got := lastText(t, p); got != "登録された語録がありません" {
		t.Errorf("empty list = %q", got)
	}

	say(b, "1", adminID, "!remove_quote life is good")
	if got := lastText(t, p); got != "❌ 語録が見つかりませんでした" {
		t.Errorf("missing = %q", got)
	}
}

func TestBot_AddQuoteWithAttachment(t *testing.T) {
	b, p, _ := newTestBot(t)
	b.HandleMessage(context.Background(), IncomingMessage{
		GuildID:   "1",
		ChannelID: "10",
		AuthorID:  adminID,
		Content:   "!add_quote cat",
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "cat.PNG", URL: "https://cdn.discordapp.com/attachments/1/2/cat.PNG"},
		},
	})
	if got := lastText(t, p); got != "✅ 語録（画像付き）を追加しました: `cat`" {
		t.Errorf("got %q", got)
	}
	q := b.store.GetOrCreate("1").Quotes[0]
	if q.Image != "https://cdn.discordapp.com/attachments/1/2/cat.PNG" {
		t.Errorf("image = %q", q.Image)
	}

	b.HandleMessage(context.Background(), IncomingMessage{
		GuildID:     "1",
		ChannelID:   "10",
		AuthorID:    adminID,
		Content:     "!add_quote notes",
		Attachments: []*discordgo.MessageAttachment{{Filename: "notes.txt", URL: "https://cdn/notes.txt"}},
	})
	if q := b.store.GetOrCreate("1").Quotes[1]; q.HasImage() {
		t.Errorf("non-image attachment stored: %+v", q)
	}
}

func TestBot_AddQuoteMultiline(t *testing.T) {
	b, _, _ := newTestBot(t)
	say(b, "1", adminID, "!add_quote\nfirst line\nsecond line")
	g := b.store.GetOrCreate("1")
	if len(g.Quotes) != 1 || g.Quotes[0].Text != "first line\nsecond line" {
		t.Errorf("quotes = %+v", g.Quotes)
	}
}

func TestBot_FullWidthSpaceAfterCommand(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", adminID, "!add_quote\u3000人生は良い")
	g := b.store.GetOrCreate("1")
	if len(g.Quotes) != 1 || g.Quotes[0].Text != "人生は良い" {
		t.Fatalf("quotes = %+v", g.Quotes)
	}
	if got := lastText(t, p); got != "✅ 語録を追加しました: `人生は良い`" {
		t.Errorf("got %q", got)
	}
}

func TestBot_TestQuote(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", memberID, "!test_quote")
	if got := lastText(t, p); got != "語録が登録されていません" {
		t.Errorf("empty = %q", got)
	}

	if _, err := b.store.AddQuote("1", "only one", ""); err != nil {
		t.Fatal(err)
	}
	p.reset()
	say(b, "1", memberID, "!test_quote")
	if got := lastText(t, p); got != "only one" {
		t.Errorf("got %q", got)
	}
}

func TestBot_QuoteEcho(t *testing.T) {
	b, p, _ := newTestBot(t)
	if _, err := b.store.AddQuote("1", "ねむい", ""); err != nil {
		t.Fatal(err)
	}
	say(b, "1", memberID, "今日もねむいなあ")
	if got := lastText(t, p); got != "ねむい" {
		t.Errorf("echo = %q", got)
	}

	b.cfg.QuoteEcho = false
	p.reset()
	say(b, "1", memberID, "今日もねむいなあ")
	if msgs := p.messages(); len(msgs) != 0 {
		t.Errorf("echo disabled but got %+v", msgs)
	}
}

// ===================== set_channel / show_config =====================

func TestBot_SetChannel(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Snowflake
		reply   string
	}{
		{"current channel", "!set_channel", 10, "✅ 語録投稿チャンネルを <#10> に設定しました"},
		{"mention", "!set_channel <#10>", 10, "✅ 語録投稿チャンネルを <#10> に設定しました"},
		{"other guild", "!set_channel <#20>", 0, "❌ チャンネル <#20> が見つかりません\n使い方: `!set_channel [#チャンネル]`"},
		{"not an id", "!set_channel general", 0, "❌ \"general\" はチャンネルではありません\n使い方: `!set_channel [#チャンネル]`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p, _ := newTestBot(t)
			say(b, "1", adminID, tt.content)
			if got := lastText(t, p); got != tt.reply {
				t.Errorf("reply = %q, want %q", got, tt.reply)
			}
			if got := b.store.GetOrCreate("1").QuoteChannelID; got != tt.want {
				t.Errorf("channel = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBot_ShowConfig(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", memberID, "!show_config")
	if got := lastText(t, p); got != "このサーバーの設定がありません" {
		t.Errorf("absent = %q", got)
	}

	say(b, "1", adminID, "!set_channel")
	say(b, "1", adminID, "!add_quote a")
	say(b, "1", adminID, "!add_trigger x y")
	p.reset()
	say(b, "1", memberID, "!show_config")
	msgs := p.messages()
	if len(msgs) != 1 || msgs[0].Embed == nil {
		t.Fatalf("got %+v", msgs)
	}
	f := msgs[0].Embed.Fields
	if f[0].Value != "<#10>" || f[1].Value != "1個" || f[2].Value != "1個" {
		t.Errorf("fields = %s / %s / %s", f[0].Value, f[1].Value, f[2].Value)
	}
}

// ===================== permissions / errors =====================

func TestBot_AdminGate(t *testing.T) {
	tests := []struct {
		name   string
		author string
	}{
		{"member", memberID},
		{"permission lookup fails", "broken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p, backend := newTestBot(t)
			say(b, "1", tt.author, "!add_trigger hello hi!")
			if got := lastText(t, p); got != msgPermission {
				t.Errorf("reply = %q", got)
			}
			if b.store.Has("1") || backend.saves != 0 {
				t.Error("denied command changed the store")
			}
		})
	}
}

func TestBot_MissingArguments(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"!add_trigger", "❌ 引数が不足しています: `word`\n使い方: `!add_trigger <ワード> <応答>`"},
		{"!add_trigger hello", "❌ 引数が不足しています: `response`\n使い方: `!add_trigger <ワード> <応答>`"},
		{"!remove_trigger", "❌ 引数が不足しています: `word`\n使い方: `!remove_trigger <ワード>`"},
		{"!add_quote   ", "❌ 引数が不足しています: `quote`\n使い方: `!add_quote <語録>`"},
		{"!remove_quote", "❌ 引数が不足しています: `quote`\n使い方: `!remove_quote <語録>`"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			b, p, _ := newTestBot(t)
			say(b, "1", adminID, tt.content)
			if got := lastText(t, p); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBot_StorageFailure(t *testing.T) {
	b, p, backend := newTestBot(t)
	backend.saveErr = errors.New("disk full")
	say(b, "1", adminID, "!add_quote x")
	if got := lastText(t, p); got != msgStorage {
		t.Errorf("got %q", got)
	}
	if b.store.Has("1") {
		t.Error("failed write left state behind")
	}
}

func TestBot_UnknownCommandIgnored(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", adminID, "!does_not_exist foo")
	if msgs := p.messages(); len(msgs) != 0 {
		t.Errorf("expected silence, got %+v", msgs)
	}
}

func TestBot_Help(t *testing.T) {
	for _, name := range []string{"!help", "!help_bot"} {
		b, p, _ := newTestBot(t)
		say(b, "1", memberID, name)
		msgs := p.messages()
		if len(msgs) != 1 || msgs[0].Embed == nil {
			t.Fatalf("%s: got %+v", name, msgs)
		}
		var locked, open int
		for _, f := range msgs[0].Embed.Fields {
			if strings.HasPrefix(f.Name, "🔒 !") {
				locked++
			} else if strings.HasPrefix(f.Name, "!") {
				open++
			}
		}
		if locked != 5 || open != 6 {
			t.Errorf("%s: locked=%d open=%d", name, locked, open)
		}
	}
}

// ===================== media =====================

func newMediaBot(t *testing.T, s *fakeSearcher) (*Bot, *fakePlatform) {
	t.Helper()
	b, p, _ := newTestBot(t)
	b.media = NewMediaFetcher(s, NewMediaCache(), b.cfg.Media)
	return b, p
}

func TestBot_MediaCommand(t *testing.T) {
	s := &fakeSearcher{results: []SearchResult{
		{ID: "42", Text: strings.Repeat("あ", 250), Media: []SearchMedia{{Type: "photo", URL: "https://pbs.twimg.com/media/a.jpg"}}},
	}}
	b, p := newMediaBot(t, s)

	say(b, "1", memberID, "!かなたーと")
	msgs := p.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected notice and embed, got %+v", msgs)
	}
	if msgs[0].Text != "🔍 #かなたーと から画像を検索中..." {
		t.Errorf("notice = %q", msgs[0].Text)
	}
	e := msgs[1].Embed
	if e.Image.URL != "https://pbs.twimg.com/media/a.jpg" || e.Footer.Text != "Tweet ID: 42" {
		t.Errorf("embed = %+v", e)
	}
	if e.Description != strings.Repeat("あ", 200)+"..." {
		t.Errorf("description not truncated: %d runes", len([]rune(e.Description)))
	}

	p.reset()
	say(b, "1", memberID, "!かなたーと")
	msgs = p.messages()
	if len(msgs) != 1 || msgs[0].Embed.Footer.Text != "Tweet ID: 42 (キャッシュ)" {
		t.Errorf("cached reply = %+v", msgs)
	}
}

func TestBot_MediaErrors(t *testing.T) {
	tests := []struct {
		name    string
		results []SearchResult
		err     error
		want    string
	}{
		{"no images", []SearchResult{{ID: "1"}}, nil, "❌ #かなたーと の画像付きツイートが見つかりませんでした"},
		{"rate limited", nil, &RateLimitedError{Source: "twitter", RetryAfter: 90 * time.Second}, "❌ Twitter APIのレート制限に達しました。1m30s後に再試行してください。"},
		{"rate limited no hint", nil, &RateLimitedError{Source: "twitter"}, "❌ Twitter APIのレート制限に達しました。30分後に再試行してください。"},
		{"upstream", nil, &UpstreamError{Source: "twitter", Err: errors.New("HTTP 503")}, "❌ Twitter APIエラー: HTTP 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p := newMediaBot(t, &fakeSearcher{results: tt.results, err: tt.err})
			say(b, "1", memberID, "!かなたーと")
			if got := lastText(t, p); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBot_MediaDisabled(t *testing.T) {
	b, p, _ := newTestBot(t)
	say(b, "1", memberID, "!かなたーと")
	if got := lastText(t, p); got != "❌ Twitter APIが設定されていません" {
		t.Errorf("got %q", got)
	}
}

// ===================== helpers =====================

func TestPaginate(t *testing.T) {
	lines := []string{"aaaa", "bbbb", "cccc"}
	got := paginate(lines, 9)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Errorf("got %q", got)
	}
	if got := paginate([]string{"toolongline"}, 4); len(got) != 1 || got[0] != "toolongline" {
		t.Errorf("oversized line: %q", got)
	}
	if got := paginate(nil, 10); len(got) != 0 {
		t.Errorf("empty: %q", got)
	}
}
