package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version number
const VERSION = "2.0.0"

var statuses = []string{"!help でコマンド一覧", "語録を準備中", "反応ワードを待機中"}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "quotebot",
		Short:         "Discord bot for trigger replies and scheduled quotes",
		Version:       VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "quotebot.yaml", "settings file (YAML, optional)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to Discord and serve (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBot(cmd.Context(), configPath)
			},
		},
		newImportQuotesCmd(&configPath),
		newShowConfigCmd(&configPath),
	)
	return root
}

func newImportQuotesCmd(configPath *string) *cobra.Command {
	var guildID, path string
	cmd := &cobra.Command{
		Use:   "import-quotes",
		Short: "Import a legacy quotes.json into one guild",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, closeFn, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := ParseSnowflake(guildID); err != nil {
				return err
			}
			legacy, err := LoadLegacyQuotes(path)
			if err != nil {
				return err
			}
			n, err := store.ImportQuotes(guildID, legacy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d quotes into guild %s\n", n, len(legacy.Quotes), guildID)
			return nil
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "target guild id")
	cmd.Flags().StringVar(&path, "file", "quotes.json", "legacy quotes file")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func newShowConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print a per-guild summary of the stored config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, closeFn, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			for id, g := range store.Snapshot() {
				channel := "-"
				if g.HasChannel() {
					channel = g.QuoteChannelID.String()
				}
				fmt.Fprintf(out, "%s\tchannel=%s\ttriggers=%d\tquotes=%d\n", id, channel, len(g.Triggers), len(g.Quotes))
			}
			return nil
		},
	}
}

// bootstrap loads .env, settings, logging and the store.
func bootstrap(configPath string) (*Config, *Store, func(), error) {
	// Load .env
	_ = godotenv.Load()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	backend, closeFn, err := openBackend(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := OpenStore(backend)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return cfg, store, closeFn, nil
}

func openBackend(cfg *Config) (Backend, func(), error) {
	if cfg.Storage == "sqlite" {
		b, err := NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("DB init error: %w", err)
		}
		return b, func() { _ = b.Close() }, nil
	}
	return NewFileBackend(cfg.ConfigFile), func() {}, nil
}

// setupLogger installs the default slog logger. level: debug|info|warn|error,
// format: text|json.
func setupLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

func newMediaFetcher(cfg *Config) *MediaFetcher {
	var searcher Searcher
	switch cfg.Media.Backend {
	case "twitter":
		creds, err := LoadTwitterCredentials(cfg.Media.CredentialsFile)
		if err != nil {
			slog.Warn("twitter credentials unreadable; media search disabled", slog.Any("err", err))
			return nil
		}
		if creds == nil {
			slog.Info("no twitter credentials; media search disabled", slog.String("file", cfg.Media.CredentialsFile))
			return nil
		}
		hc, err := creds.HTTPClient(cfg.Media.Timeout)
		if err != nil {
			slog.Warn("twitter API setup error", slog.Any("err", err))
			return nil
		}
		searcher = NewTwitterSearcher(hc)
	case "nitter":
		searcher = NewNitterSearcher(cfg.Media.NitterInstance, cfg.Media.Timeout)
	default:
		return nil
	}
	slog.Info("media search enabled", slog.String("backend", searcher.Name()), slog.String("hashtag", cfg.Media.Hashtag))
	return NewMediaFetcher(searcher, NewMediaCache(), cfg.Media)
}

func runBot(parent context.Context, configPath string) error {
	cfg, store, closeStore, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := cfg.ResolveToken(); err != nil {
		return err
	}
	cadence, err := ParseCadence(cfg.Broadcast.Schedule, cfg.Broadcast.Timezone)
	if err != nil {
		return err
	}

	initMetrics()
	shutdownTracing, err := initTracing(cfg.OTLPAddr)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent | discordgo.IntentsGuilds

	platform := NewDiscordPlatform(dg)
	bot := NewBot(cfg, store, platform, newMediaFetcher(cfg))
	broadcaster := NewBroadcaster(store, platform, cadence)

	// Add handlers
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("logged in", slog.String("user", s.State.User.Username), slog.String("id", s.State.User.ID), slog.Int("guilds", len(r.Guilds)))
		broadcaster.MarkReady()
	})
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		onMessageCreate(ctx, bot, s, m)
	})
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		onGuildCreate(store, g)
	})

	// Open websocket
	if err := dg.Open(); err != nil {
		return fmt.Errorf("cannot open the session: %w", err)
	}
	defer dg.Close()

	go broadcaster.Run(ctx)
	go startStatusRotator(ctx, dg)

	slog.Info("bot is now running, press CTRL-C to exit", slog.String("version", VERSION), slog.String("broadcast", cadence.String()))
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

func onMessageCreate(ctx context.Context, bot *Bot, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	// ignore own messages
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	bot.HandleMessage(ctx, IncomingMessage{
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		AuthorBot:   m.Author.Bot,
		Content:     m.Content,
		Attachments: m.Attachments,
	})
}

// onGuildCreate only logs; an unconfigured guild is not written until an
// admin changes something.
func onGuildCreate(store *Store, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Guild.ID == "" {
		return
	}
	slog.Info("guild available",
		slog.String("guild", g.Guild.ID),
		slog.String("name", g.Guild.Name),
		slog.Bool("configured", store.Has(g.Guild.ID)))
}

func startStatusRotator(ctx context.Context, s *discordgo.Session) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	idx := 0
	// set initial presence immediately
	_ = updateStatus(s, statuses[idx])
	for {
		select {
		case <-ticker.C:
			idx = (idx + 1) % len(statuses)
			_ = updateStatus(s, statuses[idx])
		case <-ctx.Done():
			return
		}
	}
}

func updateStatus(s *discordgo.Session, text string) error {
	act := &discordgo.Activity{
		Name: text,
		Type: discordgo.ActivityTypeWatching,
	}
	return s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{act},
	})
}
