package main

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"

	"github.com/leeineian/hibiki/player"
	"github.com/leeineian/hibiki/sys"
)

const defaultAudioCacheDir = ".tracks"

// audioCacheDir honors AUDIO_CACHE_DIR once the config is loaded.
func audioCacheDir() string {
	if sys.GlobalConfig != nil && sys.GlobalConfig.CacheDir != "" {
		return sys.GlobalConfig.CacheDir
	}
	return defaultAudioCacheDir
}

var (
	// Players holds one playback session per guild.
	Players = player.NewRegistry()

	// Resolvers turns play requests into local audio files. The limiter
	// bounds concurrent yt-dlp spawns.
	Resolvers = &player.Resolvers{
		CacheDir: defaultAudioCacheDir,
		Client:   &http.Client{Timeout: 5 * time.Minute},
		Limiter:  rate.NewLimiter(rate.Every(2*time.Second), 2),
	}

	// announceChannels remembers where the last play command came from, per
	// guild, so track announcements land in the right channel.
	announceChannels   = map[snowflake.ID]snowflake.ID{}
	announceChannelsMu sync.Mutex
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)

	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		// The cache is transient; every start begins with an empty directory.
		dir := audioCacheDir()
		if err := os.RemoveAll(dir); err != nil {
			sys.LogVoice("Failed to clean audio cache: %v", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			sys.LogVoice("Failed to create audio cache dir: %v", err)
		}
		Resolvers.CacheDir = dir

		Resolvers.Fetcher = &restMessageFetcher{client: client}

		sys.RegisterDaemon(sys.LogVoice, func(ctx context.Context) (bool, func(), func()) {
			sweepCtx, cancel := context.WithCancel(ctx)
			run := func() {
				ticker := time.NewTicker(1 * time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-sweepCtx.Done():
						return
					case <-ticker.C:
						if n := Players.Sweep(); n > 0 {
							sys.LogVoice("Sweep closed %d stale sessions", n)
						}
					}
				}
			}
			shutdown := func() {
				cancel()
				sys.LogVoice("Shutting down playback sessions...")
				Players.Shutdown()
			}
			return true, run, shutdown
		})

		sys.RegisterVoiceStateUpdateHandler(onGuildVoiceStateUpdate)
	})
}

// onGuildVoiceStateUpdate tears down the session when the bot itself is
// removed from a voice channel by an external event (kick, channel delete).
func onGuildVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.UserID != event.Client().ID() {
		return
	}
	if event.VoiceState.ChannelID != nil {
		return
	}
	s, err := Players.Get(event.VoiceState.GuildID)
	if err != nil {
		return
	}
	sys.LogVoice("Bot disconnected by external event in guild %s", event.VoiceState.GuildID)
	_ = s.Disconnect()
}

// connectSink opens a voice connection with retries and wraps it as a sink.
func connectSink(ctx context.Context, client *bot.Client, guildID, channelID snowflake.ID) (player.Sink, error) {
	conn := client.VoiceManager.CreateConn(guildID)

	sys.LogVoice("Joining channel %s in guild %s", channelID, guildID)

	var lastErr error
	for i := range 5 {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 1000 * time.Millisecond
			sys.LogVoice("Retrying voice connection in %v (Attempt %d/5)", backoff, i+1)
			time.Sleep(backoff)
		}
		if err := conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		sys.LogVoice("Failed to connect to voice in guild %s after 5 attempts: %v", guildID, lastErr)
		conn.Close(ctx)
		return nil, lastErr
	}
	return newVoiceSink(conn), nil
}

// sessionConfig builds the per-guild playback configuration, backed by the
// stored guild options.
func sessionConfig(client *bot.Client, guildID snowflake.ID) player.Config {
	return player.Config{
		IdleTimeout: idleTimeout(),
		Settings: func() player.Settings {
			opts, err := sys.GetGuildOptions(context.Background(), guildID)
			if err != nil {
				return player.Settings{}
			}
			return player.Settings{
				MaxQueueLength:    opts.MaxQueueLength,
				PreventDuplicates: opts.PreventDuplicates,
			}
		},
		OnTrackStart: func(t *player.Track) {
			sys.LogPlayer("Now playing in guild %s: %s", guildID, t.Title())
			announceTrack(client, guildID, t)
		},
		OnTrackError: func(t *player.Track, err error) {
			sys.LogPlayer("Track failed in guild %s: %s (%v)", guildID, t.Title(), err)
		},
	}
}

func idleTimeout() time.Duration {
	if sys.GlobalConfig != nil && sys.GlobalConfig.IdleTimeout > 0 {
		return sys.GlobalConfig.IdleTimeout
	}
	return player.DefaultIdleTimeout
}

func setAnnounceChannel(guildID, channelID snowflake.ID) {
	announceChannelsMu.Lock()
	announceChannels[guildID] = channelID
	announceChannelsMu.Unlock()
}

func announceTrack(client *bot.Client, guildID snowflake.ID, t *player.Track) {
	opts, err := sys.GetGuildOptions(context.Background(), guildID)
	if err != nil || !opts.AnnounceSongs {
		return
	}

	announceChannelsMu.Lock()
	channelID, ok := announceChannels[guildID]
	announceChannelsMu.Unlock()
	if !ok {
		return
	}

	_, err = client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContentf("Now playing: **%s**", t.Title()).
		Build())
	if err != nil {
		sys.LogPlayer("Failed to announce track in guild %s: %v", guildID, err)
	}
}

// restMessageFetcher resolves message links through the Discord REST API.
type restMessageFetcher struct {
	client *bot.Client
}

func (f *restMessageFetcher) FetchAttachments(ctx context.Context, channelID, messageID snowflake.ID) ([]player.Attachment, error) {
	msg, err := f.client.Rest.GetMessage(channelID, messageID)
	if err != nil {
		return nil, err
	}
	atts := make([]player.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		att := player.Attachment{
			URL:      a.URL,
			Filename: a.Filename,
		}
		if a.ContentType != nil {
			att.ContentType = *a.ContentType
		}
		atts = append(atts, att)
	}
	return atts, nil
}
