package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/player"
	"github.com/leeineian/hibiki/sys"
)

func intPtr(i int) *int {
	return &i
}

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music playback",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Queue a track from a URL, search query or attachment",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "URL, message link or song name",
						Required:     false,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionAttachment{
						Name:        "attachment",
						Description: "An audio file to play",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "playnow",
				Description: "Play a track immediately, interrupting the current one",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "URL, message link or song name",
						Required:     false,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionAttachment{
						Name:        "attachment",
						Description: "An audio file to play",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "join",
				Description: "Summon the bot to your voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "disconnect",
				Description: "Disconnect and drop the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skipto",
				Description: "Skip ahead to a queue position",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position to jump to (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "replay",
				Description: "Restart the current track from the beginning",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "loop",
				Description: "Toggle looping of the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "qloop",
				Description: "Toggle looping of the whole queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "move",
				Description: "Move a queued track to another position",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "from",
						Description: "Current position (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
					discord.ApplicationCommandOptionInt{
						Name:        "to",
						Description: "Target position (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a queued track",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position to remove (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "rmdupes",
				Description: "Remove duplicate tracks from the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "nowplaying",
				Description: "Show the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
		},
	}, handleMusic)

	sys.RegisterAutocompleteHandler("music", handleMusicAutocomplete)
	sys.RegisterComponentHandler("music:", handleMusicComponent)

	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "musicset",
		Description:              "Per-server playback settings (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "show",
				Description: "Show the current settings",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "djrole",
				Description: "Restrict playback control to a role (omit to clear)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionRole{
						Name:        "role",
						Description: "The DJ role",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "announce",
				Description: "Announce each track as it starts",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Whether announcements are on",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "dupes",
				Description: "Reject duplicate tracks on add",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "prevent",
						Description: "Whether duplicates are rejected",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "maxqueue",
				Description: "Cap the queue length (0 for unlimited)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "length",
						Description: "Maximum queued tracks",
						Required:    true,
						MinValue:    intPtr(0),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "lists",
				Description: "Allow full queue listings in chat",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Whether queue listings are shown",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "blacklist",
				Description: "Block or unblock music commands in a channel",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionChannel{
						Name:        "channel",
						Description: "The channel to toggle",
						Required:    true,
					},
				},
			},
		},
	}, handleMusicSettings)
}

// ===========================
// Routing
// ===========================

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if event.GuildID() == nil {
		respond(event, "Music commands only work in a server.")
		return
	}
	guildID := *event.GuildID()

	if data.SubCommandName == nil {
		return
	}
	sub := *data.SubCommandName

	// Blacklisted channels reject everything except settings.
	if blocked, err := sys.IsChannelBlacklisted(context.Background(), guildID, event.Channel().ID()); err == nil && blocked {
		respond(event, "Music commands are disabled in this channel.")
		return
	}

	// Read-only subcommands skip the DJ gate.
	switch sub {
	case "nowplaying":
		handleMusicNowPlaying(event)
		return
	case "queue":
		handleMusicQueue(event)
		return
	}

	if !isDJ(event, guildID) {
		respond(event, "You need the DJ role to control playback.")
		return
	}

	switch sub {
	case "play":
		handleMusicPlay(event, data, false)
	case "playnow":
		handleMusicPlay(event, data, true)
	case "join":
		handleMusicJoin(event)
	case "disconnect":
		handleMusicDisconnect(event)
	case "skip":
		withSession(event, func(s *player.Session) (string, error) {
			return "Skipped.", s.Skip()
		})
	case "skipto":
		pos := data.Int("position")
		withSession(event, func(s *player.Session) (string, error) {
			return fmt.Sprintf("Skipped to position %d.", pos), s.SkipTo(pos - 1)
		})
	case "replay":
		withSession(event, func(s *player.Session) (string, error) {
			return "Replaying from the top.", s.Replay()
		})
	case "pause":
		withSession(event, func(s *player.Session) (string, error) {
			return "Paused.", s.Pause()
		})
	case "resume":
		withSession(event, func(s *player.Session) (string, error) {
			return "Resumed.", s.Resume()
		})
	case "loop":
		withSession(event, func(s *player.Session) (string, error) {
			on, err := s.ToggleLoopTrack()
			return loopMessage("Track loop", on), err
		})
	case "qloop":
		withSession(event, func(s *player.Session) (string, error) {
			on, err := s.ToggleLoopQueue()
			return loopMessage("Queue loop", on), err
		})
	case "shuffle":
		withSession(event, func(s *player.Session) (string, error) {
			return "Queue shuffled.", s.Shuffle()
		})
	case "move":
		from, to := data.Int("from"), data.Int("to")
		withSession(event, func(s *player.Session) (string, error) {
			return fmt.Sprintf("Moved track %d to position %d.", from, to), s.Move(from-1, to-1)
		})
	case "remove":
		pos := data.Int("position")
		withSession(event, func(s *player.Session) (string, error) {
			t, err := s.Remove(pos - 1)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Removed **%s**.", t.Title()), nil
		})
	case "rmdupes":
		withSession(event, func(s *player.Session) (string, error) {
			n, err := s.RemoveDuplicates()
			return fmt.Sprintf("Removed %d duplicate(s).", n), err
		})
	case "clear":
		withSession(event, func(s *player.Session) (string, error) {
			n, err := s.Clear()
			return fmt.Sprintf("Cleared %d track(s).", n), err
		})
	}
}

func loopMessage(what string, on bool) string {
	if on {
		return what + " enabled."
	}
	return what + " disabled."
}

// ===========================
// Subcommand Handlers
// ===========================

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, playNow bool) {
	guildID := *event.GuildID()
	userID := event.User().ID

	query, hasQuery := data.OptString("query")
	att, hasAtt := data.OptAttachment("attachment")
	if !hasQuery && !hasAtt {
		respond(event, "Give me a query, a URL or an attachment.")
		return
	}

	// Resolution can involve search and yt-dlp, so acknowledge first.
	if err := event.DeferCreateMessage(false); err != nil {
		return
	}

	s, err := musicSession(event, guildID)
	if err != nil {
		followUp(event, userMessage(err))
		return
	}
	setAnnounceChannel(guildID, event.Channel().ID())

	var track *player.Track
	if hasAtt {
		pa := player.Attachment{URL: att.URL, Filename: att.Filename}
		if att.ContentType != nil {
			pa.ContentType = *att.ContentType
		}
		track = player.NewTrack(att.URL, userID, Resolvers.ForAttachment(pa))
	} else {
		url, err := resolveQuery(query)
		if err != nil {
			followUp(event, "I could not find anything for that query.")
			return
		}
		resolver, err := Resolvers.ForURL(url)
		if err != nil {
			followUp(event, userMessage(err))
			return
		}
		track = player.NewTrack(url, userID, resolver)
	}

	if playNow {
		err = s.PlayNow(track)
	} else {
		err = s.Add(track)
	}
	if err != nil {
		followUp(event, userMessage(err))
		return
	}

	if playNow {
		followUp(event, fmt.Sprintf("Playing **%s** now.", track.Title()))
	} else {
		followUp(event, fmt.Sprintf("Queued **%s**.", track.Title()))
	}
}

func handleMusicJoin(event *events.ApplicationCommandInteractionCreate) {
	guildID := *event.GuildID()

	// Connecting retries with backoff and can outlast the ack window.
	if err := event.DeferCreateMessage(false); err != nil {
		return
	}
	if _, err := musicSession(event, guildID); err != nil {
		followUp(event, userMessage(err))
		return
	}
	followUp(event, "Joined your voice channel.")
}

func handleMusicDisconnect(event *events.ApplicationCommandInteractionCreate) {
	withSession(event, func(s *player.Session) (string, error) {
		return "Disconnected.", s.Disconnect()
	})
}

func handleMusicNowPlaying(event *events.ApplicationCommandInteractionCreate) {
	s, err := Players.Get(*event.GuildID())
	if err != nil {
		respond(event, userMessage(err))
		return
	}
	t := s.NowPlaying()
	if t == nil {
		respond(event, "Nothing is playing right now.")
		return
	}
	state := ""
	if s.State() == player.StatePaused {
		state = " (paused)"
	}
	loopTrack, loopQueue := s.LoopFlags()
	if loopTrack {
		state += " [looping track]"
	}
	if loopQueue {
		state += " [looping queue]"
	}
	respond(event, fmt.Sprintf("Now playing: **%s**%s", t.Title(), state))
}

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(queueContent(*event.GuildID())).
		AddComponents(discord.NewActionRow(
			discord.NewSecondaryButton("Refresh", "music:queue:refresh"),
		)).
		Build())
}

// queueContent renders the queue for both the slash reply and the refresh
// button.
func queueContent(guildID snowflake.ID) string {
	s, err := Players.Get(guildID)
	if err != nil {
		return userMessage(err)
	}

	tracks := s.Snapshot()
	if len(tracks) == 0 {
		return "The queue is empty."
	}

	opts, err := sys.GetGuildOptions(context.Background(), guildID)
	if err == nil && !opts.DisplayLists {
		return fmt.Sprintf("%d track(s) queued.", len(tracks))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Queue** (%d):\n", len(tracks))
	for i, t := range tracks {
		if i >= 20 {
			fmt.Fprintf(&b, "...and %d more", len(tracks)-i)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, TruncateCenter(t.Title(), 80))
	}
	return b.String()
}

func handleMusicComponent(event *events.ComponentInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	switch event.Data.CustomID() {
	case "music:queue:refresh":
		_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
			SetContent(queueContent(*event.GuildID())).
			Build())
	}
}

func handleMusicSettings(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if event.GuildID() == nil {
		respond(event, "Settings only work in a server.")
		return
	}
	guildID := *event.GuildID()
	if data.SubCommandName == nil {
		return
	}

	ctx := context.Background()
	switch *data.SubCommandName {
	case "show":
		opts, err := sys.GetGuildOptions(ctx, guildID)
		if err != nil {
			respond(event, userMessage(err))
			return
		}
		dj := "not set"
		if opts.DJRoleID != 0 {
			dj = fmt.Sprintf("<@&%s>", opts.DJRoleID)
		}
		maxQueue := "unlimited"
		if opts.MaxQueueLength > 0 {
			maxQueue = fmt.Sprintf("%d", opts.MaxQueueLength)
		}
		blacklist, _ := sys.GetBlacklistedChannels(ctx, guildID)
		respond(event, fmt.Sprintf(
			"DJ role: %s\nAnnounce songs: %t\nPrevent duplicates: %t\nMax queue length: %s\nDisplay lists: %t\nBlacklisted channels: %d",
			dj, opts.AnnounceSongs, opts.PreventDuplicates, maxQueue, opts.DisplayLists, len(blacklist)))
	case "djrole":
		role, ok := data.OptRole("role")
		var err error
		if ok {
			err = sys.SetDJRole(ctx, guildID, role.ID)
		} else {
			err = sys.SetDJRole(ctx, guildID, 0)
		}
		if err != nil {
			respond(event, userMessage(err))
			return
		}
		if ok {
			respond(event, fmt.Sprintf("DJ role set to <@&%s>.", role.ID))
		} else {
			respond(event, "DJ role cleared.")
		}
	case "announce":
		enabled := data.Bool("enabled")
		if err := sys.SetAnnounceSongs(ctx, guildID, enabled); err != nil {
			respond(event, userMessage(err))
			return
		}
		respond(event, loopMessage("Track announcements", enabled))
	case "dupes":
		prevent := data.Bool("prevent")
		if err := sys.SetPreventDuplicates(ctx, guildID, prevent); err != nil {
			respond(event, userMessage(err))
			return
		}
		respond(event, loopMessage("Duplicate prevention", prevent))
	case "maxqueue":
		length := data.Int("length")
		if err := sys.SetMaxQueueLength(ctx, guildID, length); err != nil {
			respond(event, userMessage(err))
			return
		}
		if length == 0 {
			respond(event, "Queue length is now unlimited.")
		} else {
			respond(event, fmt.Sprintf("Queue capped at %d tracks.", length))
		}
	case "lists":
		enabled := data.Bool("enabled")
		if err := sys.SetDisplayLists(ctx, guildID, enabled); err != nil {
			respond(event, userMessage(err))
			return
		}
		respond(event, loopMessage("Queue listings", enabled))
	case "blacklist":
		channel := data.Channel("channel")
		removed, err := sys.UnblacklistChannel(ctx, guildID, channel.ID)
		if err != nil {
			respond(event, userMessage(err))
			return
		}
		if removed {
			respond(event, fmt.Sprintf("Music commands re-enabled in <#%s>.", channel.ID))
			return
		}
		if err := sys.BlacklistChannel(ctx, guildID, channel.ID); err != nil {
			respond(event, userMessage(err))
			return
		}
		respond(event, fmt.Sprintf("Music commands disabled in <#%s>.", channel.ID))
	}
}

// ===========================
// Autocomplete
// ===========================

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		_ = event.AutocompleteResult(nil)
		return
	}
	q := strings.TrimSpace(focused.String())
	if q == "" || strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") {
		_ = event.AutocompleteResult(nil)
		return
	}

	results, err := Search(q)
	if err != nil || len(results) == 0 {
		_ = event.AutocompleteResult(nil)
		return
	}
	choices := make([]discord.AutocompleteChoice, 0, len(results))
	for _, r := range results {
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  TruncateCenter(r.Title, 100),
			Value: r.URL,
		})
	}
	_ = event.AutocompleteResult(choices)
}

// ===========================
// Helpers
// ===========================

// musicSession returns the guild's session, creating one bound to the
// caller's voice channel if needed.
func musicSession(event *events.ApplicationCommandInteractionCreate, guildID snowflake.ID) (*player.Session, error) {
	client := event.Client()
	vs, ok := client.Caches.VoiceState(guildID, event.User().ID)
	if !ok || vs.ChannelID == nil {
		return nil, player.ErrCallerNotConnected
	}
	channelID := *vs.ChannelID

	return Players.GetOrCreate(guildID, func() (player.Sink, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return connectSink(ctx, client, guildID, channelID)
	}, sessionConfig(client, guildID))
}

// withSession runs op against the guild's live session and replies with
// either the success message or the mapped error.
func withSession(event *events.ApplicationCommandInteractionCreate, op func(*player.Session) (string, error)) {
	s, err := Players.Get(*event.GuildID())
	if err != nil {
		respond(event, userMessage(err))
		return
	}
	msg, err := op(s)
	if err != nil {
		respond(event, userMessage(err))
		return
	}
	respond(event, msg)
}

func isDJ(event *events.ApplicationCommandInteractionCreate, guildID snowflake.ID) bool {
	member := event.Member()
	if member == nil {
		return false
	}
	if isOwner(event.User().ID) {
		return true
	}
	if member.Permissions.Has(discord.PermissionAdministrator) {
		return true
	}
	opts, err := sys.GetGuildOptions(context.Background(), guildID)
	if err != nil || opts.DJRoleID == 0 {
		return true
	}
	for _, roleID := range member.RoleIDs {
		if roleID == opts.DJRoleID {
			return true
		}
	}
	return false
}

// isOwner reports whether userID appears in OWNER_IDS.
func isOwner(userID snowflake.ID) bool {
	if sys.GlobalConfig == nil {
		return false
	}
	for _, id := range sys.GlobalConfig.OwnerIDs {
		if id == userID.String() {
			return true
		}
	}
	return false
}

func respond(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		Build())
}

func followUp(event *events.ApplicationCommandInteractionCreate, content string) {
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(content).
		Build())
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, player.ErrNoActiveSession):
		return "Nothing is playing in this server."
	case errors.Is(err, player.ErrSessionDisconnected):
		return "That session is gone. Start a new one with /music play."
	case errors.Is(err, player.ErrCallerNotConnected):
		return "You need to be in a voice channel first."
	case errors.Is(err, player.ErrQueueFull):
		return "The queue is full."
	case errors.Is(err, player.ErrDuplicateTrack):
		return "That track is already queued."
	case errors.Is(err, player.ErrNothingPlaying):
		return "Nothing is playing right now."
	case errors.Is(err, player.ErrIndexOutOfRange):
		return "That queue position does not exist."
	case errors.Is(err, player.ErrResolutionFailed):
		return "I could not turn that into playable audio."
	default:
		return "Something went wrong: " + err.Error()
	}
}
