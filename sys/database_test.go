package sys

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

func initTestDB(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	if err := InitDatabase(context.Background(), path+"?_journal_mode=WAL&_timeout=5000"); err != nil {
		t.Fatalf("InitDatabase: %v", err)
	}
	t.Cleanup(CloseDatabase)
}

func TestGuildOptionsDefaults(t *testing.T) {
	initTestDB(t)
	ctx := context.Background()

	opts, err := GetGuildOptions(ctx, 12345)
	if err != nil {
		t.Fatalf("GetGuildOptions: %v", err)
	}
	if opts.DJRoleID != 0 || opts.AnnounceSongs || opts.PreventDuplicates || opts.MaxQueueLength != 0 {
		t.Errorf("unexpected defaults: %+v", opts)
	}
	if !opts.DisplayLists {
		t.Error("DisplayLists should default to true")
	}
}

func TestGuildOptionsRoundTrip(t *testing.T) {
	initTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(999)

	if err := SetDJRole(ctx, guildID, 42); err != nil {
		t.Fatalf("SetDJRole: %v", err)
	}
	if err := SetAnnounceSongs(ctx, guildID, true); err != nil {
		t.Fatalf("SetAnnounceSongs: %v", err)
	}
	if err := SetPreventDuplicates(ctx, guildID, true); err != nil {
		t.Fatalf("SetPreventDuplicates: %v", err)
	}
	if err := SetMaxQueueLength(ctx, guildID, 50); err != nil {
		t.Fatalf("SetMaxQueueLength: %v", err)
	}
	if err := SetDisplayLists(ctx, guildID, false); err != nil {
		t.Fatalf("SetDisplayLists: %v", err)
	}

	opts, err := GetGuildOptions(ctx, guildID)
	if err != nil {
		t.Fatalf("GetGuildOptions: %v", err)
	}
	if opts.DJRoleID != 42 {
		t.Errorf("DJRoleID = %d, want 42", opts.DJRoleID)
	}
	if !opts.AnnounceSongs || !opts.PreventDuplicates {
		t.Errorf("toggles not persisted: %+v", opts)
	}
	if opts.MaxQueueLength != 50 {
		t.Errorf("MaxQueueLength = %d, want 50", opts.MaxQueueLength)
	}
	if opts.DisplayLists {
		t.Error("DisplayLists should be off")
	}

	// Clearing the DJ role restores open access.
	if err := SetDJRole(ctx, guildID, 0); err != nil {
		t.Fatalf("SetDJRole(0): %v", err)
	}
	opts, err = GetGuildOptions(ctx, guildID)
	if err != nil {
		t.Fatal(err)
	}
	if opts.DJRoleID != 0 {
		t.Errorf("DJRoleID = %d after clear, want 0", opts.DJRoleID)
	}
}

func TestBlacklist(t *testing.T) {
	initTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(1)

	blacklisted, err := IsChannelBlacklisted(ctx, guildID, 100)
	if err != nil || blacklisted {
		t.Fatalf("IsChannelBlacklisted = %v, %v on empty table", blacklisted, err)
	}

	if err := BlacklistChannel(ctx, guildID, 100); err != nil {
		t.Fatalf("BlacklistChannel: %v", err)
	}
	// Idempotent
	if err := BlacklistChannel(ctx, guildID, 100); err != nil {
		t.Fatalf("BlacklistChannel twice: %v", err)
	}
	if err := BlacklistChannel(ctx, guildID, 200); err != nil {
		t.Fatalf("BlacklistChannel: %v", err)
	}

	blacklisted, err = IsChannelBlacklisted(ctx, guildID, 100)
	if err != nil || !blacklisted {
		t.Errorf("IsChannelBlacklisted = %v, %v, want true", blacklisted, err)
	}
	// Other guilds are unaffected.
	blacklisted, err = IsChannelBlacklisted(ctx, 2, 100)
	if err != nil || blacklisted {
		t.Errorf("IsChannelBlacklisted(other guild) = %v, %v, want false", blacklisted, err)
	}

	channels, err := GetBlacklistedChannels(ctx, guildID)
	if err != nil || len(channels) != 2 {
		t.Errorf("GetBlacklistedChannels = %v, %v, want 2 entries", channels, err)
	}

	removed, err := UnblacklistChannel(ctx, guildID, 100)
	if err != nil || !removed {
		t.Errorf("UnblacklistChannel = %v, %v, want removed", removed, err)
	}
	removed, err = UnblacklistChannel(ctx, guildID, 100)
	if err != nil || removed {
		t.Errorf("UnblacklistChannel twice = %v, %v, want false", removed, err)
	}
}

func TestBotConfig(t *testing.T) {
	initTestDB(t)
	ctx := context.Background()

	val, err := GetBotConfig(ctx, "missing")
	if err != nil || val != "" {
		t.Fatalf("GetBotConfig(missing) = %q, %v", val, err)
	}
	if err := SetBotConfig(ctx, "cmd_hash", "abc123"); err != nil {
		t.Fatalf("SetBotConfig: %v", err)
	}
	if err := SetBotConfig(ctx, "cmd_hash", "def456"); err != nil {
		t.Fatalf("SetBotConfig update: %v", err)
	}
	val, err = GetBotConfig(ctx, "cmd_hash")
	if err != nil || val != "def456" {
		t.Errorf("GetBotConfig = %q, %v, want def456", val, err)
	}
}
