package sys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	_ "github.com/mattn/go-sqlite3"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS guild_options (
			guild_id TEXT PRIMARY KEY,
			dj_role_id TEXT,
			announce_songs INTEGER DEFAULT 0,
			prevent_duplicates INTEGER DEFAULT 0,
			max_queue_length INTEGER DEFAULT 0,
			display_lists INTEGER DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_blacklist (
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			PRIMARY KEY (guild_id, channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Guild Options ---

// GuildOptions are the per-guild playback settings. Zero MaxQueueLength means
// unlimited.
type GuildOptions struct {
	GuildID           snowflake.ID
	DJRoleID          snowflake.ID
	AnnounceSongs     bool
	PreventDuplicates bool
	MaxQueueLength    int
	DisplayLists      bool
}

func defaultGuildOptions(guildID snowflake.ID) *GuildOptions {
	return &GuildOptions{
		GuildID:      guildID,
		DisplayLists: true,
	}
}

// GetGuildOptions returns the stored options for a guild, or the defaults when
// the guild has never been configured.
func GetGuildOptions(ctx context.Context, guildID snowflake.ID) (*GuildOptions, error) {
	row := DB.QueryRowContext(ctx, `
		SELECT dj_role_id, announce_songs, prevent_duplicates, max_queue_length, display_lists
		FROM guild_options WHERE guild_id = ?
	`, guildID.String())

	var djRole sql.NullString
	var announce, prevent, display int
	opts := defaultGuildOptions(guildID)

	err := row.Scan(&djRole, &announce, &prevent, &opts.MaxQueueLength, &display)
	if err == sql.ErrNoRows {
		return opts, nil
	}
	if err != nil {
		return nil, err
	}

	if djRole.Valid && djRole.String != "" {
		opts.DJRoleID, _ = snowflake.Parse(djRole.String)
	}
	opts.AnnounceSongs = announce == 1
	opts.PreventDuplicates = prevent == 1
	opts.DisplayLists = display == 1
	return opts, nil
}

func setGuildOption(ctx context.Context, guildID snowflake.ID, column string, value any) error {
	_, err := DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO guild_options (guild_id, %s) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET %s = excluded.%s, updated_at = CURRENT_TIMESTAMP
	`, column, column, column), guildID.String(), value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func SetDJRole(ctx context.Context, guildID, roleID snowflake.ID) error {
	val := ""
	if roleID != 0 {
		val = roleID.String()
	}
	return setGuildOption(ctx, guildID, "dj_role_id", val)
}

func SetAnnounceSongs(ctx context.Context, guildID snowflake.ID, enabled bool) error {
	return setGuildOption(ctx, guildID, "announce_songs", boolToInt(enabled))
}

func SetPreventDuplicates(ctx context.Context, guildID snowflake.ID, enabled bool) error {
	return setGuildOption(ctx, guildID, "prevent_duplicates", boolToInt(enabled))
}

func SetMaxQueueLength(ctx context.Context, guildID snowflake.ID, length int) error {
	return setGuildOption(ctx, guildID, "max_queue_length", length)
}

func SetDisplayLists(ctx context.Context, guildID snowflake.ID, enabled bool) error {
	return setGuildOption(ctx, guildID, "display_lists", boolToInt(enabled))
}

// --- Channel Blacklist ---

func BlacklistChannel(ctx context.Context, guildID, channelID snowflake.ID) error {
	_, err := DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO guild_blacklist (guild_id, channel_id) VALUES (?, ?)
	`, guildID.String(), channelID.String())
	return err
}

func UnblacklistChannel(ctx context.Context, guildID, channelID snowflake.ID) (bool, error) {
	result, err := DB.ExecContext(ctx,
		"DELETE FROM guild_blacklist WHERE guild_id = ? AND channel_id = ?",
		guildID.String(), channelID.String())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func IsChannelBlacklisted(ctx context.Context, guildID, channelID snowflake.ID) (bool, error) {
	var count int
	err := DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM guild_blacklist WHERE guild_id = ? AND channel_id = ?",
		guildID.String(), channelID.String()).Scan(&count)
	return count > 0, err
}

func GetBlacklistedChannels(ctx context.Context, guildID snowflake.ID) ([]snowflake.ID, error) {
	rows, err := DB.QueryContext(ctx,
		"SELECT channel_id FROM guild_blacklist WHERE guild_id = ?", guildID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []snowflake.ID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			continue
		}
		id, _ := snowflake.Parse(idStr)
		channels = append(channels, id)
	}
	return channels, nil
}
