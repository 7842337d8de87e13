package store

import (
	"context"
	"fmt"
	"strings"

	"tweetgraph/internal/errs"
)

// SchemaVersion is written by Initialize and required by every other job.
const SchemaVersion = "1.0.0"

// tables in creation order; dropped in reverse.
var tables = []struct{ name, ddl string }{
	{"schema_version", `CREATE TABLE schema_version (
	  version TEXT NOT NULL,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"user", `CREATE TABLE "user" (
	  user_id BIGINT NOT NULL PRIMARY KEY,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"stg_user", stagingDDL["stg_user"]},
	{"url", `CREATE TABLE url (
	  url_id {{pk}},
	  url TEXT NOT NULL,
	  unique_hash VARCHAR(40) NOT NULL UNIQUE,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"user_data", `CREATE TABLE user_data (
	  user_data_id {{pk}},
	  user_id BIGINT NOT NULL REFERENCES "user" (user_id),
	  api_response TEXT NOT NULL,
	  screen_name TEXT NOT NULL,
	  create_dt {{ts}},
	  protected BOOLEAN,
	  verified BOOLEAN,
	  display_name TEXT,
	  description TEXT,
	  location TEXT,
	  friends_count INTEGER,
	  followers_count INTEGER,
	  listed_count INTEGER,
	  url_id BIGINT REFERENCES url (url_id),
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"idx_user_data_user_id", `CREATE INDEX idx_user_data_user_id ON user_data (user_id)`},
	{"idx_user_data_screen_name", `CREATE INDEX idx_user_data_screen_name ON user_data (lower(screen_name))`},
	{"tag", `CREATE TABLE tag (
	  tag_id {{pk}},
	  name TEXT NOT NULL UNIQUE,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"user_tag", `CREATE TABLE user_tag (
	  user_tag_id {{pk}},
	  user_id BIGINT NOT NULL REFERENCES "user" (user_id),
	  tag_id BIGINT NOT NULL REFERENCES tag (tag_id),
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  UNIQUE (user_id, tag_id)
	)`},
	{"list", `CREATE TABLE list (
	  list_id BIGINT NOT NULL PRIMARY KEY,
	  user_id BIGINT NOT NULL REFERENCES "user" (user_id),
	  slug TEXT NOT NULL,
	  api_response TEXT NOT NULL,
	  create_dt {{ts}},
	  full_name TEXT,
	  display_name TEXT,
	  uri TEXT,
	  description TEXT,
	  mode TEXT,
	  member_count INTEGER,
	  subscriber_count INTEGER,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  UNIQUE (user_id, slug)
	)`},
	{"user_list", `CREATE TABLE user_list (
	  user_list_id {{pk}},
	  user_id BIGINT NOT NULL REFERENCES "user" (user_id),
	  list_id BIGINT NOT NULL REFERENCES list (list_id),
	  valid_start_dt {{ts}} NOT NULL,
	  valid_end_dt {{ts}},
	  UNIQUE (user_id, list_id, valid_end_dt, valid_start_dt)
	)`},
	{"idx_user_list_list_id_valid_end_dt", `CREATE INDEX idx_user_list_list_id_valid_end_dt ON user_list (list_id, valid_end_dt)`},
	{"follow", `CREATE TABLE follow (
	  follow_id {{pk}},
	  source_user_id BIGINT NOT NULL REFERENCES "user" (user_id),
	  target_user_id BIGINT NOT NULL REFERENCES "user" (user_id),
	  valid_start_dt {{ts}} NOT NULL,
	  valid_end_dt {{ts}},
	  UNIQUE (source_user_id, target_user_id, valid_end_dt, valid_start_dt)
	)`},
	{"idx_follow_source_user_id_valid_end_dt", `CREATE INDEX idx_follow_source_user_id_valid_end_dt ON follow (source_user_id, valid_end_dt)`},
	{"idx_follow_target_user_id_valid_end_dt", `CREATE INDEX idx_follow_target_user_id_valid_end_dt ON follow (target_user_id, valid_end_dt)`},
	{"stg_follow", stagingDDL["stg_follow"]},
	{"tweet", `CREATE TABLE tweet (
	  tweet_id BIGINT NOT NULL PRIMARY KEY,
	  user_id BIGINT NOT NULL REFERENCES "user" (user_id),
	  api_response TEXT NOT NULL,
	  content TEXT,
	  create_dt {{ts}},
	  retweeted_status_id BIGINT REFERENCES tweet (tweet_id),
	  quoted_status_id BIGINT REFERENCES tweet (tweet_id),
	  in_reply_to_status_id BIGINT,
	  in_reply_to_user_id BIGINT,
	  lang TEXT,
	  source TEXT,
	  truncated BOOLEAN,
	  retweet_count INTEGER,
	  favorite_count INTEGER,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"idx_tweet_user_id", `CREATE INDEX idx_tweet_user_id ON tweet (user_id)`},
	{"idx_tweet_retweeted_status_id", `CREATE INDEX idx_tweet_retweeted_status_id ON tweet (retweeted_status_id)`},
	{"idx_tweet_quoted_status_id", `CREATE INDEX idx_tweet_quoted_status_id ON tweet (quoted_status_id)`},
	{"idx_tweet_in_reply_to_user_id", `CREATE INDEX idx_tweet_in_reply_to_user_id ON tweet (in_reply_to_user_id)`},
	{"hashtag", uniqueTableDDL("hashtag")},
	{"symbol", uniqueTableDDL("symbol")},
	{"media_type", uniqueTableDDL("media_type")},
	{"media", `CREATE TABLE media (
	  media_id BIGINT NOT NULL PRIMARY KEY,
	  media_type_id BIGINT NOT NULL REFERENCES media_type (media_type_id),
	  media_url_id BIGINT NOT NULL REFERENCES url (url_id),
	  aspect_ratio_width INTEGER,
	  aspect_ratio_height INTEGER,
	  duration DOUBLE PRECISION,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"media_variant", `CREATE TABLE media_variant (
	  media_id BIGINT NOT NULL REFERENCES media (media_id),
	  url_id BIGINT NOT NULL REFERENCES url (url_id),
	  bitrate INTEGER,
	  content_type TEXT,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  PRIMARY KEY (media_id, url_id)
	)`},
	{"user_mention", mentionTableDDL("user_mention", `mentioned_user_id BIGINT NOT NULL REFERENCES "user" (user_id)`)},
	{"hashtag_mention", mentionTableDDL("hashtag_mention", `hashtag_id BIGINT NOT NULL REFERENCES hashtag (hashtag_id)`)},
	{"symbol_mention", mentionTableDDL("symbol_mention", `symbol_id BIGINT NOT NULL REFERENCES symbol (symbol_id)`)},
	{"url_mention", mentionTableDDL("url_mention", `url_id BIGINT NOT NULL REFERENCES url (url_id),
	  twitter_short_url TEXT,
	  twitter_display_url TEXT,
	  expanded_short_url TEXT,
	  status INTEGER,
	  title TEXT,
	  description TEXT`)},
	{"media_mention", mentionTableDDL("media_mention", `media_id BIGINT NOT NULL REFERENCES media (media_id)`)},
}

func uniqueTableDDL(name string) string {
	return `CREATE TABLE ` + name + ` (
	  ` + name + `_id {{pk}},
	  name TEXT NOT NULL UNIQUE,
	  unique_hash VARCHAR(40) NOT NULL UNIQUE,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
}

// mentionTableDDL keys mentions by position so one tweet can mention the
// same entity more than once.
func mentionTableDDL(name, cols string) string {
	return `CREATE TABLE ` + name + ` (
	  tweet_id BIGINT NOT NULL REFERENCES tweet (tweet_id),
	  start_index INTEGER NOT NULL,
	  end_index INTEGER NOT NULL,
	  ` + cols + `,
	  insert_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  modified_dt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	  PRIMARY KEY (tweet_id, start_index, end_index)
	)`
}

func (d *DB) ddl(stmt string) string {
	r := strings.NewReplacer("{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{ts}}", "TIMESTAMP")
	if d.dialect == Postgres {
		r = strings.NewReplacer("{{pk}}", "BIGSERIAL PRIMARY KEY", "{{ts}}", "TIMESTAMPTZ")
	}
	return r.Replace(stmt)
}

// Initialize drops every table, recreates the schema and records version.
// All existing data is lost.
func (d *DB) Initialize(ctx context.Context, version string) error {
	tx, err := d.sql.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cascade := ""
	if d.dialect == Postgres {
		cascade = " CASCADE"
	}
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		if strings.HasPrefix(t.name, "idx_") {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS "`+t.name+`"`+cascade); err != nil {
			return fmt.Errorf("drop %s: %w", t.name, err)
		}
	}
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, d.ddl(t.ddl)); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_version (version, insert_dt) VALUES (?, ?)`), version, d.now()); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	d.log.WithField("version", version).Info("initialized schema")
	return nil
}

// CheckSchema fails with a bad_schema error unless exactly one version row
// exists and it equals version.
func (d *DB) CheckSchema(ctx context.Context, version string) error {
	var got []string
	if err := d.sql.SelectContext(ctx, &got, `SELECT version FROM schema_version`); err != nil {
		return errs.BadSchema("schema version table unreadable, initialize the database first: %v", err)
	}
	switch {
	case len(got) == 0:
		return errs.BadSchema("no schema version recorded, initialize the database first")
	case len(got) > 1:
		return errs.BadSchema("schema version table is corrupt: %d rows", len(got))
	case got[0] != version:
		return errs.BadSchema("database schema version %s does not match expected %s", got[0], version)
	}
	return nil
}
