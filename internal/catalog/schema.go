package catalog

// Schema is the DDL for the catalog. It is idempotent and safe to run on
// every start. pg_trgm provides the % operator and similarity() used by
// [PostgresStore.FuzzySearch]; the GIN index is built over the exact
// expression the search compares against.
const Schema = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS tracks (
    id                BIGSERIAL    PRIMARY KEY,
    resolved_ref      TEXT         NOT NULL UNIQUE CHECK (resolved_ref <> ''),
    artist            TEXT         NOT NULL DEFAULT 'Unknown Artist',
    title             TEXT         NOT NULL DEFAULT 'Unknown Title',
    duration_seconds  INTEGER      NOT NULL DEFAULT 0,
    file_size_bytes   BIGINT       NOT NULL DEFAULT 0,
    source_channel_id TEXT         NOT NULL DEFAULT '',
    source_message_id TEXT         NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

DROP INDEX IF EXISTS idx_tracks_source;

CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_source_unique
    ON tracks (source_channel_id, source_message_id)
    WHERE source_message_id <> '';

CREATE INDEX IF NOT EXISTS idx_tracks_search_trgm
    ON tracks USING GIN ((lower(coalesce(artist, '') || ' ' || coalesce(title, ''))) gin_trgm_ops);

CREATE TABLE IF NOT EXISTS query_stats (
    query            TEXT         PRIMARY KEY,
    count            BIGINT       NOT NULL DEFAULT 0,
    last_searched_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`
