package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// UniqueKind is a content-addressed table: rows are found by the SHA-1 of
// their natural key rather than by an index on the (possibly long) key itself.
type UniqueKind struct {
	Table string
	IDCol string
}

var (
	HashtagKind   = UniqueKind{Table: "hashtag", IDCol: "hashtag_id"}
	SymbolKind    = UniqueKind{Table: "symbol", IDCol: "symbol_id"}
	URLKind       = UniqueKind{Table: "url", IDCol: "url_id"}
	MediaTypeKind = UniqueKind{Table: "media_type", IDCol: "media_type_id"}
)

// Unique is a row of a content-addressed table, pending or persisted.
type Unique struct {
	Kind   UniqueKind
	ID     int64
	Hash   string
	Fields map[string]string
}

// UniqueHash is the hex SHA-1 of "k1: v1, k2: v2" over the sorted keys.
func UniqueHash(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + fields[k]
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ", ")))
	return hex.EncodeToString(sum[:])
}

// UniqueCache maps (table, hash) to the row handed out earlier in the session.
type UniqueCache struct {
	m map[string]*Unique
}

func newUniqueCache() *UniqueCache { return &UniqueCache{m: map[string]*Unique{}} }

func (c *UniqueCache) clear() { clear(c.m) }

// AsUnique returns the row for fields, creating it if absent. Within one
// session the same natural key always yields the same *Unique.
func (s *Session) AsUnique(ctx context.Context, kind UniqueKind, fields map[string]string) (*Unique, error) {
	hash := UniqueHash(fields)
	key := kind.Table + "/" + hash
	if u, ok := s.cache.m[key]; ok {
		return u, nil
	}
	u := &Unique{Kind: kind, Hash: hash, Fields: fields}
	err := s.get(ctx, &u.ID, `SELECT `+kind.IDCol+` FROM `+kind.Table+` WHERE unique_hash = ?`, hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cols := make([]string, 0, len(fields)+1)
		args := make([]any, 0, len(fields)+1)
		for k, v := range fields {
			cols = append(cols, k)
			args = append(args, v)
		}
		cols = append(cols, "unique_hash")
		args = append(args, hash)
		q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s RETURNING %s`,
			kind.Table, strings.Join(cols, ", "), placeholders(1, len(cols)), kind.IDCol)
		if err := s.get(ctx, &u.ID, q, args...); err != nil {
			return nil, fmt.Errorf("insert %s: %w", kind.Table, err)
		}
	case err != nil:
		return nil, fmt.Errorf("lookup %s: %w", kind.Table, err)
	}
	s.cache.m[key] = u
	return u, nil
}
