// Package tagstore keeps one version token per tag inside a backend.
//
// A token is stored under "<prefix>:<tag>" (prefix defaults to "tag"). Cache
// entries embed the tokens observed when they were written; minting a fresh
// token for a tag stales every entry that embedded the previous one.
//
// There is no locking: concurrent Mint and Ensure on the same tag resolve by
// last write wins.
package tagstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/tagcache/backend"
)

const DefaultPrefix = "tag"

type Options struct {
	Prefix   string        // "" => DefaultPrefix
	TTL      time.Duration // expiry for token keys; backend.DefaultTTL by default
	NewToken func() string // nil => random UUIDv4
}

type Store struct {
	b        backend.Backend
	prefix   string
	ttl      time.Duration
	newToken func() string
}

func New(b backend.Backend, opts Options) *Store {
	s := &Store{b: b, prefix: opts.Prefix, ttl: opts.TTL, newToken: opts.NewToken}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.newToken == nil {
		s.newToken = uuid.NewString
	}
	return s
}

// Key returns the storage key holding the token for tag.
func (s *Store) Key(tag string) string { return s.prefix + ":" + tag }

// Keys maps tag names to storage keys, dropping duplicates.
func (s *Store) Keys(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, s.Key(t))
	}
	return out
}

// Tokens extracts tag tokens from a GetMany result that may also contain
// unrelated keys. Tags without a stored token are absent from the result.
func (s *Store) Tokens(raw map[string][]byte, tags []string) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		if v, ok := raw[s.Key(t)]; ok {
			out[t] = string(v)
		}
	}
	return out
}

// Current reads the tokens for tags in one batched read. Tags that were never
// minted are absent from the result.
func (s *Store) Current(ctx context.Context, tags []string) (map[string]string, error) {
	if len(tags) == 0 {
		return map[string]string{}, nil
	}
	raw, err := s.b.GetMany(ctx, s.Keys(tags))
	if err != nil {
		return nil, err
	}
	return s.Tokens(raw, tags), nil
}

// Mint writes a fresh token for every tag in one batched write, overwriting
// whatever was there. Every entry written against the old tokens becomes stale.
func (s *Store) Mint(ctx context.Context, tags []string) (map[string]string, error) {
	if len(tags) == 0 {
		return map[string]string{}, nil
	}
	tokens := make(map[string]string, len(tags))
	items := make(map[string][]byte, len(tags))
	for _, t := range tags {
		if _, dup := tokens[t]; dup {
			continue
		}
		tok := s.newToken()
		tokens[t] = tok
		items[s.Key(t)] = []byte(tok)
	}
	if err := s.b.SetMany(ctx, items, s.ttl); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Ensure is Current plus minting for every tag that has no token yet, so the
// caller always gets a concrete token per tag.
func (s *Store) Ensure(ctx context.Context, tags []string) (map[string]string, error) {
	cur, err := s.Current(ctx, tags)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, t := range tags {
		if _, ok := cur[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return cur, nil
	}
	minted, err := s.Mint(ctx, missing)
	if err != nil {
		return nil, err
	}
	for t, tok := range minted {
		cur[t] = tok
	}
	return cur, nil
}
