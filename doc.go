// Package tagcache is a read-through cache for function results with
// tag-based and prefix-based invalidation on top of plain key/value
// backends (Redis, Memcached, Ristretto, BigCache, in-process map).
//
// Backends only need point reads, batched reads and writes, and deletes.
// Group invalidation works without pattern deletes or an index of keys per
// tag: every tag owns a version token stored under "tag:<name>", every entry
// embeds the tokens that were current when it was written, and invalidating
// a tag simply mints a new token. Entries holding an old token are treated as
// misses on the next read and overwritten.
//
// Components:
//   - Signature/Args/Call: the invocation a key is derived from.
//   - KeySpec: Literal templates, Params lists or Generator functions.
//   - tagstore.Store: current/mint/ensure for tag tokens.
//   - backend.Backend: the byte store; backend.Registry maps aliases to adapters.
//   - Cached[V]: the orchestrator bound to one callable.
//
// Keys:
//
//	<prefix>:<key>   - entries (prefix optional)
//	tag:<name>       - tag and prefix tokens
//
// Cost of a read is one Get for untagged keys, or one GetMany covering the
// entry and the tokens of its statically known tags. Tags that are only known
// after the call (generators, templates using {result}) cost a second
// GetMany when present in the entry.
//
// Usage:
//
//	users := tagcache.MustNew(
//		tagcache.Signature{Package: "shop", Name: "User", Params: []string{"id"}},
//		loadUser,
//		tagcache.Options[User]{
//			Key:  tagcache.Literal("user:{id}"),
//			Tags: tagcache.Tags("users"),
//		},
//	)
//	u, err := users.Do(ctx, tagcache.Pos(42))
//	_ = tagcache.InvalidateTag(ctx, "users")
package tagcache
