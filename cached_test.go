package tagcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/internal/wire"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

var getUserSig = Signature{Package: "users", Name: "Get", Params: []string{"id"}}

func userLoader(cnt *counter) Func[user] {
	return func(_ context.Context, c *Call) (user, error) {
		cnt.inc()
		id, err := ParamAs[int](c, "id")
		if err != nil {
			return user{}, err
		}
		return user{ID: id, Name: fmt.Sprintf("user-%d", id)}, nil
	}
}

// ==============================
// Read-through
// ==============================

// TestSumScenario: key "sum_{n}", timeout one hour, no tags.
func TestSumScenario(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	sum := mustCached(t, Signature{Name: "Sum", Params: []string{"n"}},
		func(_ context.Context, c *Call) (int, error) {
			cnt.inc()
			n, _ := ParamAs[int](c, "n")
			return n * (n + 1) / 2, nil
		},
		Options[int]{Key: Literal("sum_{n}"), Timeout: time.Hour, Backend: b})

	for i := 0; i < 2; i++ {
		v, err := sum.Do(ctx, KW("n", 5))
		if err != nil || v != 15 {
			t.Fatalf("Do #%d = %v, %v", i, v, err)
		}
	}
	if cnt.calls() != 1 {
		t.Fatalf("callable ran %d times, want 1", cnt.calls())
	}
	if _, ok, _ := b.Memory.Get(ctx, "sum_5"); !ok {
		t.Fatalf("entry not stored under sum_5; keys=%v", b.Keys())
	}
	if b.lastTTL != time.Hour {
		t.Fatalf("ttl = %v, want 1h", b.lastTTL)
	}
}

// An untagged key costs one Get and no tag reads.
func TestUntaggedReadCost(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{Backend: b})

	want, err := c.Do(ctx, Pos(1))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	b.resetCounts()
	got, err := c.Do(ctx, Pos(1))
	if err != nil || got != want {
		t.Fatalf("Do = %v, %v; want %v", got, err, want)
	}
	gets, getManys := b.reads()
	if gets != 1 || getManys != 0 {
		t.Fatalf("read cost: gets=%d getManys=%d, want 1/0", gets, getManys)
	}
	if b.setManys != 0 {
		t.Fatalf("untagged write must not touch tag tokens")
	}
	if _, ok, _ := b.Memory.Get(ctx, "users.Get:1"); !ok {
		t.Fatalf("default key missing; keys=%v", b.Keys())
	}
}

// A tagged key costs one GetMany covering entry and tokens.
func TestTaggedReadCost(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users", "user:{id}"), Backend: b,
	})
	if _, err := c.Do(ctx, Pos(1)); err != nil {
		t.Fatalf("Do: %v", err)
	}
	b.resetCounts()
	if _, err := c.Do(ctx, Pos(1)); err != nil {
		t.Fatalf("Do: %v", err)
	}
	gets, getManys := b.reads()
	if gets != 0 || getManys != 1 {
		t.Fatalf("read cost: gets=%d getManys=%d, want 0/1", gets, getManys)
	}
	want := []string{"u:1", "tag:users", "tag:user:1"}
	if strings.Join(b.getManys[0], ",") != strings.Join(want, ",") {
		t.Fatalf("batched keys = %v, want %v", b.getManys[0], want)
	}
}

// ==============================
// Tag invalidation
// ==============================

func TestSharedTagInvalidation(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	tagged := &counter{}
	plain := &counter{}
	users := mustCached(t, getUserSig, userLoader(tagged), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users"), Backend: b,
	})
	other := mustCached(t, Signature{Name: "Other", Params: []string{"id"}}, userLoader(plain), Options[user]{
		Key: Literal("o:{id}"), Backend: b,
	})

	for _, id := range []int{1, 2} {
		if _, err := users.Do(ctx, Pos(id)); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if _, err := other.Do(ctx, Pos(1)); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if err := InvalidateTag(ctx, "users", WithBackend(b)); err != nil {
		t.Fatalf("InvalidateTag: %v", err)
	}
	for _, id := range []int{1, 2} {
		if _, err := users.Do(ctx, Pos(id)); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if _, err := other.Do(ctx, Pos(1)); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if tagged.calls() != 4 {
		t.Fatalf("tagged entries computed %d times, want 4", tagged.calls())
	}
	if plain.calls() != 1 {
		t.Fatalf("untagged entry recomputed: %d", plain.calls())
	}
	// Nothing was deleted; the stale bytes are simply overwritten.
	for _, k := range b.deletes {
		t.Fatalf("unexpected delete of %q", k)
	}
}

func TestInvalidateByTagsOnCallable(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	h := &recHooks{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users", "user:{id}"), Backend: b, Hooks: h,
	})
	c.Do(ctx, Pos(1))
	c.Do(ctx, Pos(2))

	// Explicit tag template rendered against the selectors.
	if err := c.InvalidateByTags(ctx, []string{"user:{id}"}, Pos(1)); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	c.Do(ctx, Pos(1))
	c.Do(ctx, Pos(2))
	if cnt.calls() != 3 {
		t.Fatalf("calls = %d, want 3 (only user 1 recomputed)", cnt.calls())
	}

	// No explicit tags: every declared tag, so both entries go.
	if err := c.InvalidateByTags(ctx, nil, Pos(2)); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	c.Do(ctx, Pos(1))
	c.Do(ctx, Pos(2))
	if cnt.calls() != 5 {
		t.Fatalf("calls = %d, want 5", cnt.calls())
	}
	if h.count("minted") != 2 {
		t.Fatalf("TagsMinted fired %d times, want 2", h.count("minted"))
	}

	plain := mustCached(t, getUserSig, userLoader(cnt), Options[user]{Backend: b})
	if err := plain.InvalidateByTags(ctx, []string{"x"}, Pos(1)); !errors.Is(err, ErrNoTags) {
		t.Fatalf("want ErrNoTags, got %v", err)
	}
	if err := plain.InvalidateByPrefix(ctx, Pos(1)); !errors.Is(err, ErrNoPrefix) {
		t.Fatalf("want ErrNoPrefix, got %v", err)
	}
}

// Tags known only after the call are embedded and validated on read.
func TestDynamicTagsFromResult(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"),
		Tags: []KeySpec{
			Literal("name:{result.Name}"),
			TagsFunc(func(c *Call) ([]string, error) {
				v, ok := c.Result()
				if !ok {
					return nil, errors.New("no result yet")
				}
				return []string{fmt.Sprintf("uid:%d", v.(user).ID)}, nil
			}),
		},
		Backend: b,
	})
	c.Do(ctx, Pos(3))
	c.Do(ctx, Pos(3))
	if cnt.calls() != 1 {
		t.Fatalf("calls = %d, want 1", cnt.calls())
	}
	if _, ok, _ := b.Memory.Get(ctx, "tag:uid:3"); !ok {
		t.Fatalf("token for dynamic tag not minted; keys=%v", b.Keys())
	}
	if err := InvalidateTag(ctx, "name:user-3", WithBackend(b)); err != nil {
		t.Fatalf("InvalidateTag: %v", err)
	}
	c.Do(ctx, Pos(3))
	if cnt.calls() != 2 {
		t.Fatalf("dynamic tag invalidation ignored: calls = %d", cnt.calls())
	}
}

// Without a result, tags that need one are skipped; the rest are minted.
func TestInvalidateAllDeclaredSkipsResultTags(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"),
		Tags: []KeySpec{
			Literal("name:{result.Name}"),
			TagsFunc(func(c *Call) ([]string, error) {
				id, err := ParamAs[int](c, "id")
				return []string{fmt.Sprintf("owner:%d", id)}, err
			}),
		},
		Backend: b,
	})
	c.Do(ctx, Pos(4))
	before, _, _ := b.Memory.Get(ctx, "tag:owner:4")

	if err := c.InvalidateByTags(ctx, nil, Pos(4)); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	after, _, _ := b.Memory.Get(ctx, "tag:owner:4")
	if string(before) == string(after) {
		t.Fatal("args-only generator tag was not minted")
	}
	c.Do(ctx, Pos(4))
	if cnt.calls() != 2 {
		t.Fatalf("calls = %d, want 2", cnt.calls())
	}
}

// Ensure mints once and then keeps the token.
func TestEnsureStableAcrossWrites(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users"), Backend: b,
	})
	c.Do(ctx, Pos(1))
	first, _, _ := b.Memory.Get(ctx, "tag:users")
	c.Do(ctx, Pos(2))
	c.Refresh(ctx, Pos(1))
	second, _, _ := b.Memory.Get(ctx, "tag:users")
	if string(first) == "" || string(first) != string(second) {
		t.Fatalf("token changed without invalidation: %q -> %q", first, second)
	}
}

// A token that disappeared (evicted, expired) forces recomputation.
func TestMissingTokenIsMiss(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users"), Backend: b, Hooks: h,
	})
	c.Do(ctx, Pos(1))
	b.Memory.Delete(ctx, "tag:users")
	c.Do(ctx, Pos(1))
	if cnt.calls() != 2 {
		t.Fatalf("calls = %d, want 2", cnt.calls())
	}
	if h.lastMiss() != MissTagMissing {
		t.Fatalf("miss reason = %q, want %q", h.lastMiss(), MissTagMissing)
	}
}

// ==============================
// Prefix
// ==============================

func TestPrefixInvalidation(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	goods := mustCached(t, Signature{Name: "Goods", Params: []string{"shop"}},
		func(_ context.Context, c *Call) ([]string, error) {
			cnt.inc()
			return []string{"apple"}, nil
		},
		Options[[]string]{Key: Literal("goods"), Prefix: Literal("shop:{shop}"), Backend: b})

	goods.Do(ctx, Pos(7))
	goods.Do(ctx, Pos(7))
	if cnt.calls() != 1 {
		t.Fatalf("calls = %d, want 1", cnt.calls())
	}
	if _, ok, _ := b.Memory.Get(ctx, "shop:7:goods"); !ok {
		t.Fatalf("prefixed key missing; keys=%v", b.Keys())
	}

	if err := goods.InvalidateByPrefix(ctx, Pos(7)); err != nil {
		t.Fatalf("InvalidateByPrefix: %v", err)
	}
	if _, ok, _ := b.Memory.Get(ctx, "shop:7:goods"); !ok {
		t.Fatalf("prefix invalidation must not delete the entry")
	}
	goods.Do(ctx, Pos(7))
	if cnt.calls() != 2 {
		t.Fatalf("read after prefix invalidation should miss; calls = %d", cnt.calls())
	}

	// The free function reaches the same token.
	if err := InvalidatePrefix(ctx, "shop:7", WithBackend(b)); err != nil {
		t.Fatalf("InvalidatePrefix: %v", err)
	}
	goods.Do(ctx, Pos(7))
	if cnt.calls() != 3 {
		t.Fatalf("calls = %d, want 3", cnt.calls())
	}
	// Other shops are untouched.
	goods.Do(ctx, Pos(8))
	goods.Do(ctx, Pos(8))
	if cnt.calls() != 4 {
		t.Fatalf("calls = %d, want 4", cnt.calls())
	}
}

// ==============================
// Key invalidation and refresh
// ==============================

func TestInvalidateByKeyIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{Key: Params("id"), Backend: b})
	c.Do(ctx, Pos(1))
	for i := 0; i < 2; i++ {
		if err := c.InvalidateByKey(ctx, KW("id", 1)); err != nil {
			t.Fatalf("InvalidateByKey #%d: %v", i, err)
		}
	}
	c.Do(ctx, Pos(1))
	if cnt.calls() != 2 {
		t.Fatalf("calls = %d, want 2", cnt.calls())
	}
	if err := InvalidateKey(ctx, "1", WithBackend(b)); err != nil {
		t.Fatalf("InvalidateKey: %v", err)
	}
	if _, ok, _ := b.Memory.Get(ctx, "1"); ok {
		t.Fatalf("InvalidateKey left the entry")
	}
}

func TestRefreshOverwrites(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	n := 0
	c := mustCached(t, Signature{Name: "Tick"}, func(context.Context, *Call) (int, error) {
		n++
		return n, nil
	}, Options[int]{Backend: b})
	c.Do(ctx, Args{})
	if v, _ := c.Refresh(ctx, Args{}); v != 2 {
		t.Fatalf("Refresh = %d, want 2", v)
	}
	if v, _ := c.Do(ctx, Args{}); v != 2 {
		t.Fatalf("Do after Refresh = %d, want 2", v)
	}
}

// ==============================
// Failure handling
// ==============================

func TestReadErrorDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	lg := &recLogger{}
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{Backend: b, Hooks: h, Logger: lg})
	c.Do(ctx, Pos(1))

	b.failRead = errors.New("connection refused")
	v, err := c.Do(ctx, Pos(1))
	if err != nil || v.ID != 1 {
		t.Fatalf("Do with failing reads = %v, %v", v, err)
	}
	if cnt.calls() != 2 {
		t.Fatalf("calls = %d, want 2", cnt.calls())
	}
	if h.count("read_error") != 1 || h.lastMiss() != MissReadError {
		t.Fatalf("read error not reported: %+v", h.events)
	}
	if !lg.has("warn") {
		t.Fatalf("degraded read should log a warning")
	}
}

// A failed token read for tags known only after the call is reported
// against the entry key, not the tag storage key.
func TestDynamicTagReadErrorReportsEntryKey(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"),
		Tags: []KeySpec{TagsFunc(func(c *Call) ([]string, error) {
			v, _ := c.Result()
			u, _ := v.(user)
			return []string{fmt.Sprintf("uid:%d", u.ID)}, nil
		})},
		Backend: b, Hooks: h,
	})
	c.Do(ctx, Pos(1))

	b.failGetMany = errors.New("timeout")
	if _, err := c.Do(ctx, Pos(1)); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if h.lastMiss() != MissReadError || h.lastMissKey() != "u:1" {
		t.Fatalf("miss = %q on %q, want %q on u:1", h.lastMiss(), h.lastMissKey(), MissReadError)
	}
	if cnt.calls() != 2 {
		t.Fatalf("calls = %d, want 2", cnt.calls())
	}
}

func TestWriteErrorSwallowed(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	lg := &recLogger{}
	b.failWrite = errors.New("read-only replica")
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{
		Tags: Tags("users"), Backend: b, Hooks: h, Logger: lg,
	})
	v, err := c.Do(ctx, Pos(1))
	if err != nil || v.ID != 1 {
		t.Fatalf("Do with failing writes = %v, %v", v, err)
	}
	if h.count("write_error") != 1 || !lg.has("error") {
		t.Fatalf("write failure not reported: %+v", h.events)
	}
	// Token write failed, so the entry was never attempted.
	if len(b.sets) != 0 {
		t.Fatalf("entry written without tokens: %v", b.sets)
	}
}

func TestRejectedWriteIsNotAnError(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	lg := &recLogger{}
	b.failWrite = fmt.Errorf("admission: %w", backend.ErrRejected)
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{Backend: b, Hooks: h, Logger: lg})
	if _, err := c.Do(ctx, Pos(1)); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if h.count("rejected") != 1 || h.count("write_error") != 0 || lg.has("error") {
		t.Fatalf("rejection should be reported quietly: %+v", h.events)
	}
}

func TestInvalidationErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{
		Tags: Tags("users"), Prefix: Literal("p"), Backend: b,
	})
	b.failWrite = errors.New("down")
	b.failDel = errors.New("down")

	var ie *InvalidateError
	for name, err := range map[string]error{
		"key":    c.InvalidateByKey(ctx, Pos(1)),
		"tags":   c.InvalidateByTags(ctx, nil, Pos(1)),
		"prefix": c.InvalidateByPrefix(ctx, Pos(1)),
		"free":   InvalidateTags(ctx, []string{"users"}, WithBackend(b)),
	} {
		if !errors.As(err, &ie) || !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("%s: want InvalidateError wrapping ErrBackendUnavailable, got %v", name, err)
		}
	}
}

func TestCallableErrorNotCached(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	boom := errors.New("boom")
	c := mustCached(t, Signature{Name: "Fail"}, func(context.Context, *Call) (int, error) {
		return 0, boom
	}, Options[int]{Backend: b})
	if _, err := c.Do(ctx, Args{}); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("error result was cached: %v", b.Keys())
	}
}

// ==============================
// Self-heal and validation
// ==============================

func TestCorruptAndUndecodableEntriesHeal(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{Key: Literal("u:{id}"), Backend: b, Hooks: h})

	b.Memory.Set(ctx, "u:1", []byte("not-an-entry"), 0)
	c.Do(ctx, Pos(1))
	if h.lastMiss() != MissCorrupt || len(b.deletes) != 1 {
		t.Fatalf("corrupt entry: miss=%q deletes=%v", h.lastMiss(), b.deletes)
	}

	raw, _ := wire.Encode(wire.Entry{Codec: "json", Payload: []byte("{broken")})
	b.Memory.Set(ctx, "u:2", raw, 0)
	c.Do(ctx, Pos(2))
	if h.lastMiss() != MissDecode || len(b.deletes) != 2 {
		t.Fatalf("undecodable entry: miss=%q deletes=%v", h.lastMiss(), b.deletes)
	}

	raw, _ = wire.Encode(wire.Entry{Codec: "msgpack", Payload: []byte{0x80}})
	b.Memory.Set(ctx, "u:3", raw, 0)
	c.Do(ctx, Pos(3))
	if h.lastMiss() != MissCodec {
		t.Fatalf("codec mismatch: miss=%q", h.lastMiss())
	}
	if cnt.calls() != 3 {
		t.Fatalf("calls = %d, want 3", cnt.calls())
	}
}

// An entry written before a static tag was declared does not satisfy it.
func TestDeclaredTagMustBeEmbedded(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	cnt := &counter{}
	before := mustCached(t, getUserSig, userLoader(cnt), Options[user]{Key: Literal("u:{id}"), Backend: b})
	after := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users"), Backend: b, Hooks: h,
	})
	before.Do(ctx, Pos(1))
	after.Do(ctx, Pos(1))
	if cnt.calls() != 2 || h.lastMiss() != MissTagMismatch {
		t.Fatalf("calls=%d miss=%q", cnt.calls(), h.lastMiss())
	}
}

// ==============================
// Options
// ==============================

func TestTimeoutFuncSeesResult(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{
		Backend: b,
		Timeout: time.Hour,
		TimeoutFunc: func(c *Call) (time.Duration, error) {
			v, _ := c.Result()
			return time.Duration(v.(user).ID) * time.Minute, nil
		},
	})
	c.Do(ctx, Pos(3))
	if b.lastTTL != 3*time.Minute {
		t.Fatalf("ttl = %v, want 3m", b.lastTTL)
	}
}

func TestDisabledCallsThrough(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{Backend: b, Disabled: true})
	c.Do(ctx, Pos(1))
	c.Do(ctx, Pos(1))
	if cnt.calls() != 2 || b.Len() != 0 || c.Enabled() {
		t.Fatalf("disabled cache touched the backend: calls=%d keys=%v", cnt.calls(), b.Keys())
	}
}

func TestAliasResolution(t *testing.T) {
	ctx := context.Background()
	reg := backend.NewRegistry()
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{Registry: reg, Alias: "hot"})
	if _, err := c.Do(ctx, Pos(1)); !errors.Is(err, backend.ErrUnknownAlias) {
		t.Fatalf("unregistered alias: want ErrUnknownAlias, got %v", err)
	}

	first, second := newSpy(), newSpy()
	reg.Register("hot", first)
	c.Do(ctx, Pos(1))
	reg.Register("hot", second)
	c.Do(ctx, Pos(2))
	if first.Len() != 2 || second.Len() != 0 {
		t.Fatalf("memoized lookup: first=%v second=%v", first.Keys(), second.Keys())
	}

	lazy := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{Registry: reg, Alias: "hot", Lazy: true})
	lazy.Do(ctx, Pos(3))
	if second.Len() != 1 {
		t.Fatalf("lazy lookup should follow re-registration: %v", second.Keys())
	}
}

func TestCustomCodecAndTagPrefix(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users"), Codec: codec.Msgpack[user]{}, TagPrefix: "ver", Backend: b,
	})
	c.Do(ctx, Pos(1))
	if _, ok, _ := b.Memory.Get(ctx, "ver:users"); !ok {
		t.Fatalf("custom tag prefix not used: %v", b.Keys())
	}
	if err := InvalidateTag(ctx, "users", WithBackend(b), WithTagPrefix("ver")); err != nil {
		t.Fatalf("InvalidateTag: %v", err)
	}
	c.Do(ctx, Pos(1))
	if cnt.calls() != 2 {
		t.Fatalf("calls = %d, want 2", cnt.calls())
	}
}

func TestCodecVersionBumpRecomputes(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	h := &recHooks{}
	cnt := &counter{}
	opts := func(v int) Options[user] {
		return Options[user]{Key: Literal("u:{id}"), Backend: b, Hooks: h, Codec: codec.Versioned[user]{Inner: codec.JSON[user]{}, Version: v}}
	}
	mustCached(t, getUserSig, userLoader(cnt), opts(1)).Do(ctx, Pos(1))
	mustCached(t, getUserSig, userLoader(cnt), opts(2)).Do(ctx, Pos(1))
	if h.lastMiss() != MissCodec || cnt.calls() != 2 {
		t.Fatalf("miss=%q calls=%d", h.lastMiss(), cnt.calls())
	}
}

func TestOversizedValueIsNotCached(t *testing.T) {
	ctx := context.Background()
	b := newSpy()
	l := &recLogger{}
	cnt := &counter{}
	c := mustCached(t, getUserSig, userLoader(cnt), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users"), Backend: b, Logger: l,
		Codec: codec.Limit[user]{Inner: codec.JSON[user]{}, MaxEncode: 4},
	})
	v, err := c.Do(ctx, Pos(1))
	if err != nil || v.ID != 1 {
		t.Fatalf("Do = %+v, %v", v, err)
	}
	if b.Len() != 0 {
		t.Fatalf("nothing should be stored, not even tag tokens: %v", b.Keys())
	}
	if !l.has("error") {
		t.Fatal("encode failure not logged")
	}
}

func TestString(t *testing.T) {
	c := mustCached(t, getUserSig, userLoader(&counter{}), Options[user]{
		Key: Literal("u:{id}"), Tags: Tags("users"), Prefix: Params("id"), Timeout: time.Minute, Backend: newSpy(),
	})
	want := `<Cached: callable="users.Get" key="u:{id}" tags=["users"] prefix=params(id) timeout=1m0s>`
	if got := c.String(); got != want {
		t.Fatalf("String() =\n%s\nwant\n%s", got, want)
	}
}
