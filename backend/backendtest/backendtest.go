// Package backendtest is a conformance suite for backend.Backend adapters.
package backendtest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/tagcache/backend"
)

// Options describe what the adapter under test cannot do.
type Options struct {
	// Settle is called after writes for stores that apply them asynchronously.
	Settle func()
	// NoTTL skips expiry checks (stores with a global life window).
	NoTTL bool
	// Expire advances time past ttl, e.g. by fast-forwarding a fake clock.
	// When nil the expiry check is skipped.
	Expire func(ttl time.Duration)
}

// Run exercises b. It writes keys under the "bt:" namespace.
func Run(t *testing.T, b backend.Backend, opts Options) {
	t.Helper()
	ctx := context.Background()
	settle := func() {
		if opts.Settle != nil {
			opts.Settle()
		}
	}

	t.Run("MissIsNotAnError", func(t *testing.T) {
		v, ok, err := b.Get(ctx, "bt:absent")
		if err != nil || ok || v != nil {
			t.Fatalf("Get absent = %q, %v, %v", v, ok, err)
		}
	})

	t.Run("RoundTripIsTransparent", func(t *testing.T) {
		want := []byte{0, 1, 2, 0xff, 'x'}
		if err := b.Set(ctx, "bt:raw", want, backend.DefaultTTL); err != nil {
			t.Fatalf("Set: %v", err)
		}
		settle()
		got, ok, err := b.Get(ctx, "bt:raw")
		if err != nil || !ok || !bytes.Equal(got, want) {
			t.Fatalf("Get = %v, %v, %v; want %v", got, ok, err, want)
		}
	})

	t.Run("BatchOmitsAbsentKeys", func(t *testing.T) {
		items := map[string][]byte{"bt:a": []byte("1"), "bt:b": []byte("2")}
		if err := b.SetMany(ctx, items, backend.NoExpiry); err != nil {
			t.Fatalf("SetMany: %v", err)
		}
		settle()
		got, err := b.GetMany(ctx, []string{"bt:a", "bt:b", "bt:none"})
		if err != nil {
			t.Fatalf("GetMany: %v", err)
		}
		if len(got) != 2 || string(got["bt:a"]) != "1" || string(got["bt:b"]) != "2" {
			t.Fatalf("GetMany = %v", got)
		}
		if _, present := got["bt:none"]; present {
			t.Fatalf("absent key reported")
		}
		empty, err := b.GetMany(ctx, nil)
		if err != nil || len(empty) != 0 {
			t.Fatalf("GetMany(nil) = %v, %v", empty, err)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		if err := b.Set(ctx, "bt:del", []byte("x"), backend.DefaultTTL); err != nil {
			t.Fatalf("Set: %v", err)
		}
		settle()
		for i := 0; i < 2; i++ {
			if err := b.Delete(ctx, "bt:del"); err != nil {
				t.Fatalf("Delete #%d: %v", i, err)
			}
		}
		settle()
		if _, ok, _ := b.Get(ctx, "bt:del"); ok {
			t.Fatalf("deleted key still present")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		b.Set(ctx, "bt:ow", []byte("old"), backend.DefaultTTL)
		settle()
		b.Set(ctx, "bt:ow", []byte("new"), backend.DefaultTTL)
		settle()
		if got, _, _ := b.Get(ctx, "bt:ow"); string(got) != "new" {
			t.Fatalf("Get after overwrite = %q", got)
		}
	})

	if opts.NoTTL || opts.Expire == nil {
		return
	}
	t.Run("Expiry", func(t *testing.T) {
		if err := b.Set(ctx, "bt:ttl", []byte("x"), time.Second); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := b.Set(ctx, "bt:forever", []byte("x"), backend.NoExpiry); err != nil {
			t.Fatalf("Set: %v", err)
		}
		settle()
		opts.Expire(2 * time.Second)
		if _, ok, _ := b.Get(ctx, "bt:ttl"); ok {
			t.Fatalf("expired key still present")
		}
		if _, ok, _ := b.Get(ctx, "bt:forever"); !ok {
			t.Fatalf("NoExpiry key expired")
		}
	})
}
