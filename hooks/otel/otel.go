// Package otelhooks exports cache events as OpenTelemetry counters.
//
// Instruments:
//
//	tagcache.hits           {hit}
//	tagcache.misses         {miss}     reason
//	tagcache.backend.errors {error}    op, direction (read|write)
//	tagcache.writes.rejected {write}
//	tagcache.tags.minted    {tag}
//
// Keys are never used as attributes; their cardinality is unbounded.
package otelhooks

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/tagcache"
)

const scope = "github.com/unkn0wn-root/tagcache"

type Hooks struct {
	attrs    []attribute.KeyValue
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	errors   metric.Int64Counter
	rejected metric.Int64Counter
	minted   metric.Int64Counter
}

var _ tagcache.Hooks = (*Hooks)(nil)

// New registers the instruments on meter; a nil meter uses the global
// provider. attrs are added to every measurement (e.g. the cache name).
func New(meter metric.Meter, attrs ...attribute.KeyValue) (*Hooks, error) {
	if meter == nil {
		meter = otel.Meter(scope)
	}
	h := &Hooks{attrs: attrs}
	var err error
	if h.hits, err = meter.Int64Counter("tagcache.hits",
		metric.WithDescription("Values served from the cache"),
		metric.WithUnit("{hit}")); err != nil {
		return nil, err
	}
	if h.misses, err = meter.Int64Counter("tagcache.misses",
		metric.WithDescription("Calls that ran the wrapped function"),
		metric.WithUnit("{miss}")); err != nil {
		return nil, err
	}
	if h.errors, err = meter.Int64Counter("tagcache.backend.errors",
		metric.WithDescription("Backend failures absorbed by the cache"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if h.rejected, err = meter.Int64Counter("tagcache.writes.rejected",
		metric.WithDescription("Writes refused by the backend admission policy"),
		metric.WithUnit("{write}")); err != nil {
		return nil, err
	}
	if h.minted, err = meter.Int64Counter("tagcache.tags.minted",
		metric.WithDescription("Tag tokens replaced by explicit invalidation"),
		metric.WithUnit("{tag}")); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hooks) opt(extra ...attribute.KeyValue) metric.AddOption {
	if len(extra) == 0 {
		return metric.WithAttributes(h.attrs...)
	}
	all := make([]attribute.KeyValue, 0, len(h.attrs)+len(extra))
	all = append(all, h.attrs...)
	all = append(all, extra...)
	return metric.WithAttributes(all...)
}

func (h *Hooks) Hit(string) { h.hits.Add(context.Background(), 1, h.opt()) }

func (h *Hooks) Miss(_ string, reason string) {
	h.misses.Add(context.Background(), 1, h.opt(attribute.String("reason", reason)))
}

func (h *Hooks) BackendReadError(op string, _ int, _ error) {
	h.errors.Add(context.Background(), 1, h.opt(attribute.String("op", op), attribute.String("direction", "read")))
}

func (h *Hooks) BackendWriteError(string, error) {
	h.errors.Add(context.Background(), 1, h.opt(attribute.String("direction", "write")))
}

func (h *Hooks) WriteRejected(string) { h.rejected.Add(context.Background(), 1, h.opt()) }

func (h *Hooks) TagsMinted(tags []string) {
	h.minted.Add(context.Background(), int64(len(tags)), h.opt())
}
