// Package lookup serves the option lists behind the dashboard's filter
// dropdowns and the pipeline category map used to resolve pipeline filters.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/internal/reporting"
	"github.com/pitabwire/clubpulse/model"
)

// Cache tiers reported to the Recorder.
const (
	TierMemory = "memory"
	TierShared = "redis"
)

// Recorder receives cache telemetry.
type Recorder interface {
	RecordLookupCacheHit(lookupID, tier string)
	RecordLookupCacheMiss(lookupID string)
}

// Provider resolves lookups with a per-process TTL cache, an optional
// shared cache and singleflight collapsing of concurrent misses.
type Provider struct {
	client     reporting.Getter
	shared     Cache
	clock      clockwork.Clock
	ttl        time.Duration
	maxEntries int
	metrics    Recorder
	logger     *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[source]cacheEntry
}

type cacheEntry struct {
	data      sourceData
	expiresAt time.Time
}

// Option customises a Provider.
type Option func(*Provider)

// WithSharedCache adds a second cache tier.
func WithSharedCache(c Cache) Option { return func(p *Provider) { p.shared = c } }

// WithClock sets the clock used for expiry.
func WithClock(c clockwork.Clock) Option { return func(p *Provider) { p.clock = c } }

// WithMetrics attaches a telemetry recorder.
func WithMetrics(r Recorder) Option { return func(p *Provider) { p.metrics = r } }

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option { return func(p *Provider) { p.logger = l } }

// NewProvider creates a Provider. Non-positive ttl and maxEntries fall back
// to 5 minutes and 1000.
func NewProvider(client reporting.Getter, ttl time.Duration, maxEntries int, opts ...Option) *Provider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	p := &Provider{
		client:     client,
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
		cache:      make(map[source]cacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the options of lookupID whose label contains q,
// case-insensitively.
func (p *Provider) Get(
	ctx context.Context,
	rctx *model.RequestContext,
	lookupID string,
	q string,
) (resp model.LookupResponse, err error) {
	src, ok := lookupSources[lookupID]
	if !ok {
		return model.LookupResponse{}, model.NewNotFoundError(fmt.Sprintf("lookup %q not found", lookupID))
	}

	ctx, span := observability.StartSpan(ctx, "lookup.get",
		observability.AttrLookupID.String(lookupID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	data, cached, err := p.load(ctx, rctx, lookupID, src)
	if err != nil {
		return model.LookupResponse{}, err
	}
	span.SetAttributes(observability.AttrCacheHit.Bool(cached))

	return model.LookupResponse{
		Data: model.LookupPayload{Options: filterOptions(options(lookupID, data), q)},
		Meta: map[string]any{"cached": cached},
	}, nil
}

// PipelineCategories returns the category to pipeline names map.
func (p *Provider) PipelineCategories(ctx context.Context, rctx *model.RequestContext) (model.PipelineCategoryMap, error) {
	data, _, err := p.load(ctx, rctx, PipelineCategories, sourcePipelines)
	if err != nil {
		return nil, err
	}
	return data.Categories, nil
}

// Invalidate drops every cached entry here and, when configured, in the
// shared cache.
func (p *Provider) Invalidate(ctx context.Context) error {
	p.Flush()
	if p.shared == nil {
		return nil
	}
	return p.shared.Bump(ctx)
}

// Flush drops the in-process entries only.
func (p *Provider) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[source]cacheEntry)
}

// HealthCheck pings the shared cache when one is configured.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if p.shared == nil {
		return nil
	}
	return p.shared.Ping(ctx)
}

// CacheLen returns the number of in-process entries.
func (p *Provider) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func (p *Provider) load(
	ctx context.Context,
	rctx *model.RequestContext,
	lookupID string,
	src source,
) (sourceData, bool, error) {
	if data, ok := p.getLocal(src); ok {
		p.recordHit(lookupID, TierMemory)
		return data, true, nil
	}

	type result struct {
		data   sourceData
		cached bool
	}
	// The flight is shared, so it must outlive whichever caller started it.
	fctx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(string(src), func() (any, error) {
		if data, ok := p.getShared(fctx, src); ok {
			p.recordHit(lookupID, TierShared)
			p.putLocal(src, data)
			return result{data, true}, nil
		}
		if p.metrics != nil {
			p.metrics.RecordLookupCacheMiss(lookupID)
		}
		data, err := p.fetch(fctx, rctx, src)
		if err != nil {
			return nil, err
		}
		p.putLocal(src, data)
		p.putShared(fctx, src, data)
		return result{data, false}, nil
	})

	select {
	case <-ctx.Done():
		return sourceData{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return sourceData{}, false, res.Err
		}
		r := res.Val.(result)
		return r.data, r.cached, nil
	}
}

func (p *Provider) fetch(ctx context.Context, rctx *model.RequestContext, src source) (sourceData, error) {
	switch src {
	case sourcePipelines:
		var payload categoryPayload
		if err := p.client.Get(ctx, rctx, reporting.EndpointPipelineNames, nil, &payload); err != nil {
			return sourceData{}, fmt.Errorf("lookup %s: %w", src, err)
		}
		return sourceData{Categories: payload.Categories}, nil
	case sourceLocations:
		var payload model.List[locationWire]
		if err := p.client.Get(ctx, rctx, reporting.EndpointLocations, nil, &payload); err != nil {
			return sourceData{}, fmt.Errorf("lookup %s: %w", src, err)
		}
		locs := make([]model.Location, 0, len(payload.Items))
		for _, l := range payload.Items {
			locs = append(locs, l.location())
		}
		return sourceData{Locations: locs}, nil
	case sourceLeadSources:
		var payload model.List[model.Text]
		if err := p.client.Get(ctx, rctx, reporting.EndpointValidLeadSources, nil, &payload); err != nil {
			return sourceData{}, fmt.Errorf("lookup %s: %w", src, err)
		}
		out := make([]string, 0, len(payload.Items))
		for _, s := range payload.Items {
			if s != "" {
				out = append(out, s.String())
			}
		}
		return sourceData{LeadSources: out}, nil
	}
	return sourceData{}, fmt.Errorf("lookup: unknown source %q", src)
}

func (p *Provider) getLocal(src source) (sourceData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.cache[src]
	if !ok || p.clock.Now().After(e.expiresAt) {
		return sourceData{}, false
	}
	return e.data, true
}

func (p *Provider) putLocal(src source, data sourceData) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if len(p.cache) >= p.maxEntries {
		for k, e := range p.cache {
			if now.After(e.expiresAt) {
				delete(p.cache, k)
			}
		}
	}
	if _, exists := p.cache[src]; !exists && len(p.cache) >= p.maxEntries {
		return
	}
	p.cache[src] = cacheEntry{data: data, expiresAt: now.Add(p.ttl)}
}

// getShared treats every shared cache failure as a miss.
func (p *Provider) getShared(ctx context.Context, src source) (sourceData, bool) {
	if p.shared == nil {
		return sourceData{}, false
	}
	raw, ok, err := p.shared.Get(ctx, string(src))
	if err != nil {
		observability.RequestLogger(ctx, p.logger).Warn("lookup: shared cache read failed",
			zap.String("source", string(src)),
			zap.Error(err),
		)
		return sourceData{}, false
	}
	if !ok {
		return sourceData{}, false
	}
	var data sourceData
	if err := json.Unmarshal(raw, &data); err != nil {
		return sourceData{}, false
	}
	return data, true
}

func (p *Provider) putShared(ctx context.Context, src source, data sourceData) {
	if p.shared == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := p.shared.Set(ctx, string(src), raw); err != nil {
		observability.RequestLogger(ctx, p.logger).Warn("lookup: shared cache write failed",
			zap.String("source", string(src)),
			zap.Error(err),
		)
	}
}

func (p *Provider) recordHit(lookupID, tier string) {
	p.logger.Debug("lookup: cache hit",
		zap.String("lookup_id", lookupID),
		zap.String("tier", tier),
	)
	if p.metrics != nil {
		p.metrics.RecordLookupCacheHit(lookupID, tier)
	}
}

// filterOptions keeps options whose label contains q, case-insensitively.
func filterOptions(options []model.OptionDescriptor, q string) []model.OptionDescriptor {
	q = strings.TrimSpace(q)
	if q == "" {
		return options
	}
	needle := strings.ToLower(q)
	filtered := make([]model.OptionDescriptor, 0, len(options))
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), needle) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}
