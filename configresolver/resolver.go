package configresolver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/streamrec/core/config"
	xerrors "github.com/streamrec/core/errors"
	"github.com/streamrec/core/model"
)

// resolveCell is the in-flight dedup unit for one streamer id: the
// first caller to miss the cache becomes its owner and runs the actual
// resolution; every other concurrent caller just waits on done.
type resolveCell struct {
	done        chan struct{}
	result      model.MergedConfig
	err         error
	invalidated atomic.Bool
}

// Resolver merges the four config layers per streamer, behind a
// patrickmn/go-cache TTL cache with per-key in-flight dedup.
type Resolver struct {
	Configs   ConfigRepository
	Streamers StreamerLookup
	Events    *EventBus // optional: invalidations are published here if set
	Timeout   time.Duration

	cache *gocache.Cache

	mu       sync.Mutex
	inflight map[string]*resolveCell
	platform map[string]map[string]struct{} // platformID -> streamer ids cached under it
	template map[string]map[string]struct{} // templateName -> streamer ids cached under it
}

// NewResolver builds a Resolver with a fresh cache; ttl<=0 means
// entries never expire on their own (invalidation is explicit).
func NewResolver(configs ConfigRepository, streamers StreamerLookup, ttl time.Duration) *Resolver {
	expiry := gocache.NoExpiration
	if ttl > 0 {
		expiry = ttl
	}
	return &Resolver{
		Configs:   configs,
		Streamers: streamers,
		cache:     gocache.New(expiry, time.Minute),
		inflight:  make(map[string]*resolveCell),
		platform:  make(map[string]map[string]struct{}),
		template:  make(map[string]map[string]struct{}),
	}
}

// Resolve returns the merged config for streamerID, serving from cache
// when present, otherwise deduping concurrent resolutions for the same
// id behind one in-flight cell bounded by a hard timeout.
func (r *Resolver) Resolve(ctx context.Context, streamerID string) (model.MergedConfig, error) {
	if v, found := r.cache.Get(streamerID); found {
		return v.(model.MergedConfig), nil
	}

	r.mu.Lock()
	cell, exists := r.inflight[streamerID]
	owner := !exists
	if owner {
		cell = &resolveCell{done: make(chan struct{})}
		r.inflight[streamerID] = cell
	}
	r.mu.Unlock()

	if !owner {
		<-cell.done
		if cell.invalidated.Load() {
			return model.MergedConfig{}, xerrors.ErrResolveInvalidated
		}
		return cell.result, cell.err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = config.ConfigResolveTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	merged, err := r.resolve(rctx, streamerID)
	cancel()

	r.mu.Lock()
	delete(r.inflight, streamerID)
	invalidatedMidFlight := cell.invalidated.Load()
	r.mu.Unlock()

	cell.result, cell.err = merged, err
	if err == nil && !invalidatedMidFlight {
		r.cache.SetDefault(streamerID, merged)
	}
	close(cell.done)

	if err == nil && invalidatedMidFlight {
		return model.MergedConfig{}, xerrors.ErrResolveInvalidated
	}
	return merged, err
}

func (r *Resolver) resolve(ctx context.Context, streamerID string) (model.MergedConfig, error) {
	meta, err := r.Streamers.Get(ctx, streamerID)
	if err != nil {
		return model.MergedConfig{}, fmt.Errorf("%w: looking up streamer %s: %v", xerrors.ErrConfiguration, streamerID, err)
	}

	merged := defaultMergedConfig()
	merged.StreamerID = streamerID

	global, err := r.Configs.Global(ctx)
	if err != nil {
		return model.MergedConfig{}, fmt.Errorf("%w: global layer: %v", xerrors.ErrConfiguration, err)
	}
	apply(&merged, global)

	if meta.PlatformID != "" {
		platform, err := r.Configs.Platform(ctx, meta.PlatformID)
		if err != nil {
			return model.MergedConfig{}, fmt.Errorf("%w: platform %q layer: %v", xerrors.ErrConfiguration, meta.PlatformID, err)
		}
		apply(&merged, platform)
	}
	if meta.TemplateName != "" {
		tmpl, err := r.Configs.Template(ctx, meta.TemplateName)
		if err != nil {
			return model.MergedConfig{}, fmt.Errorf("%w: template %q layer: %v", xerrors.ErrConfiguration, meta.TemplateName, err)
		}
		apply(&merged, tmpl)
	}
	streamer, err := r.Configs.Streamer(ctx, streamerID)
	if err != nil {
		return model.MergedConfig{}, fmt.Errorf("%w: streamer layer: %v", xerrors.ErrConfiguration, err)
	}
	apply(&merged, streamer)

	r.index(streamerID, meta.PlatformID, meta.TemplateName)
	return merged, nil
}

func (r *Resolver) index(streamerID, platformID, templateName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if platformID != "" {
		if r.platform[platformID] == nil {
			r.platform[platformID] = make(map[string]struct{})
		}
		r.platform[platformID][streamerID] = struct{}{}
	}
	if templateName != "" {
		if r.template[templateName] == nil {
			r.template[templateName] = make(map[string]struct{})
		}
		r.template[templateName][streamerID] = struct{}{}
	}
}

// invalidate drops streamerID from the cache and, if a resolution for
// it is currently in flight, flags that cell so its owner and waiters
// observe an error and must retry.
func (r *Resolver) invalidate(streamerID string) {
	r.cache.Delete(streamerID)
	r.mu.Lock()
	if cell, ok := r.inflight[streamerID]; ok {
		cell.invalidated.Store(true)
	}
	r.mu.Unlock()
}

// InvalidateStreamer evicts only streamerID's cached config: a
// streamer-metadata update (not a state sync, which never invalidates
// config) affects only that one streamer's resolution.
func (r *Resolver) InvalidateStreamer(streamerID string) {
	r.invalidate(streamerID)
	r.publish(ConfigUpdateEvent{Kind: StreamerUpdated, StreamerID: streamerID})
}

// InvalidatePlatform evicts every streamer cached under platformID.
func (r *Resolver) InvalidatePlatform(platformID string) {
	r.mu.Lock()
	ids := r.platform[platformID]
	delete(r.platform, platformID)
	r.mu.Unlock()
	for id := range ids {
		r.invalidate(id)
	}
	r.publish(ConfigUpdateEvent{Kind: PlatformUpdated, PlatformID: platformID})
}

// InvalidateTemplate evicts every streamer cached under templateName.
func (r *Resolver) InvalidateTemplate(templateName string) {
	r.mu.Lock()
	ids := r.template[templateName]
	delete(r.template, templateName)
	r.mu.Unlock()
	for id := range ids {
		r.invalidate(id)
	}
	r.publish(ConfigUpdateEvent{Kind: TemplateUpdated, TemplateName: templateName})
}

// InvalidateGlobal evicts everything: a global config update affects
// every streamer regardless of its platform/template.
func (r *Resolver) InvalidateGlobal() {
	r.invalidateAll()
	r.publish(ConfigUpdateEvent{Kind: GlobalUpdated})
}

// InvalidateEngine evicts everything too, since engine-config usage
// per streamer isn't indexed separately from the platform/template
// layers that reference it.
func (r *Resolver) InvalidateEngine() {
	r.invalidateAll()
	r.publish(ConfigUpdateEvent{Kind: EngineUpdated})
}

func (r *Resolver) invalidateAll() {
	r.cache.Flush()
	r.mu.Lock()
	for _, cell := range r.inflight {
		cell.invalidated.Store(true)
	}
	r.platform = make(map[string]map[string]struct{})
	r.template = make(map[string]map[string]struct{})
	r.mu.Unlock()
}

func (r *Resolver) publish(ev ConfigUpdateEvent) {
	if r.Events != nil {
		r.Events.Publish(ev)
	}
}
