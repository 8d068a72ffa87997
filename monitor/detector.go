package monitor

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/monitor/filter"
	"github.com/streamrec/core/resilience"
)

// FilterProvider fetches the active filter chain for one streamer;
// implemented by the filter repository (consumed, not implemented
// here, per the repository stance the rest of this codebase follows).
type FilterProvider interface {
	FiltersFor(ctx context.Context, streamerID string) ([]filter.Spec, error)
}

// Detector implements scheduler.Prober by structural typing (there is no
// compile-time assertion for it; the wiring happens at the composition
// root): it resolves a platform extractor, extracts media
// info, ranks and resolves one concrete stream, and applies the
// streamer's filter chain.
type Detector struct {
	Registry *Registry
	Filters  FilterProvider

	// Credentials is optional: when set, a stale credential is
	// refreshed before the probe proceeds. A nil Credentials skips
	// this step entirely, matching every other optional collaborator
	// in this codebase (Filters, JobRepository, ...).
	Credentials resilience.CredentialStore

	// DefaultRateLimit is used for any platform without an explicit
	// override in RateLimits.
	DefaultRateLimit rate.Limit
	RateLimits       map[string]rate.Limit

	group     singleflight.Group
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewDetector builds a Detector; defaultRate is the per-platform token
// bucket refill rate used when RateLimits has no override.
func NewDetector(registry *Registry, filters FilterProvider, defaultRate rate.Limit) *Detector {
	return &Detector{
		Registry:         registry,
		Filters:          filters,
		DefaultRateLimit: defaultRate,
		RateLimits:       make(map[string]rate.Limit),
		limiters:         make(map[string]*rate.Limiter),
	}
}

func (d *Detector) limiterFor(platform string) *rate.Limiter {
	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()
	if l, ok := d.limiters[platform]; ok {
		return l
	}
	limit := d.DefaultRateLimit
	if override, ok := d.RateLimits[platform]; ok {
		limit = override
	}
	l := rate.NewLimiter(limit, 1)
	d.limiters[platform] = l
	return l
}

// Probe checks one streamer's live status. Concurrent probes for the
// same streamer share a single in-flight resolution: the first call
// publishes its result to every caller waiting on the same key instead
// of hitting the platform twice.
func (d *Detector) Probe(ctx context.Context, meta model.StreamerMetadata, cfg model.MergedConfig) (model.LiveStatus, error) {
	v, err, _ := d.group.Do(meta.ID, func() (interface{}, error) {
		return d.probeOnce(ctx, meta, cfg)
	})
	if err != nil {
		return model.LiveStatus{}, err
	}
	return v.(model.LiveStatus), nil
}

func (d *Detector) probeOnce(ctx context.Context, meta model.StreamerMetadata, cfg model.MergedConfig) (model.LiveStatus, error) {
	if err := d.limiterFor(meta.PlatformID).Wait(ctx); err != nil {
		return model.LiveStatus{}, err
	}
	d.refreshCredentialsIfStale(ctx, meta.PlatformID)

	ext, ok := d.Registry.Get(meta.PlatformID)
	if !ok {
		ext, ok = d.Registry.ForURL(meta.URL)
	}
	if !ok {
		log.LogNoRequestID("monitor: no extractor registered for platform", "platform_id", meta.PlatformID, "streamer_id", meta.ID)
		return model.LiveStatus{Kind: model.LiveStatusUnsupportedPlatform}, nil
	}

	media, err := ext.Extract(ctx, meta)
	if err != nil {
		if kind, ok := classifyExtractError(err); ok {
			return model.LiveStatus{Kind: kind}, nil
		}
		return model.LiveStatus{}, err
	}
	if !media.IsLive {
		return model.LiveStatus{Kind: model.LiveStatusOffline}, nil
	}
	if len(media.Streams) == 0 {
		log.LogNoRequestID("monitor: streamer reported live with no candidate streams, treating as offline", "streamer_id", meta.ID)
		return model.LiveStatus{Kind: model.LiveStatusOffline}, nil
	}

	ranked := rank(media.Streams, cfg.Selection)
	resolved, candidates, ok := resolveFirst(ctx, ext, ranked, media)
	if !ok {
		log.LogNoRequestID("monitor: every candidate stream failed to resolve, treating as offline", "streamer_id", meta.ID)
		return model.LiveStatus{Kind: model.LiveStatusOffline}, nil
	}

	status := model.LiveStatus{
		Kind:         model.LiveStatusLive,
		Resolved:     resolved,
		Candidates:   candidates,
		ViewerCount:  media.ViewerCount,
		AvatarURL:    media.AvatarURL,
		StartedAt:    media.StartedAt,
		DanmuEnabled: cfg.Danmu.Enabled,
	}

	if d.Filters == nil {
		return status, nil
	}
	specs, ferr := d.Filters.FiltersFor(ctx, meta.ID)
	if ferr != nil {
		log.LogNoRequestID("monitor: loading filters failed, proceeding without filtering", "streamer_id", meta.ID, "err", ferr)
		return status, nil
	}
	if len(specs) == 0 {
		return status, nil
	}
	chain, berr := filter.NewChain(specs)
	if berr != nil {
		log.LogNoRequestID("monitor: invalid filter chain, proceeding without filtering", "streamer_id", meta.ID, "err", berr)
		return status, nil
	}
	if ok, reason, next := chain.Evaluate(media.Title, media.Category, config.Clock.GetTime()); !ok {
		return model.LiveStatus{Kind: model.LiveStatusFiltered, FilterReason: reason, NextMatchTime: next}, nil
	}
	return status, nil
}

// refreshCredentialsIfStale is a best-effort pre-probe hook: it never
// fails the probe itself, since a stale or unreachable credential
// store just means the extractor tries with whatever it already has.
func (d *Detector) refreshCredentialsIfStale(ctx context.Context, platformID string) {
	if d.Credentials == nil {
		return
	}
	creds, ok, err := d.Credentials.Get(ctx, platformID)
	if err != nil {
		log.LogNoRequestID("monitor: credential store lookup failed, probing without refresh", "platform_id", platformID, "err", err)
		return
	}
	if !ok || !creds.Expired(config.Clock.GetTime()) {
		return
	}
	if err := d.Credentials.Refresh(ctx, platformID); err != nil {
		log.LogNoRequestID("monitor: credential refresh failed, probing with stale credentials", "platform_id", platformID, "err", err)
	}
}

// resolveFirst tries each ranked candidate's ResolveURL in order,
// returning the first one that succeeds. candidates carries every
// ranked option's pre-resolution StreamInfo, so a caller can see what
// else was available even though only the first success is used.
func resolveFirst(ctx context.Context, ext Extractor, ranked []Candidate, media ExtractedMedia) (model.StreamInfo, []model.StreamInfo, bool) {
	now := config.Clock.GetTime()
	candidates := make([]model.StreamInfo, len(ranked))
	for i, c := range ranked {
		candidates[i] = model.StreamInfo{
			URL:          c.URL,
			Title:        media.Title,
			Category:     media.Category,
			ExtraHeaders: mergeHeaders(media.Headers, c.Headers),
			ResolvedAt:   now,
		}
	}

	for _, c := range ranked {
		cand := c
		if err := ext.ResolveURL(ctx, &cand); err != nil {
			log.LogNoRequestID("monitor: resolving candidate stream failed", "quality", cand.Quality, "err", err)
			continue
		}
		resolved := model.StreamInfo{
			URL:          cand.URL,
			Title:        media.Title,
			Category:     media.Category,
			ExtraHeaders: mergeHeaders(media.Headers, cand.Headers),
			ResolvedAt:   config.Clock.GetTime(),
		}
		return resolved, candidates, true
	}
	return model.StreamInfo{}, candidates, false
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func classifyExtractError(err error) (model.LiveStatusKind, bool) {
	var ee ExtractError
	if !errors.As(err, &ee) {
		return "", false
	}
	switch ee {
	case ExtractErrNotFound:
		return model.LiveStatusNotFound, true
	case ExtractErrBanned:
		return model.LiveStatusBanned, true
	case ExtractErrAgeRestricted:
		return model.LiveStatusAgeRestricted, true
	case ExtractErrRegionLocked:
		return model.LiveStatusRegionLocked, true
	case ExtractErrPrivate:
		return model.LiveStatusPrivate, true
	default:
		return "", false
	}
}
