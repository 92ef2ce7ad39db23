package catalog

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/cache"
	"ctchen222/otaku-list/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TTLClass selects how long a route's responses stay cached.
type TTLClass int

const (
	// TTLLive is for rankings and seasons that change through the day.
	TTLLive TTLClass = iota
	// TTLCatalog is for per-title documents and genre lists.
	TTLCatalog
	// TTLSearch is for free-text search results.
	TTLSearch
)

// Route maps a public path onto an upstream endpoint. Upstream may contain
// ":name" segments filled from path parameters.
type Route struct {
	Path     string
	Upstream string
	Defaults url.Values
	TTL      TTLClass

	// Rename maps a client query parameter to its upstream name.
	Rename map[string]string
	// Required lists client query parameters that must be present.
	Required []string
}

func firstPage(extra ...string) url.Values {
	v := url.Values{"page": {"1"}, "limit": {"10"}}
	for i := 0; i+1 < len(extra); i += 2 {
		v.Set(extra[i], extra[i+1])
	}
	return v
}

// Routes is the catalog surface served by the proxy.
var Routes = []Route{
	{Path: "/seasonal", Upstream: "seasons/now", Defaults: firstPage(), TTL: TTLLive},
	{Path: "/seasonal/upcoming", Upstream: "seasons/upcoming", TTL: TTLLive},
	{Path: "/topanime", Upstream: "top/anime", Defaults: firstPage(), TTL: TTLLive},
	{Path: "/airing", Upstream: "top/anime", Defaults: firstPage("filter", "airing"), TTL: TTLLive},
	{Path: "/popularity", Upstream: "top/anime", Defaults: url.Values{"filter": {"bypopularity"}}, TTL: TTLLive},
	{Path: "/upcoming", Upstream: "top/anime", Defaults: firstPage("filter", "upcoming"), TTL: TTLLive},
	{Path: "/anime/:id", Upstream: "anime/:id/full", TTL: TTLCatalog},
	{Path: "/anime/pictures/:id", Upstream: "anime/:id/pictures", TTL: TTLCatalog},
	{Path: "/anime/recommandations/:id", Upstream: "anime/:id/recommendations", TTL: TTLCatalog},
	{Path: "/anime/:id/characters", Upstream: "anime/:id/characters", TTL: TTLCatalog},
	{Path: "/anime/:id/news", Upstream: "anime/:id/news", TTL: TTLCatalog},
	{Path: "/genres/anime", Upstream: "genres/anime", TTL: TTLCatalog},
	{
		Path:     "/searchanime",
		Upstream: "anime",
		TTL:      TTLSearch,
		Rename:   map[string]string{"search": "q"},
		Required: []string{"search"},
	},
}

// Fetcher is the upstream side of the proxy.
type Fetcher interface {
	Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// Proxy serves catalog routes through the response cache so that concurrent
// identical requests cost at most one upstream call per TTL.
type Proxy struct {
	upstream Fetcher
	cache    *cache.Cache
	ttls     map[TTLClass]time.Duration
}

// NewProxy wires upstream behind c using the TTLs from cfg.
func NewProxy(upstream Fetcher, c *cache.Cache, cfg config.CacheConfig) *Proxy {
	return &Proxy{
		upstream: upstream,
		cache:    c,
		ttls: map[TTLClass]time.Duration{
			TTLLive:    cfg.LiveTTL,
			TTLCatalog: cfg.CatalogTTL,
			TTLSearch:  cfg.SearchTTL,
		},
	}
}

// Fetch returns the upstream document for route. requestPath is the public
// path as requested, and together with query it forms the cache key.
func (p *Proxy) Fetch(ctx context.Context, route Route, requestPath string, params map[string]string, query url.Values) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Proxy.Fetch", trace.WithAttributes(
		attribute.String("catalog.route", route.Path),
	))
	defer span.End()

	endpoint, err := route.endpoint(params)
	if err != nil {
		return nil, err
	}
	for _, name := range route.Required {
		if strings.TrimSpace(query.Get(name)) == "" {
			return nil, apperror.InvalidInput(name + " is required")
		}
	}

	upstreamQuery := route.upstreamQuery(query)
	key := cache.Key(requestPath, query)
	return p.cache.GetOrCompute(ctx, key, p.ttls[route.TTL], func(ctx context.Context) ([]byte, error) {
		return p.upstream.Get(ctx, endpoint, upstreamQuery)
	})
}

func (r Route) endpoint(params map[string]string) (string, error) {
	segments := strings.Split(r.Upstream, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := seg[1:]
		val := params[name]
		if _, err := strconv.ParseUint(val, 10, 64); err != nil {
			return "", apperror.InvalidInput(name + " must be a positive integer")
		}
		segments[i] = val
	}
	return strings.Join(segments, "/"), nil
}

// upstreamQuery overlays the client's parameters on the route defaults. A
// client parameter named like a rename target is dropped, so the renamed
// parameter is the only source of that upstream name.
func (r Route) upstreamQuery(client url.Values) url.Values {
	out := url.Values{}
	for k, v := range r.Defaults {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range client {
		if r.isRenameTarget(k) {
			continue
		}
		if renamed, ok := r.Rename[k]; ok {
			k = renamed
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (r Route) isRenameTarget(name string) bool {
	for _, target := range r.Rename {
		if target == name {
			return true
		}
	}
	return false
}
