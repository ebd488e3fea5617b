package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ErrNoMedia means a fresh search returned nothing with a photo.
var ErrNoMedia = errors.New("no image results")

// MediaImage is one photo-bearing search result.
type MediaImage struct {
	Text     string
	ImageURL string
	SourceID string
}

// SearchResult is a post returned by a Searcher.
type SearchResult struct {
	ID     string
	Text   string
	Author string
	Media  []SearchMedia
}

// SearchMedia is an attachment of a SearchResult. Only Type "photo" is used.
type SearchMedia struct {
	Type string
	URL  string
}

// Searcher queries an external hashtag search. Implementations return
// *RateLimitedError when told to back off and *UpstreamError otherwise.
type Searcher interface {
	Search(ctx context.Context, hashtag string, max int) ([]SearchResult, error)
	Name() string
}

type mediaEntry struct {
	images    []MediaImage
	fetchedAt time.Time
}

// MediaCache keeps search results per term for a freshness window. It is
// in-memory only and starts empty on every boot.
type MediaCache struct {
	mu      sync.Mutex
	entries map[string]*mediaEntry
	now     func() time.Time
}

func NewMediaCache() *MediaCache {
	return &MediaCache{entries: make(map[string]*mediaEntry), now: time.Now}
}

// Lookup returns the cached images for term if the entry is non-empty and
// younger than window. Otherwise it returns (nil, false) and the caller
// must fetch and Store.
func (c *MediaCache) Lookup(term string, window time.Duration) ([]MediaImage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[term]
	if !ok {
		c.entries[term] = &mediaEntry{}
		return nil, false
	}
	if e.fetchedAt.IsZero() || len(e.images) == 0 {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) >= window {
		return nil, false
	}
	return append([]MediaImage(nil), e.images...), true
}

// Store overwrites the entry for term. An empty slice is kept but never
// served as a hit.
func (c *MediaCache) Store(term string, images []MediaImage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[term] = &mediaEntry{
		images:    append([]MediaImage(nil), images...),
		fetchedAt: c.now(),
	}
}

// MediaFetcher runs the lookup, search, store, pick protocol.
type MediaFetcher struct {
	searcher   Searcher
	cache      *MediaCache
	freshness  time.Duration
	maxResults int
	timeout    time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewMediaFetcher(s Searcher, cache *MediaCache, cfg MediaConfig) *MediaFetcher {
	return &MediaFetcher{
		searcher:   s,
		cache:      cache,
		freshness:  cfg.Freshness,
		maxResults: cfg.MaxResults,
		timeout:    cfg.Timeout,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// Fetch returns one random image for hashtag. onMiss, if non-nil, is called
// before a real upstream search so the caller can tell the user to wait.
func (f *MediaFetcher) Fetch(ctx context.Context, hashtag string, onMiss func()) (MediaImage, bool, error) {
	ctx, span := startSpan(ctx, "media.fetch", attribute.String("term", hashtag))
	var err error
	defer func() { endSpan(span, err) }()

	if images, ok := f.cache.Lookup(hashtag, f.freshness); ok {
		observeMediaLookup("hit")
		return f.pick(images), true, nil
	}
	observeMediaLookup("miss")
	if onMiss != nil {
		onMiss()
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	results, err := f.searcher.Search(ctx, hashtag, f.maxResults)
	if err != nil {
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			observeMediaError("rate_limited")
		} else {
			observeMediaError("upstream")
		}
		return MediaImage{}, false, err
	}

	images := photoImages(results)
	f.cache.Store(hashtag, images)
	slog.Info("media search done",
		slog.String("term", hashtag),
		slog.String("source", f.searcher.Name()),
		slog.Int("results", len(results)),
		slog.Int("images", len(images)))
	if len(images) == 0 {
		err = ErrNoMedia
		return MediaImage{}, false, err
	}
	return f.pick(images), false, nil
}

func (f *MediaFetcher) pick(images []MediaImage) MediaImage {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return images[f.rng.IntN(len(images))]
}

// photoImages flattens results into one MediaImage per photo attachment.
func photoImages(results []SearchResult) []MediaImage {
	var out []MediaImage
	for _, r := range results {
		for _, m := range r.Media {
			if m.Type != "photo" || m.URL == "" {
				continue
			}
			out = append(out, MediaImage{Text: r.Text, ImageURL: m.URL, SourceID: r.ID})
		}
	}
	return out
}
