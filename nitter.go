package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// NitterSearcher searches a Nitter instance's RSS search feed. It needs no
// credentials and is used when no Twitter API keys are configured.
type NitterSearcher struct {
	instance string
	client   *http.Client
	parser   *gofeed.Parser
}

func NewNitterSearcher(instance string, timeout time.Duration) *NitterSearcher {
	return &NitterSearcher{
		instance: instance,
		client:   &http.Client{Timeout: timeout},
		parser:   gofeed.NewParser(),
	}
}

func (n *NitterSearcher) Name() string { return "nitter" }

func (n *NitterSearcher) Search(ctx context.Context, hashtag string, max int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("f", "tweets")
	q.Set("q", "#"+strings.TrimPrefix(hashtag, "#"))
	q.Set("f-images", "on")
	u := fmt.Sprintf("https://%s/search/rss?%s", n.instance, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &UpstreamError{Source: n.Name(), Err: err}
	}
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, */*")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Source: n.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Source: n.Name(), RetryAfter: rateLimitReset(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Source: n.Name(), Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	feed, err := n.parser.Parse(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Source: n.Name(), Err: err}
	}

	results := make([]SearchResult, 0, len(feed.Items))
	for _, item := range feed.Items {
		if max > 0 && len(results) >= max {
			break
		}
		r := SearchResult{ID: statusID(item.Link, item.GUID), Text: item.Title}
		if item.Author != nil {
			r.Author = item.Author.Name
		}
		for _, src := range imageSources(item.Description) {
			r.Media = append(r.Media, SearchMedia{Type: "photo", URL: src})
		}
		for _, enc := range item.Enclosures {
			if strings.HasPrefix(enc.Type, "image/") {
				r.Media = append(r.Media, SearchMedia{Type: "photo", URL: enc.URL})
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// imageSources extracts <img src> values from an item's HTML description.
func imageSources(html string) []string {
	if html == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			out = append(out, src)
		}
	})
	return out
}

// statusID pulls the numeric id out of ".../status/<id>#m".
func statusID(link, guid string) string {
	for _, s := range []string{link, guid} {
		if i := strings.LastIndex(s, "/status/"); i >= 0 {
			id := s[i+len("/status/"):]
			if j := strings.IndexAny(id, "#?/"); j >= 0 {
				id = id[:j]
			}
			if id != "" {
				return id
			}
		}
	}
	return guid
}
