package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/log"
)

// Client talks to the graph store over HTTP. It never returns an
// error to the Judge for unavailability: every method degrades to the
// static fallback instead, per spec.md §4.6 ("unavailability MUST NOT
// fail the pipeline").
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
	ttl        time.Duration
}

// NewClient builds a Client against baseURL with a process-wide
// context cache of the given TTL (default 300s, per spec.md §4.6).
func NewClient(baseURL string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache.New(ttl, ttl*2),
		ttl:        ttl,
	}
}

// ClearCache invalidates every cached query, per the explicit
// clear_cache contract in spec.md §4.6.
func (c *Client) ClearCache() {
	c.cache.Flush()
}

// ContextFor returns the GDPR articles relevant to a detection type,
// cached by detection type for the client's TTL.
func (c *Client) ContextFor(ctx context.Context, videoID string, typ domain.DetectionType) []Article {
	key := "context:" + string(typ)
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]Article)
	}

	articles, err := c.fetchContext(ctx, typ)
	if err != nil {
		log.Log(videoID, "knowledge graph unreachable, using static fallback", "detection_type", string(typ), "err", err.Error())
		articles = staticFallback
	}
	c.cache.Set(key, articles, c.ttl)
	return articles
}

// HybridSearch combines vector similarity (when the store has
// embeddings) with keyword substring search, deduplicated by title.
// Falls back to the static triage list when the store is unreachable.
func (c *Client) HybridSearch(ctx context.Context, videoID, query string, detectedObjects []string, k int) []string {
	key := fmt.Sprintf("search:%s:%d", query, k)
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]string)
	}

	results, err := c.fetchSearch(ctx, query, detectedObjects, k)
	if err != nil {
		log.Log(videoID, "knowledge graph search unreachable, using static fallback", "err", err.Error())
		results = fallbackTitles()
	}
	results = dedupeByTitle(results)
	c.cache.Set(key, results, c.ttl)
	return results
}

// FineInfo returns the fine tier/amount tied to a GDPR article, cached
// by article number. Falls back to the static higher-tier figures
// that apply to the always-violation articles (5, 6, 9 fall under
// GDPR art. 83(5)(a)) when the graph store is unreachable.
func (c *Client) FineInfo(ctx context.Context, videoID string, articleNumber int) FineInfo {
	key := fmt.Sprintf("fine:%d", articleNumber)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(FineInfo)
	}

	info, err := c.fetchFineInfo(ctx, articleNumber)
	if err != nil {
		log.Log(videoID, "knowledge graph fine lookup unreachable, using static fallback", "article", articleNumber, "err", err.Error())
		info = fineFallback[articleNumber]
		info.ArticleNumber = articleNumber
	}
	c.cache.Set(key, info, c.ttl)
	return info
}

// ExplanationGraph returns the article/recital/concept explanation for
// a detection type, cached by type. Falls back to a minimal
// explanation built from the static article list when the graph store
// is unreachable.
func (c *Client) ExplanationGraph(ctx context.Context, videoID string, typ domain.DetectionType) ExplanationGraph {
	key := "explain:" + string(typ)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(ExplanationGraph)
	}

	graph, err := c.fetchExplanationGraph(ctx, typ)
	if err != nil {
		log.Log(videoID, "knowledge graph explanation unreachable, using static fallback", "detection_type", string(typ), "err", err.Error())
		graph = fallbackExplanation(typ)
	}
	c.cache.Set(key, graph, c.ttl)
	return graph
}

func fallbackExplanation(typ domain.DetectionType) ExplanationGraph {
	a := staticFallback[len(staticFallback)-1] // article 9: the special-category default
	fine := fineFallback[a.Number]
	return ExplanationGraph{
		Detection:     string(typ),
		Severity:      a.Severity,
		Article:       a.Number,
		ArticleTitle:  a.Title,
		Recitals:      a.RelatedRecitals,
		Concepts:      a.RelatedConcepts,
		FineTier:      fine.Tier,
		FineMaxAmount: fine.MaxAmount,
	}
}

func (c *Client) fetchFineInfo(ctx context.Context, articleNumber int) (FineInfo, error) {
	var info FineInfo
	op := func() error {
		reqURL := fmt.Sprintf("%s/fine?article=%d", c.baseURL, articleNumber)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph store returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&info)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)); err != nil {
		return FineInfo{}, err
	}
	info.ArticleNumber = articleNumber
	return info, nil
}

func (c *Client) fetchExplanationGraph(ctx context.Context, typ domain.DetectionType) (ExplanationGraph, error) {
	var graph ExplanationGraph
	op := func() error {
		reqURL := fmt.Sprintf("%s/explain?type=%s", c.baseURL, url.QueryEscape(string(typ)))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph store returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&graph)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)); err != nil {
		return ExplanationGraph{}, err
	}
	return graph, nil
}

func fallbackTitles() []string {
	titles := make([]string, len(staticFallback))
	for i, a := range staticFallback {
		titles[i] = a.Title
	}
	return titles
}

func dedupeByTitle(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, t := range in {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (c *Client) fetchContext(ctx context.Context, typ domain.DetectionType) ([]Article, error) {
	var articles []Article
	op := func() error {
		reqURL := fmt.Sprintf("%s/context?type=%s", c.baseURL, url.QueryEscape(string(typ)))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph store returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&articles)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)); err != nil {
		return nil, err
	}
	return articles, nil
}

func (c *Client) fetchSearch(ctx context.Context, query string, objects []string, k int) ([]string, error) {
	var titles []string
	op := func() error {
		reqURL := fmt.Sprintf("%s/search?q=%s&k=%d", c.baseURL, url.QueryEscape(query), k)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph store returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&titles)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)); err != nil {
		return nil, err
	}
	return titles, nil
}
