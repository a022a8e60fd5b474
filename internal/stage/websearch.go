package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/pkg/anthropic"
	"github.com/brandtrace/ownership-cli/pkg/jina"
)

const searchSystemText = `You are a corporate ownership analyst synthesizing web evidence. Given search results and page excerpts about a brand, determine the ultimate corporate owner.

Base your answer strictly on the provided evidence. If the evidence does not establish current ownership, return "ultimate_owner": "unknown" with confidence 0.

Return a valid JSON object:
{"ultimate_owner": "<company name or unknown>", "chain": [{"name": "<entity>", "role": "brand|intermediate|ultimate_owner", "country": "<ISO country or empty>"}], "confidence": <0-100>, "reasoning": "<brief explanation>", "sources": [{"url": "<source url>", "snippet": "<supporting quote>"}]}`

const searchPromptTmpl = `Determine the ultimate corporate owner of the following product from the evidence below.

%s
Search evidence:
%s

Cite only URLs that appear in the evidence. Prefer regulatory filings and the companies' own investor pages over news and reference sites.`

// maxSnippetChars caps each search result's contribution to the prompt.
const maxSnippetChars = 1200

// maxPageChars caps each fetched page's contribution to the prompt.
const maxPageChars = 6000

// WebSearchConfig sets the fan-out shape of the web search stage.
type WebSearchConfig struct {
	Queries     int // number of query variants issued
	ResultsEach int // results requested per query
	PageFetches int // top-ranked pages fetched in full
}

// WebSearchStage searches the open web, fetches the most authoritative
// pages, and has the LLM synthesize ownership from that evidence. It is
// the most expensive stage and runs last.
type WebSearchStage struct {
	search jina.Client
	llm    anthropic.Client
	model  string
	cfg    WebSearchConfig
}

// NewWebSearchStage creates the web-search-augmented inference stage.
func NewWebSearchStage(search jina.Client, llm anthropic.Client, model string, cfg WebSearchConfig) *WebSearchStage {
	if cfg.Queries <= 0 {
		cfg.Queries = 3
	}
	if cfg.ResultsEach <= 0 {
		cfg.ResultsEach = 5
	}
	if cfg.PageFetches < 0 {
		cfg.PageFetches = 0
	}
	return &WebSearchStage{search: search, llm: llm, model: model, cfg: cfg}
}

func (s *WebSearchStage) Name() string { return "web_search_inference" }

func (s *WebSearchStage) Method() model.ResearchMethod { return model.MethodWebSearchInference }

func (s *WebSearchStage) Run(ctx context.Context, q model.OwnershipQuery) (*model.OwnershipCandidate, error) {
	queries := s.buildQueries(q)

	results, err := s.fanOutSearch(ctx, queries)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoEvidence
	}

	pages := s.fetchTopPages(ctx, results)

	evidence := buildEvidence(results, pages)

	resp, err := s.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 1024,
		System: []anthropic.SystemBlock{
			{Text: searchSystemText, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(searchPromptTmpl, FormatSubject(q), evidence)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "stage: web search synthesis")
	}
	resp.Usage.LogCost(s.model, s.Name())

	return parseCandidate(resp.Text(), model.MethodWebSearchInference)
}

// buildQueries produces up to cfg.Queries query variants, most specific
// first.
func (s *WebSearchStage) buildQueries(q model.OwnershipQuery) []string {
	var candidates []string
	if q.Brand != "" {
		candidates = append(candidates,
			fmt.Sprintf("who owns %s brand parent company", q.Brand),
			fmt.Sprintf("%s ultimate parent company ownership", q.Brand),
		)
	}
	if q.Brand != "" && q.ProductName != "" {
		candidates = append(candidates,
			fmt.Sprintf("%s %s manufacturer parent company", q.Brand, q.ProductName),
		)
	}
	if q.Brand == "" && q.ProductName != "" {
		candidates = append(candidates,
			fmt.Sprintf("who makes %s brand owner", q.ProductName),
			fmt.Sprintf("%s manufacturer parent company", q.ProductName),
		)
	}
	if q.Barcode != "" {
		candidates = append(candidates, fmt.Sprintf("barcode %s product brand owner", q.Barcode))
	}

	if len(candidates) > s.cfg.Queries {
		candidates = candidates[:s.cfg.Queries]
	}
	return candidates
}

// fanOutSearch issues all query variants concurrently and merges their
// results, deduplicated by URL. A single failed query is tolerated;
// failure of every query propagates.
func (s *WebSearchStage) fanOutSearch(ctx context.Context, queries []string) ([]jina.SearchResult, error) {
	var mu sync.Mutex
	var merged []jina.SearchResult
	seen := make(map[string]bool)
	failures := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(len(queries))

	for _, query := range queries {
		g.Go(func() error {
			resp, err := s.search.Search(gCtx, query, jina.WithMaxResults(s.cfg.ResultsEach))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				zap.L().Warn("web search query failed",
					zap.String("query", query),
					zap.Error(err),
				)
				return nil
			}
			for _, r := range resp.Data {
				if r.URL == "" || seen[r.URL] {
					continue
				}
				seen[r.URL] = true
				merged = append(merged, r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "stage: web search fan-out")
	}

	if failures == len(queries) {
		return nil, eris.New("stage: all search queries failed")
	}

	// Authoritative domains first so page fetches and prompt budget favor
	// them.
	sort.SliceStable(merged, func(i, j int) bool {
		return tierForURL(merged[i].URL) < tierForURL(merged[j].URL)
	})

	return merged, nil
}

// fetchTopPages pulls the full content of the highest-ranked results.
// Fetch failures degrade to snippet-only evidence.
func (s *WebSearchStage) fetchTopPages(ctx context.Context, results []jina.SearchResult) map[string]string {
	n := s.cfg.PageFetches
	if n > len(results) {
		n = len(results)
	}
	pages := make(map[string]string, n)
	if n == 0 {
		return pages
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	for _, r := range results[:n] {
		g.Go(func() error {
			resp, err := s.search.Read(gCtx, r.URL)
			if err != nil {
				zap.L().Warn("page fetch failed",
					zap.String("url", r.URL),
					zap.Error(err),
				)
				return nil
			}
			content := truncateAtRune(resp.Data.Content, maxPageChars)
			mu.Lock()
			pages[r.URL] = content
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return pages
}

// truncateAtRune caps s at limit bytes without splitting a UTF-8
// sequence, so truncated evidence never feeds invalid text to the LLM.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// buildEvidence assembles the prompt evidence block: fetched pages in
// full, everything else as snippets.
func buildEvidence(results []jina.SearchResult, pages map[string]string) string {
	var b strings.Builder
	for _, r := range results {
		if full, ok := pages[r.URL]; ok {
			fmt.Fprintf(&b, "--- %s (%s) [full page] ---\n%s\n\n", r.Title, r.URL, full)
			continue
		}
		snippet := r.Content
		if snippet == "" {
			snippet = r.Description
		}
		fmt.Fprintf(&b, "--- %s (%s) ---\n%s\n\n", r.Title, r.URL, truncateAtRune(snippet, maxSnippetChars))
	}
	return b.String()
}
