package stage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/pkg/jina"
)

// fakeJinaClient serves canned search results and page reads.
type fakeJinaClient struct {
	mu        sync.Mutex
	results   []jina.SearchResult
	searchErr error
	pages     map[string]string
	readErr   error
	searches  []string
	reads     []string
}

func (f *fakeJinaClient) Search(_ context.Context, query string, _ ...jina.SearchOption) (*jina.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &jina.SearchResponse{Code: 200, Data: f.results}, nil
}

func (f *fakeJinaClient) Read(_ context.Context, targetURL string) (*jina.ReadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, targetURL)
	if f.readErr != nil {
		return nil, f.readErr
	}
	return &jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{URL: targetURL, Content: f.pages[targetURL]},
	}, nil
}

func TestWebSearchStageRun(t *testing.T) {
	search := &fakeJinaClient{
		results: []jina.SearchResult{
			{Title: "Blog post", URL: "https://blog.example.com/who-owns", Content: "some chatter"},
			{Title: "SEC filing", URL: "https://www.sec.gov/filing-10k", Content: "ownership disclosed"},
		},
		pages: map[string]string{
			"https://www.sec.gov/filing-10k": "Full filing text naming the parent company.",
		},
	}
	llm := &fakeAnthropicClient{
		response: `{"ultimate_owner": "Parent Corp", "chain": [{"name": "Brand", "role": "brand"}, {"name": "Parent Corp", "role": "ultimate_owner"}], "confidence": 75, "reasoning": "from filing", "sources": [{"url": "https://www.sec.gov/filing-10k", "snippet": "..."}]}`,
	}

	s := NewWebSearchStage(search, llm, "test-model", WebSearchConfig{Queries: 2, ResultsEach: 5, PageFetches: 1})

	q, err := model.NewQuery("Brand", "", "", nil)
	require.NoError(t, err)

	cand, err := s.Run(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "Parent Corp", cand.UltimateOwner().Name)
	assert.Equal(t, model.MethodWebSearchInference, cand.Method)

	// Two query variants for a brand-only query.
	assert.Len(t, search.searches, 2)

	// The tier-1 result is fetched in full, not the blog.
	require.Len(t, search.reads, 1)
	assert.Equal(t, "https://www.sec.gov/filing-10k", search.reads[0])

	// The synthesis prompt carries the evidence.
	require.Len(t, llm.requests, 1)
	prompt := llm.requests[0].Messages[0].Content
	assert.Contains(t, prompt, "Full filing text naming the parent company.")
	assert.Contains(t, prompt, "https://blog.example.com/who-owns")
}

func TestWebSearchStageAllQueriesFailed(t *testing.T) {
	search := &fakeJinaClient{searchErr: eris.New("search down")}
	llm := &fakeAnthropicClient{}

	s := NewWebSearchStage(search, llm, "test-model", WebSearchConfig{Queries: 2})

	q, err := model.NewQuery("Brand", "", "", nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), q)
	require.Error(t, err)
	assert.Empty(t, llm.requests)
}

func TestWebSearchStageNoResultsIsNoEvidence(t *testing.T) {
	search := &fakeJinaClient{results: nil}
	llm := &fakeAnthropicClient{}

	s := NewWebSearchStage(search, llm, "test-model", WebSearchConfig{})

	q, err := model.NewQuery("Brand", "", "", nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), q)
	assert.ErrorIs(t, err, ErrNoEvidence)
}

func TestWebSearchStagePageFetchFailureDegradesToSnippets(t *testing.T) {
	search := &fakeJinaClient{
		results: []jina.SearchResult{
			{Title: "Reuters", URL: "https://www.reuters.com/article", Content: "brand acquired by Parent Corp"},
		},
		readErr: eris.New("fetch blocked"),
	}
	llm := &fakeAnthropicClient{
		response: `{"ultimate_owner": "Parent Corp", "chain": [], "confidence": 55, "reasoning": "from snippet"}`,
	}

	s := NewWebSearchStage(search, llm, "test-model", WebSearchConfig{Queries: 1, PageFetches: 1})

	q, err := model.NewQuery("Brand", "", "", nil)
	require.NoError(t, err)

	cand, err := s.Run(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "Parent Corp", cand.UltimateOwner().Name)

	// Snippet evidence still reached the prompt.
	prompt := llm.requests[0].Messages[0].Content
	assert.Contains(t, prompt, "brand acquired by Parent Corp")
}

func TestTruncateAtRune(t *testing.T) {
	assert.Equal(t, "short", truncateAtRune("short", 10))
	assert.Equal(t, "exact", truncateAtRune("exact", 5))

	// Two-byte runes: a limit landing mid-rune backs up to the boundary.
	accented := strings.Repeat("é", 10)
	got := truncateAtRune(accented, 7)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 3), got)

	// Three-byte runes.
	cjk := strings.Repeat("日", 5)
	got = truncateAtRune(cjk, 8)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日日", got)
}

func TestBuildQueries(t *testing.T) {
	s := NewWebSearchStage(nil, nil, "m", WebSearchConfig{Queries: 3})

	brandOnly, _ := model.NewQuery("Oreo", "", "", nil)
	assert.Len(t, s.buildQueries(brandOnly), 2)

	brandAndProduct, _ := model.NewQuery("Oreo", "Thins", "", nil)
	assert.Len(t, s.buildQueries(brandAndProduct), 3)

	productOnly, _ := model.NewQuery("", "Mystery Snack", "123", nil)
	queries := s.buildQueries(productOnly)
	require.Len(t, queries, 3)
	assert.Contains(t, queries[2], "barcode 123")
}
