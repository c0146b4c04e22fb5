package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fleetworthy/salesagent/pkg/httpclient"
	"github.com/fleetworthy/salesagent/pkg/mcp"
)

// Research server operations.
const (
	OpResearchSearch  = "search"
	OpResearchFetch   = "fetch"
	OpResearchProfile = "profile"
)

const (
	braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

	// fetchContentLimit bounds extracted page text so one fetch cannot
	// dominate an agent's context window.
	fetchContentLimit = 2000
)

var (
	htmlScriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// ResearchServerConfig configures the company-research server.
type ResearchServerConfig struct {
	// BraveAPIKey enables live web search. Without it, search reports
	// itself unavailable in-band and agents degrade.
	BraveAPIKey string

	// MaxResults caps web search results (default 5).
	MaxResults int
}

// ResearchServer provides web search, page fetch and company profiling.
type ResearchServer struct {
	cfg    ResearchServerConfig
	client *httpclient.Client
}

func NewResearchServer(cfg ResearchServerConfig) *ResearchServer {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &ResearchServer{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 20 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
	}
}

type ResearchSearchRequest struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

type ResearchSearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type ResearchSearchResponse struct {
	Results []ResearchSearchResult `json:"results"`

	// Unavailable marks a search skipped because no API key is configured.
	Unavailable bool `json:"unavailable,omitempty"`
}

type ResearchFetchRequest struct {
	URL string `json:"url"`
}

type ResearchFetchResponse struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

type ResearchProfileRequest struct {
	Company string `json:"company"`
}

type ResearchProfileResponse struct {
	Company     string                 `json:"company"`
	Summary     string                 `json:"summary"`
	Sources     []ResearchSearchResult `json:"sources,omitempty"`
	Unavailable bool                   `json:"unavailable,omitempty"`
}

func (s *ResearchServer) Descriptor(timeout time.Duration) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{
		Name:        ServerCompanyResearch,
		Description: "Live web search and company profiling",
		Timeout:     timeout,
		Capabilities: []mcp.Capability{
			{
				Operation:      OpResearchSearch,
				Description:    "Search the web",
				RequestSchema:  mcp.SchemaFor(&ResearchSearchRequest{}),
				ResponseSchema: mcp.SchemaFor(&ResearchSearchResponse{}),
			},
			{
				Operation:      OpResearchFetch,
				Description:    "Fetch a page and extract its text",
				RequestSchema:  mcp.SchemaFor(&ResearchFetchRequest{}),
				ResponseSchema: mcp.SchemaFor(&ResearchFetchResponse{}),
			},
			{
				Operation:      OpResearchProfile,
				Description:    "Build a short company profile from web sources",
				RequestSchema:  mcp.SchemaFor(&ResearchProfileRequest{}),
				ResponseSchema: mcp.SchemaFor(&ResearchProfileResponse{}),
			},
		},
	}
}

func (s *ResearchServer) Serve(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	switch operation {
	case OpResearchSearch:
		var req ResearchSearchRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.search(ctx, req.Query, req.Count)
		if err != nil {
			return nil, err
		}
		return encode(resp)

	case OpResearchFetch:
		var req ResearchFetchRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		content, err := s.fetchPage(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		return encode(ResearchFetchResponse{URL: req.URL, Content: content})

	case OpResearchProfile:
		var req ResearchProfileRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.profile(ctx, req.Company)
		if err != nil {
			return nil, err
		}
		return encode(resp)

	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
}

func (s *ResearchServer) Ping(_ context.Context) error {
	return nil
}

func (s *ResearchServer) search(ctx context.Context, query string, count int) (*ResearchSearchResponse, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if s.cfg.BraveAPIKey == "" {
		return &ResearchSearchResponse{Results: []ResearchSearchResult{}, Unavailable: true}, nil
	}
	if count <= 0 || count > s.cfg.MaxResults {
		count = s.cfg.MaxResults
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", braveSearchURL, url.QueryEscape(query), count)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", s.cfg.BraveAPIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("web search returned status %d: %s", resp.StatusCode, string(body))
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	out := &ResearchSearchResponse{Results: make([]ResearchSearchResult, 0, len(braveResp.Web.Results))}
	for _, r := range braveResp.Web.Results {
		out.Results = append(out.Results, ResearchSearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Description: stripHTML(r.Description),
		})
	}
	return out, nil
}

func (s *ResearchServer) fetchPage(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("invalid URL: %q", pageURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "salesagent/1.0")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}

	text := stripHTML(string(body))
	if len(text) > fetchContentLimit {
		cut := fetchContentLimit
		// Back off a partial UTF-8 sequence so the payload stays valid.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text, nil
}

func (s *ResearchServer) profile(ctx context.Context, company string) (*ResearchProfileResponse, error) {
	if company == "" {
		return nil, fmt.Errorf("company cannot be empty")
	}

	searchResp, err := s.search(ctx, company+" company overview", 3)
	if err != nil {
		return nil, err
	}
	if searchResp.Unavailable {
		return &ResearchProfileResponse{Company: company, Unavailable: true}, nil
	}

	var summary strings.Builder
	for _, r := range searchResp.Results {
		if r.Description == "" {
			continue
		}
		summary.WriteString(r.Description)
		summary.WriteString(" ")
		if summary.Len() > fetchContentLimit {
			break
		}
	}

	return &ResearchProfileResponse{
		Company: company,
		Summary: strings.TrimSpace(summary.String()),
		Sources: searchResp.Results,
	}, nil
}

func stripHTML(raw string) string {
	text := htmlScriptRe.ReplaceAllString(raw, " ")
	text = htmlTagRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

var _ mcp.Handler = (*ResearchServer)(nil)
