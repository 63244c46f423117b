package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	customsearch "google.golang.org/api/customsearch/v1"
	kgsearch "google.golang.org/api/kgsearch/v1"
	"google.golang.org/api/option"

	"github.com/alfassa/alfaai-gateway/internal/cache"
)

const (
	defaultWikipediaURL = "https://%s.wikipedia.org/w/api.php"

	webTimeout      = 12 * time.Second
	linkedInTimeout = 10 * time.Second
	kgTimeout       = 10 * time.Second
	maxBodyBytes    = 2 << 20

	webResultCount   = 5
	imageResultCount = 10
	maxImages        = 6
)

var (
	questionPrefixRe = regexp.MustCompile(`(?i)^(chi\s?è|who\s?is)\s*`)
	linkedInProfile  = regexp.MustCompile(`(?i)https?://(www\.)?linkedin\.com/(in|pub)/`)

	// First names often confused with the person being searched.
	bannedNames = []string{"francesca", "maurizio", "giovanni", "pierluigi", "marco"}
)

// WebResult is one organic search result.
type WebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// ImageQuery describes an image search. NameTokens apply only to person queries.
type ImageQuery struct {
	Query      string
	Person     bool
	NameTokens []string
}

type Options struct {
	APIKey   string
	CX       string
	Cache    cache.Cache
	CacheTTL time.Duration

	// HTTPClient fetches Wikipedia and page metadata. The Google clients
	// authenticate with APIKey on their own transport.
	HTTPClient *http.Client

	// CSEEndpoint and KGEndpoint override the Google API base URLs.
	CSEEndpoint  string
	KGEndpoint   string
	WikipediaURL string // must contain %s for the language
}

// Client talks to Google Custom Search, the Knowledge Graph and Wikipedia.
// Every failure is logged and reported as an empty result.
type Client struct {
	cx     string
	cse    *customsearch.Service
	kg     *kgsearch.Service
	http   *http.Client
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger

	wikiURL string
}

// NewClient builds the Google service clients when an API key is configured.
// Without a key the client still serves Wikipedia and page metadata.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	c := &Client{
		cx:      opts.CX,
		http:    opts.HTTPClient,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		logger:  logger,
		wikiURL: opts.WikipediaURL,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.ttl <= 0 {
		c.ttl = 10 * time.Minute
	}
	if c.wikiURL == "" {
		c.wikiURL = defaultWikipediaURL
	}
	if opts.APIKey == "" {
		return c, nil
	}

	var err error
	c.cse, err = customsearch.NewService(ctx, googleOptions(opts.APIKey, opts.CSEEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search client: %w", err)
	}
	c.kg, err = kgsearch.NewService(ctx, googleOptions(opts.APIKey, opts.KGEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge graph client: %w", err)
	}
	return c, nil
}

func googleOptions(apiKey, endpoint string) []option.ClientOption {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

// Configured reports whether Custom Search can be used.
func (c *Client) Configured() bool {
	return c.cse != nil && c.cx != ""
}

// list runs one Custom Search query with the Italian locale.
func (c *Client) list(ctx context.Context, query string, num int64, timeout time.Duration, tune func(*customsearch.CseListCall)) ([]*customsearch.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call := c.cse.Cse.List().Context(ctx).Cx(c.cx).Q(query).Num(num).Gl("it").Hl("it")
	if tune != nil {
		tune(call)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Web returns up to five results for query.
func (c *Client) Web(ctx context.Context, query string) []WebResult {
	if !c.Configured() || strings.TrimSpace(query) == "" {
		return nil
	}
	key := cache.Key("web", query)
	var results []WebResult
	if cache.GetJSON(ctx, c.cache, key, &results) {
		return results
	}

	items, err := c.list(ctx, query, webResultCount, webTimeout, nil)
	if err != nil {
		c.logger.Warn("web search failed", zap.String("query", query), zap.Error(err))
		return nil
	}

	for i, it := range items {
		if i == webResultCount {
			break
		}
		results = append(results, WebResult{Title: it.Title, URL: it.Link, Description: it.Snippet})
	}
	if len(results) > 0 {
		cache.SetJSON(ctx, c.cache, key, results, c.ttl)
	}
	return results
}

// LinkedIn looks up the best matching personal profile for a person query.
func (c *Client) LinkedIn(ctx context.Context, query string) (WebResult, bool) {
	if !c.Configured() {
		return WebResult{}, false
	}
	clean := strings.TrimSpace(questionPrefixRe.ReplaceAllString(strings.TrimSpace(query), ""))
	clean = strings.Trim(clean, " ?.!;:")
	if clean == "" {
		return WebResult{}, false
	}

	key := cache.Key("linkedin", clean)
	var cached WebResult
	if cache.GetJSON(ctx, c.cache, key, &cached) {
		return cached, true
	}

	items, err := c.list(ctx, "site:linkedin.com/in "+clean, 3, linkedInTimeout, nil)
	if err != nil {
		c.logger.Warn("linkedin lookup failed", zap.String("query", clean), zap.Error(err))
		return WebResult{}, false
	}

	for _, it := range items {
		if it.Link == "" || !linkedInProfile.MatchString(it.Link) {
			continue
		}
		title := it.Title
		if title == "" {
			title = "LinkedIn"
		}
		res := WebResult{Title: title, URL: it.Link}
		cache.SetJSON(ctx, c.cache, key, res, c.ttl)
		return res, true
	}
	return WebResult{}, false
}

// Images runs an image search. Person queries are restricted to faces showing
// every name token and never mentioning a commonly confused first name.
func (c *Client) Images(ctx context.Context, q ImageQuery) []string {
	if !c.Configured() || strings.TrimSpace(q.Query) == "" {
		return nil
	}
	items, err := c.list(ctx, q.Query, imageResultCount, webTimeout, func(call *customsearch.CseListCall) {
		call.Safe("active").SearchType("image").ImgSize("medium")
		if q.Person {
			call.ImgType("face")
			if len(q.NameTokens) > 0 {
				call.ExactTerms(strings.Join(q.NameTokens, " "))
			}
		}
	})
	if err != nil {
		c.logger.Warn("image search failed", zap.String("query", q.Query), zap.Error(err))
		return nil
	}

	var out []string
	for _, it := range items {
		if it.Link == "" {
			continue
		}
		if q.Person {
			var contextLink string
			if it.Image != nil {
				contextLink = it.Image.ContextLink
			}
			hay := strings.ToLower(it.Title + " " + contextLink + " " + it.DisplayLink)
			if !containsAll(hay, q.NameTokens) || containsAny(hay, bannedNames) {
				continue
			}
		}
		out = append(out, it.Link)
		if len(out) >= maxImages {
			break
		}
	}
	return out
}

func containsAll(hay string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(hay, t) {
			return false
		}
	}
	return true
}

func containsAny(hay string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(hay, t) {
			return true
		}
	}
	return false
}

// kgEntity is the part of a Knowledge Graph list element the resolver reads.
type kgEntity struct {
	Result struct {
		Image struct {
			ContentURL string `json:"contentUrl"`
		} `json:"image"`
		DetailedDescription struct {
			URL string `json:"url"`
		} `json:"detailedDescription"`
	} `json:"result"`
}

// KnowledgeGraphImages returns entity images, falling back to the meta image of
// each entity's description page.
func (c *Client) KnowledgeGraphImages(ctx context.Context, query string) []string {
	if c.kg == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	key := cache.Key("kg", query)
	var out []string
	if cache.GetJSON(ctx, c.cache, key, &out) {
		return out
	}

	entities, err := c.kgSearch(ctx, query)
	if err != nil {
		c.logger.Warn("knowledge graph lookup failed", zap.String("query", query), zap.Error(err))
		return nil
	}

	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, el := range entities {
		add(el.Result.Image.ContentURL)
		if page := el.Result.DetailedDescription.URL; page != "" {
			add(c.FetchMetaImage(ctx, page))
		}
	}
	if len(out) > 0 {
		cache.SetJSON(ctx, c.cache, key, out, c.ttl)
	}
	return out
}

func (c *Client) kgSearch(ctx context.Context, query string) ([]kgEntity, error) {
	ctx, cancel := context.WithTimeout(ctx, kgTimeout)
	defer cancel()

	resp, err := c.kg.Entities.Search().Context(ctx).Query(query).Limit(5).Languages("it").Do()
	if err != nil {
		return nil, err
	}
	// List elements are untyped JSON-LD; decode them into the fields we read.
	raw, err := json.Marshal(resp.ItemListElement)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entities: %w", err)
	}
	var entities []kgEntity
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("failed to decode entities: %w", err)
	}
	return entities, nil
}
