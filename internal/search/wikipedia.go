package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/cache"
)

const wikiTimeout = 8 * time.Second

var wikiLanguages = []string{"it", "en"}

type pageImagesResponse struct {
	Query struct {
		Pages map[string]struct {
			Thumbnail struct {
				Source string `json:"source"`
			} `json:"thumbnail"`
		} `json:"pages"`
	} `json:"query"`
}

// WikipediaThumb returns a 400px thumbnail of the best matching article,
// trying Italian Wikipedia first and English second.
func (c *Client) WikipediaThumb(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	key := cache.Key("wiki", query)
	if v, ok := c.cacheGet(ctx, key); ok {
		return v
	}

	for _, lang := range wikiLanguages {
		thumb, err := c.wikipediaThumb(ctx, lang, query)
		if err != nil {
			c.logger.Debug("wikipedia lookup failed", zap.String("lang", lang), zap.Error(err))
			continue
		}
		if thumb != "" {
			if c.cache != nil {
				c.cache.Set(ctx, key, thumb, c.ttl)
			}
			return thumb
		}
	}
	return ""
}

func (c *Client) wikipediaThumb(ctx context.Context, lang, query string) (string, error) {
	endpoint := fmt.Sprintf(c.wikiURL, lang)

	var search []json.RawMessage
	err := c.getJSON(ctx, endpoint, url.Values{
		"action":    {"opensearch"},
		"search":    {query},
		"limit":     {"1"},
		"namespace": {"0"},
		"format":    {"json"},
	}, wikiTimeout, &search)
	if err != nil {
		return "", err
	}
	if len(search) < 2 {
		return "", nil
	}
	var titles []string
	if err := json.Unmarshal(search[1], &titles); err != nil || len(titles) == 0 || titles[0] == "" {
		return "", nil
	}

	var pages pageImagesResponse
	err = c.getJSON(ctx, endpoint, url.Values{
		"action":      {"query"},
		"prop":        {"pageimages"},
		"format":      {"json"},
		"pithumbsize": {"400"},
		"redirects":   {"1"},
		"titles":      {titles[0]},
	}, wikiTimeout, &pages)
	if err != nil {
		return "", err
	}
	for _, p := range pages.Query.Pages {
		if p.Thumbnail.Source != "" {
			return p.Thumbnail.Source, nil
		}
	}
	return "", nil
}

func (c *Client) cacheGet(ctx context.Context, key string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	return c.cache.Get(ctx, key)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, timeout time.Duration, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := endpoint
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		reqURL += sep + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
