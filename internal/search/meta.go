package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	metaTimeout   = 8 * time.Second
	metaMaxBytes  = 200000
	metaUserAgent = "Mozilla/5.0 (compatible; AlfaAI Bot)"
)

// FetchMetaImage returns the representative image of a page: og:image,
// twitter:image, <link rel="image_src">, or the first <img> when none of those
// exist. Relative URLs are resolved against the page.
func (c *Client) FetchMetaImage(ctx context.Context, pageURL string) string {
	if pageURL == "" {
		return ""
	}
	body, err := c.fetchHTML(ctx, pageURL)
	if err != nil {
		c.logger.Debug("meta image fetch failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	for _, candidate := range MetaImageCandidates(body) {
		if abs := Absolutize(pageURL, candidate); abs != "" {
			return abs
		}
	}
	return ""
}

func (c *Client) fetchHTML(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", metaUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, metaMaxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(raw), nil
}

// MetaImageCandidates lists image URLs declared by a page in priority order.
func MetaImageCandidates(body string) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var og, twitter, imageSrc, firstImg string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				content := strings.TrimSpace(attr(n, "content"))
				if og == "" && strings.EqualFold(attr(n, "property"), "og:image") {
					og = content
				}
				if twitter == "" && strings.EqualFold(attr(n, "name"), "twitter:image") {
					twitter = content
				}
			case "link":
				if imageSrc == "" && strings.EqualFold(attr(n, "rel"), "image_src") {
					imageSrc = strings.TrimSpace(attr(n, "href"))
				}
			case "img":
				if firstImg == "" {
					firstImg = strings.TrimSpace(attr(n, "src"))
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	var out []string
	for _, c := range []string{og, twitter, imageSrc} {
		if c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 && firstImg != "" {
		out = append(out, firstImg)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// Absolutize resolves ref against the page it was found on.
func Absolutize(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}

	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	if strings.HasPrefix(ref, "/") {
		return u.Scheme + "://" + u.Host + ref
	}
	dir := "/"
	if u.Path != "" {
		dir = path.Dir(u.Path)
		if strings.HasSuffix(u.Path, "/") {
			dir = strings.TrimSuffix(u.Path, "/")
		}
		if !strings.HasSuffix(dir, "/") {
			dir += "/"
		}
	}
	return u.Scheme + "://" + u.Host + dir + ref
}
