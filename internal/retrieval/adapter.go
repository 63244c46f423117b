package retrieval

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/config"
	"github.com/alfassa/alfaai-gateway/internal/utils"
)

const (
	rowsPerTable     = 5
	maxKeywords      = 8
	minKeywordRunes  = 3
	articleMinRows   = 12
	articleSnippet   = 320
	exportSnippet    = 200
	fallbackKeyword  = "alfassa"
	fallbackSourceDB = "alfassa-db"
)

var (
	skipTableRe = regexp.MustCompile(`(?i)(_logs?|_options|_sessions?|_cache)$`)
	nonTokenRe  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	quotesRe    = strings.NewReplacer("’", "'", "“", `"`, "”", `"`, "«", `"`, "»", `"`)

	articleStopWords = toSet(strings.Fields(`un una uno il lo la i gli le di dei delle della del degli e ed o
		oppure che chi come cosa cos cos' su sul sulla per con da nel nella nei nelle al allo alla agli alle ai
		articolo articoli post blog news notizia link collegamento dammi mandami parla parlare riguarda
		riguardante about the and or of to in on for an a`))
)

func toSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

// Hit is one row matched in an external database.
type Hit struct {
	Database string         `json:"database"`
	Table    string         `json:"table"`
	Source   string         `json:"source"`
	Data     map[string]any `json:"data"`
}

// Article is a scored post from a WordPress-style database.
type Article struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
	Date    string `json:"date"`
	Source  string `json:"source"`
	Score   int    `json:"score"`
}

// Adapter searches every configured profile. A profile that cannot be reached
// or queried is logged and skipped.
type Adapter struct {
	dialer   Dialer
	profiles []config.Profile
	siteURLs map[string]string
	logger   *zap.Logger

	introspect IntrospectFunc
}

// IntrospectFunc picks the schema source for a profile. The default asks the
// live connection every time.
type IntrospectFunc func(conn Conn, p config.Profile) Introspector

type Option func(*Adapter)

// WithIntrospector replaces live schema discovery, for example with
// (*SchemaCache).Introspect.
func WithIntrospector(fn IntrospectFunc) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.introspect = fn
		}
	}
}

func NewAdapter(dialer Dialer, profiles []config.Profile, siteURLs map[string]string, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		dialer:     dialer,
		profiles:   profiles,
		siteURLs:   siteURLs,
		logger:     logger,
		introspect: func(c Conn, _ config.Profile) Introspector { return c },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Profiles returns the profiles the adapter queries.
func (a *Adapter) Profiles() []config.Profile {
	return a.profiles
}

// Search runs a substring match over the text columns of every table.
func (a *Adapter) Search(ctx context.Context, query string) []Hit {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return a.searchAll(ctx, query)
}

// Scan returns a sample of rows from every table, matching any text. It feeds
// the article cache export.
func (a *Adapter) Scan(ctx context.Context) []Hit {
	return a.searchAll(ctx, "")
}

func (a *Adapter) searchAll(ctx context.Context, query string) []Hit {
	var hits []Hit
	for _, p := range a.profiles {
		if ctx.Err() != nil {
			break
		}
		found, err := a.searchProfile(ctx, p, query)
		if err != nil {
			a.logger.Warn("external database search failed", zap.String("profile", p.Label()), zap.Error(err))
			continue
		}
		hits = append(hits, found...)
	}
	return hits
}

func (a *Adapter) searchProfile(ctx context.Context, p config.Profile, query string) ([]Hit, error) {
	conn, err := a.dialer.Dial(ctx, p)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	schema := a.introspect(conn, p)
	tables, err := schema.Tables(ctx)
	if err != nil {
		return nil, err
	}

	source := p.Name
	if source == "" {
		source = "external"
	}
	var hits []Hit
	for _, table := range tables {
		if skipTableRe.MatchString(table) {
			continue
		}
		cols, err := schema.TextColumns(ctx, table)
		if err != nil {
			a.logger.Debug("skipping table", zap.String("table", table), zap.Error(err))
			continue
		}
		if len(cols) == 0 {
			continue
		}
		rows, err := conn.SearchRows(ctx, table, cols, query, rowsPerTable)
		if err != nil {
			a.logger.Debug("skipping table", zap.String("table", table), zap.Error(err))
			continue
		}
		for _, row := range rows {
			hits = append(hits, Hit{
				Database: p.Label(),
				Table:    table,
				Source:   source,
				Data:     decodeCells(row),
			})
		}
	}
	return hits, nil
}

// decodeCells expands string cells holding a JSON object or array.
func decodeCells(row map[string]any) map[string]any {
	for k, v := range row {
		s, ok := v.(string)
		if !ok {
			continue
		}
		t := strings.TrimSpace(s)
		if t == "" || (t[0] != '{' && t[0] != '[') {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			continue
		}
		switch decoded.(type) {
		case map[string]any, []any:
			row[k] = decoded
		}
	}
	return row
}

// SearchArticles returns up to limit published posts ranked by keyword score.
func (a *Adapter) SearchArticles(ctx context.Context, query string, limit int) []Article {
	if limit <= 0 {
		limit = 8
	}
	tokens := ExtractKeywords(query)

	var out []Article
	for _, p := range a.profiles {
		if ctx.Err() != nil {
			break
		}
		found, err := a.articlesFromProfile(ctx, p, tokens, limit)
		if err != nil {
			a.logger.Warn("article search failed", zap.String("profile", p.Label()), zap.Error(err))
			continue
		}
		out = append(out, found...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Date > out[j].Date
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (a *Adapter) articlesFromProfile(ctx context.Context, p config.Profile, tokens []string, limit int) ([]Article, error) {
	conn, err := a.dialer.Dial(ctx, p)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	table, err := conn.PostsTable(ctx)
	if err != nil || table == "" {
		return nil, err
	}

	site := a.siteURLs[p.SiteKey()]
	if site == "" {
		site = p.SiteURL
	}
	if site == "" {
		optionsTable := strings.TrimSuffix(table, "_posts") + "_options"
		site, err = conn.SiteURL(ctx, optionsTable)
		if err != nil {
			a.logger.Debug("site url unavailable", zap.String("profile", p.Label()), zap.Error(err))
		}
	}
	site = strings.TrimRight(site, "/")

	rows, err := conn.ScoredPosts(ctx, table, tokens, max(limit*2, articleMinRows))
	if err != nil {
		return nil, err
	}

	source := site
	if source == "" {
		source = p.Name
	}
	if source == "" {
		source = fallbackSourceDB
	}

	var out []Article
	for _, r := range rows {
		title := strings.TrimSpace(utils.CleanText(r.Title))
		if title == "" || r.Score <= 0 {
			continue
		}
		link := "#"
		if site != "" {
			link = site + "/?p=" + strconv.FormatInt(r.ID, 10)
		}
		date := r.Date
		if len(date) > 10 {
			date = date[:10]
		}
		out = append(out, Article{
			Title:   title,
			URL:     link,
			Excerpt: utils.Snippet(utils.StripTags(r.Content), articleSnippet),
			Date:    date,
			Source:  source,
			Score:   r.Score,
		})
	}
	return out, nil
}

// ExtractKeywords lowercases the query, turns punctuation and apostrophes into
// spaces, drops stop words and returns at most eight unique tokens of three or
// more runes.
func ExtractKeywords(query string) []string {
	q := quotesRe.Replace(strings.ToLower(query))
	q = nonTokenRe.ReplaceAllString(q, " ")

	seen := make(map[string]bool)
	var out []string
	for _, raw := range strings.Fields(q) {
		tok := strings.Trim(raw, "'")
		if tok == "" || articleStopWords[tok] {
			continue
		}
		if utf8.RuneCountInString(tok) < minKeywordRunes || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	if len(out) == 0 {
		return []string{fallbackKeyword}
	}
	return out
}

var urlFields = []string{"guid", "permalink", "url", "link", "href"}

// BuildArticleURL derives a link for a generic row: an explicit URL field, any
// URL embedded in the row, or a permalink built from the source's site.
func BuildArticleURL(row map[string]any, source string, siteURLs map[string]string) string {
	for _, k := range urlFields {
		if s, ok := row[k].(string); ok && utils.IsHTTPURL(strings.TrimSpace(s)) {
			return strings.TrimSpace(s)
		}
	}
	if u := utils.FindURL(row); u != "" && utils.IsHTTPURL(u) {
		return u
	}

	site := strings.TrimRight(siteURLs[strings.ToLower(strings.TrimSpace(source))], "/")
	if site == "" {
		return ""
	}
	if slug := utils.FirstString(row, "post_name", "slug"); slug != "" {
		return site + "/" + strings.Trim(slug, "/")
	}
	if v, ok := utils.FirstValue(row, "ID", "id"); ok {
		return site + "/?p=" + utils.CleanText(v)
	}
	return ""
}

// ExportedArticle is one record of the article cache file.
type ExportedArticle struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Table   string `json:"table"`
	Snippet string `json:"snippet"`
}

// ExportArticles turns generic hits into article cache records, dropping hits
// for which no URL can be derived.
func ExportArticles(hits []Hit, siteURLs map[string]string) []ExportedArticle {
	var out []ExportedArticle
	for _, h := range hits {
		link := BuildArticleURL(h.Data, h.Source, siteURLs)
		if link == "" {
			continue
		}
		title := utils.CleanText(utils.FirstString(h.Data, "post_title", "title", "name", "headline"))
		if title == "" {
			title = humanizeTable(h.Table)
		}
		var snippet string
		if v, ok := utils.FirstValue(h.Data, "excerpt", "description", "content", "bio", "post_excerpt"); ok {
			snippet = utils.Snippet(v, exportSnippet)
		}
		out = append(out, ExportedArticle{
			Title:   title,
			URL:     link,
			Source:  h.Source,
			Table:   h.Table,
			Snippet: snippet,
		})
	}
	return out
}

func humanizeTable(table string) string {
	s := strings.TrimSpace(strings.ReplaceAll(table, "_", " "))
	if s == "" {
		return "Articolo"
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
