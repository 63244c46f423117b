package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/utils"
)

const (
	DefaultLimit  = 6
	snippetLength = 450
	brandToken    = "alfassa"
	tokenScore    = 2
	brandBonus    = 1
)

var (
	stopWords = map[string]bool{
		"che": true, "cosa": true, "cos": true, "cos'": true, "è": true, "e": true,
		"il": true, "la": true, "lo": true, "i": true, "gli": true, "le": true,
		"di": true, "del": true, "della": true, "un": true, "una": true, "uno": true,
		"what": true, "is": true, "who": true, "chi": true,
	}
	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	slugRe    = regexp.MustCompile(`(?i)[^a-z0-9\-]+`)
)

// Document is one flattened knowledge entry.
type Document struct {
	ID       string   `json:"id"`
	Section  string   `json:"section"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`
}

type Hit struct {
	Document
	Score   int
	Snippet string
}

// Base is the local knowledge store. It reads its JSON file on first use and
// keeps the flattened documents for the life of the process.
type Base struct {
	path   string
	logger *zap.Logger

	once sync.Once
	docs []Document
}

func New(path string, logger *zap.Logger) *Base {
	return &Base{path: path, logger: logger}
}

// Documents returns the flattened documents, loading them on first call.
func (b *Base) Documents() []Document {
	b.once.Do(func() {
		docs, err := LoadFile(b.path)
		if err != nil {
			b.logger.Warn("knowledge base unavailable", zap.String("path", b.path), zap.Error(err))
			return
		}
		b.docs = docs
		b.logger.Info("knowledge base loaded", zap.String("path", b.path), zap.Int("documents", len(docs)))
	})
	return b.docs
}

// Search scores every document against the query and returns the best limit hits.
func (b *Base) Search(query string, limit int) []Hit {
	docs := b.Documents()
	if len(docs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	tokens := queryTokens(query)
	var hits []Hit
	for _, d := range docs {
		hay := strings.ToLower(d.Title + " " + d.Section + " " + d.Text + " " + strings.Join(d.Keywords, " "))
		score := 0
		for _, tok := range tokens {
			if strings.Contains(hay, tok) {
				score += tokenScore
			}
		}
		if strings.Contains(hay, brandToken) {
			score += brandBonus
		}
		if score > 0 {
			hits = append(hits, Hit{Document: d, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	for i := range hits {
		hits[i].Snippet = utils.Snippet(hits[i].Text, snippetLength)
	}
	return hits
}

func queryTokens(query string) []string {
	var tokens []string
	for _, raw := range strings.Fields(strings.ToLower(query)) {
		t := nonWordRe.ReplaceAllString(raw, "")
		if t != "" && !stopWords[t] {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		tokens = []string{brandToken}
	}
	return tokens
}

// LoadFile reads and flattens a knowledge JSON file. A missing file yields no
// documents and no error.
func LoadFile(path string) ([]Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}
	return Flatten(raw)
}

// Flatten normalizes either a plain document list or the sectioned object
// (faqs, overview, entities, sistema_di_sviluppo.subsystems) into documents.
func Flatten(raw []byte) ([]Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []Document
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("invalid knowledge list: %w", err)
		}
		return keepComplete(list), nil
	}

	var src sectioned
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("invalid knowledge json: %w", err)
	}

	var docs []Document
	for i, f := range src.FAQs {
		id := f.ID
		if id == "" {
			id = fmt.Sprintf("faq-%d", i)
		}
		title := strings.TrimSpace(f.Question)
		if title == "" {
			title = "FAQ"
		}
		docs = append(docs, Document{
			ID:       id,
			Section:  "FAQ",
			Title:    title,
			Text:     strings.TrimSpace(f.Answer.String()),
			Keywords: f.Tags,
		})
	}

	if ov := src.Overview; ov != nil {
		var parts []string
		for _, s := range []string{ov.Synopsis, ov.ValueProposition} {
			if s != "" {
				parts = append(parts, s)
			}
		}
		if len(ov.Keypoints) > 0 {
			parts = append(parts, strings.Join(ov.Keypoints, "; "))
		}
		if len(ov.CorePrinciples) > 0 {
			parts = append(parts, strings.Join(ov.CorePrinciples, "; "))
		}
		docs = append(docs, Document{
			ID:       "overview",
			Section:  "Overview",
			Title:    "Che cos’è ALFASSA",
			Text:     strings.TrimSpace(strings.Join(parts, "\n\n")),
			Keywords: []string{"alfassa", "overview", "sistema", "ecosistema"},
		})
	}

	entities, err := orderedEntities(src.Entities)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		slug := "entity-" + strings.Trim(slugRe.ReplaceAllString(strings.ToLower(e.name), "-"), "-")
		keywords := e.tags
		if keywords == nil {
			keywords = []string{e.name}
		}
		docs = append(docs, Document{
			ID:       slug,
			Section:  "Glossario",
			Title:    e.name,
			Text:     e.text,
			Keywords: keywords,
		})
	}

	if src.Sistema != nil {
		for i, sub := range src.Sistema.Subsystems {
			id := sub.ID
			if id == "" {
				id = fmt.Sprintf("sub-%d", i)
			}
			title := sub.Title
			if title == "" {
				title = "Sottosistema"
			}
			docs = append(docs, Document{
				ID:       id,
				Section:  "Sistema di sviluppo",
				Title:    title,
				Text:     strings.TrimSpace(sub.Description),
				Keywords: sub.Keywords,
			})
		}
	}

	return keepComplete(docs), nil
}

func keepComplete(docs []Document) []Document {
	out := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Text) == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}
