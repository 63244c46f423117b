// Package assembler turns retrieval results into the augmented prompt sent to
// the model and the attachments rendered by the client.
package assembler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alfassa/alfaai-gateway/internal/knowledge"
	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/search"
	"github.com/alfassa/alfaai-gateway/internal/store"
	"github.com/alfassa/alfaai-gateway/internal/utils"
)

const (
	dbHeader        = "— NOTE INTERNE (DB):\n"
	knowledgeHeader = "— NOTE INTERNE (KNOWLEDGE):\n"
	bullet          = "• "

	rowSnippet       = 260
	knowledgeSnippet = 420
	shortTitleMax    = 96

	notesBanner       = "\n\n[CONTESTO INTERNO (NON RIVELARE):]\n%s\n"
	notesInstructions = "Istruzioni: usa queste note interne per migliorare la risposta, ma NON menzionare database interni, tabelle o 'whitepaper/knowledge'. Rispondi in prosa naturale, strutturata, tono professionale.\n"
	webSourcesHeader  = "\n\nUsa le seguenti FONTI WEB per rispondere. Cita in testo come [1], [2].\nFONTI:\n"
)

var (
	noisyTableWords = []string{
		"log", "notif", "notification", "wpnotif", "option", "session", "cache", "queue", "audit", "debug", "error",
	}
	wpPrefixRe = regexp.MustCompile(`(?i)^wp_`)

	titleKeys = []string{"title", "name", "nome", "oggetto", "subject"}
	roleKeys  = []string{"role", "ruolo", "position", "posizione", "title_role"}
	descKeys  = []string{"description", "descrizione", "bio", "content", "testo", "text", "summary", "excerpt"}
)

// excludedTable drops operational tables even if the adapter let them through.
func excludedTable(table string) bool {
	t := strings.ToLower(table)
	if t == "" || wpPrefixRe.MatchString(t) {
		return true
	}
	for _, w := range noisyTableWords {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

// BuildDBContext renders relational hits as internal-note bullet lines.
// It returns "" when nothing survives the table filter.
func BuildDBContext(hits []retrieval.Hit) string {
	var b strings.Builder
	for _, h := range hits {
		if excludedTable(h.Table) {
			continue
		}
		b.WriteString(bullet + rowLine(h.Data) + "\n")
	}
	if b.Len() == 0 {
		return ""
	}
	return dbHeader + b.String() + "\n"
}

func rowLine(row map[string]any) string {
	var parts []string
	if title := utils.FirstString(row, titleKeys...); title != "" {
		parts = append(parts, title)
	}
	if role := utils.FirstString(row, roleKeys...); role != "" {
		parts = append(parts, role)
	}
	if desc, ok := utils.FirstValue(row, descKeys...); ok {
		if _, isString := desc.(string); !isString {
			raw, _ := json.Marshal(desc)
			desc = string(raw)
		}
		parts = append(parts, utils.Snippet(desc, rowSnippet))
	}
	if len(parts) == 0 {
		raw, _ := json.Marshal(row)
		return utils.Snippet(string(raw), rowSnippet)
	}
	return strings.Join(parts, " — ")
}

// BuildKnowledgeContext renders knowledge hits, best score first.
func BuildKnowledgeContext(hits []knowledge.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	sorted := make([]knowledge.Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var b strings.Builder
	b.WriteString(knowledgeHeader)
	for _, h := range sorted {
		title := h.Title
		if title == "" {
			title = "Documento"
		}
		section := ""
		if h.Section != "" {
			section = " — " + h.Section
		}
		fmt.Fprintf(&b, "%s%s%s — %s\n", bullet, title, section, utils.Snippet(h.Snippet, knowledgeSnippet))
	}
	b.WriteString("\n")
	return b.String()
}

// AppendInternalNotes attaches the notes to the user's message behind the
// do-not-reveal instruction. Empty notes leave the message untouched.
func AppendInternalNotes(message, notes string) string {
	if notes == "" {
		return message
	}
	return message + fmt.Sprintf(notesBanner, notes) + notesInstructions
}

// AppendWebSources numbers the results into the prompt and returns the
// matching citation attachments.
func AppendWebSources(message string, results []search.WebResult) (string, []store.WebSource) {
	if len(results) == 0 {
		return message, nil
	}
	var b strings.Builder
	b.WriteString(message)
	b.WriteString(webSourcesHeader)
	sources := make([]store.WebSource, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s — %s\n%s\n", i+1, r.Title, r.URL, r.Description)
		label := utils.SourceLabel(r.Title, r.URL)
		sources = append(sources, store.WebSource{Title: label, URL: r.URL, Domain: label})
	}
	return b.String(), sources
}

// DedupeWebSources keeps the first result per URL and normalizes titles.
// Results without a URL are dropped.
func DedupeWebSources(results []search.WebResult) []search.WebResult {
	seen := make(map[string]bool, len(results))
	out := make([]search.WebResult, 0, len(results))
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		title := r.Title
		if title == "" {
			title = r.URL
		}
		r.Title = utils.ShortTitle(title, shortTitleMax)
		out = append(out, r)
	}
	return out
}
